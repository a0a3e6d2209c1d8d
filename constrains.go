package vusic

import (
	"math"
	"sort"
)

// ParamSpec documents one parameter of a processing unit: its name and the
// declared inclusive range every write is held to.
type ParamSpec struct {
	Name    string
	Min     float64 // minimum value of the parameter, inclusive
	Max     float64 // maximum value of the parameter, inclusive
	Default float64
	Integer bool // if the value is an index (e.g. a waveform) rather than a continuous quantity
}

// Waveforms of the synth instrument.
const (
	Sine = iota
	Square
	Saw
	Noise
)

// EffectConstrains documents all the available effect kinds and the
// parameters they take.
var EffectConstrains = map[string][]ParamSpec{
	"gain": {
		{Name: "gain", Min: 0, Max: 4, Default: 1}},
	"pan": {
		{Name: "pan", Min: -1, Max: 1, Default: 0}},
	"distort": {
		{Name: "drive", Min: 0, Max: 1, Default: 0.5},
		{Name: "mix", Min: 0, Max: 1, Default: 1}},
	"crush": {
		{Name: "bits", Min: 1, Max: 16, Default: 8, Integer: true},
		{Name: "mix", Min: 0, Max: 1, Default: 1}},
	"filter": {
		{Name: "frequency", Min: 20, Max: 20000, Default: 1000},
		{Name: "resonance", Min: 0.1, Max: 10, Default: 0.707},
		{Name: "mode", Min: 0, Max: 2, Default: 0, Integer: true}}, // 0 lowpass, 1 bandpass, 2 highpass
	"delay": {
		{Name: "time", Min: 0.001, Max: 2, Default: 0.25},
		{Name: "feedback", Min: 0, Max: 0.95, Default: 0.3},
		{Name: "mix", Min: 0, Max: 1, Default: 0.3}},
	"compressor": {
		{Name: "threshold", Min: -60, Max: 0, Default: -12},
		{Name: "ratio", Min: 1, Max: 20, Default: 4},
		{Name: "attack", Min: 0.0001, Max: 1, Default: 0.01},
		{Name: "release", Min: 0.001, Max: 2, Default: 0.1},
		{Name: "makeup", Min: 0, Max: 24, Default: 0}},
}

// InstrumentConstrains documents the instrument kinds and their parameters.
var InstrumentConstrains = map[string][]ParamSpec{
	"synth": {
		{Name: "waveform", Min: Sine, Max: Noise, Default: Sine, Integer: true},
		{Name: "detune", Min: -100, Max: 100, Default: 0},
		{Name: "attack", Min: 0.0005, Max: 5, Default: 0.005},
		{Name: "decay", Min: 0.001, Max: 5, Default: 0.1},
		{Name: "sustain", Min: 0, Max: 1, Default: 0.7},
		{Name: "release", Min: 0.001, Max: 5, Default: 0.05},
		{Name: "gain", Min: 0, Max: 1, Default: 0.5}},
	"sampler": {
		{Name: "gain", Min: 0, Max: 4, Default: 1}},
}

// ChannelConstrains documents the parameters every track channel exposes
// after its effect chain.
var ChannelConstrains = []ParamSpec{
	{Name: "gain", Min: 0, Max: 2, Default: 1},
	{Name: "pan", Min: -1, Max: 1, Default: 0},
}

// Clamp returns v held to the declared range of the parameter, and whether v
// was inside the range to begin with. NaN is replaced by the default.
func (p ParamSpec) Clamp(v float64) (float64, bool) {
	if math.IsNaN(v) {
		return p.Default, false
	}
	if v < p.Min {
		return p.Min, false
	}
	if v > p.Max {
		return p.Max, false
	}
	return v, true
}

// Contains reports whether v is a valid value for the parameter.
func (p ParamSpec) Contains(v float64) bool {
	_, ok := p.Clamp(v)
	return ok
}

// FindParam looks up the ParamSpec of a named parameter in a schema.
func FindParam(schema []ParamSpec, name string) (ParamSpec, bool) {
	for _, p := range schema {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Defaults returns the default value of every parameter of a schema.
func Defaults(schema []ParamSpec) map[string]float64 {
	ret := make(map[string]float64, len(schema))
	for _, p := range schema {
		ret[p.Name] = p.Default
	}
	return ret
}

// EffectKinds returns the names of all effect kinds, sorted.
func EffectKinds() []string {
	ret := make([]string, 0, len(EffectConstrains))
	for k := range EffectConstrains {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

// InstrumentKinds returns the names of all instrument kinds, sorted.
func InstrumentKinds() []string {
	ret := make([]string, 0, len(InstrumentConstrains))
	for k := range InstrumentConstrains {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
