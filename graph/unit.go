package graph

import (
	"fmt"
	"math"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/scheduler"
)

type (
	// Unit is one processing unit of a chain. The set of units is closed:
	// the instruments and effects listed in vusic.InstrumentConstrains and
	// vusic.EffectConstrains.
	Unit interface {
		Kind() string
		Schema() []vusic.ParamSpec
		// SetParameter writes a value already held to the declared range.
		SetParameter(name string, v float64)
		// Process renders into buf. Sources add to it, effects transform it
		// in place.
		Process(buf vusic.AudioBuffer)
		Reset()
	}

	// Source is a unit producing sound for voices started by events.
	Source interface {
		Unit
		Start(e scheduler.Event)
		Release(v scheduler.Voice)
		// ReleaseEntity silences every voice of an entity within
		// fadeSeconds, whatever the envelope; entity 0 silences every voice.
		ReleaseEntity(h scheduler.Handle)
		Voices() int
	}

	unitBase struct {
		kind   string
		schema []vusic.ParamSpec
	}
)

func (u *unitBase) Kind() string              { return u.kind }
func (u *unitBase) Schema() []vusic.ParamSpec { return u.schema }

// NewEffect returns a new effect unit of the given kind with every parameter
// at its default.
func NewEffect(kind string, sampleRate int) (Unit, error) {
	schema, ok := vusic.EffectConstrains[kind]
	if !ok {
		return nil, fmt.Errorf("unknown effect kind %q", kind)
	}
	base := unitBase{kind: kind, schema: schema}
	sr := float64(sampleRate)
	var u Unit
	switch kind {
	case "gain":
		u = &gainUnit{unitBase: base}
	case "pan":
		u = &panUnit{unitBase: base}
	case "distort":
		u = &distortUnit{unitBase: base}
	case "crush":
		u = &crushUnit{unitBase: base}
	case "filter":
		u = &filterUnit{unitBase: base, sr: sr}
	case "delay":
		u = &delayUnit{unitBase: base, sr: sr, line: make(vusic.AudioBuffer, int(2*sr)+1)}
	case "compressor":
		u = &compressorUnit{unitBase: base, sr: sr}
	default:
		return nil, fmt.Errorf("effect kind %q has no unit", kind)
	}
	for _, p := range schema {
		u.SetParameter(p.Name, p.Default)
	}
	return u, nil
}

// NewSource returns a new instrument unit of the given kind.
func NewSource(kind string, sampleRate, maxVoices int, seed uint64) (Source, error) {
	schema, ok := vusic.InstrumentConstrains[kind]
	if !ok {
		return nil, fmt.Errorf("unknown instrument kind %q", kind)
	}
	base := unitBase{kind: kind, schema: schema}
	var u Source
	switch kind {
	case "synth":
		u = newSynth(base, float64(sampleRate), maxVoices, seed)
	case "sampler":
		u = &sampler{unitBase: base, sr: float64(sampleRate), maxVoices: maxVoices}
	default:
		return nil, fmt.Errorf("instrument kind %q has no unit", kind)
	}
	for _, p := range schema {
		u.SetParameter(p.Name, p.Default)
	}
	return u, nil
}

// finiteBuffer reports whether every sample of buf is a finite number.
func finiteBuffer(buf vusic.AudioBuffer) bool {
	for _, f := range buf {
		if math.IsNaN(float64(f[0])) || math.IsInf(float64(f[0]), 0) ||
			math.IsNaN(float64(f[1])) || math.IsInf(float64(f[1]), 0) {
			return false
		}
	}
	return true
}

// balance returns the left and right gains of a pan position in [-1, 1].
func balance(pan float64) (float32, float32) {
	return float32(min(1, 1-pan)), float32(min(1, 1+pan))
}
