package vusic

import (
	"fmt"
	"maps"
)

type (
	// Instrument is the sound source of a track: a kind from
	// InstrumentConstrains and its parameter values.
	Instrument struct {
		Kind   string
		Params map[string]float64
	}

	// Effect is one processing unit of a Channel. ID identifies the effect
	// for the lifetime of the Score, even when the chain is reordered.
	Effect struct {
		ID     EffectID
		Kind   string
		Params map[string]float64
	}

	// Channel is the ordered effect chain of a track followed by output gain
	// and pan.
	Channel struct {
		Effects []Effect
		Gain    float64
		Pan     float64
		Mute    bool
	}

	// EffectID identifies an Effect within a Score. The zero EffectID refers
	// to the channel itself (its gain and pan parameters).
	EffectID uint64

	// ParamRef names one automatable parameter of a track.
	ParamRef struct {
		Effect EffectID
		Param  string
	}
)

// NewInstrument returns an instrument of the given kind with every parameter
// at its default value.
func NewInstrument(kind string) (Instrument, error) {
	schema, ok := InstrumentConstrains[kind]
	if !ok {
		return Instrument{}, fmt.Errorf("unknown instrument kind %q", kind)
	}
	return Instrument{Kind: kind, Params: Defaults(schema)}, nil
}

// NewChannel returns a channel with unity gain, centered, and no effects.
func NewChannel() Channel {
	return Channel{Gain: 1}
}

func (i Instrument) Copy() Instrument {
	return Instrument{Kind: i.Kind, Params: maps.Clone(i.Params)}
}

func (e Effect) Copy() Effect {
	return Effect{ID: e.ID, Kind: e.Kind, Params: maps.Clone(e.Params)}
}

func (c Channel) Copy() Channel {
	effects := make([]Effect, len(c.Effects))
	for i, e := range c.Effects {
		effects[i] = e.Copy()
	}
	c.Effects = effects
	return c
}

// Param returns the value of a parameter, falling back to the schema default
// when the parameter has never been written.
func (e Effect) Param(name string) float64 {
	if v, ok := e.Params[name]; ok {
		return v
	}
	if p, ok := FindParam(EffectConstrains[e.Kind], name); ok {
		return p.Default
	}
	return 0
}

func (i Instrument) Param(name string) float64 {
	if v, ok := i.Params[name]; ok {
		return v
	}
	if p, ok := FindParam(InstrumentConstrains[i.Kind], name); ok {
		return p.Default
	}
	return 0
}

// EffectIndex returns the position of the effect in the chain, or -1.
func (c Channel) EffectIndex(id EffectID) int {
	for i, e := range c.Effects {
		if e.ID == id {
			return i
		}
	}
	return -1
}

// ParamSpec resolves the declared range of the parameter a ParamRef points to.
func (c Channel) ParamSpec(ref ParamRef) (ParamSpec, error) {
	if ref.Effect == 0 {
		if p, ok := FindParam(ChannelConstrains, ref.Param); ok {
			return p, nil
		}
		return ParamSpec{}, fmt.Errorf("channel has no parameter %q", ref.Param)
	}
	i := c.EffectIndex(ref.Effect)
	if i < 0 {
		return ParamSpec{}, fmt.Errorf("effect %v: %w", ref.Effect, ErrUnknownEffect)
	}
	kind := c.Effects[i].Kind
	if p, ok := FindParam(EffectConstrains[kind], ref.Param); ok {
		return p, nil
	}
	return ParamSpec{}, fmt.Errorf("effect %q has no parameter %q", kind, ref.Param)
}

func validateParams(op string, schema []ParamSpec, params map[string]float64) error {
	for name, v := range params {
		p, ok := FindParam(schema, name)
		if !ok {
			return invalid(op, name, "unknown parameter")
		}
		if !p.Contains(v) {
			return invalid(op, name, "value %g outside [%g, %g]", v, p.Min, p.Max)
		}
	}
	return nil
}

func (i Instrument) validate(op string) error {
	schema, ok := InstrumentConstrains[i.Kind]
	if !ok {
		return invalid(op, "instrument", "unknown kind %q", i.Kind)
	}
	return validateParams(op, schema, i.Params)
}

func (e Effect) validate(op string) error {
	schema, ok := EffectConstrains[e.Kind]
	if !ok {
		return invalid(op, "effect", "unknown kind %q", e.Kind)
	}
	return validateParams(op, schema, e.Params)
}

func (c Channel) validate(op string) error {
	if p := ChannelConstrains[0]; !p.Contains(c.Gain) {
		return invalid(op, "gain", "value %g outside [%g, %g]", c.Gain, p.Min, p.Max)
	}
	if p := ChannelConstrains[1]; !p.Contains(c.Pan) {
		return invalid(op, "pan", "value %g outside [%g, %g]", c.Pan, p.Min, p.Max)
	}
	for _, e := range c.Effects {
		if err := e.validate(op); err != nil {
			return err
		}
	}
	return nil
}
