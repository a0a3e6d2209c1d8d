package vusic

import (
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

type (
	// SampleRef describes a sample as stored in a document file. The decoded
	// audio is not part of the document; a SampleResolver turns the reference
	// into a handle, usually by starting an asynchronous load.
	SampleRef struct {
		Name      string  `yaml:"name"`
		Source    string  `yaml:"source"`
		Gain      float64 `yaml:"gain"`
		TrimStart Seconds `yaml:"trimstart,omitempty"`
		TrimEnd   Seconds `yaml:"trimend,omitempty"`
	}

	SampleResolver func(ref SampleRef) *SampleHandle

	scoreFile struct {
		Name          string        `yaml:"name"`
		Tempo         []tempoFile   `yaml:"tempo"`
		TimeSignature [2]int        `yaml:"timesignature,flow"`
		Samples       []SampleRef   `yaml:"samples,omitempty"`
		Patterns      []patternFile `yaml:"patterns,omitempty"`
		Tracks        []trackFile   `yaml:"tracks,omitempty"`
	}

	tempoFile struct {
		Beat Beats   `yaml:"beat"`
		BPM  float64 `yaml:"bpm"`
	}

	patternFile struct {
		Name  string     `yaml:"name"`
		Notes []noteFile `yaml:"notes,omitempty"`
	}

	noteFile struct {
		Pitch    float64 `yaml:"pitch"`
		Velocity float64 `yaml:"velocity"`
		Start    Beats   `yaml:"start"`
		Duration Beats   `yaml:"duration"`
	}

	trackFile struct {
		Name       string           `yaml:"name"`
		Instrument unitFile         `yaml:"instrument"`
		Effects    []unitFile       `yaml:"effects,omitempty"`
		Gain       *float64         `yaml:"gain,omitempty"`
		Pan        float64          `yaml:"pan"`
		Mute       bool             `yaml:"mute,omitempty"`
		Notes      []noteFile       `yaml:"notes,omitempty"`
		Patterns   []placementFile  `yaml:"patterns,omitempty"`
		Samples    []placementFile  `yaml:"samples,omitempty"`
		Automation []automationFile `yaml:"automation,omitempty"`
	}

	unitFile struct {
		Kind   string             `yaml:"kind"`
		Params map[string]float64 `yaml:"params,omitempty,flow"`
	}

	// placementFile refers to patterns and samples by their index in the
	// document.
	placementFile struct {
		Index    int   `yaml:"index"`
		Start    Beats `yaml:"start"`
		Duration Beats `yaml:"duration,omitempty"`
	}

	// automationFile refers to its target effect by position in the chain,
	// counting from 1; 0 targets the channel.
	automationFile struct {
		Effect   int         `yaml:"effect"`
		Param    string      `yaml:"param"`
		Start    Beats       `yaml:"start"`
		Duration Beats       `yaml:"duration"`
		Points   []pointFile `yaml:"points,omitempty"`
	}

	pointFile struct {
		Time  Beats   `yaml:"time"`
		Value float64 `yaml:"value"`
		Curve string  `yaml:"curve,omitempty"`
	}
)

// MarshalYAML implements yaml.Marshaler; the score is written as a
// self-contained document referring to samples by source.
func (s *Score) MarshalYAML() (any, error) {
	f := scoreFile{Name: s.Name()}
	for _, t := range s.Tempo() {
		f.Tempo = append(f.Tempo, tempoFile(t))
	}
	ts := s.TimeSignature()
	f.TimeSignature = [2]int{ts.Numerator, ts.Denominator}
	samples := s.Samples()
	for _, h := range samples {
		ref := SampleRef{Name: h.Source(), Source: h.Source(), Gain: 1}
		if smp, ok := h.Sample(); ok {
			ref = SampleRef{Name: smp.Name, Source: h.Source(), Gain: smp.Gain, TrimStart: smp.TrimStart, TrimEnd: smp.TrimEnd}
		}
		f.Samples = append(f.Samples, ref)
	}
	patterns := s.Patterns()
	for _, p := range patterns {
		st := p.Snapshot()
		f.Patterns = append(f.Patterns, patternFile{Name: st.Name, Notes: notesToFile(st.Notes)})
	}
	for _, t := range s.Tracks() {
		st := t.Snapshot()
		tf := trackFile{
			Name:       st.Name,
			Instrument: unitFile{Kind: st.Instrument.Kind, Params: st.Instrument.Params},
			Gain:       &st.Channel.Gain,
			Pan:        st.Channel.Pan,
			Mute:       st.Channel.Mute,
			Notes:      notesToFile(st.Notes),
		}
		for _, e := range st.Channel.Effects {
			tf.Effects = append(tf.Effects, unitFile{Kind: e.Kind, Params: e.Params})
		}
		for _, pp := range st.Patterns {
			tf.Patterns = append(tf.Patterns, placementFile{Index: slices.Index(patterns, pp.Pattern), Start: pp.Start, Duration: pp.Duration})
		}
		for _, sp := range st.Samples {
			tf.Samples = append(tf.Samples, placementFile{Index: slices.Index(samples, sp.Sample), Start: sp.Start, Duration: sp.Duration})
		}
		for _, a := range st.Automation {
			af := automationFile{Effect: st.Channel.EffectIndex(a.Target.Effect) + 1, Param: a.Target.Param, Start: a.Start, Duration: a.Duration}
			for _, p := range a.Points {
				af.Points = append(af.Points, pointFile{Time: p.Time, Value: p.Value, Curve: p.Curve.String()})
			}
			tf.Automation = append(tf.Automation, af)
		}
		f.Tracks = append(f.Tracks, tf)
	}
	return f, nil
}

// UnmarshalYAML implements yaml.Unmarshaler; an omitted gain is unity.
func (r *SampleRef) UnmarshalYAML(n *yaml.Node) error {
	type plain SampleRef
	p := plain{Gain: 1}
	if err := n.Decode(&p); err != nil {
		return err
	}
	*r = SampleRef(p)
	return nil
}

func (n noteFile) note() Note {
	return Note{Pitch: n.Pitch, Velocity: n.Velocity, Start: n.Start, Duration: n.Duration}
}

func notesToFile(notes []Note) []noteFile {
	ret := make([]noteFile, len(notes))
	for i, n := range notes {
		ret[i] = noteFile{Pitch: n.Pitch, Velocity: n.Velocity, Start: n.Start, Duration: n.Duration}
	}
	return ret
}

// LoadScore parses a YAML document into a new Score. Every entity goes
// through the same validated mutations as edits do, so a document that loads
// is a valid Score. Samples are handed to resolve, which may return handles
// that are still loading.
func LoadScore(data []byte, resolve SampleResolver) (*Score, error) {
	var f scoreFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("could not parse the document: %w", err)
	}
	if len(f.Tempo) == 0 {
		f.Tempo = []tempoFile{{Beat: 0, BPM: 120}}
	}
	s, err := NewScore(f.Name, f.Tempo[0].BPM)
	if err != nil {
		return nil, err
	}
	tempo := make([]TempoChange, len(f.Tempo))
	for i, t := range f.Tempo {
		tempo[i] = TempoChange(t)
	}
	if err := s.SetTempo(tempo); err != nil {
		return nil, err
	}
	if f.TimeSignature != [2]int{} {
		if err := s.SetTimeSignature(TimeSignature{Numerator: f.TimeSignature[0], Denominator: f.TimeSignature[1]}); err != nil {
			return nil, err
		}
	}
	if len(f.Samples) > 0 && resolve == nil {
		return nil, ErrNoResolver
	}
	samples := make([]*SampleHandle, len(f.Samples))
	for i, ref := range f.Samples {
		h := resolve(ref)
		if h == nil {
			return nil, fmt.Errorf("sample %d (%v): %w", i, ref.Source, ErrUnknownSample)
		}
		if _, err := s.AddSample(h); err != nil {
			return nil, fmt.Errorf("sample %d (%v): %w", i, ref.Source, err)
		}
		samples[i] = h
	}
	patterns := make([]*Pattern, len(f.Patterns))
	for i, pf := range f.Patterns {
		p, err := s.AddPattern(pf.Name)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		for j, n := range pf.Notes {
			if _, err := p.AddNote(n.note()); err != nil {
				return nil, fmt.Errorf("pattern %q note %d: %w", pf.Name, j, err)
			}
		}
		patterns[i] = p
	}
	for i, tf := range f.Tracks {
		if err := loadTrack(s, tf, patterns, samples); err != nil {
			return nil, fmt.Errorf("track %d (%v): %w", i, tf.Name, err)
		}
	}
	return s, nil
}

func loadTrack(s *Score, tf trackFile, patterns []*Pattern, samples []*SampleHandle) error {
	instr, err := NewInstrument(tf.Instrument.Kind)
	if err != nil {
		return err
	}
	for k, v := range tf.Instrument.Params {
		instr.Params[k] = v
	}
	t, err := s.AddTrack(tf.Name, instr)
	if err != nil {
		return err
	}
	if tf.Gain != nil {
		if err := t.SetParam(ParamRef{Param: "gain"}, *tf.Gain); err != nil {
			return err
		}
	}
	if err := t.SetParam(ParamRef{Param: "pan"}, tf.Pan); err != nil {
		return err
	}
	if err := t.SetMute(tf.Mute); err != nil {
		return err
	}
	effects := make([]EffectID, len(tf.Effects))
	for i, ef := range tf.Effects {
		if effects[i], err = t.AddEffect(ef.Kind, ef.Params); err != nil {
			return fmt.Errorf("effect %d: %w", i+1, err)
		}
	}
	for j, n := range tf.Notes {
		if _, err := t.AddNote(n.note()); err != nil {
			return fmt.Errorf("note %d: %w", j, err)
		}
	}
	for _, pf := range tf.Patterns {
		if pf.Index < 0 || pf.Index >= len(patterns) {
			return fmt.Errorf("pattern index %d: %w", pf.Index, ErrUnknownPattern)
		}
		if _, err := t.PlacePattern(patterns[pf.Index], pf.Start, pf.Duration); err != nil {
			return err
		}
	}
	for _, sf := range tf.Samples {
		if sf.Index < 0 || sf.Index >= len(samples) {
			return fmt.Errorf("sample index %d: %w", sf.Index, ErrUnknownSample)
		}
		if _, err := t.PlaceSample(samples[sf.Index], sf.Start, sf.Duration); err != nil {
			return err
		}
	}
	for _, af := range tf.Automation {
		clip := AutomationClip{Target: ParamRef{Param: af.Param}, Start: af.Start, Duration: af.Duration}
		if af.Effect > 0 {
			if af.Effect > len(effects) {
				return fmt.Errorf("automation effect %d: %w", af.Effect, ErrUnknownEffect)
			}
			clip.Target.Effect = effects[af.Effect-1]
		}
		for _, pf := range af.Points {
			c, err := ParseCurve(pf.Curve)
			if err != nil {
				return err
			}
			clip.Points = append(clip.Points, Point{Time: pf.Time, Value: pf.Value, Curve: c})
		}
		if _, err := t.AddAutomation(clip); err != nil {
			return err
		}
	}
	return nil
}
