package vusic

import (
	"maps"
	"sort"
	"sync"
	"sync/atomic"
)

type (
	// Track owns the items placed on it, one Instrument and one Channel.
	// Every mutation takes the track's mutation lock, works on a private copy
	// of the current TrackState and publishes it atomically; a rejected
	// mutation publishes nothing.
	Track struct {
		id    TrackID
		score *Score
		mu    sync.Mutex
		state atomic.Pointer[TrackState]
	}

	// TrackState is an immutable snapshot of a Track. Item slices are ordered
	// by start position, ties by ID.
	TrackState struct {
		Version    uint64
		Removed    bool // the track was removed from the playlist
		Name       string
		Instrument Instrument
		Channel    Channel
		Notes      []Note
		Patterns   []PatternPlacement
		Samples    []SamplePlacement
		Automation []AutomationClip
	}

	TrackID uint64

	// PatternPlacement places a Pattern on a track. Notes of the pattern
	// starting at or after Duration are not played; a zero Duration plays
	// the whole pattern.
	PatternPlacement struct {
		ID       ItemID
		Pattern  *Pattern
		Start    Beats
		Duration Beats
	}

	// SamplePlacement places a Sample on a track. A zero Duration plays the
	// whole (trimmed) sample.
	SamplePlacement struct {
		ID       ItemID
		Sample   *SampleHandle
		Start    Beats
		Duration Beats
	}
)

func (t *Track) ID() TrackID { return t.id }

// Snapshot returns the current published state. It never blocks.
func (t *Track) Snapshot() *TrackState { return t.state.Load() }

func (t *Track) Name() string { return t.Snapshot().Name }

func (s *TrackState) clone() *TrackState {
	ret := *s
	ret.Instrument = s.Instrument.Copy()
	ret.Channel = s.Channel.Copy()
	ret.Notes = append([]Note(nil), s.Notes...)
	ret.Patterns = append([]PatternPlacement(nil), s.Patterns...)
	ret.Samples = append([]SamplePlacement(nil), s.Samples...)
	ret.Automation = make([]AutomationClip, len(s.Automation))
	for i, a := range s.Automation {
		ret.Automation[i] = a.Copy()
	}
	return &ret
}

func (t *Track) update(op string, fn func(s *TrackState) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.state.Load()
	if cur.Removed {
		return dangling(op, ErrUnknownTrack)
	}
	next := cur.clone()
	if err := fn(next); err != nil {
		return err
	}
	next.Version = cur.Version + 1
	t.state.Store(next)
	return nil
}

func (t *Track) SetName(name string) error {
	return t.update("Track.SetName", func(s *TrackState) error {
		s.Name = name
		return nil
	})
}

// SetInstrument replaces the instrument of the track.
func (t *Track) SetInstrument(instr Instrument) error {
	const op = "Track.SetInstrument"
	if err := instr.validate(op); err != nil {
		return err
	}
	return t.update(op, func(s *TrackState) error {
		s.Instrument = instr.Copy()
		return nil
	})
}

// SetInstrumentParam writes one instrument parameter. Values outside the
// declared range are rejected.
func (t *Track) SetInstrumentParam(name string, v float64) error {
	const op = "Track.SetInstrumentParam"
	return t.update(op, func(s *TrackState) error {
		if err := validateParams(op, InstrumentConstrains[s.Instrument.Kind], map[string]float64{name: v}); err != nil {
			return err
		}
		if s.Instrument.Params == nil {
			s.Instrument.Params = map[string]float64{}
		}
		s.Instrument.Params[name] = v
		return nil
	})
}

// SetParam writes a channel or effect parameter. Values outside the declared
// range are rejected; automation is the only path that clamps.
func (t *Track) SetParam(ref ParamRef, v float64) error {
	const op = "Track.SetParam"
	return t.update(op, func(s *TrackState) error {
		p, err := s.Channel.ParamSpec(ref)
		if err != nil {
			return dangling(op, err)
		}
		if !p.Contains(v) {
			return invalid(op, ref.Param, "value %g outside [%g, %g]", v, p.Min, p.Max)
		}
		if ref.Effect == 0 {
			switch ref.Param {
			case "gain":
				s.Channel.Gain = v
			case "pan":
				s.Channel.Pan = v
			}
			return nil
		}
		e := &s.Channel.Effects[s.Channel.EffectIndex(ref.Effect)]
		if e.Params == nil {
			e.Params = map[string]float64{}
		}
		e.Params[ref.Param] = v
		return nil
	})
}

func (t *Track) SetMute(mute bool) error {
	return t.update("Track.SetMute", func(s *TrackState) error {
		s.Channel.Mute = mute
		return nil
	})
}

// InsertEffect inserts an effect at index (clamped into the chain) and returns
// its ID. Parameters not given take their defaults.
func (t *Track) InsertEffect(index int, kind string, params map[string]float64) (EffectID, error) {
	const op = "Track.InsertEffect"
	schema, ok := EffectConstrains[kind]
	if !ok {
		return 0, invalid(op, "kind", "unknown effect kind %q", kind)
	}
	merged := Defaults(schema)
	maps.Copy(merged, params)
	e := Effect{Kind: kind, Params: merged}
	if err := e.validate(op); err != nil {
		return 0, err
	}
	e.ID = EffectID(t.score.nextItemID())
	err := t.update(op, func(s *TrackState) error {
		index = min(max(index, 0), len(s.Channel.Effects))
		s.Channel.Effects = append(s.Channel.Effects, Effect{})
		copy(s.Channel.Effects[index+1:], s.Channel.Effects[index:])
		s.Channel.Effects[index] = e
		return nil
	})
	return e.ID, err
}

// AddEffect appends an effect to the end of the chain.
func (t *Track) AddEffect(kind string, params map[string]float64) (EffectID, error) {
	return t.InsertEffect(int(^uint(0)>>1), kind, params)
}

// RemoveEffect removes an effect from the chain. Automation targeting the
// effect must be removed first.
func (t *Track) RemoveEffect(id EffectID) error {
	const op = "Track.RemoveEffect"
	return t.update(op, func(s *TrackState) error {
		i := s.Channel.EffectIndex(id)
		if i < 0 {
			return dangling(op, ErrUnknownEffect)
		}
		for _, a := range s.Automation {
			if a.Target.Effect == id {
				return invalid(op, "effect", "effect is targeted by automation clip %v", a.ID)
			}
		}
		s.Channel.Effects = append(s.Channel.Effects[:i], s.Channel.Effects[i+1:]...)
		return nil
	})
}

// AddNote places a note directly on the track and returns its ID.
func (t *Track) AddNote(n Note) (ItemID, error) {
	const op = "Track.AddNote"
	if err := n.validate(op); err != nil {
		return 0, err
	}
	n.ID = t.score.nextItemID()
	err := t.update(op, func(s *TrackState) error {
		s.Notes = insertNote(s.Notes, n)
		return nil
	})
	return n.ID, err
}

// UpdateNote replaces the note with the same ID.
func (t *Track) UpdateNote(n Note) error {
	const op = "Track.UpdateNote"
	if err := n.validate(op); err != nil {
		return err
	}
	return t.update(op, func(s *TrackState) error {
		var ok bool
		if s.Notes, ok = removeNote(s.Notes, n.ID); !ok {
			return dangling(op, ErrUnknownItem)
		}
		s.Notes = insertNote(s.Notes, n)
		return nil
	})
}

// PlacePattern places a pattern of the same score at start.
func (t *Track) PlacePattern(p *Pattern, start, duration Beats) (ItemID, error) {
	const op = "Track.PlacePattern"
	if p == nil || p.score != t.score {
		return 0, dangling(op, ErrUnknownPattern)
	}
	if _, ok := t.score.Pattern(p.id); !ok {
		return 0, dangling(op, ErrUnknownPattern)
	}
	if err := validatePlacement(op, start, duration); err != nil {
		return 0, err
	}
	pp := PatternPlacement{ID: t.score.nextItemID(), Pattern: p, Start: start, Duration: duration}
	err := t.update(op, func(s *TrackState) error {
		s.Patterns = append(s.Patterns, pp)
		sort.SliceStable(s.Patterns, func(i, j int) bool { return s.Patterns[i].Start < s.Patterns[j].Start })
		return nil
	})
	return pp.ID, err
}

// PlaceSample places a sample of the same score at start. The sample may
// still be loading; placements of samples that fail to load are skipped by
// the scheduler.
func (t *Track) PlaceSample(h *SampleHandle, start, duration Beats) (ItemID, error) {
	const op = "Track.PlaceSample"
	if h == nil {
		return 0, dangling(op, ErrUnknownSample)
	}
	if got, ok := t.score.Sample(h.id); !ok || got != h {
		return 0, dangling(op, ErrUnknownSample)
	}
	if err := validatePlacement(op, start, duration); err != nil {
		return 0, err
	}
	sp := SamplePlacement{ID: t.score.nextItemID(), Sample: h, Start: start, Duration: duration}
	err := t.update(op, func(s *TrackState) error {
		s.Samples = append(s.Samples, sp)
		sort.SliceStable(s.Samples, func(i, j int) bool { return s.Samples[i].Start < s.Samples[j].Start })
		return nil
	})
	return sp.ID, err
}

// AddAutomation places an automation clip. The target must exist and clips
// with the same target must not overlap. Point values are stored as given,
// even outside the target's range.
func (t *Track) AddAutomation(clip AutomationClip) (ItemID, error) {
	const op = "Track.AddAutomation"
	if err := clip.validate(op); err != nil {
		return 0, err
	}
	clip = clip.Copy()
	clip.ID = t.score.nextItemID()
	err := t.update(op, func(s *TrackState) error {
		if _, err := s.Channel.ParamSpec(clip.Target); err != nil {
			return dangling(op, err)
		}
		for _, other := range s.Automation {
			if other.Overlaps(clip) {
				return invalid(op, "start", "overlaps automation clip %v of the same target", other.ID)
			}
		}
		s.Automation = append(s.Automation, clip)
		sort.SliceStable(s.Automation, func(i, j int) bool { return s.Automation[i].Start < s.Automation[j].Start })
		return nil
	})
	return clip.ID, err
}

// AddPoint inserts a point into an automation clip, keeping points ordered.
func (t *Track) AddPoint(clip ItemID, p Point) error {
	const op = "Track.AddPoint"
	return t.update(op, func(s *TrackState) error {
		for i := range s.Automation {
			a := &s.Automation[i]
			if a.ID != clip {
				continue
			}
			j := sort.Search(len(a.Points), func(j int) bool { return a.Points[j].Time > p.Time })
			a.Points = append(a.Points, Point{})
			copy(a.Points[j+1:], a.Points[j:])
			a.Points[j] = p
			return a.validate(op)
		}
		return dangling(op, ErrUnknownItem)
	})
}

// RemoveItem removes a note, placement or automation clip by ID.
func (t *Track) RemoveItem(id ItemID) error {
	const op = "Track.RemoveItem"
	return t.update(op, func(s *TrackState) error {
		var ok bool
		if s.Notes, ok = removeNote(s.Notes, id); ok {
			return nil
		}
		for i, p := range s.Patterns {
			if p.ID == id {
				s.Patterns = append(s.Patterns[:i], s.Patterns[i+1:]...)
				return nil
			}
		}
		for i, p := range s.Samples {
			if p.ID == id {
				s.Samples = append(s.Samples[:i], s.Samples[i+1:]...)
				return nil
			}
		}
		for i, a := range s.Automation {
			if a.ID == id {
				s.Automation = append(s.Automation[:i], s.Automation[i+1:]...)
				return nil
			}
		}
		return dangling(op, ErrUnknownItem)
	})
}

// MoveItem moves a note, placement or automation clip to a new start.
func (t *Track) MoveItem(id ItemID, start Beats) error {
	const op = "Track.MoveItem"
	if err := validatePlacement(op, start, 0); err != nil {
		return err
	}
	return t.update(op, func(s *TrackState) error {
		for _, n := range s.Notes {
			if n.ID == id {
				s.Notes, _ = removeNote(s.Notes, id)
				n.Start = start
				s.Notes = insertNote(s.Notes, n)
				return nil
			}
		}
		for i := range s.Patterns {
			if s.Patterns[i].ID == id {
				s.Patterns[i].Start = start
				sort.SliceStable(s.Patterns, func(i, j int) bool { return s.Patterns[i].Start < s.Patterns[j].Start })
				return nil
			}
		}
		for i := range s.Samples {
			if s.Samples[i].ID == id {
				s.Samples[i].Start = start
				sort.SliceStable(s.Samples, func(i, j int) bool { return s.Samples[i].Start < s.Samples[j].Start })
				return nil
			}
		}
		for i := range s.Automation {
			a := &s.Automation[i]
			if a.ID != id {
				continue
			}
			a.Start = start
			for _, other := range s.Automation {
				if other.ID != id && other.Overlaps(*a) {
					return invalid(op, "start", "overlaps automation clip %v of the same target", other.ID)
				}
			}
			sort.SliceStable(s.Automation, func(i, j int) bool { return s.Automation[i].Start < s.Automation[j].Start })
			return nil
		}
		return dangling(op, ErrUnknownItem)
	})
}

// Length returns the end of the last item on the track. A placement playing
// a whole sample ends where the sample ends on the tempo timeline; while the
// sample is not Ready it only counts its start.
func (s *TrackState) Length(tempo []TempoChange) Beats {
	var l Beats
	for _, n := range s.Notes {
		l = max(l, n.End())
	}
	for _, p := range s.Patterns {
		d := p.Duration
		if d == 0 {
			d = p.Pattern.Snapshot().Length()
		}
		l = max(l, p.Start+d)
	}
	for _, p := range s.Samples {
		d := p.Duration
		if smp, ok := p.Sample.Sample(); ok && d == 0 {
			d = beatsAfter(tempo, p.Start, smp.Duration())
		}
		l = max(l, p.Start+d)
	}
	for _, a := range s.Automation {
		l = max(l, a.End())
	}
	return l
}

func validatePlacement(op string, start, duration Beats) error {
	if !finite(float64(start)) || start < 0 {
		return invalid(op, "start", "must be a non-negative finite position, got %v", start)
	}
	if !finite(float64(duration)) || duration < 0 {
		return invalid(op, "duration", "must not be negative, got %v", duration)
	}
	return nil
}
