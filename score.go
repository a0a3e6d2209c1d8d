package vusic

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
)

type (
	// Score is the root of a document: one Playlist of tracks, the initial
	// tempo timeline and time signature, and the patterns and samples the
	// tracks refer to. Patterns and samples live in slot storage and are
	// addressed by generation-checked handles; tracks refer to them but never
	// own them.
	Score struct {
		mu            sync.Mutex // guards the playlist, the arenas and the tempo timeline
		name          string
		tempo         []TempoChange
		timeSignature TimeSignature
		playlist      Playlist
		patterns      arena[*Pattern]
		samples       arena[*SampleHandle]
		nextItem      atomic.Uint64
	}

	// TempoChange sets the tempo from a beat onwards. Tempo is constant until
	// the next change.
	TempoChange struct {
		Beat Beats
		BPM  float64
	}

	TimeSignature struct {
		Numerator   int
		Denominator int
	}

	// Playlist is the ordered set of tracks of a Score. Tracks play in
	// parallel; the order is only presentational.
	Playlist struct {
		tracks []*Track
	}

	// ImportedNote is one (pitch, start, duration, velocity) tuple delivered
	// by a musical-file importer. Start and Duration are in beats of the
	// importer's tempo.
	ImportedNote struct {
		Pitch    float64
		Velocity float64
		Start    Beats
		Duration Beats
	}
)

// NewScore returns an empty score at the given constant tempo, in 4/4.
func NewScore(name string, bpm float64) (*Score, error) {
	if !finite(bpm) || bpm <= 0 {
		return nil, invalid("NewScore", "bpm", "must be positive, got %v", bpm)
	}
	return &Score{
		name:          name,
		tempo:         []TempoChange{{Beat: 0, BPM: bpm}},
		timeSignature: TimeSignature{Numerator: 4, Denominator: 4},
	}, nil
}

func (s *Score) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Score) nextItemID() ItemID { return ItemID(s.nextItem.Add(1)) }

// Tempo returns a copy of the tempo timeline, ordered by beat. The first
// change is always at beat 0.
func (s *Score) Tempo() []TempoChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tempo)
}

// SetTempo replaces the tempo timeline.
func (s *Score) SetTempo(changes []TempoChange) error {
	tempo, err := normalizeTempo("Score.SetTempo", changes)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tempo = tempo
	s.mu.Unlock()
	return nil
}

func normalizeTempo(op string, changes []TempoChange) ([]TempoChange, error) {
	if len(changes) == 0 {
		return nil, invalid(op, "tempo", "timeline is empty")
	}
	tempo := slices.Clone(changes)
	sort.SliceStable(tempo, func(i, j int) bool { return tempo[i].Beat < tempo[j].Beat })
	for i, c := range tempo {
		if !finite(c.BPM) || c.BPM <= 0 {
			return nil, invalid(op, "bpm", "must be positive, got %v", c.BPM)
		}
		if !finite(float64(c.Beat)) || c.Beat < 0 {
			return nil, invalid(op, "tempo", "change at invalid beat %v", c.Beat)
		}
		if i > 0 && tempo[i-1].Beat == c.Beat {
			return nil, invalid(op, "tempo", "two changes at beat %v", c.Beat)
		}
	}
	if tempo[0].Beat != 0 {
		return nil, invalid(op, "tempo", "timeline must start at beat 0")
	}
	return tempo, nil
}

func (s *Score) TimeSignature() TimeSignature {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeSignature
}

func (s *Score) SetTimeSignature(ts TimeSignature) error {
	if ts.Numerator <= 0 || ts.Denominator <= 0 || ts.Denominator&(ts.Denominator-1) != 0 {
		return invalid("Score.SetTimeSignature", "timeSignature", "%d/%d is not a valid time signature", ts.Numerator, ts.Denominator)
	}
	s.mu.Lock()
	s.timeSignature = ts
	s.mu.Unlock()
	return nil
}

// BeatsPerBar returns the length of one bar in quarter-note beats.
func (ts TimeSignature) BeatsPerBar() Beats {
	return Beats(float64(ts.Numerator) * 4 / float64(ts.Denominator))
}

// BarsBeats splits a position into a zero-based bar and the beat within it.
func (ts TimeSignature) BarsBeats(b Beats) (bar int, beat Beats) {
	per := ts.BeatsPerBar()
	if per <= 0 {
		return 0, b
	}
	bar = int(b / per)
	if b < 0 && Beats(bar)*per != b {
		bar--
	}
	return bar, b - Beats(bar)*per
}

// AddTrack appends a new track with the given instrument and a default
// channel to the playlist.
func (s *Score) AddTrack(name string, instr Instrument) (*Track, error) {
	const op = "Score.AddTrack"
	if err := instr.validate(op); err != nil {
		return nil, err
	}
	t := &Track{id: TrackID(s.nextItemID()), score: s}
	t.state.Store(&TrackState{Name: name, Instrument: instr.Copy(), Channel: NewChannel()})
	s.mu.Lock()
	s.playlist.tracks = append(s.playlist.tracks, t)
	s.mu.Unlock()
	return t, nil
}

// RemoveTrack removes a track from the playlist. The track publishes a final
// Removed state so running sessions release its voices.
func (s *Score) RemoveTrack(id TrackID) error {
	s.mu.Lock()
	i := slices.IndexFunc(s.playlist.tracks, func(t *Track) bool { return t.id == id })
	if i < 0 {
		s.mu.Unlock()
		return dangling("Score.RemoveTrack", ErrUnknownTrack)
	}
	t := s.playlist.tracks[i]
	s.playlist.tracks = slices.Delete(slices.Clone(s.playlist.tracks), i, i+1)
	s.mu.Unlock()
	t.mu.Lock()
	cur := t.state.Load()
	t.state.Store(&TrackState{Version: cur.Version + 1, Removed: true, Name: cur.Name})
	t.mu.Unlock()
	return nil
}

// Tracks returns the tracks of the playlist, in order.
func (s *Score) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.playlist.tracks)
}

func (s *Score) Track(id TrackID) (*Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.playlist.tracks {
		if t.id == id {
			return t, true
		}
	}
	return nil, false
}

// Length returns the end of the last item of any track.
func (s *Score) Length() Beats {
	tempo := s.Tempo()
	var l Beats
	for _, t := range s.Tracks() {
		l = max(l, t.Snapshot().Length(tempo))
	}
	return l
}

// beatsAfter returns how many beats a duration d starting at beat at spans
// on the tempo timeline.
func beatsAfter(tempo []TempoChange, at Beats, d Seconds) Beats {
	pos := at
	for i, c := range tempo {
		last := i+1 == len(tempo)
		if !last && tempo[i+1].Beat <= pos {
			continue
		}
		spb := Seconds(60 / c.BPM)
		if !last {
			if seg := Seconds(tempo[i+1].Beat-pos) * spb; seg < d {
				d -= seg
				pos = tempo[i+1].Beat
				continue
			}
		}
		return pos + Beats(d/spb) - at
	}
	return 0
}

// AddPattern creates an empty pattern.
func (s *Score) AddPattern(name string) (*Pattern, error) {
	if name == "" {
		return nil, invalid("Score.AddPattern", "name", "must not be empty")
	}
	p := newPattern(s, name)
	s.mu.Lock()
	p.id = PatternID(s.patterns.insert(p))
	s.mu.Unlock()
	return p, nil
}

func (s *Score) Pattern(id PatternID) (*Pattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patterns.get(uint64(id))
}

// Patterns returns all patterns in slot order.
func (s *Score) Patterns() []*Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*Pattern, 0, s.patterns.len())
	s.patterns.each(func(_ uint64, p *Pattern) bool {
		ret = append(ret, p)
		return true
	})
	return ret
}

// RemovePattern removes a pattern that no track places anymore.
func (s *Score) RemovePattern(id PatternID) error {
	const op = "Score.RemovePattern"
	p, ok := s.Pattern(id)
	if !ok {
		return dangling(op, ErrUnknownPattern)
	}
	for _, t := range s.Tracks() {
		for _, pp := range t.Snapshot().Patterns {
			if pp.Pattern == p {
				return invalid(op, "pattern", "still placed on track %q", t.Name())
			}
		}
	}
	s.mu.Lock()
	s.patterns.remove(uint64(id))
	s.mu.Unlock()
	return nil
}

// AddSample registers a sample handle, which may still be loading.
func (s *Score) AddSample(h *SampleHandle) (SampleID, error) {
	if h == nil {
		return 0, invalid("Score.AddSample", "sample", "handle is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if h.id != 0 {
		if _, ok := s.samples.get(uint64(h.id)); ok {
			return 0, invalid("Score.AddSample", "sample", "handle is already registered")
		}
	}
	h.id = SampleID(s.samples.insert(h))
	return h.id, nil
}

func (s *Score) Sample(id SampleID) (*SampleHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples.get(uint64(id))
}

// Samples returns all sample handles in slot order.
func (s *Score) Samples() []*SampleHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := make([]*SampleHandle, 0, s.samples.len())
	s.samples.each(func(_ uint64, h *SampleHandle) bool {
		ret = append(ret, h)
		return true
	})
	return ret
}

// RemoveSample removes a sample that no track places anymore.
func (s *Score) RemoveSample(id SampleID) error {
	const op = "Score.RemoveSample"
	h, ok := s.Sample(id)
	if !ok {
		return dangling(op, ErrUnknownSample)
	}
	for _, t := range s.Tracks() {
		for _, sp := range t.Snapshot().Samples {
			if sp.Sample == h {
				return invalid(op, "sample", "still placed on track %q", t.Name())
			}
		}
	}
	s.mu.Lock()
	s.samples.remove(uint64(id))
	s.mu.Unlock()
	return nil
}

// ImportPattern creates a pattern from importer tuples. Notes the importer
// delivers at another tempo keep their musical position; the tempo is only
// used to validate the import.
func (s *Score) ImportPattern(name string, bpm float64, notes []ImportedNote) (*Pattern, error) {
	const op = "Score.ImportPattern"
	if !finite(bpm) || bpm <= 0 {
		return nil, invalid(op, "bpm", "must be positive, got %v", bpm)
	}
	converted := make([]Note, len(notes))
	for i, in := range notes {
		n := Note{Pitch: in.Pitch, Velocity: in.Velocity, Start: in.Start, Duration: in.Duration}
		if err := n.validate(op); err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		converted[i] = n
	}
	p, err := s.AddPattern(name)
	if err != nil {
		return nil, err
	}
	err = p.update(func(ps *PatternState) error {
		for _, n := range converted {
			n.ID = s.nextItemID()
			ps.Notes = insertNote(ps.Notes, n)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(err, s.RemovePattern(p.id))
	}
	return p, nil
}
