package vusic

import (
	"sync"
	"sync/atomic"
)

type (
	// Pattern is a reusable, named group of notes with timing relative to the
	// pattern start. Placements reference a Pattern, they do not copy it, so
	// an edit propagates to every placement.
	//
	// Writers are serialized by a mutex and publish a new immutable
	// PatternState after every edit; readers (the scheduler) only load the
	// published state, so they never block and never see a half-done edit.
	// Publishing is O(notes in the pattern), independent of how many times the
	// pattern is placed.
	Pattern struct {
		id    PatternID
		score *Score
		mu    sync.Mutex
		state atomic.Pointer[PatternState]
	}

	// PatternState is an immutable snapshot of a Pattern. Notes are ordered by
	// start, ties by ID.
	PatternState struct {
		Version uint64
		Name    string
		Notes   []Note
	}

	PatternID uint64
)

func newPattern(score *Score, name string) *Pattern {
	p := &Pattern{score: score}
	p.state.Store(&PatternState{Name: name})
	return p
}

func (p *Pattern) ID() PatternID { return p.id }

// Snapshot returns the current published state. It never blocks.
func (p *Pattern) Snapshot() *PatternState { return p.state.Load() }

func (p *Pattern) Name() string { return p.Snapshot().Name }

// Length returns the end of the last note of the pattern.
func (s *PatternState) Length() Beats {
	var l Beats
	for _, n := range s.Notes {
		l = max(l, n.End())
	}
	return l
}

func (p *Pattern) update(fn func(s *PatternState) error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur := p.state.Load()
	next := &PatternState{Name: cur.Name, Notes: append([]Note(nil), cur.Notes...)}
	if err := fn(next); err != nil {
		return err
	}
	next.Version = cur.Version + 1
	p.state.Store(next)
	return nil
}

// AddNote adds a note to the pattern and returns its ID.
func (p *Pattern) AddNote(n Note) (ItemID, error) {
	if err := n.validate("Pattern.AddNote"); err != nil {
		return 0, err
	}
	n.ID = p.score.nextItemID()
	err := p.update(func(s *PatternState) error {
		s.Notes = insertNote(s.Notes, n)
		return nil
	})
	return n.ID, err
}

// UpdateNote replaces the note with the same ID.
func (p *Pattern) UpdateNote(n Note) error {
	if err := n.validate("Pattern.UpdateNote"); err != nil {
		return err
	}
	return p.update(func(s *PatternState) error {
		var ok bool
		if s.Notes, ok = removeNote(s.Notes, n.ID); !ok {
			return dangling("Pattern.UpdateNote", ErrUnknownItem)
		}
		s.Notes = insertNote(s.Notes, n)
		return nil
	})
}

func (p *Pattern) RemoveNote(id ItemID) error {
	return p.update(func(s *PatternState) error {
		var ok bool
		if s.Notes, ok = removeNote(s.Notes, id); !ok {
			return dangling("Pattern.RemoveNote", ErrUnknownItem)
		}
		return nil
	})
}

func (p *Pattern) Rename(name string) error {
	if name == "" {
		return invalid("Pattern.Rename", "name", "must not be empty")
	}
	return p.update(func(s *PatternState) error {
		s.Name = name
		return nil
	})
}

// Transpose shifts every note of the pattern by the given number of
// semitones. It fails without changes if any note would leave [0, 127].
func (p *Pattern) Transpose(semitones float64) error {
	return p.update(func(s *PatternState) error {
		for i := range s.Notes {
			s.Notes[i].Pitch += semitones
			if err := s.Notes[i].validate("Pattern.Transpose"); err != nil {
				return err
			}
		}
		return nil
	})
}
