package scheduler

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/transport"
)

type (
	// Schedulable is a Document item that can be projected into absolute
	// time. The set of implementations is closed: ScheduledNote,
	// ScheduledSample, ScheduledAutomation, ScheduledPattern and Sequence.
	// They hold references into the Document, never copies, so edits are
	// picked up at the next tick.
	Schedulable interface {
		track() *vusic.Track
		validate(s *vusic.TrackState) error
		newRunner() runner
	}

	// ScheduledNote plays one note placed directly on a track.
	ScheduledNote struct {
		Track *vusic.Track
		Note  vusic.ItemID
	}

	// ScheduledSample plays one sample placement. The sample must be Ready
	// when scheduled.
	ScheduledSample struct {
		Track     *vusic.Track
		Placement vusic.ItemID
	}

	// ScheduledAutomation applies one automation clip.
	ScheduledAutomation struct {
		Track *vusic.Track
		Clip  vusic.ItemID
	}

	// ScheduledPattern plays the notes of one pattern placement, relative to
	// the placement start.
	ScheduledPattern struct {
		Track     *vusic.Track
		Placement vusic.ItemID
	}

	// Sequence plays everything placed on a track: notes, pattern and sample
	// placements and automation, including items added while playing.
	// Sample placements that are still loading are skipped until they are
	// Ready.
	Sequence struct {
		Track *vusic.Track
	}

	// runner is the runtime state of a scheduled entity. It is only used by
	// the goroutine calling Tick.
	runner interface {
		derive(d *deriver, st *vusic.TrackState)
		// end returns when a voice derived in span stops, given the item
		// it plays as it is in st. It reports false if the item is gone.
		end(st *vusic.TrackState, v Voice, span transport.Span) (vusic.Seconds, bool)
		evaluations() int64
	}

	noteRunner       struct{ id vusic.ItemID }
	sampleRunner     struct{ id vusic.ItemID }
	automationRunner struct{ id vusic.ItemID }

	patternRunner struct {
		id    vusic.ItemID
		cache patternCache
	}

	sequenceRunner struct {
		patterns map[vusic.ItemID]*patternCache
		evals    atomic.Int64
	}

	// patternCache is the evaluated form of a pattern placement: the notes
	// that play through it. It is rebuilt lazily, the first time the
	// placement is visited after the pattern changed.
	patternCache struct {
		pattern *vusic.Pattern
		version uint64
		valid   bool
		notes   []vusic.Note
		evals   atomic.Int64
	}
)

func (n ScheduledNote) track() *vusic.Track       { return n.Track }
func (s ScheduledSample) track() *vusic.Track     { return s.Track }
func (a ScheduledAutomation) track() *vusic.Track { return a.Track }
func (p ScheduledPattern) track() *vusic.Track    { return p.Track }
func (s Sequence) track() *vusic.Track            { return s.Track }

func (n ScheduledNote) validate(st *vusic.TrackState) error {
	if findNote(st.Notes, n.Note) < 0 {
		return fmt.Errorf("note %v: %w", n.Note, vusic.ErrUnknownItem)
	}
	return nil
}

func (s ScheduledSample) validate(st *vusic.TrackState) error {
	sp, ok := findSample(st, s.Placement)
	if !ok {
		return fmt.Errorf("sample placement %v: %w", s.Placement, vusic.ErrUnknownItem)
	}
	if sp.Sample.State() != vusic.Ready {
		return fmt.Errorf("sample %v is %v: %w", sp.Sample.Source(), sp.Sample.State(), vusic.ErrNotReady)
	}
	return nil
}

func (a ScheduledAutomation) validate(st *vusic.TrackState) error {
	if _, ok := findClip(st, a.Clip); !ok {
		return fmt.Errorf("automation clip %v: %w", a.Clip, vusic.ErrUnknownItem)
	}
	return nil
}

func (p ScheduledPattern) validate(st *vusic.TrackState) error {
	if _, ok := findPattern(st, p.Placement); !ok {
		return fmt.Errorf("pattern placement %v: %w", p.Placement, vusic.ErrUnknownItem)
	}
	return nil
}

func (s Sequence) validate(st *vusic.TrackState) error { return nil }

func (n ScheduledNote) newRunner() runner       { return &noteRunner{id: n.Note} }
func (s ScheduledSample) newRunner() runner     { return &sampleRunner{id: s.Placement} }
func (a ScheduledAutomation) newRunner() runner { return &automationRunner{id: a.Clip} }
func (p ScheduledPattern) newRunner() runner    { return &patternRunner{id: p.Placement} }
func (s Sequence) newRunner() runner {
	return &sequenceRunner{patterns: map[vusic.ItemID]*patternCache{}}
}

func (r *noteRunner) derive(d *deriver, st *vusic.TrackState) {
	if i := findNote(st.Notes, r.id); i >= 0 {
		d.note(st.Notes[i], 0, 0)
	}
}

func (r *noteRunner) end(st *vusic.TrackState, v Voice, span transport.Span) (vusic.Seconds, bool) {
	return noteEnd(st.Notes, v.Item, span, 0)
}

func (r *noteRunner) evaluations() int64 { return 0 }

func (r *sampleRunner) derive(d *deriver, st *vusic.TrackState) {
	if sp, ok := findSample(st, r.id); ok {
		d.sample(sp)
	}
}

func (r *sampleRunner) end(st *vusic.TrackState, v Voice, span transport.Span) (vusic.Seconds, bool) {
	return samplePlacementEnd(st, v.Item, span)
}

func (r *sampleRunner) evaluations() int64 { return 0 }

func (r *automationRunner) derive(d *deriver, st *vusic.TrackState) {
	if a, ok := findClip(st, r.id); ok {
		d.automation(a)
	}
}

// automation has no voices to stop
func (r *automationRunner) end(*vusic.TrackState, Voice, transport.Span) (vusic.Seconds, bool) {
	return 0, false
}

func (r *automationRunner) evaluations() int64 { return 0 }

func (r *patternRunner) derive(d *deriver, st *vusic.TrackState) {
	if pp, ok := findPattern(st, r.id); ok {
		d.pattern(pp, &r.cache)
	}
}

func (r *patternRunner) end(st *vusic.TrackState, v Voice, span transport.Span) (vusic.Seconds, bool) {
	return patternNoteEnd(st, v, span)
}

func (r *patternRunner) evaluations() int64 { return r.cache.evals.Load() }

func (r *sequenceRunner) derive(d *deriver, st *vusic.TrackState) {
	for _, n := range notesIn(st.Notes, d.span.From, d.span.To) {
		d.note(n, 0, 0)
	}
	for _, pp := range st.Patterns {
		if pp.Start >= d.span.To {
			break
		}
		c, ok := r.patterns[pp.ID]
		if !ok {
			c = &patternCache{}
			r.patterns[pp.ID] = c
		}
		before := c.evals.Load()
		d.pattern(pp, c)
		if n := c.evals.Load() - before; n > 0 {
			r.evals.Add(n)
		}
	}
	for _, sp := range st.Samples {
		if sp.Start >= d.span.To {
			break
		}
		d.sample(sp)
	}
	for _, a := range st.Automation {
		if a.Start >= d.span.To {
			break
		}
		d.automation(a)
	}
	if len(r.patterns) > len(st.Patterns) {
		for id := range r.patterns {
			if _, ok := findPattern(st, id); !ok {
				delete(r.patterns, id)
			}
		}
	}
}

func (r *sequenceRunner) end(st *vusic.TrackState, v Voice, span transport.Span) (vusic.Seconds, bool) {
	if v.Parent != 0 {
		return patternNoteEnd(st, v, span)
	}
	if end, ok := noteEnd(st.Notes, v.Item, span, 0); ok {
		return end, true
	}
	return samplePlacementEnd(st, v.Item, span)
}

func (r *sequenceRunner) evaluations() int64 { return r.evals.Load() }

// evaluate rebuilds the cache if the pattern or the placement changed since
// it was built.
func (c *patternCache) evaluate(pp vusic.PatternPlacement) []vusic.Note {
	ps := pp.Pattern.Snapshot()
	if c.valid && c.pattern == pp.Pattern && c.version == ps.Version {
		return c.notes
	}
	c.notes = c.notes[:0]
	for _, n := range ps.Notes {
		if pp.Duration > 0 && n.Start >= pp.Duration {
			break
		}
		c.notes = append(c.notes, n)
	}
	c.pattern = pp.Pattern
	c.version = ps.Version
	c.valid = true
	c.evals.Add(1)
	return c.notes
}

func patternNoteEnd(st *vusic.TrackState, v Voice, span transport.Span) (vusic.Seconds, bool) {
	pp, ok := findPattern(st, v.Parent)
	if !ok {
		return 0, false
	}
	return noteEnd(pp.Pattern.Snapshot().Notes, v.Item, span, pp.Start)
}

func noteEnd(notes []vusic.Note, id vusic.ItemID, span transport.Span, offset vusic.Beats) (vusic.Seconds, bool) {
	i := findNote(notes, id)
	if i < 0 {
		return 0, false
	}
	return noteStop(span, notes[i], offset), true
}

func samplePlacementEnd(st *vusic.TrackState, id vusic.ItemID, span transport.Span) (vusic.Seconds, bool) {
	sp, ok := findSample(st, id)
	if !ok {
		return 0, false
	}
	smp, ok := sp.Sample.Sample()
	if !ok {
		return 0, false
	}
	return sampleEnd(span, sp, smp), true
}

func findNote(notes []vusic.Note, id vusic.ItemID) int {
	for i, n := range notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// notesIn returns the notes starting in [from, to). The notes must be sorted
// by start.
func notesIn(notes []vusic.Note, from, to vusic.Beats) []vusic.Note {
	i := sort.Search(len(notes), func(i int) bool { return notes[i].Start >= from })
	j := sort.Search(len(notes), func(j int) bool { return notes[j].Start >= to })
	if j < i {
		return nil
	}
	return notes[i:j]
}

func findSample(st *vusic.TrackState, id vusic.ItemID) (vusic.SamplePlacement, bool) {
	for _, sp := range st.Samples {
		if sp.ID == id {
			return sp, true
		}
	}
	return vusic.SamplePlacement{}, false
}

func findPattern(st *vusic.TrackState, id vusic.ItemID) (vusic.PatternPlacement, bool) {
	for _, pp := range st.Patterns {
		if pp.ID == id {
			return pp, true
		}
	}
	return vusic.PatternPlacement{}, false
}

func findClip(st *vusic.TrackState, id vusic.ItemID) (vusic.AutomationClip, bool) {
	for _, a := range st.Automation {
		if a.ID == id {
			return a, true
		}
	}
	return vusic.AutomationClip{}, false
}
