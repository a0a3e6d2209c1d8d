package transport

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dawg/vusic"
)

type (
	// Transport is the single source of "now" and of the mapping between the
	// clock and musical positions. Controls are called from the control lane
	// and serialized by a mutex; every control publishes a new immutable
	// snapshot, which the real-time lane reads without locking.
	Transport struct {
		clock Clock
		mu    sync.Mutex
		snap  atomic.Pointer[snapshot]
	}

	State int

	// Loop is a looped region [Start, End) of the timeline.
	Loop struct {
		Start, End vusic.Beats
		Enabled    bool
	}

	// Span is the part of a clock window that maps onto one contiguous range
	// of musical time. A clock window covering a loop wrap yields one span per
	// loop iteration; each iteration has its own Origin.
	Span struct {
		From, To   vusic.Beats   // musical range [From, To)
		Start, End vusic.Seconds // the clock range the span covers
		// Origin is the clock time at which beat 0 would have played in this
		// iteration: an event at beat b plays at Origin + Tempo.Seconds(b).
		Origin vusic.Seconds
		// Iteration counts loop wraps since playback started.
		Iteration int
		// Fresh is true if playback jumped to From at Start (start, seek or
		// loop wrap), so items already running at From should resume midway.
		Fresh bool
		// Cut is the position where this iteration ends: the loop end, or
		// +Inf when the iteration is not looped.
		Cut   vusic.Beats
		Tempo *TempoMap
	}

	snapshot struct {
		epoch uint64
		state State
		tempo *TempoMap
		loop  Loop
		// the playhead was at anchorBeat at clock time anchorClock
		anchorBeat  vusic.Beats
		anchorClock vusic.Seconds
	}
)

const (
	Stopped State = iota
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// New returns a stopped transport at beat 0.
func New(clock Clock, tempo []vusic.TempoChange) (*Transport, error) {
	m, err := NewTempoMap(tempo)
	if err != nil {
		return nil, err
	}
	t := &Transport{clock: clock}
	t.snap.Store(&snapshot{tempo: m})
	return t, nil
}

func (t *Transport) Now() vusic.Seconds { return t.clock.Now() }

func (t *Transport) State() State { return t.snap.Load().state }

func (t *Transport) Tempo() *TempoMap { return t.snap.Load().tempo }

func (t *Transport) Loop() Loop { return t.snap.Load().loop }

// Epoch changes whenever playback jumps: start, stop, pause, seek, loop and
// tempo changes. Consumers that queue events ahead of time compare epochs to
// know when their queue is stale.
func (t *Transport) Epoch() uint64 { return t.snap.Load().epoch }

// MusicalToAbsolute returns the absolute time of a position, measured from
// beat 0 along the tempo timeline.
func (t *Transport) MusicalToAbsolute(b vusic.Beats) vusic.Seconds {
	return t.snap.Load().tempo.Seconds(b)
}

// AbsoluteToMusical is the inverse of MusicalToAbsolute.
func (t *Transport) AbsoluteToMusical(s vusic.Seconds) vusic.Beats {
	return t.snap.Load().tempo.Beats(s)
}

// Position returns the playhead position now.
func (t *Transport) Position() vusic.Beats {
	return t.snap.Load().positionAt(t.clock.Now())
}

// PositionAt returns where the playhead is at a clock time.
func (t *Transport) PositionAt(c vusic.Seconds) vusic.Beats {
	return t.snap.Load().positionAt(c)
}

// update runs fn on a copy of the current snapshot and publishes it with a
// new epoch.
func (t *Transport) update(fn func(s *snapshot, now vusic.Seconds) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.snap.Load()
	next := *cur
	if err := fn(&next, t.clock.Now()); err != nil {
		return err
	}
	next.epoch = cur.epoch + 1
	t.snap.Store(&next)
	return nil
}

// Start starts playback from a position.
func (t *Transport) Start(at vusic.Beats) error {
	if !finite(float64(at)) || at < 0 {
		return fmt.Errorf("transport: cannot start at %v", at)
	}
	return t.update(func(s *snapshot, now vusic.Seconds) error {
		s.state = Playing
		s.anchorBeat = at
		s.anchorClock = now
		return nil
	})
}

// Resume continues playback from where it was paused.
func (t *Transport) Resume() error {
	return t.update(func(s *snapshot, now vusic.Seconds) error {
		s.state = Playing
		s.anchorClock = now
		return nil
	})
}

// Stop stops playback and rewinds to beat 0.
func (t *Transport) Stop() {
	t.update(func(s *snapshot, now vusic.Seconds) error {
		s.state = Stopped
		s.anchorBeat = 0
		s.anchorClock = now
		return nil
	})
}

// Pause stops playback and keeps the playhead where it is.
func (t *Transport) Pause() {
	t.update(func(s *snapshot, now vusic.Seconds) error {
		if s.state == Playing {
			s.anchorBeat = s.positionAt(now)
		}
		s.state = Paused
		s.anchorClock = now
		return nil
	})
}

// Seek moves the playhead. It is valid in every state and keeps the state.
func (t *Transport) Seek(to vusic.Beats) error {
	if !finite(float64(to)) || to < 0 {
		return fmt.Errorf("transport: cannot seek to %v", to)
	}
	return t.update(func(s *snapshot, now vusic.Seconds) error {
		s.anchorBeat = to
		s.anchorClock = now
		return nil
	})
}

// SetLoop sets the looped region. The playhead keeps its position; the loop
// takes effect the next time the playhead reaches its end.
func (t *Transport) SetLoop(start, end vusic.Beats, enabled bool) error {
	if !finite(float64(start)) || !finite(float64(end)) || start < 0 || end <= start {
		return fmt.Errorf("transport: invalid loop [%v, %v)", start, end)
	}
	return t.update(func(s *snapshot, now vusic.Seconds) error {
		s.anchorBeat = s.positionAt(now)
		s.anchorClock = now
		s.loop = Loop{Start: start, End: end, Enabled: enabled}
		return nil
	})
}

// SetBPM sets the tempo from a position onwards, up to the next tempo change.
// The playhead is re-anchored so it does not jump.
func (t *Transport) SetBPM(bpm float64, at vusic.Beats) error {
	if !finite(bpm) || bpm <= 0 {
		return fmt.Errorf("transport: bpm must be positive, got %v", bpm)
	}
	if !finite(float64(at)) || at < 0 {
		return fmt.Errorf("transport: invalid tempo change position %v", at)
	}
	return t.update(func(s *snapshot, now vusic.Seconds) error {
		m, err := s.tempo.with(bpm, at)
		if err != nil {
			return err
		}
		s.anchorBeat = s.positionAt(now)
		s.anchorClock = now
		s.tempo = m
		return nil
	})
}

// SetTempo replaces the whole tempo timeline.
func (t *Transport) SetTempo(changes []vusic.TempoChange) error {
	m, err := NewTempoMap(changes)
	if err != nil {
		return err
	}
	return t.update(func(s *snapshot, now vusic.Seconds) error {
		s.anchorBeat = s.positionAt(now)
		s.anchorClock = now
		s.tempo = m
		return nil
	})
}

// looped reports whether the loop applies to playback from the anchor.
func (s *snapshot) looped() bool {
	return s.loop.Enabled && s.anchorBeat < s.loop.End
}

func (s *snapshot) positionAt(c vusic.Seconds) vusic.Beats {
	if s.state != Playing {
		return s.anchorBeat
	}
	e := max(c-s.anchorClock, 0)
	t0 := s.tempo.Seconds(s.anchorBeat)
	if !s.looped() {
		return s.tempo.Beats(t0 + e)
	}
	first := s.tempo.Seconds(s.loop.End) - t0
	if e < first {
		return s.tempo.Beats(t0 + e)
	}
	ls := s.tempo.Seconds(s.loop.Start)
	l := s.tempo.Seconds(s.loop.End) - ls
	r := vusic.Seconds(math.Mod(float64(e-first), float64(l)))
	return s.tempo.Beats(ls + r)
}

// AppendSpans appends to dst the spans covering the clock window [from, to).
// Nothing is appended unless the transport is playing.
func (t *Transport) AppendSpans(dst []Span, from, to vusic.Seconds) []Span {
	return t.snap.Load().appendSpans(dst, from, to)
}

func (s *snapshot) appendSpans(dst []Span, from, to vusic.Seconds) []Span {
	if s.state != Playing {
		return dst
	}
	from = max(from, s.anchorClock)
	if to <= from {
		return dst
	}
	m := s.tempo
	t0 := m.Seconds(s.anchorBeat)
	// iteration 0 runs from the anchor, up to the loop end if looped
	seg := Span{
		From:   s.anchorBeat,
		Start:  s.anchorClock,
		Origin: s.anchorClock - t0,
		Cut:    vusic.Beats(math.Inf(1)),
		Tempo:  m,
	}
	if !s.looped() {
		return append(dst, seg.clip(from, to))
	}
	seg.Cut = s.loop.End
	seg.End = seg.Origin + m.Seconds(s.loop.End)
	if from < seg.End {
		dst = append(dst, seg.clip(from, min(to, seg.End)))
	}
	ls := m.Seconds(s.loop.Start)
	l := m.Seconds(s.loop.End) - ls
	if l <= 0 || to <= seg.End {
		return dst
	}
	// first loop iteration that overlaps the window
	k := 1
	if from > seg.End {
		k += int(math.Floor(float64((from - seg.End) / l)))
	}
	for {
		start := seg.End + vusic.Seconds(k-1)*l
		if start >= to {
			return dst
		}
		it := Span{
			From:      s.loop.Start,
			Start:     start,
			End:       start + l,
			Origin:    start - ls,
			Iteration: k,
			Cut:       s.loop.End,
			Tempo:     m,
		}
		if it.End > from {
			dst = append(dst, it.clip(max(from, start), min(to, it.End)))
		}
		k++
	}
}

// clip narrows a segment to the clock range [from, to). Bounds that coincide
// with the segment bounds keep their exact musical positions.
func (s Span) clip(from, to vusic.Seconds) Span {
	if from <= s.Start {
		s.Fresh = true
	} else {
		s.Start = from
		s.From = s.Tempo.Beats(from - s.Origin)
	}
	if !math.IsInf(float64(s.Cut), 1) && to >= s.End {
		s.To = s.Cut
	} else {
		s.End = to
		s.To = s.Tempo.Beats(to - s.Origin)
	}
	return s
}

// Clock returns the clock time at which a position plays in this span.
func (s Span) Clock(b vusic.Beats) vusic.Seconds {
	return s.Origin + s.Tempo.Seconds(b)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
