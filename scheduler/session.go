package scheduler

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/transport"
)

type (
	// Handle identifies a scheduled entity within a Session.
	Handle uint64

	Options struct {
		// Budget is the wall time one Tick may take before a
		// SchedulingOverrun warning is raised. Zero disables the check.
		Budget time.Duration
		// ControlRate is how many automation values per second are emitted
		// along linear automation segments. Defaults to 400.
		ControlRate float64
		// InboxSize bounds how many Schedule calls may be pending between
		// two ticks. Defaults to 1024.
		InboxSize int
		Warnings  vusic.WarningSink
	}

	// Session is one playback session: it binds a Score to a Transport and
	// delivers the events of every scheduled entity to a Sink.
	//
	// Schedule, Unschedule, Evaluations and Close may be called from any
	// goroutine. Tick must always be called from the same goroutine, the
	// real-time lane; the Sink is only called from inside Tick.
	Session struct {
		score *vusic.Score
		tr    *transport.Transport
		sink  Sink
		opts  Options
		now   func() time.Time

		nextHandle atomic.Uint64
		closed     atomic.Bool
		inbox      chan *entity

		mu    sync.Mutex // guards slots
		slots map[Handle]*slot

		// owned by the goroutine calling Tick
		entities   map[Handle]*entity
		order      []Handle
		queue      eventQueue
		seq        uint64
		epoch      uint64
		horizon    vusic.Seconds
		fresh      bool
		released   bool
		spans      []transport.Span
		joined     []*vusic.Track
		unplayable map[vusic.ItemID]bool
	}

	// TickReport summarizes one Tick.
	TickReport struct {
		Spans   int // musical spans the window mapped onto
		Events  int // events delivered to the sink
		Elapsed time.Duration
		Overrun bool
		// Joined lists the tracks of entities scheduled since the previous
		// Tick. It is only valid until the next Tick.
		Joined []*vusic.Track
	}

	// slot is the part of an entity shared with the control lane.
	slot struct {
		state atomic.Int32
		run   runner
	}

	entity struct {
		*slot
		handle   Handle
		track    *vusic.Track
		active   map[Voice]struct{}
		timing   map[Voice]voiceTiming
		seen     *vusic.TrackState
		patterns map[*vusic.Pattern]*vusic.PatternState
	}

	// voiceTiming is the span a voice was derived in and the time of its
	// current stop. A queued Stop at any other time is stale.
	voiceTiming struct {
		span transport.Span
		stop vusic.Seconds
	}

	entityState int32

	nopWarnings struct{}
)

// An entity moves Scheduled -> Started -> Stopped, and back to Started when
// it plays again (a loop, or another note of a sequence). Cancelled is final.
const (
	scheduled entityState = iota
	started
	stopped
	cancelled
)

func (nopWarnings) Warn(vusic.Warning) {}

// NewSession returns a session playing items of score on the timeline of tr.
func NewSession(score *vusic.Score, tr *transport.Transport, sink Sink, opts Options) *Session {
	if opts.ControlRate <= 0 {
		opts.ControlRate = 400
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 1024
	}
	if opts.Warnings == nil {
		opts.Warnings = nopWarnings{}
	}
	return &Session{
		score:      score,
		tr:         tr,
		sink:       sink,
		opts:       opts,
		now:        time.Now,
		inbox:      make(chan *entity, opts.InboxSize),
		slots:      map[Handle]*slot{},
		entities:   map[Handle]*entity{},
		epoch:      tr.Epoch(),
		horizon:    vusic.Seconds(math.Inf(-1)),
		fresh:      true,
		unplayable: map[vusic.ItemID]bool{},
	}
}

// Schedule validates item against the current document and queues it for
// playback from the next Tick on. Sample items are rejected with
// vusic.ErrNotReady unless their handle is Ready.
func (s *Session) Schedule(item Schedulable) (Handle, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}
	t := item.track()
	if t == nil {
		return 0, fmt.Errorf("schedule: %w", vusic.ErrUnknownTrack)
	}
	if got, ok := s.score.Track(t.ID()); !ok || got != t {
		return 0, fmt.Errorf("schedule track %v: %w", t.ID(), ErrForeignTrack)
	}
	st := t.Snapshot()
	if st.Removed {
		return 0, fmt.Errorf("schedule track %v: %w", t.ID(), vusic.ErrUnknownTrack)
	}
	if err := item.validate(st); err != nil {
		return 0, fmt.Errorf("schedule: %w", err)
	}
	h := Handle(s.nextHandle.Add(1))
	e := &entity{
		slot:     &slot{run: item.newRunner()},
		handle:   h,
		track:    t,
		active:   map[Voice]struct{}{},
		timing:   map[Voice]voiceTiming{},
		patterns: map[*vusic.Pattern]*vusic.PatternState{},
	}
	s.mu.Lock()
	s.slots[h] = e.slot
	s.mu.Unlock()
	select {
	case s.inbox <- e:
	default:
		s.mu.Lock()
		delete(s.slots, h)
		s.mu.Unlock()
		return 0, ErrInboxFull
	}
	return h, nil
}

// ScheduleScore schedules one Sequence per track of the score.
func (s *Session) ScheduleScore() ([]Handle, error) {
	var ret []Handle
	for _, t := range s.score.Tracks() {
		h, err := s.Schedule(Sequence{Track: t})
		if err != nil {
			return ret, err
		}
		ret = append(ret, h)
	}
	return ret, nil
}

// Unschedule cancels an entity. The cancellation is committed before
// Unschedule returns: no event of the entity is delivered after that, except
// a single StopAll if the entity has sounding voices. The StopAll is not
// pushed to the Sink from here, since the Sink belongs to the goroutine
// calling Tick; it is delivered first thing in the next Tick, timed at the
// start of its window. An entity that never started produces no events at
// all.
func (s *Session) Unschedule(h Handle) error {
	s.mu.Lock()
	sl, ok := s.slots[h]
	delete(s.slots, h)
	s.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	sl.state.Store(int32(cancelled))
	return nil
}

// Evaluations returns how many times the patterns played by an entity have
// been evaluated. A pattern placement is evaluated the first time it is
// played and again only after the pattern is edited.
func (s *Session) Evaluations(h Handle) (int64, error) {
	s.mu.Lock()
	sl, ok := s.slots[h]
	s.mu.Unlock()
	if !ok {
		return 0, ErrUnknownHandle
	}
	return sl.run.evaluations(), nil
}

// Close cancels every entity. Sounding voices are stopped by the next Tick,
// and every Tick after that is a no-op.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.mu.Lock()
	for h, sl := range s.slots {
		sl.state.Store(int32(cancelled))
		delete(s.slots, h)
	}
	s.mu.Unlock()
}

// Tick delivers to the sink, in order, every event due in the clock window
// [from, to). Consecutive ticks should cover consecutive windows; a window
// overlapping an earlier one only derives the part not covered yet.
func (s *Session) Tick(from, to vusic.Seconds) TickReport {
	begin := s.now()
	var rep TickReport
	s.drain()
	rep.Joined = s.joined
	s.sweep(from)
	if s.closed.Load() {
		s.release(from)
		return rep
	}
	if ep := s.tr.Epoch(); ep != s.epoch {
		s.reset(from)
		s.epoch = ep
	}
	lo := max(from, s.horizon)
	s.spans = s.spans[:0]
	if lo < to {
		s.spans = s.tr.AppendSpans(s.spans, lo, to)
		s.horizon = to
	}
	rep.Spans = len(s.spans)
	for _, h := range s.order {
		e := s.entities[h]
		st := e.track.Snapshot()
		if len(e.active) > 0 && e.changed(st) {
			s.retime(e, st, from)
		}
		if st.Removed {
			continue
		}
		for i, sp := range s.spans {
			d := deriver{s: s, e: e, span: sp, fresh: sp.Fresh || (i == 0 && s.fresh)}
			e.run.derive(&d, st)
		}
	}
	if len(s.spans) > 0 {
		s.fresh = false
	}
	for {
		ev, ok := s.queue.peek()
		if !ok || ev.Time >= to {
			break
		}
		s.queue.pop()
		if s.deliver(ev) {
			rep.Events++
		}
	}
	rep.Elapsed = s.now().Sub(begin)
	if b := s.opts.Budget; b > 0 && rep.Elapsed > b {
		rep.Overrun = true
		s.opts.Warnings.Warn(vusic.Warning{
			Kind:    vusic.SchedulingOverrun,
			Value:   rep.Elapsed.Seconds(),
			Applied: b.Seconds(),
		})
	}
	return rep
}

func (s *Session) drain() {
	clear(s.joined)
	s.joined = s.joined[:0]
	for {
		select {
		case e := <-s.inbox:
			s.joined = append(s.joined, e.track)
			s.entities[e.handle] = e
			// handles increase, so appending keeps the order sorted
			s.order = append(s.order, e.handle)
		default:
			return
		}
	}
}

// sweep drops cancelled entities, stopping their voices.
func (s *Session) sweep(at vusic.Seconds) {
	n := 0
	for _, h := range s.order {
		e := s.entities[h]
		if entityState(e.state.Load()) != cancelled {
			s.order[n] = h
			n++
			continue
		}
		if len(e.active) > 0 {
			s.emit(Event{Time: at, Kind: StopAll, Entity: h})
		}
		delete(s.entities, h)
	}
	s.order = s.order[:n]
}

// reset discards everything derived for the previous epoch: the playhead
// jumped, so queued events no longer match the timeline.
func (s *Session) reset(at vusic.Seconds) {
	sounding := false
	for _, e := range s.entities {
		if len(e.active) > 0 {
			sounding = true
			clear(e.active)
		}
		clear(e.timing)
		e.state.CompareAndSwap(int32(started), int32(scheduled))
		e.state.CompareAndSwap(int32(stopped), int32(scheduled))
	}
	if sounding {
		s.emit(Event{Time: at, Kind: StopAll})
	}
	s.queue = s.queue[:0]
	s.horizon = vusic.Seconds(math.Inf(-1))
	s.fresh = true
}

func (s *Session) release(at vusic.Seconds) {
	if s.released {
		return
	}
	s.released = true
	for _, e := range s.entities {
		if len(e.active) > 0 {
			s.emit(Event{Time: at, Kind: StopAll})
			break
		}
	}
	clear(s.entities)
	s.order = nil
	s.queue = nil
}

// changed reports whether the track, or a pattern placed on it, was edited
// since the last call.
func (e *entity) changed(st *vusic.TrackState) bool {
	ret := st != e.seen
	e.seen = st
	for _, pp := range st.Patterns {
		ps := pp.Pattern.Snapshot()
		if e.patterns[pp.Pattern] != ps {
			e.patterns[pp.Pattern] = ps
			ret = true
		}
	}
	return ret
}

// retime moves the stop of every sounding voice to the end of its item as it
// is now: a shortened or lengthened item stops at its new end, never before
// at, and a removed item stops at at.
func (s *Session) retime(e *entity, st *vusic.TrackState, at vusic.Seconds) {
	for v := range e.active {
		vt, timed := e.timing[v]
		stop := at
		if timed && !st.Removed {
			if end, ok := e.run.end(st, v, vt.span); ok {
				stop = max(at, end)
			}
		}
		if timed && stop == vt.stop {
			continue
		}
		vt.stop = stop
		e.timing[v] = vt
		s.push(Event{Time: stop, Kind: Stop, Entity: e.handle, Track: e.track.ID(), Voice: v})
	}
}

func (s *Session) push(ev Event) {
	ev.Seq = s.seq
	s.seq++
	s.queue.push(ev)
}

// emit delivers an event immediately, bypassing the queue.
func (s *Session) emit(ev Event) {
	ev.Seq = s.seq
	s.seq++
	s.sink.Push(ev)
}

// deliver filters a due event against the current entity states and hands it
// to the sink.
func (s *Session) deliver(ev Event) bool {
	e, ok := s.entities[ev.Entity]
	if !ok {
		return false
	}
	switch ev.Kind {
	case Start:
		if !e.start() {
			return false
		}
		e.active[ev.Voice] = struct{}{}
	case Stop:
		if vt, ok := e.timing[ev.Voice]; ok && vt.stop != ev.Time {
			return false
		}
		delete(e.timing, ev.Voice)
		if _, on := e.active[ev.Voice]; !on {
			return false
		}
		delete(e.active, ev.Voice)
		if len(e.active) == 0 {
			e.state.CompareAndSwap(int32(started), int32(stopped))
		}
	case SetParam:
		if entityState(e.state.Load()) == cancelled {
			return false
		}
	}
	s.sink.Push(ev)
	return true
}

func (e *entity) start() bool {
	for {
		cur := entityState(e.state.Load())
		switch cur {
		case cancelled:
			return false
		case started:
			return true
		}
		if e.state.CompareAndSwap(int32(cur), int32(started)) {
			return true
		}
	}
}
