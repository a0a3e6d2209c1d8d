// Package render drives the scheduler and the audio graph period by period,
// either live (pulled by an audio output) or offline into a buffer.
package render

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/config"
	"github.com/dawg/vusic/graph"
	"github.com/dawg/vusic/scheduler"
	"github.com/dawg/vusic/transport"
)

type (
	Options struct {
		// Warnings receives warnings synchronously on the lane calling
		// Process. When nil, warnings are sent to the broker's Warnings
		// channel, to be drained by LogWarnings or another consumer.
		Warnings vusic.WarningSink
		// Offline disables the scheduling budget: an offline render has no
		// deadline.
		Offline bool
	}

	// Engine renders one Score. The control lane plays, stops and edits
	// through the Engine's methods and the Transport; the real-time lane
	// calls Process (directly, or through Reader) for every period.
	Engine struct {
		cfg       config.Config
		score     *vusic.Score
		broker    *Broker
		clock     *transport.SampleClock
		tr        *transport.Transport
		session   *scheduler.Session
		graph     *graph.Graph
		lookAhead vusic.Seconds

		mu        sync.Mutex // guards scheduled
		scheduled map[vusic.TrackID]scheduler.Handle

		// owned by the real-time lane
		tracks []*vusic.Track
	}
)

var ErrBusy = errors.New("render: request queue is full")

// NewEngine prepares an engine for score: the chains of every track are
// built up front so the first period does not have to.
func NewEngine(score *vusic.Score, cfg config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := transport.NewSampleClock(cfg.SampleRate)
	tr, err := transport.New(clock, score.Tempo())
	if err != nil {
		return nil, fmt.Errorf("could not create transport: %w", err)
	}
	broker := NewBroker()
	warn := opts.Warnings
	if warn == nil {
		warn = broker
	}
	g := graph.New(graph.Options{
		SampleRate:      cfg.SampleRate,
		CrossfadeFrames: cfg.Crossfade,
		MaxVoices:       cfg.MaxVoices,
		Seed:            cfg.Seed,
		Warnings:        warn,
	})
	budget := cfg.Budget
	if opts.Offline {
		budget = 0
	}
	session := scheduler.NewSession(score, tr, g, scheduler.Options{
		Budget:      budget,
		ControlRate: cfg.ControlRate,
		InboxSize:   cfg.InboxSize,
		Warnings:    warn,
	})
	e := &Engine{
		cfg:       cfg,
		score:     score,
		broker:    broker,
		clock:     clock,
		tr:        tr,
		session:   session,
		graph:     g,
		lookAhead: vusic.Seconds(cfg.LookAhead.Seconds()),
		scheduled: map[vusic.TrackID]scheduler.Handle{},
		tracks:    score.Tracks(),
	}
	for _, t := range e.tracks {
		if _, err := g.Build(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Broker() *Broker                 { return e.broker }
func (e *Engine) Transport() *transport.Transport { return e.tr }
func (e *Engine) Session() *scheduler.Session     { return e.session }
func (e *Engine) Config() config.Config           { return e.cfg }

// Play schedules every track of the score that is not scheduled yet and
// starts the transport at beat at.
func (e *Engine) Play(at vusic.Beats) error {
	if err := e.Refresh(); err != nil {
		return err
	}
	return e.tr.Start(at)
}

// Stop stops the transport and rewinds it; sounding voices are released.
func (e *Engine) Stop() { e.tr.Stop() }

// Refresh picks up tracks added to or removed from the score since the
// engine was created: the tracks are handed to the real-time lane, then the
// new ones are scheduled.
func (e *Engine) Refresh() error {
	tracks := e.score.Tracks()
	if !TrySend[any](e.broker.ToEngine, msgTracks{tracks: slices.Clone(tracks)}) {
		return ErrBusy
	}
	return e.schedule(tracks)
}

func (e *Engine) schedule(tracks []*vusic.Track) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	live := map[vusic.TrackID]bool{}
	for _, t := range tracks {
		live[t.ID()] = true
		if _, ok := e.scheduled[t.ID()]; ok {
			continue
		}
		h, err := e.session.Schedule(scheduler.Sequence{Track: t})
		if err != nil {
			return fmt.Errorf("could not schedule track %q: %w", t.Name(), err)
		}
		e.scheduled[t.ID()] = h
	}
	for id, h := range e.scheduled {
		if !live[id] {
			e.session.Unschedule(h)
			delete(e.scheduled, id)
		}
	}
	return nil
}

// SetParameter asks the real-time lane to write a parameter of a track's
// chain at the start of the next period. The document is not changed.
func (e *Engine) SetParameter(track vusic.TrackID, ref vusic.ParamRef, v float64) error {
	return e.request(MsgSetParameter{Track: track, Ref: ref, Value: v})
}

// RemoveEffect asks the real-time lane to fade an effect out of a track's
// chain. The document is not changed; to remove the effect for good, remove
// it from the Track and the chain follows.
func (e *Engine) RemoveEffect(track vusic.TrackID, id vusic.EffectID) error {
	return e.request(MsgRemoveEffect{Track: track, Effect: id})
}

// InsertEffect asks the real-time lane to fade an effect into a track's
// chain at index.
func (e *Engine) InsertEffect(track vusic.TrackID, index int, effect vusic.Effect) error {
	return e.request(MsgInsertEffect{Track: track, Index: index, Effect: effect.Copy()})
}

func (e *Engine) request(msg any) error {
	if !TrySend(e.broker.ToEngine, msg) {
		return ErrBusy
	}
	return nil
}

// Close releases every scheduled entity. The next period flushes the
// remaining voices.
func (e *Engine) Close() {
	e.session.Close()
}

// Process renders one period into buf: control requests are applied, the
// chains are brought up to date with the document, the scheduler derives the
// events of the period plus the look-ahead, and the graph renders them.
func (e *Engine) Process(buf vusic.AudioBuffer) {
	now := e.clock.Now()
	e.handleMessages(now)
	n := 0
	for _, t := range e.tracks {
		if _, err := e.graph.Sync(t, now); errors.Is(err, vusic.ErrUnknownTrack) {
			continue
		}
		e.tracks[n] = t
		n++
	}
	clear(e.tracks[n:])
	e.tracks = e.tracks[:n]
	end := now + vusic.Seconds(float64(len(buf))/float64(e.cfg.SampleRate))
	rep := e.session.Tick(now, end+e.lookAhead)
	for _, t := range rep.Joined {
		// the track was scheduled before its track list reached this lane
		if _, ok := e.graph.Chain(t.ID()); ok {
			continue
		}
		if _, err := e.graph.Sync(t, now); err == nil {
			e.tracks = append(e.tracks, t)
		}
	}
	e.graph.Render(buf, now)
	e.clock.Advance(len(buf))
	e.monitor(buf)
}

func (e *Engine) handleMessages(now vusic.Seconds) {
	for {
		select {
		case msg := <-e.broker.ToEngine:
			e.handle(msg, now)
		default:
			return
		}
	}
}

func (e *Engine) handle(msg any, now vusic.Seconds) {
	switch m := msg.(type) {
	case msgTracks:
		e.tracks = m.tracks
	case MsgSetParameter:
		if h, ok := e.graph.Chain(m.Track); ok {
			e.graph.SetParameter(h, m.Ref, m.Value, now)
		}
	case MsgRemoveEffect:
		if h, ok := e.graph.Chain(m.Track); ok {
			e.graph.RemoveEffect(h, m.Effect, now)
		}
	case MsgInsertEffect:
		if h, ok := e.graph.Chain(m.Track); ok {
			e.graph.InsertEffect(h, m.Index, m.Effect, now)
		}
	}
}

func (e *Engine) monitor(buf vusic.AudioBuffer) {
	if !e.broker.monitoring.Load() {
		return
	}
	b := e.broker.GetAudioBuffer()
	*b = append(*b, buf...)
	if !TrySend(e.broker.ToMonitor, b) {
		e.broker.PutAudioBuffer(b)
	}
}

// Bounce renders length seconds on the calling goroutine, one period at a
// time, and returns the result.
func (e *Engine) Bounce(length vusic.Seconds) vusic.AudioBuffer {
	frames := int(math.Round(float64(length) * float64(e.cfg.SampleRate)))
	out := make(vusic.AudioBuffer, max(frames, 0))
	for pos := 0; pos < len(out); pos += e.cfg.Period {
		e.Process(out[pos:min(pos+e.cfg.Period, len(out))])
	}
	return out
}

// Offline renders the first length seconds of a score from beat 0. The
// result only depends on the score, the configuration and the seed. Every
// sample the score refers to must have finished loading.
func Offline(score *vusic.Score, cfg config.Config, length vusic.Seconds, seed uint64) (vusic.AudioBuffer, error) {
	handles := score.Samples()
	for _, t := range score.Tracks() {
		for _, p := range t.Snapshot().Samples {
			handles = append(handles, p.Sample)
		}
	}
	for _, h := range handles {
		if h.State() == vusic.Pending {
			return nil, fmt.Errorf("offline render: sample %q: %w", h.Source(), vusic.ErrNotReady)
		}
	}
	cfg.Seed = seed
	e, err := NewEngine(score, cfg, Options{Offline: true, Warnings: vusic.WarningFunc(func(vusic.Warning) {})})
	if err != nil {
		return nil, err
	}
	if err := e.Play(0); err != nil {
		return nil, err
	}
	defer e.Close()
	return e.Bounce(length), nil
}
