package graph

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/scheduler"
)

type (
	// ChainHandle identifies a compiled chain within a Graph.
	ChainHandle uint64

	Options struct {
		SampleRate int
		// CrossfadeFrames is the length of the crossfade used when an
		// effect is inserted into or removed from a running chain.
		CrossfadeFrames int
		MaxVoices       int    // per source; the oldest voice is stolen beyond this
		Seed            uint64 // seeds the noise generators
		Warnings        vusic.WarningSink
	}

	// Graph renders the tracks of a score: one chain per track, all mixed
	// into a master bus. Events and parameter writes are queued with their
	// absolute times and applied at the exact frame they fall on.
	//
	// A Graph is not safe for concurrent use; it belongs to the real-time
	// lane, and control requests reach it through the render broker.
	Graph struct {
		opts     Options
		chains   []*chain
		byTrack  map[vusic.TrackID]*chain
		byHandle map[ChainHandle]*chain
		next     ChainHandle
		queue    []op
		seq      uint64
		master   [2][]float32
	}

	op struct {
		time   vusic.Seconds
		seq    uint64
		kind   opKind
		event  scheduler.Event
		chain  ChainHandle
		ref    vusic.ParamRef
		value  float64
		effect vusic.Effect
		after  vusic.EffectID // insert after this effect, 0 inserts first
	}

	opKind int
)

const (
	opEvent opKind = iota
	opParam
	opInsert
	opRemove
)

var (
	ErrUnknownChain = errors.New("graph: unknown chain")
	ErrAlreadyBuilt = errors.New("graph: track already has a chain")
)

type nopWarnings struct{}

func (nopWarnings) Warn(vusic.Warning) {}

func New(opts Options) *Graph {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.CrossfadeFrames <= 0 {
		opts.CrossfadeFrames = 256
	}
	if opts.MaxVoices <= 0 {
		opts.MaxVoices = 32
	}
	if opts.Warnings == nil {
		opts.Warnings = nopWarnings{}
	}
	return &Graph{
		opts:     opts,
		byTrack:  map[vusic.TrackID]*chain{},
		byHandle: map[ChainHandle]*chain{},
	}
}

func (g *Graph) SampleRate() int { return g.opts.SampleRate }

// Build compiles the chain of a track from its current state:
// instrument -> effects -> channel gain and pan -> master.
func (g *Graph) Build(t *vusic.Track) (ChainHandle, error) {
	st := t.Snapshot()
	if st.Removed {
		return 0, fmt.Errorf("build: %w", vusic.ErrUnknownTrack)
	}
	if c, ok := g.byTrack[t.ID()]; ok {
		return c.handle, ErrAlreadyBuilt
	}
	g.next++
	c := &chain{
		handle:  g.next,
		track:   t.ID(),
		values:  map[vusic.ParamRef]float64{},
		clamped: map[vusic.ParamRef]bool{},
	}
	if err := g.compile(c, st); err != nil {
		return 0, err
	}
	g.chains = append(g.chains, c)
	g.byTrack[c.track] = c
	g.byHandle[c.handle] = c
	return c.handle, nil
}

func (g *Graph) compile(c *chain, st *vusic.TrackState) error {
	if err := g.compileSource(c, st.Instrument); err != nil {
		return err
	}
	c.effects = c.effects[:0]
	for _, e := range st.Channel.Effects {
		u, err := g.effect(e)
		if err != nil {
			return err
		}
		c.effects = append(c.effects, &effectSlot{id: e.ID, unit: u, mix: 1, target: 1, step: g.fadeStep()})
	}
	c.gain, c.pan, c.mute = st.Channel.Gain, st.Channel.Pan, st.Channel.Mute
	c.faulted = false
	c.version = st.Version
	c.doc = *st
	return nil
}

func (g *Graph) compileSource(c *chain, instr vusic.Instrument) error {
	src, err := NewSource(instr.Kind, g.opts.SampleRate, g.opts.MaxVoices, g.opts.Seed^uint64(c.track))
	if err != nil {
		return fmt.Errorf("build track %v: %w", c.track, err)
	}
	for name, v := range instr.Params {
		src.SetParameter(name, v)
	}
	c.source, c.samples = src, src
	if instr.Kind != "sampler" {
		aux, err := NewSource("sampler", g.opts.SampleRate, g.opts.MaxVoices, 0)
		if err != nil {
			return err
		}
		c.samples = aux
	}
	return nil
}

func (g *Graph) effect(e vusic.Effect) (Unit, error) {
	u, err := NewEffect(e.Kind, g.opts.SampleRate)
	if err != nil {
		return nil, err
	}
	for name, v := range e.Params {
		u.SetParameter(name, v)
	}
	return u, nil
}

func (g *Graph) fadeStep() float32 { return 1 / float32(g.opts.CrossfadeFrames) }

// Chain returns the chain of a track.
func (g *Graph) Chain(track vusic.TrackID) (ChainHandle, bool) {
	c, ok := g.byTrack[track]
	if !ok {
		return 0, false
	}
	return c.handle, true
}

// Remove drops a chain immediately.
func (g *Graph) Remove(h ChainHandle) error {
	c, ok := g.byHandle[h]
	if !ok {
		return ErrUnknownChain
	}
	delete(g.byHandle, h)
	delete(g.byTrack, c.track)
	for i, other := range g.chains {
		if other == c {
			g.chains = append(g.chains[:i], g.chains[i+1:]...)
			break
		}
	}
	return nil
}

// Sync brings the chain of a track up to date with the document, building it
// if needed. Effects added or removed in the document are spliced in with a
// crossfade at time at; changed parameter values are applied at at.
func (g *Graph) Sync(t *vusic.Track, at vusic.Seconds) (ChainHandle, error) {
	st := t.Snapshot()
	c, ok := g.byTrack[t.ID()]
	if st.Removed {
		if ok {
			g.Remove(c.handle)
		}
		return 0, vusic.ErrUnknownTrack
	}
	if !ok {
		return g.Build(t)
	}
	if st.Version == c.version {
		return c.handle, nil
	}
	old := c.doc
	c.version = st.Version
	c.doc = *st
	if st.Instrument.Kind != old.Instrument.Kind {
		if err := g.compileSource(c, st.Instrument); err != nil {
			return c.handle, err
		}
		c.faulted = false
	} else if !maps.Equal(st.Instrument.Params, old.Instrument.Params) {
		for name, v := range st.Instrument.Params {
			c.source.SetParameter(name, v)
		}
	}
	for _, e := range old.Channel.Effects {
		if st.Channel.EffectIndex(e.ID) < 0 {
			g.enqueue(op{time: at, kind: opRemove, chain: c.handle, effect: e})
		}
	}
	var after vusic.EffectID
	for _, e := range st.Channel.Effects {
		i := old.Channel.EffectIndex(e.ID)
		switch {
		case i < 0:
			g.enqueue(op{time: at, kind: opInsert, chain: c.handle, effect: e.Copy(), after: after})
		case !maps.Equal(old.Channel.Effects[i].Params, e.Params):
			for name, v := range e.Params {
				if old.Channel.Effects[i].Params[name] != v {
					g.enqueue(op{time: at, kind: opParam, chain: c.handle, ref: vusic.ParamRef{Effect: e.ID, Param: name}, value: v})
				}
			}
		}
		after = e.ID
	}
	if st.Channel.Gain != old.Channel.Gain {
		g.enqueue(op{time: at, kind: opParam, chain: c.handle, ref: vusic.ParamRef{Param: "gain"}, value: st.Channel.Gain})
	}
	if st.Channel.Pan != old.Channel.Pan {
		g.enqueue(op{time: at, kind: opParam, chain: c.handle, ref: vusic.ParamRef{Param: "pan"}, value: st.Channel.Pan})
	}
	c.mute = st.Channel.Mute
	return c.handle, nil
}

// SetParameter queues a parameter write for time at. The value is held to
// the parameter's declared range when applied; a value outside the range
// raises a RangeViolation warning the first time the parameter is clamped.
func (g *Graph) SetParameter(h ChainHandle, ref vusic.ParamRef, v float64, at vusic.Seconds) error {
	c, ok := g.byHandle[h]
	if !ok {
		return ErrUnknownChain
	}
	if _, _, ok := c.spec(ref); !ok {
		return fmt.Errorf("set parameter %v/%q: %w", ref.Effect, ref.Param, vusic.ErrUnknownEffect)
	}
	g.enqueue(op{time: at, kind: opParam, chain: h, ref: ref, value: v})
	return nil
}

// Param returns the value last applied to a parameter.
func (g *Graph) Param(h ChainHandle, ref vusic.ParamRef) (float64, bool) {
	c, ok := g.byHandle[h]
	if !ok {
		return 0, false
	}
	if v, ok := c.values[ref]; ok {
		return v, true
	}
	switch {
	case ref.Effect != 0:
		if i := c.doc.Channel.EffectIndex(ref.Effect); i >= 0 {
			return c.doc.Channel.Effects[i].Param(ref.Param), true
		}
	case ref.Param == "gain":
		return c.gain, true
	case ref.Param == "pan":
		return c.pan, true
	}
	return 0, false
}

// InsertEffect splices an effect into a chain at index, fading it in from
// time at. The effect must carry the ID it has in the document.
func (g *Graph) InsertEffect(h ChainHandle, index int, e vusic.Effect, at vusic.Seconds) error {
	c, ok := g.byHandle[h]
	if !ok {
		return ErrUnknownChain
	}
	if _, ok := vusic.EffectConstrains[e.Kind]; !ok {
		return fmt.Errorf("insert effect: unknown effect kind %q", e.Kind)
	}
	if e.ID == 0 {
		return fmt.Errorf("insert effect: effect has no ID")
	}
	var after vusic.EffectID
	n := 0
	for _, s := range c.effects {
		if n >= index {
			break
		}
		if s.live() {
			after = s.id
			n++
		}
	}
	g.enqueue(op{time: at, kind: opInsert, chain: h, effect: e.Copy(), after: after})
	return nil
}

// RemoveEffect fades an effect out of a chain from time at and drops it
// once the fade completes.
func (g *Graph) RemoveEffect(h ChainHandle, id vusic.EffectID, at vusic.Seconds) error {
	c, ok := g.byHandle[h]
	if !ok {
		return ErrUnknownChain
	}
	if c.slot(id) == nil {
		return fmt.Errorf("remove effect %v: %w", id, vusic.ErrUnknownEffect)
	}
	g.enqueue(op{time: at, kind: opRemove, chain: h, effect: vusic.Effect{ID: id}})
	return nil
}

// Push queues a scheduler event; Graph implements scheduler.Sink. A StopAll
// discards the queued events of the entities it stops.
func (g *Graph) Push(e scheduler.Event) {
	if e.Kind == scheduler.StopAll {
		n := 0
		for _, o := range g.queue {
			if o.kind == opEvent && (e.Entity == 0 || o.event.Entity == e.Entity) {
				continue
			}
			g.queue[n] = o
			n++
		}
		g.queue = g.queue[:n]
	}
	g.enqueue(op{time: e.Time, kind: opEvent, event: e})
}

func (g *Graph) enqueue(o op) {
	o.seq = g.seq
	g.seq++
	i := sort.Search(len(g.queue), func(i int) bool { return g.queue[i].time > o.time })
	g.queue = append(g.queue, op{})
	copy(g.queue[i+1:], g.queue[i:])
	g.queue[i] = o
}

// Pending returns the number of queued events and parameter writes.
func (g *Graph) Pending() int { return len(g.queue) }

// Voices returns the number of sounding voices across all chains.
func (g *Graph) Voices() int {
	n := 0
	for _, c := range g.chains {
		n += c.voices()
	}
	return n
}

// Render renders len(buf) frames starting at clock time at. Queued
// operations due before the end of the buffer are applied at the frame they
// fall on; operations already late are applied at the first frame.
func (g *Graph) Render(buf vusic.AudioBuffer, at vusic.Seconds) {
	n := len(buf)
	if cap(g.master[0]) < n {
		g.master = [2][]float32{make([]float32, n), make([]float32, n)}
	}
	master := [2][]float32{g.master[0][:n], g.master[1][:n]}
	clear(master[0])
	clear(master[1])
	sr := float64(g.opts.SampleRate)
	pos := 0
	for pos < n {
		for len(g.queue) > 0 && g.frame(g.queue[0].time, at, sr) <= pos {
			g.apply(g.queue[0])
			g.queue = g.queue[1:]
		}
		next := n
		if len(g.queue) > 0 {
			next = min(n, max(g.frame(g.queue[0].time, at, sr), pos+1))
		}
		seg := [2][]float32{master[0][pos:next], master[1][pos:next]}
		for _, c := range g.chains {
			if kind := c.render(seg, next-pos); kind != "" {
				g.opts.Warnings.Warn(vusic.Warning{Kind: vusic.UnitFault, Track: c.track, Param: kind})
			}
		}
		pos = next
	}
	if len(g.queue) == 0 {
		g.queue = nil
	}
	for i := range buf {
		buf[i] = [2]float32{master[0][i], master[1][i]}
	}
}

// frame returns the frame of the buffer starting at clock time at on which
// time t falls.
func (g *Graph) frame(t, at vusic.Seconds, sr float64) int {
	f := math.Floor(float64(t-at)*sr + 1e-6)
	if f < 0 {
		return 0
	}
	if f > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(f)
}

func (g *Graph) apply(o op) {
	switch o.kind {
	case opEvent:
		g.applyEvent(o.event)
		return
	}
	c, ok := g.byHandle[o.chain]
	if !ok {
		return
	}
	switch o.kind {
	case opParam:
		g.applyParam(c, o.ref, o.value)
	case opRemove:
		if s := c.slot(o.effect.ID); s != nil {
			s.target = 0
		}
	case opInsert:
		if c.slot(o.effect.ID) != nil {
			return
		}
		u, err := g.effect(o.effect)
		if err != nil {
			return
		}
		s := &effectSlot{id: o.effect.ID, unit: u, target: 1, step: g.fadeStep()}
		i := 0
		if o.after != 0 {
			for j, other := range c.effects {
				if other.id == o.after {
					i = j + 1
				}
			}
		}
		c.effects = append(c.effects, nil)
		copy(c.effects[i+1:], c.effects[i:])
		c.effects[i] = s
	}
}

func (g *Graph) applyEvent(e scheduler.Event) {
	if e.Kind == scheduler.StopAll {
		for _, c := range g.chains {
			c.source.ReleaseEntity(e.Entity)
			if c.samples != c.source {
				c.samples.ReleaseEntity(e.Entity)
			}
		}
		return
	}
	c, ok := g.byTrack[e.Track]
	if !ok {
		return
	}
	switch e.Kind {
	case scheduler.Start:
		if e.Sample != nil {
			c.samples.Start(e)
		} else {
			c.source.Start(e)
		}
	case scheduler.Stop:
		c.source.Release(e.Voice)
		if c.samples != c.source {
			c.samples.Release(e.Voice)
		}
	case scheduler.SetParam:
		g.applyParam(c, e.Param, e.Value)
	}
}

// applyParam holds v to the declared range of the parameter and writes it.
func (g *Graph) applyParam(c *chain, ref vusic.ParamRef, v float64) {
	spec, u, ok := c.spec(ref)
	if !ok {
		return
	}
	applied, in := spec.Clamp(v)
	if in {
		delete(c.clamped, ref)
	} else if !c.clamped[ref] {
		c.clamped[ref] = true
		g.opts.Warnings.Warn(vusic.Warning{Kind: vusic.RangeViolation, Track: c.track, Param: ref.Param, Value: v, Applied: applied})
	}
	c.values[ref] = applied
	switch {
	case u != nil:
		u.SetParameter(ref.Param, applied)
	case ref.Param == "gain":
		c.gain = applied
	case ref.Param == "pan":
		c.pan = applied
	}
}
