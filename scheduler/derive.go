package scheduler

import (
	"math"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/transport"
)

// deriver projects the items of one entity onto one span.
type deriver struct {
	s    *Session
	e    *entity
	span transport.Span
	// fresh is set when playback jumped into the span, so items already
	// running at span.From resume midway.
	fresh bool
}

func (d *deriver) push(ev Event) {
	ev.Entity = d.e.handle
	ev.Track = d.e.track.ID()
	if ev.Time < d.span.Start {
		ev.Time = d.span.Start
	}
	d.s.push(ev)
}

func (d *deriver) contains(b vusic.Beats) bool {
	return b >= d.span.From && b < d.span.To
}

// note plays n, offset by the start of the placement it is played through.
// The stop is queued with an absolute time, so it holds even if the span is
// cut by a loop end before the note ends.
func (d *deriver) note(n vusic.Note, offset vusic.Beats, parent vusic.ItemID) {
	start := offset + n.Start
	if !d.contains(start) {
		return
	}
	v := Voice{Entity: d.e.handle, Item: n.ID, Parent: parent, Iteration: d.span.Iteration}
	stop := noteStop(d.span, n, offset)
	d.e.timing[v] = voiceTiming{span: d.span, stop: stop}
	d.push(Event{Time: d.span.Clock(start), Kind: Start, Voice: v, Pitch: n.Pitch, Velocity: n.Velocity})
	d.push(Event{Time: stop, Kind: Stop, Voice: v})
}

func noteStop(sp transport.Span, n vusic.Note, offset vusic.Beats) vusic.Seconds {
	return max(sp.Clock(offset+n.Start+n.Duration), sp.Start)
}

// sampleEnd is where a sample placement stops playing in a span.
func sampleEnd(sp transport.Span, p vusic.SamplePlacement, smp *vusic.Sample) vusic.Seconds {
	end := sp.Clock(p.Start) + smp.Duration()
	if p.Duration > 0 {
		end = min(end, sp.Clock(p.Start+p.Duration))
	}
	if !math.IsInf(float64(sp.Cut), 1) {
		end = min(end, sp.Clock(sp.Cut))
	}
	return max(end, sp.Start)
}

func (d *deriver) pattern(pp vusic.PatternPlacement, c *patternCache) {
	if pp.Start >= d.span.To || (pp.Duration > 0 && pp.Start+pp.Duration <= d.span.From) {
		return
	}
	notes := c.evaluate(pp)
	for _, n := range notesIn(notes, d.span.From-pp.Start, d.span.To-pp.Start) {
		d.note(n, pp.Start, pp.ID)
	}
}

// sample plays a sample placement. It is cut at the end of the placement, at
// the end of the sample and at the loop end, whichever comes first.
func (d *deriver) sample(sp vusic.SamplePlacement) {
	switch sp.Sample.State() {
	case vusic.Pending:
		return
	case vusic.Failed:
		if !d.s.unplayable[sp.ID] {
			d.s.unplayable[sp.ID] = true
			d.s.opts.Warnings.Warn(vusic.Warning{
				Kind:  vusic.ResourceLoadFailure,
				Track: d.e.track.ID(),
				Item:  sp.ID,
				Err:   sp.Sample.Err(),
			})
		}
		return
	}
	smp, _ := sp.Sample.Sample()
	begin := d.span.Clock(sp.Start)
	end := sampleEnd(d.span, sp, smp)
	at, offset := begin, vusic.Seconds(0)
	switch {
	case d.contains(sp.Start):
	case d.fresh && sp.Start < d.span.From && end > d.span.Start:
		at, offset = d.span.Start, d.span.Start-begin
	default:
		return
	}
	if end <= at {
		return
	}
	v := Voice{Entity: d.e.handle, Item: sp.ID, Iteration: d.span.Iteration}
	d.e.timing[v] = voiceTiming{span: d.span, stop: end}
	d.push(Event{Time: at, Kind: Start, Voice: v, Sample: smp, Offset: offset})
	d.push(Event{Time: end, Kind: Stop, Voice: v})
}

// automation emits the values of a clip inside the span: at the clip start,
// at every point, at the span start when playback jumped into the clip, and
// on a control rate grid along linear segments.
func (d *deriver) automation(a vusic.AutomationClip) {
	if len(a.Points) == 0 || a.Start >= d.span.To || a.End() < d.span.From {
		return
	}
	lo, hi := max(a.Start, d.span.From), min(a.End(), d.span.To)
	set := func(b vusic.Beats) {
		v, _ := a.ValueAt(b - a.Start)
		d.push(Event{
			Time:  d.span.Clock(b),
			Kind:  SetParam,
			Voice: Voice{Entity: d.e.handle, Item: a.ID, Iteration: d.span.Iteration},
			Param: a.Target,
			Value: v,
		})
	}
	first := d.contains(a.Start) || d.fresh
	if first {
		set(lo)
	}
	linear := false
	for i, p := range a.Points {
		// a point at the clip end is still applied
		if b := a.Start + p.Time; d.contains(b) && b >= lo && !(first && b == lo) {
			set(b)
		}
		if p.Curve == vusic.Linear && i+1 < len(a.Points) {
			linear = true
		}
	}
	if !linear || lo >= hi {
		return
	}
	// grid points are multiples of the control period in clock time, so
	// consecutive ticks continue the same grid
	step := 1 / d.s.opts.ControlRate
	t0, t1 := float64(d.span.Clock(lo)), float64(d.span.Clock(hi))
	for k := math.Ceil(t0 / step); k*step < t1; k++ {
		t := k * step
		if t < t0 || (first && t == t0) {
			continue
		}
		b := d.span.Tempo.Beats(vusic.Seconds(t) - d.span.Origin)
		set(min(max(b, lo), hi))
	}
}
