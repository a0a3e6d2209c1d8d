package graph_test

import (
	"math"
	"testing"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/graph"
	"github.com/dawg/vusic/scheduler"
)

const sampleRate = 44100

func newTrack(t *testing.T, params map[string]float64) (*vusic.Score, *vusic.Track) {
	t.Helper()
	score, err := vusic.NewScore("graph", 120)
	if err != nil {
		t.Fatalf("NewScore failed: %v", err)
	}
	instr, err := vusic.NewInstrument("synth")
	if err != nil {
		t.Fatalf("NewInstrument failed: %v", err)
	}
	for k, v := range params {
		instr.Params[k] = v
	}
	track, err := score.AddTrack("lead", instr)
	if err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	return score, track
}

func build(t *testing.T, g *graph.Graph, track *vusic.Track) graph.ChainHandle {
	t.Helper()
	h, err := g.Build(track)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return h
}

func noteOn(track *vusic.Track, at vusic.Seconds, pitch float64) scheduler.Event {
	return scheduler.Event{
		Time:     at,
		Kind:     scheduler.Start,
		Entity:   1,
		Track:    track.ID(),
		Voice:    scheduler.Voice{Entity: 1, Item: vusic.ItemID(pitch)},
		Pitch:    pitch,
		Velocity: 1,
	}
}

func render(g *graph.Graph, from vusic.Seconds, frames int) vusic.AudioBuffer {
	buf := make(vusic.AudioBuffer, frames)
	g.Render(buf, from)
	return buf
}

func TestParameterIsClamped(t *testing.T) {
	_, track := newTrack(t, nil)
	warns := &vusic.WarningRecorder{}
	g := graph.New(graph.Options{SampleRate: sampleRate, Warnings: warns})
	h := build(t, g, track)
	gain := vusic.ParamRef{Param: "gain"}
	if err := g.SetParameter(h, gain, 5, 0); err != nil {
		t.Fatalf("SetParameter failed: %v", err)
	}
	render(g, 0, 64)
	if v, _ := g.Param(h, gain); v != 2 {
		t.Errorf("gain 5 should be held to the maximum 2, got %v", v)
	}
	if n := warns.Count(vusic.RangeViolation); n != 1 {
		t.Fatalf("expected one RangeViolation, got %d", n)
	}
	if w := warns.Warnings()[0]; w.Value != 5 || w.Applied != 2 || w.Param != "gain" || w.Track != track.ID() {
		t.Errorf("unexpected warning %v", w)
	}
	// a parameter that stays clamped is reported once
	g.SetParameter(h, gain, 7, 0)
	render(g, 0, 64)
	if n := warns.Count(vusic.RangeViolation); n != 1 {
		t.Errorf("repeated clamping should not warn again, got %d warnings", n)
	}
	g.SetParameter(h, gain, 1, 0)
	g.SetParameter(h, gain, -1, 0)
	render(g, 0, 64)
	if v, _ := g.Param(h, gain); v != 0 {
		t.Errorf("gain -1 should be held to 0, got %v", v)
	}
	if n := warns.Count(vusic.RangeViolation); n != 2 {
		t.Errorf("clamping again after an in-range write should warn, got %d warnings", n)
	}
	if st := track.Snapshot(); st.Channel.Gain != 1 {
		t.Errorf("the document gain changed to %v", st.Channel.Gain)
	}
}

func TestAutomationEventIsClamped(t *testing.T) {
	_, track := newTrack(t, nil)
	warns := &vusic.WarningRecorder{}
	g := graph.New(graph.Options{SampleRate: sampleRate, Warnings: warns})
	h := build(t, g, track)
	g.Push(scheduler.Event{Kind: scheduler.SetParam, Track: track.ID(), Param: vusic.ParamRef{Param: "pan"}, Value: -3})
	render(g, 0, 16)
	if v, _ := g.Param(h, vusic.ParamRef{Param: "pan"}); v != -1 {
		t.Errorf("pan -3 should be held to -1, got %v", v)
	}
	if n := warns.Count(vusic.RangeViolation); n != 1 {
		t.Errorf("expected one RangeViolation, got %d", n)
	}
}

func TestEventsAreSampleAccurate(t *testing.T) {
	_, track := newTrack(t, map[string]float64{"waveform": vusic.Square})
	g := graph.New(graph.Options{SampleRate: sampleRate})
	build(t, g, track)
	g.Push(noteOn(track, 100.0/sampleRate, 69))
	buf := render(g, 0, 256)
	for i := 0; i < 100; i++ {
		if buf[i] != [2]float32{} {
			t.Fatalf("frame %d should be silent, got %v", i, buf[i])
		}
	}
	if buf[100][0] <= 0 {
		t.Errorf("the note should start at frame 100, got %v", buf[100])
	}
}

func TestVoicesAreReleased(t *testing.T) {
	_, track := newTrack(t, nil)
	g := graph.New(graph.Options{SampleRate: sampleRate})
	build(t, g, track)
	on := noteOn(track, 0, 60)
	g.Push(on)
	g.Push(scheduler.Event{Time: 0.1, Kind: scheduler.Stop, Track: track.ID(), Voice: on.Voice})
	buf := render(g, 0, sampleRate/10)
	if buf.Peak() == 0 {
		t.Fatalf("the note should be audible")
	}
	if g.Voices() != 1 {
		t.Errorf("expected one sounding voice, got %d", g.Voices())
	}
	render(g, 0.1, sampleRate/10)
	if g.Voices() != 0 {
		t.Errorf("the voice should be gone after its release, got %d voices", g.Voices())
	}
}

func TestStopAllCutsLongReleases(t *testing.T) {
	_, track := newTrack(t, map[string]float64{"release": 5})
	g := graph.New(graph.Options{SampleRate: sampleRate})
	build(t, g, track)
	g.Push(noteOn(track, 0, 60))
	render(g, 0, sampleRate/10)
	g.Push(scheduler.Event{Time: 0.1, Kind: scheduler.StopAll, Entity: 1})
	buf := render(g, 0.1, sampleRate/10)
	if buf[:64].Peak() == 0 {
		t.Errorf("the voice should fade out, not stop dead")
	}
	if p := buf[sampleRate/100:].Peak(); p != 0 {
		t.Errorf("the voice should be silent 10 ms after the stop all, peak %v", p)
	}
	if g.Voices() != 0 {
		t.Errorf("expected no voices after the stop all, got %d", g.Voices())
	}
}

func TestStopAllDiscardsQueuedEvents(t *testing.T) {
	_, track := newTrack(t, nil)
	g := graph.New(graph.Options{SampleRate: sampleRate})
	build(t, g, track)
	g.Push(noteOn(track, 0.5, 60))
	g.Push(scheduler.Event{Time: 0.1, Kind: scheduler.StopAll, Entity: 1})
	if g.Pending() != 1 {
		t.Fatalf("the queued start should have been discarded, %d operations pending", g.Pending())
	}
	if buf := render(g, 0, sampleRate); buf.Peak() != 0 {
		t.Errorf("nothing should sound after the stop all")
	}
}

func TestEffectRemovalIsClickFree(t *testing.T) {
	_, track := newTrack(t, nil)
	id, err := track.AddEffect("gain", map[string]float64{"gain": 0.25})
	if err != nil {
		t.Fatalf("AddEffect failed: %v", err)
	}
	g := graph.New(graph.Options{SampleRate: sampleRate})
	h := build(t, g, track)
	g.Push(noteOn(track, 0, 57))
	out := render(g, 0, sampleRate/2)
	if err := g.RemoveEffect(h, id, 0.5); err != nil {
		t.Fatalf("RemoveEffect failed: %v", err)
	}
	out = append(out, render(g, 0.5, sampleRate/2)...)
	var worst float32
	for i := 1; i < len(out); i++ {
		worst = max(worst, float32(math.Abs(float64(out[i][0]-out[i-1][0]))))
	}
	// a 220 Hz sine at 0.35 moves at most 0.011 per frame
	if worst > 0.03 {
		t.Errorf("largest step between frames is %v, expected a smooth crossfade", worst)
	}
	if p := out[len(out)-sampleRate/4:].Peak(); p < 0.33 || p > 0.36 {
		t.Errorf("after the removal the note should play at full level 0.35, peak %v", p)
	}
}

func TestSyncSplicesDocumentEdits(t *testing.T) {
	_, track := newTrack(t, nil)
	g := graph.New(graph.Options{SampleRate: sampleRate})
	h := build(t, g, track)
	id, err := track.AddEffect("gain", map[string]float64{"gain": 0})
	if err != nil {
		t.Fatalf("AddEffect failed: %v", err)
	}
	if got, err := g.Sync(track, 0); err != nil || got != h {
		t.Fatalf("Sync returned %v, %v", got, err)
	}
	g.Push(noteOn(track, 0, 60))
	render(g, 0, 1024)
	buf := render(g, 1024.0/sampleRate, 1024)
	if p := buf.Peak(); p != 0 {
		t.Errorf("the inserted zero gain should silence the track once faded in, peak %v", p)
	}
	if err := track.SetParam(vusic.ParamRef{Effect: id, Param: "gain"}, 1); err != nil {
		t.Fatalf("SetParam failed: %v", err)
	}
	g.Sync(track, 2048.0/sampleRate)
	render(g, 2048.0/sampleRate, 16)
	if v, _ := g.Param(h, vusic.ParamRef{Effect: id, Param: "gain"}); v != 1 {
		t.Errorf("document parameter edit was not applied, gain %v", v)
	}
}

func TestFaultingUnitIsSilenced(t *testing.T) {
	score, track := newTrack(t, nil)
	other, err := score.AddTrack("other", track.Snapshot().Instrument)
	if err != nil {
		t.Fatalf("AddTrack failed: %v", err)
	}
	warns := &vusic.WarningRecorder{}
	g := graph.New(graph.Options{SampleRate: sampleRate, Warnings: warns})
	build(t, g, track)
	build(t, g, other)
	nan := float32(math.NaN())
	bad := &vusic.Sample{Name: "bad", Gain: 1, Data: &vusic.SampleData{Channels: 1, SampleRate: sampleRate, Frames: []float32{nan, nan, nan, nan}}}
	g.Push(scheduler.Event{Kind: scheduler.Start, Track: track.ID(), Voice: scheduler.Voice{Entity: 1, Item: 1}, Sample: bad})
	g.Push(noteOn(other, 0, 60))
	buf := render(g, 0, 1024)
	if !finite(buf) {
		t.Fatalf("non-finite output reached the master bus")
	}
	if buf.Peak() == 0 {
		t.Errorf("the healthy track should keep playing")
	}
	if n := warns.Count(vusic.UnitFault); n != 1 {
		t.Errorf("expected one UnitFault warning, got %d", n)
	}
}

func TestNoiseIsSeeded(t *testing.T) {
	var outs [2]vusic.AudioBuffer
	for i := range outs {
		_, track := newTrack(t, map[string]float64{"waveform": vusic.Noise})
		g := graph.New(graph.Options{SampleRate: sampleRate, Seed: 42})
		build(t, g, track)
		g.Push(noteOn(track, 0, 60))
		outs[i] = render(g, 0, 512)
	}
	for i := range outs[0] {
		if outs[0][i] != outs[1][i] {
			t.Fatalf("renders with the same seed differ at frame %d", i)
		}
	}
}

func TestEffectsStayBounded(t *testing.T) {
	for _, kind := range vusic.EffectKinds() {
		t.Run(kind, func(t *testing.T) {
			u, err := graph.NewEffect(kind, sampleRate)
			if err != nil {
				t.Fatalf("NewEffect failed: %v", err)
			}
			for _, p := range u.Schema() {
				u.SetParameter(p.Name, p.Max)
			}
			buf := make(vusic.AudioBuffer, 4096)
			for i := range buf {
				v := float32(math.Sin(2 * math.Pi * 440 * float64(i) / sampleRate))
				buf[i] = [2]float32{v, v}
			}
			u.Process(buf)
			if !finite(buf) {
				t.Errorf("%s produced non-finite output", kind)
			}
		})
	}
}

func finite(buf vusic.AudioBuffer) bool {
	for _, f := range buf {
		for _, v := range f {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return false
			}
		}
	}
	return true
}
