package transport_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/transport"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func TestTempoRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 50; i++ {
		changes := []vusic.TempoChange{{Beat: 0, BPM: 20 + rng.Float64()*280}}
		beat := vusic.Beats(0)
		for j := rng.IntN(8); j > 0; j-- {
			beat += vusic.Beats(0.25 + rng.Float64()*16)
			changes = append(changes, vusic.TempoChange{Beat: beat, BPM: 20 + rng.Float64()*280})
		}
		m, err := transport.NewTempoMap(changes)
		if err != nil {
			t.Fatalf("NewTempoMap failed: %v", err)
		}
		for j := 0; j < 100; j++ {
			p := vusic.Beats(rng.Float64() * float64(beat+32))
			if got := m.Beats(m.Seconds(p)); !near(float64(got), float64(p)) {
				t.Fatalf("round trip of %v gave %v (tempo %v)", p, got, changes)
			}
		}
	}
}

func TestTempoIsPiecewise(t *testing.T) {
	m, err := transport.NewTempoMap([]vusic.TempoChange{{Beat: 0, BPM: 120}, {Beat: 4, BPM: 60}})
	if err != nil {
		t.Fatalf("NewTempoMap failed: %v", err)
	}
	for _, c := range []struct {
		beat vusic.Beats
		sec  vusic.Seconds
	}{{0, 0}, {1, 0.5}, {4, 2}, {5, 3}, {8, 6}} {
		if got := m.Seconds(c.beat); !near(float64(got), float64(c.sec)) {
			t.Errorf("Seconds(%v) = %v, expected %v", c.beat, got, c.sec)
		}
	}
	if bpm := m.BPM(4.5); bpm != 60 {
		t.Errorf("BPM(4.5) = %v, expected 60", bpm)
	}
}

func TestTempoMapRejectsInvalidTimelines(t *testing.T) {
	for name, changes := range map[string][]vusic.TempoChange{
		"empty":          nil,
		"late start":     {{Beat: 1, BPM: 120}},
		"zero bpm":       {{Beat: 0, BPM: 0}},
		"not increasing": {{Beat: 0, BPM: 120}, {Beat: 0, BPM: 90}},
	} {
		if _, err := transport.NewTempoMap(changes); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func newTransport(t *testing.T, bpm float64) (*transport.Transport, *transport.ManualClock) {
	t.Helper()
	clock := &transport.ManualClock{}
	tr, err := transport.New(clock, []vusic.TempoChange{{Beat: 0, BPM: bpm}})
	if err != nil {
		t.Fatalf("transport.New failed: %v", err)
	}
	return tr, clock
}

func TestStateMachine(t *testing.T) {
	tr, clock := newTransport(t, 120)
	if tr.State() != transport.Stopped {
		t.Fatalf("new transport should be stopped")
	}
	epoch := tr.Epoch()
	if err := tr.Start(2); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if tr.Epoch() == epoch {
		t.Errorf("Start should change the epoch")
	}
	clock.Advance(1)
	if got := tr.Position(); !near(float64(got), 4) {
		t.Errorf("position after 1 s at 120 BPM = %v, expected 4", got)
	}
	tr.Pause()
	clock.Advance(10)
	if got := tr.Position(); !near(float64(got), 4) {
		t.Errorf("paused position moved to %v", got)
	}
	if err := tr.Seek(8); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if tr.State() != transport.Paused {
		t.Errorf("Seek changed the state to %v", tr.State())
	}
	if err := tr.Resume(); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	clock.Advance(0.5)
	if got := tr.Position(); !near(float64(got), 9) {
		t.Errorf("position after resume = %v, expected 9", got)
	}
	tr.Stop()
	if tr.State() != transport.Stopped || tr.Position() != 0 {
		t.Errorf("Stop should rewind, got %v at %v", tr.State(), tr.Position())
	}
	if err := tr.Seek(-1); err == nil {
		t.Errorf("seeking to a negative position should fail")
	}
}

func TestSpansWithoutLoop(t *testing.T) {
	tr, clock := newTransport(t, 120)
	clock.Set(10)
	tr.Start(0)
	spans := tr.AppendSpans(nil, 10, 10.5)
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %v", spans)
	}
	s := spans[0]
	if s.From != 0 || !near(float64(s.To), 1) || !s.Fresh || s.Iteration != 0 {
		t.Errorf("unexpected span %+v", s)
	}
	if got := s.Clock(1); !near(float64(got), 10.5) {
		t.Errorf("beat 1 plays at %v, expected 10.5", got)
	}
	next := tr.AppendSpans(nil, 10.5, 11)
	if len(next) != 1 || next[0].Fresh || next[0].From != s.To {
		t.Errorf("consecutive windows should continue without a jump: %+v", next)
	}
	if got := tr.AppendSpans(nil, 9, 10); len(got) != 0 {
		t.Errorf("windows before the start should be empty, got %v", got)
	}
}

func TestSpansAcrossLoopWrap(t *testing.T) {
	tr, _ := newTransport(t, 120)
	if err := tr.SetLoop(0, 4, true); err != nil {
		t.Fatalf("SetLoop failed: %v", err)
	}
	tr.Start(3)
	// beat 3 -> 4 takes 0.5 s, then the loop [0, 4) takes 2 s per iteration
	spans := tr.AppendSpans(nil, 0, 3)
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %+v", spans)
	}
	expected := []struct {
		from, to  vusic.Beats
		origin    vusic.Seconds
		iteration int
	}{{3, 4, -1.5}, {0, 4, 0.5}, {0, 1, 2.5}}
	for i, e := range expected {
		s := spans[i]
		if !near(float64(s.From), float64(e.from)) || !near(float64(s.To), float64(e.to)) ||
			!near(float64(s.Origin), float64(e.origin)) || s.Iteration != e.iteration || !s.Fresh {
			t.Errorf("span %d = %+v, expected %+v", i, s, e)
		}
		if s.Cut != 4 {
			t.Errorf("span %d should be cut at the loop end, got %v", i, s.Cut)
		}
	}
	if got := tr.PositionAt(2.75); !near(float64(got), 0.5) {
		t.Errorf("position at 2.75 s = %v, expected 0.5", got)
	}
}

func TestSpansInsideLaterIteration(t *testing.T) {
	tr, _ := newTransport(t, 120)
	tr.SetLoop(0, 4, true)
	tr.Start(0)
	spans := tr.AppendSpans(nil, 4.5, 5)
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %+v", spans)
	}
	s := spans[0]
	if s.Iteration != 2 || s.Fresh || !near(float64(s.From), 1) || !near(float64(s.To), 2) {
		t.Errorf("unexpected span %+v", s)
	}
}

func TestSetBPMKeepsPlayhead(t *testing.T) {
	tr, clock := newTransport(t, 120)
	tr.Start(0)
	clock.Set(1)
	if err := tr.SetBPM(60, 2); err != nil {
		t.Fatalf("SetBPM failed: %v", err)
	}
	if got := tr.Position(); !near(float64(got), 2) {
		t.Fatalf("SetBPM moved the playhead to %v", got)
	}
	clock.Set(2)
	if got := tr.Position(); !near(float64(got), 3) {
		t.Errorf("position after 1 s at 60 BPM = %v, expected 3", got)
	}
	if got := tr.MusicalToAbsolute(3); !near(float64(got), 2) {
		t.Errorf("MusicalToAbsolute(3) = %v, expected 2", got)
	}
	if err := tr.SetBPM(-1, 0); err == nil {
		t.Errorf("negative bpm should be rejected")
	}
}

func TestStoppedTransportHasNoSpans(t *testing.T) {
	tr, _ := newTransport(t, 120)
	if got := tr.AppendSpans(nil, 0, 1); len(got) != 0 {
		t.Errorf("stopped transport produced spans %v", got)
	}
}

func TestSampleClock(t *testing.T) {
	c := transport.NewSampleClock(48000)
	c.Advance(24000)
	if c.Now() != 0.5 || c.Frames() != 24000 {
		t.Errorf("unexpected clock %v s, %v frames", c.Now(), c.Frames())
	}
}
