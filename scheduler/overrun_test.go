package scheduler

import (
	"testing"
	"time"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/transport"
)

func TestOverrunIsReported(t *testing.T) {
	score, err := vusic.NewScore("overrun", 120)
	if err != nil {
		t.Fatalf("NewScore failed: %v", err)
	}
	tr, err := transport.New(&transport.ManualClock{}, score.Tempo())
	if err != nil {
		t.Fatalf("transport.New failed: %v", err)
	}
	warns := &vusic.WarningRecorder{}
	var events Recorder
	s := NewSession(score, tr, &events, Options{Budget: time.Millisecond, Warnings: warns})
	clock := time.Unix(0, 0)
	s.now = func() time.Time {
		clock = clock.Add(2 * time.Millisecond)
		return clock
	}
	tr.Start(0)
	rep := s.Tick(0, 0.01)
	if !rep.Overrun || rep.Elapsed != 2*time.Millisecond {
		t.Errorf("expected an overrun of 2 ms, got %+v", rep)
	}
	if n := warns.Count(vusic.SchedulingOverrun); n != 1 {
		t.Errorf("expected one SchedulingOverrun warning, got %d", n)
	}
	s.opts.Budget = 0
	if rep := s.Tick(0.01, 0.02); rep.Overrun {
		t.Errorf("a zero budget should disable the check")
	}
}
