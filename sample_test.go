package vusic_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dawg/vusic"
)

func testSample() *vusic.Sample {
	return &vusic.Sample{
		Name: "click",
		Gain: 1,
		Data: &vusic.SampleData{Channels: 2, SampleRate: 10, Frames: []float32{1, -1, 0.5, -0.5, 0, 0, 0, 0}},
	}
}

func TestSampleHandleResolves(t *testing.T) {
	h := vusic.NewSampleHandle("click.wav")
	if h.State() != vusic.Pending {
		t.Fatalf("a new handle should be pending")
	}
	if _, ok := h.Sample(); ok {
		t.Fatalf("a pending handle has no sample")
	}
	go h.Resolve(testSample())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	smp, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if smp.Name != "click" || h.State() != vusic.Ready {
		t.Errorf("unexpected sample %q in state %v", smp.Name, h.State())
	}
	if err := h.Fail(errors.New("late")); !errors.Is(err, vusic.ErrAlreadyResolved) {
		t.Errorf("a resolved handle cannot fail, got %v", err)
	}
}

func TestSampleHandleRejectsInvalidSamples(t *testing.T) {
	bad := testSample()
	bad.Data.Frames = bad.Data.Frames[:3]
	h := vusic.NewSampleHandle("broken.wav")
	if err := h.Resolve(bad); err == nil {
		t.Fatalf("an odd number of stereo frames should be rejected")
	}
	if h.State() != vusic.Failed {
		t.Errorf("an invalid sample should fail the handle, state %v", h.State())
	}
	if _, err := h.Wait(context.Background()); err == nil {
		t.Errorf("Wait should report the failure")
	}
}

func TestSampleWaitHonoursContext(t *testing.T) {
	h := vusic.NewSampleHandle("slow.wav")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSampleDuration(t *testing.T) {
	s := testSample()
	if d := s.Duration(); d != 0.4 {
		t.Errorf("duration %v, want 0.4", d)
	}
	s.TrimStart, s.TrimEnd = 0.1, 0.3
	if d := s.Duration(); d < 0.2-1e-12 || d > 0.2+1e-12 {
		t.Errorf("trimmed duration %v, want 0.2", d)
	}
	if f := s.Data.Frame(1); f != [2]float32{0.5, -0.5} {
		t.Errorf("unexpected frame %v", f)
	}
	if f := s.Data.Frame(4); f != [2]float32{} {
		t.Errorf("frames past the end should be silent, got %v", f)
	}
}

func TestSamplesCanBeAddedOnce(t *testing.T) {
	score, track := newScore(t)
	h, err := vusic.ReadySample(testSample())
	if err != nil {
		t.Fatalf("ReadySample failed: %v", err)
	}
	id, err := score.AddSample(h)
	if err != nil {
		t.Fatalf("AddSample failed: %v", err)
	}
	if _, err := score.AddSample(h); err == nil {
		t.Errorf("adding a handle twice should fail")
	}
	if _, err := track.PlaceSample(h, 1, 0); err != nil {
		t.Fatalf("PlaceSample failed: %v", err)
	}
	if err := score.RemoveSample(id); err == nil {
		t.Errorf("a placed sample should not be removable")
	}
}
