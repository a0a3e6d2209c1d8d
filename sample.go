package vusic

import (
	"context"
	"fmt"
	"sync/atomic"
)

type (
	// SampleData is a decoded, immutable audio buffer: interleaved float32
	// frames in [-1, 1].
	SampleData struct {
		Channels   int
		SampleRate int
		Frames     []float32
	}

	// Sample wraps decoded audio with trim and gain metadata. A Sample is
	// immutable once loaded; it is shared by every placement and never
	// mutated by playback.
	Sample struct {
		Name      string
		Data      *SampleData
		Gain      float64
		TrimStart Seconds
		TrimEnd   Seconds // 0 means the end of the data
	}

	// SampleHandle is a future for a Sample that may still be loading. It
	// moves exactly once from Pending to either Ready or Failed. Only Ready
	// handles are accepted by the scheduler.
	SampleHandle struct {
		id      SampleID
		source  string
		claimed atomic.Bool
		state   atomic.Int32
		sample  atomic.Pointer[Sample]
		err     atomic.Pointer[error]
		done    chan struct{}
	}

	SampleID uint64

	LoadState int32
)

const (
	Pending LoadState = iota
	Ready
	Failed
)

func (s LoadState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("LoadState(%d)", int32(s))
}

// Len returns the number of frames in the buffer.
func (d *SampleData) Len() int {
	if d == nil || d.Channels <= 0 {
		return 0
	}
	return len(d.Frames) / d.Channels
}

// Duration returns the length of the buffer in seconds.
func (d *SampleData) Duration() Seconds {
	if d == nil || d.SampleRate <= 0 {
		return 0
	}
	return Seconds(float64(d.Len()) / float64(d.SampleRate))
}

// Frame returns the stereo frame at index i; mono data is duplicated to both
// channels and frames outside the buffer are silent.
func (d *SampleData) Frame(i int) [2]float32 {
	if i < 0 || i >= d.Len() {
		return [2]float32{}
	}
	base := i * d.Channels
	if d.Channels == 1 {
		v := d.Frames[base]
		return [2]float32{v, v}
	}
	return [2]float32{d.Frames[base], d.Frames[base+1]}
}

// Duration returns the playable length of the sample after trimming.
func (s *Sample) Duration() Seconds {
	end := s.TrimEnd
	if full := s.Data.Duration(); end <= 0 || end > full {
		end = full
	}
	if end <= s.TrimStart {
		return 0
	}
	return end - s.TrimStart
}

func (s *Sample) validate(op string) error {
	switch {
	case s.Data == nil || s.Data.Channels <= 0 || s.Data.SampleRate <= 0:
		return invalid(op, "data", "sample has no decoded audio")
	case len(s.Data.Frames)%s.Data.Channels != 0:
		return invalid(op, "data", "frame count is not a multiple of the channel count")
	case !finite(s.Gain) || s.Gain < 0:
		return invalid(op, "gain", "must be non-negative, got %v", s.Gain)
	case s.TrimStart < 0 || s.TrimEnd < 0:
		return invalid(op, "trim", "must be non-negative")
	}
	return nil
}

// NewSampleHandle returns a Pending handle for a sample being loaded from
// source.
func NewSampleHandle(source string) *SampleHandle {
	return &SampleHandle{source: source, done: make(chan struct{})}
}

// ReadySample returns a handle that is already resolved to s.
func ReadySample(s *Sample) (*SampleHandle, error) {
	h := NewSampleHandle(s.Name)
	if err := h.Resolve(s); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *SampleHandle) ID() SampleID { return h.id }

// Source is the name the sample was loaded from.
func (h *SampleHandle) Source() string { return h.source }

func (h *SampleHandle) State() LoadState { return LoadState(h.state.Load()) }

// Done is closed once the handle is Ready or Failed.
func (h *SampleHandle) Done() <-chan struct{} { return h.done }

// Sample returns the loaded sample, or false if the handle is not Ready.
func (h *SampleHandle) Sample() (*Sample, bool) {
	if h.State() != Ready {
		return nil, false
	}
	return h.sample.Load(), true
}

// Err returns the load failure, if the handle Failed.
func (h *SampleHandle) Err() error {
	if p := h.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Resolve makes the handle Ready. The sample must be fully decoded; a
// handle never becomes partially playable.
func (h *SampleHandle) Resolve(s *Sample) error {
	if err := s.validate("SampleHandle.Resolve"); err != nil {
		h.Fail(err)
		return err
	}
	if !h.claimed.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	h.sample.Store(s)
	h.state.Store(int32(Ready))
	close(h.done)
	return nil
}

// Fail marks the handle Failed with the given cause.
func (h *SampleHandle) Fail(cause error) error {
	if !h.claimed.CompareAndSwap(false, true) {
		return ErrAlreadyResolved
	}
	h.err.Store(&cause)
	h.state.Store(int32(Failed))
	close(h.done)
	return nil
}

// Wait blocks until the handle is resolved or ctx is done.
func (h *SampleHandle) Wait(ctx context.Context) (*Sample, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s, ok := h.Sample(); ok {
		return s, nil
	}
	return nil, fmt.Errorf("loading %v: %w", h.source, h.Err())
}
