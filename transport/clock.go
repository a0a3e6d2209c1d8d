package transport

import (
	"math"
	"sync/atomic"

	"github.com/dawg/vusic"
)

// Clock is the source of absolute time. Render backends advance a
// SampleClock as they render, so "now" is the number of frames rendered, not
// the wall clock.
type Clock interface {
	Now() vusic.Seconds
}

// SampleClock counts rendered frames at a fixed sample rate.
type SampleClock struct {
	rate   int
	frames atomic.Int64
}

func NewSampleClock(sampleRate int) *SampleClock {
	return &SampleClock{rate: sampleRate}
}

func (c *SampleClock) Now() vusic.Seconds {
	return vusic.Seconds(float64(c.frames.Load()) / float64(c.rate))
}

// Frames returns the number of frames rendered so far.
func (c *SampleClock) Frames() int64 { return c.frames.Load() }

func (c *SampleClock) SampleRate() int { return c.rate }

// Advance moves the clock forward by n frames.
func (c *SampleClock) Advance(n int) { c.frames.Add(int64(n)) }

// ManualClock is a Clock set explicitly, for tests and hosts that own the
// timeline.
type ManualClock struct {
	bits atomic.Uint64
}

func (c *ManualClock) Now() vusic.Seconds {
	return vusic.Seconds(math.Float64frombits(c.bits.Load()))
}

func (c *ManualClock) Set(t vusic.Seconds) {
	c.bits.Store(math.Float64bits(float64(t)))
}

func (c *ManualClock) Advance(d vusic.Seconds) {
	c.Set(c.Now() + d)
}
