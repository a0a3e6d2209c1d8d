// Package oto plays rendered audio on the default output device.
package oto

import (
	"fmt"
	"io"
	"time"

	"github.com/dawg/vusic"
	"github.com/ebitengine/oto/v3"
)

type (
	// Context is an open output device. Only one may exist per process.
	Context struct {
		ctx        *oto.Context
		sampleRate int
	}

	// Output pushes periods to a player. WriteAudio blocks while the
	// device buffer is full, which paces a render loop to real time.
	Output struct {
		pipe      *io.PipeWriter
		player    *oto.Player
		tmpBuffer []byte
	}
)

// NewContext opens the output device for stereo float32 audio. bufferSize
// is the device latency; zero lets the driver choose.
func NewContext(sampleRate int, bufferSize time.Duration) (*Context, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   bufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot create oto context: %w", err)
	}
	<-ready
	return &Context{ctx: ctx, sampleRate: sampleRate}, nil
}

func (c *Context) SampleRate() int { return c.sampleRate }

// Play starts a player pulling interleaved float32 LE frames from r, such
// as the reader of a render engine. The player stops when r returns an
// error.
func (c *Context) Play(r io.Reader) *oto.Player {
	p := c.ctx.NewPlayer(r)
	p.Play()
	return p
}

// Output returns a push sink backed by a new player.
func (c *Context) Output() vusic.AudioSink {
	pr, pw := io.Pipe()
	return &Output{pipe: pw, player: c.Play(pr)}
}

// Close suspends the device. oto cannot release a context, so a closed
// Context must not be reopened in the same process.
func (c *Context) Close() error {
	if err := c.ctx.Suspend(); err != nil {
		return fmt.Errorf("cannot suspend oto context: %w", err)
	}
	return nil
}

func (o *Output) WriteAudio(buffer vusic.AudioBuffer) error {
	// reuse the capacity of the previous period
	o.tmpBuffer = appendFloat32LE(o.tmpBuffer[:0], buffer)
	if _, err := o.pipe.Write(o.tmpBuffer); err != nil {
		return fmt.Errorf("cannot write to player: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	o.pipe.Close()
	if err := o.player.Close(); err != nil {
		return fmt.Errorf("cannot close oto player: %w", err)
	}
	return nil
}

var _ vusic.AudioContext = (*Context)(nil)
