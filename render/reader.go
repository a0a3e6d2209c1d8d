package render

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/dawg/vusic"
)

// reader adapts an Engine to a pull based output: every Read renders as many
// periods as needed and returns them as interleaved little-endian float32.
type reader struct {
	e       *Engine
	period  vusic.AudioBuffer
	pending []byte
	bytes   []byte
}

// Reader returns the live output of the engine. The goroutine calling Read
// becomes the real-time lane.
func (e *Engine) Reader() io.Reader {
	return &reader{
		e:      e,
		period: make(vusic.AudioBuffer, e.cfg.Period),
		bytes:  make([]byte, e.cfg.Period*8),
	}
}

func (r *reader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			r.render()
		}
		c := copy(p[n:], r.pending)
		r.pending = r.pending[c:]
		n += c
	}
	return n, nil
}

func (r *reader) render() {
	r.period.Fill()
	r.e.Process(r.period)
	for i, f := range r.period {
		binary.LittleEndian.PutUint32(r.bytes[i*8:], math.Float32bits(f[0]))
		binary.LittleEndian.PutUint32(r.bytes[i*8+4:], math.Float32bits(f[1]))
	}
	r.pending = r.bytes
}
