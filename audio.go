package vusic

type (
	// AudioBuffer is a buffer of stereo audio frames.
	AudioBuffer [][2]float32

	// AudioSink receives rendered periods, e.g. a hardware output or a file.
	AudioSink interface {
		WriteAudio(buffer AudioBuffer) error
		Close() error
	}

	AudioContext interface {
		Output() AudioSink
		Close() error
	}
)

// Fill sets every frame of the buffer to silence.
func (b AudioBuffer) Fill() {
	clear(b)
}

// Interleaved appends the frames as L, R, L, R... to dst.
func (b AudioBuffer) Interleaved(dst []float32) []float32 {
	for _, f := range b {
		dst = append(dst, f[0], f[1])
	}
	return dst
}

// Peak returns the largest absolute sample value in the buffer.
func (b AudioBuffer) Peak() float32 {
	var p float32
	for _, f := range b {
		p = max(p, f[0], -f[0], f[1], -f[1])
	}
	return p
}
