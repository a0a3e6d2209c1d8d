package vusic

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Raw returns the buffer as interleaved little-endian samples, either float32
// or, if pcm16, signed 16-bit integers.
func (b AudioBuffer) Raw(pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	var err error
	if pcm16 {
		err = binary.Write(buf, binary.LittleEndian, toPCM16(b))
	} else {
		err = binary.Write(buf, binary.LittleEndian, b.Interleaved(make([]float32, 0, len(b)*2)))
	}
	if err != nil {
		return nil, fmt.Errorf("Raw failed: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteWav encodes the buffer as a stereo PCM .wav file with the given bit
// depth (16 or 24). Samples outside [-1, 1] are clipped.
func (b AudioBuffer) WriteWav(w io.WriteSeeker, sampleRate, bitDepth int) error {
	if bitDepth != 16 && bitDepth != 24 {
		return fmt.Errorf("WriteWav: unsupported bit depth %d", bitDepth)
	}
	scale := float64(int(1)<<(bitDepth-1) - 1)
	intBuf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           make([]int, 0, len(b)*2),
		SourceBitDepth: bitDepth,
	}
	for _, f := range b {
		for _, v := range f {
			intBuf.Data = append(intBuf.Data, int(math.Round(clip(float64(v))*scale)))
		}
	}
	enc := wav.NewEncoder(w, sampleRate, bitDepth, 2, 1)
	if err := enc.Write(intBuf); err != nil {
		return fmt.Errorf("WriteWav failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("WriteWav failed: %w", err)
	}
	return nil
}

func toPCM16(b AudioBuffer) []int16 {
	ret := make([]int16, 0, len(b)*2)
	for _, f := range b {
		for _, v := range f {
			ret = append(ret, int16(math.Round(clip(float64(v))*math.MaxInt16)))
		}
	}
	return ret
}

func clip(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return min(max(v, -1), 1)
}
