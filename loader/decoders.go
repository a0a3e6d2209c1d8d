package loader

import (
	"bytes"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"

	"github.com/dawg/vusic"
)

type (
	// WavDecoder decodes integer PCM .wav files of any bit depth.
	WavDecoder struct{}

	// Mp3Decoder decodes MPEG-1/2 layer III. The output is always stereo.
	Mp3Decoder struct{}

	// VorbisDecoder decodes Ogg Vorbis.
	VorbisDecoder struct{}
)

func (WavDecoder) Decode(r io.Reader) (*vusic.SampleData, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(b))
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return fromIntBuffer(buf, int(dec.BitDepth))
}

func fromIntBuffer(buf *goaudio.IntBuffer, bitDepth int) (*vusic.SampleData, error) {
	if buf.Format == nil || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing format", ErrNotWavFile)
	}
	if buf.SourceBitDepth > 0 {
		bitDepth = buf.SourceBitDepth
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: bit depth %d", ErrNotWavFile, bitDepth)
	}
	scale := 1 / float32(int64(1)<<(bitDepth-1))
	frames := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		if bitDepth == 8 {
			// 8-bit wav is unsigned
			v -= 128
		}
		frames[i] = float32(v) * scale
	}
	return &vusic.SampleData{Channels: buf.Format.NumChannels, SampleRate: buf.Format.SampleRate, Frames: frames}, nil
}

func (Mp3Decoder) Decode(r io.Reader) (*vusic.SampleData, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	b, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	// 16-bit little-endian, stereo interleaved
	frames := make([]float32, len(b)/2)
	for i := range frames {
		frames[i] = float32(int16(uint16(b[2*i])|uint16(b[2*i+1])<<8)) / 32768
	}
	return &vusic.SampleData{Channels: 2, SampleRate: dec.SampleRate(), Frames: frames}, nil
}

func (VorbisDecoder) Decode(r io.Reader) (*vusic.SampleData, error) {
	frames, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return &vusic.SampleData{Channels: format.Channels, SampleRate: format.SampleRate, Frames: frames}, nil
}
