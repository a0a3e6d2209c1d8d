package loader

import "errors"

var (
	ErrUnknownFormat = errors.New("unknown sample format")
	ErrNotWavFile    = errors.New("not a WAV file")
	ErrEmptySample   = errors.New("sample has no frames")
)
