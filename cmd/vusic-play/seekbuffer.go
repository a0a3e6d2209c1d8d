package main

import (
	"errors"
	"io"
)

// seekBuffer is an in-memory io.WriteSeeker, so WAV files whose header is
// patched after the data can go to standard output.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.data))
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if base+offset < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	b.pos = int(base + offset)
	return int64(b.pos), nil
}
