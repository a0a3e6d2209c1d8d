package oto

import (
	"encoding/binary"
	"math"

	"github.com/dawg/vusic"
)

// appendFloat32LE appends the frames of buf to dst as interleaved 32-bit
// little-endian floats, the sample format the players are opened with.
func appendFloat32LE(dst []byte, buf vusic.AudioBuffer) []byte {
	for _, f := range buf {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f[0]))
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(f[1]))
	}
	return dst
}
