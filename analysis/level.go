package analysis

import (
	"math"

	"github.com/dawg/vusic"
	"github.com/viterin/vek/vek32"
)

// Levels are the peak and RMS levels of the two channels of a buffer, in
// decibels relative to full scale. Silence is -Inf.
type Levels struct {
	Peak [2]float64
	RMS  [2]float64
}

// Meter measures the levels of buffers, reusing its scratch space.
type Meter struct {
	planar [2][]float32
}

// Measure returns the levels of buf.
func (m *Meter) Measure(buf vusic.AudioBuffer) Levels {
	var ret Levels
	if len(buf) == 0 {
		for c := range 2 {
			ret.Peak[c], ret.RMS[c] = math.Inf(-1), math.Inf(-1)
		}
		return ret
	}
	for c := range 2 {
		m.planar[c] = m.planar[c][:0]
		for _, f := range buf {
			m.planar[c] = append(m.planar[c], clean(f[c]))
		}
		x := m.planar[c]
		peak := max(vek32.Max(x), -vek32.Min(x))
		power := vek32.Dot(x, x) / float32(len(x))
		ret.Peak[c] = vusic.GainToDB(float64(peak))
		ret.RMS[c] = vusic.GainToDB(math.Sqrt(float64(power)))
	}
	return ret
}

// Measure returns the levels of buf.
func Measure(buf vusic.AudioBuffer) Levels {
	var m Meter
	return m.Measure(buf)
}
