// Package analysis compares rendered audio. It is used by tests and tools,
// never by live playback.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/dawg/vusic"
	"github.com/viterin/vek/vek32"
)

type (
	// Spectrogram is a sequence of magnitude spectra, one per segment of a
	// buffer.
	Spectrogram [][]float32

	// analyzer holds the tables and scratch buffers of one FFT size.
	analyzer struct {
		window     []float32
		bitPerm    []int
		tmpC       []complex128
		tmp1, tmp2 []float32
	}
)

var (
	ErrEmpty     = errors.New("analysis: spectrogram has no segments")
	ErrFFTSize   = errors.New("analysis: fft size must be a power of two")
	ErrMismatch  = errors.New("analysis: spectrograms have different resolutions")
	ErrThreshold = errors.New("analysis: difference above threshold")
)

// NewSpectrogram segments the mono mix of buf into windows of fftSize frames,
// starting every hop frames, and returns the magnitude spectrum of each
// window. Each segment is weighted with a Blackman-Harris window. A segment
// must be followed by at least one more frame of the buffer, so a buffer of
// fftSize frames or less yields an empty spectrogram.
func NewSpectrogram(buf vusic.AudioBuffer, fftSize, hop int) (Spectrogram, error) {
	if fftSize < 2 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrFFTSize, fftSize)
	}
	if hop <= 0 {
		return nil, fmt.Errorf("analysis: hop must be positive, got %d", hop)
	}
	mono := make([]float32, len(buf))
	right := make([]float32, len(buf))
	for i, f := range buf {
		mono[i], right[i] = clean(f[0]), clean(f[1])
	}
	vek32.Add_Inplace(mono, right)
	vek32.MulNumber_Inplace(mono, 0.5)
	a := newAnalyzer(fftSize)
	var ret Spectrogram
	for i := 0; i < len(mono)-fftSize; i += hop {
		ret = append(ret, a.spectrum(mono[i:i+fftSize]))
	}
	return ret, nil
}

func newAnalyzer(n int) *analyzer {
	a := &analyzer{
		window:  make([]float32, n),
		bitPerm: make([]int, n),
		tmpC:    make([]complex128, n),
		tmp1:    make([]float32, n),
		tmp2:    make([]float32, n),
	}
	for i := range n {
		// 4-term Blackman-Harris
		x := 2 * math.Pi * float64(i) / float64(n-1)
		a.window[i] = float32(0.35875 - 0.48829*math.Cos(x) + 0.14128*math.Cos(2*x) - 0.01168*math.Cos(3*x))
		a.bitPerm[i] = i
	}
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a.bitPerm[i], a.bitPerm[j] = a.bitPerm[j], a.bitPerm[i]
		}
	}
	return a
}

// spectrum returns the magnitudes of bins 0 .. n/2-1 of a segment, scaled so
// that a full scale sine has a magnitude near 1 in its bin.
func (a *analyzer) spectrum(segment []float32) []float32 {
	copy(a.tmp1, segment)
	vek32.Mul_Inplace(a.tmp1, a.window)
	vek32.Gather_Into(a.tmp2, a.tmp1, a.bitPerm)
	c := a.tmpC
	for i := range c {
		c[i] = complex(float64(a.tmp2[i]), 0)
	}
	n := len(c)
	for size := 2; size <= n; size <<= 1 {
		ang := 2 * math.Pi / float64(size)
		wlen := complex(math.Cos(ang), math.Sin(ang))
		for i := 0; i < n; i += size {
			w := complex(1, 0)
			for j := 0; j < size/2; j++ {
				u := c[i+j]
				v := c[i+j+size/2] * w
				c[i+j] = u + v
				c[i+j+size/2] = u - v
				w *= wlen
			}
		}
	}
	ret := make([]float32, n/2)
	for i := range ret {
		ret[i] = float32(cmplx.Abs(c[i]))
	}
	vek32.MulNumber_Inplace(ret, 2/float32(n))
	return ret
}

// Compare returns the root-mean-square difference of two spectrograms over
// their matching segments. The longer spectrogram is truncated to the
// shorter one.
func Compare(a, b Spectrogram) (float64, error) {
	n := min(len(a), len(b))
	if n == 0 {
		return 0, ErrEmpty
	}
	var sum float64
	for i := range n {
		if len(a[i]) != len(b[i]) {
			return 0, fmt.Errorf("%w: %d and %d bins", ErrMismatch, len(a[i]), len(b[i]))
		}
		d := vek32.Sub(a[i], b[i])
		sum += float64(vek32.Dot(d, d))
	}
	return math.Sqrt(sum / float64(n)), nil
}

// CompareBuffers computes the spectrograms of two buffers and compares them.
func CompareBuffers(a, b vusic.AudioBuffer, fftSize, hop int) (float64, error) {
	sa, err := NewSpectrogram(a, fftSize, hop)
	if err != nil {
		return 0, err
	}
	sb, err := NewSpectrogram(b, fftSize, hop)
	if err != nil {
		return 0, err
	}
	return Compare(sa, sb)
}

func clean(v float32) float32 {
	if math.IsNaN(float64(v)) {
		return 0
	}
	return min(max(v, -1), 1)
}
