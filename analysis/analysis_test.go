package analysis_test

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/dawg/vusic"
	"github.com/dawg/vusic/analysis"
)

func sine(freq, amp float64, frames int) vusic.AudioBuffer {
	ret := make(vusic.AudioBuffer, frames)
	for i := range ret {
		v := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/44100))
		ret[i] = [2]float32{v, v}
	}
	return ret
}

func TestSpectrogramFindsTheTone(t *testing.T) {
	const bin = 20
	s, err := analysis.NewSpectrogram(sine(bin*44100.0/1024, 1, 4096), 1024, 512)
	if err != nil {
		t.Fatalf("NewSpectrogram failed: %v", err)
	}
	if len(s) != 6 {
		t.Fatalf("expected 6 segments, got %d", len(s))
	}
	for i, col := range s {
		if len(col) != 512 {
			t.Fatalf("expected 512 bins, got %d", len(col))
		}
		best := 0
		for j, v := range col {
			if v > col[best] {
				best = j
			}
		}
		if best != bin {
			t.Errorf("segment %d: loudest bin is %d, expected %d", i, best, bin)
		}
	}
}

func TestSpectrogramArguments(t *testing.T) {
	if _, err := analysis.NewSpectrogram(sine(440, 1, 100), 1000, 10); !errors.Is(err, analysis.ErrFFTSize) {
		t.Errorf("expected ErrFFTSize, got %v", err)
	}
	if _, err := analysis.NewSpectrogram(sine(440, 1, 100), 64, 0); err == nil {
		t.Errorf("expected an error for a zero hop")
	}
	s, err := analysis.NewSpectrogram(sine(440, 1, 64), 64, 16)
	if err != nil {
		t.Fatalf("NewSpectrogram failed: %v", err)
	}
	if len(s) != 0 {
		t.Errorf("a buffer no longer than the window should have no segments, got %d", len(s))
	}
	if _, err := analysis.Compare(s, s); !errors.Is(err, analysis.ErrEmpty) {
		t.Errorf("comparing empty spectrograms should fail with ErrEmpty, got %v", err)
	}
}

func TestCompare(t *testing.T) {
	a := sine(440, 0.5, 8192)
	if d, err := analysis.CompareBuffers(a, a, 1024, 64); err != nil || d != 0 {
		t.Errorf("a buffer compared to itself: %v, %v", d, err)
	}
	if d, err := analysis.CompareBuffers(a, a[:4096], 1024, 64); err != nil || d != 0 {
		t.Errorf("the longer buffer should be truncated: %v, %v", d, err)
	}
	d1, _ := analysis.CompareBuffers(a, sine(450, 0.5, 8192), 1024, 64)
	d2, _ := analysis.CompareBuffers(a, sine(2000, 0.5, 8192), 1024, 64)
	if !(d1 > 0 && d2 > d1) {
		t.Errorf("a distant tone should differ more than a close one: %v, %v", d1, d2)
	}
}

func TestMeasure(t *testing.T) {
	l := analysis.Measure(sine(441, 0.5, 44100))
	for c := range 2 {
		if math.Abs(l.Peak[c]-(-6.02)) > 0.05 {
			t.Errorf("channel %d peak %v dB, expected -6.02", c, l.Peak[c])
		}
		if math.Abs(l.RMS[c]-(-9.03)) > 0.05 {
			t.Errorf("channel %d RMS %v dB, expected -9.03", c, l.RMS[c])
		}
	}
	if l := analysis.Measure(make(vusic.AudioBuffer, 16)); !math.IsInf(l.Peak[0], -1) {
		t.Errorf("silence should measure -Inf, got %v", l.Peak[0])
	}
}

func TestGoldenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "golden", "tone.raw")
	buf := sine(440, 0.5, 4096)
	t.Setenv(analysis.SaveOutputEnv, "YES")
	analysis.CompareToFile(t, buf, path, 0)
	t.Setenv(analysis.SaveOutputEnv, "")
	analysis.CompareToFile(t, buf, path, 1e-6)
	read, err := analysis.ReadRaw(path)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if len(read) != len(buf) || read[100] != buf[100] {
		t.Errorf("the saved buffer does not match")
	}
}
