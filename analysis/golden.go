package analysis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dawg/vusic"
)

// SaveOutputEnv is the environment variable that, when set to YES, makes
// CompareToFile write the rendered buffer as the new golden file instead of
// comparing against it.
const SaveOutputEnv = "VUSIC_TEST_SAVE_OUTPUT"

// Golden file analysis parameters.
const (
	GoldenFFTSize = 1024
	GoldenHop     = 64
)

// CompareToFile compares buf against the golden file at path, a raw stream of
// interleaved little-endian float32 frames, and fails the test if the
// spectral difference exceeds threshold.
func CompareToFile(t testing.TB, buf vusic.AudioBuffer, path string, threshold float64) {
	t.Helper()
	if os.Getenv(SaveOutputEnv) == "YES" {
		if err := WriteRaw(buf, path); err != nil {
			t.Fatalf("cannot save output: %v", err)
		}
		return
	}
	expected, err := ReadRaw(path)
	if err != nil {
		t.Fatalf("cannot read expected: %v", err)
	}
	diff, err := CompareBuffers(expected, buf, GoldenFFTSize, GoldenHop)
	if err != nil {
		t.Fatalf("cannot compare to %v: %v", path, err)
	}
	if diff > threshold {
		t.Errorf("spectral difference %v to %v exceeds threshold %v", diff, path, threshold)
	}
}

// ReadRaw reads a buffer saved with WriteRaw.
func ReadRaw(path string) (vusic.AudioBuffer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(b)%8 != 0 {
		return nil, errors.New("analysis: raw file is not a whole number of stereo float32 frames")
	}
	ret := make(vusic.AudioBuffer, len(b)/8)
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// WriteRaw saves buf as interleaved little-endian float32 frames, creating
// the directory if needed.
func WriteRaw(buf vusic.AudioBuffer, path string) error {
	b, err := buf.Raw(false)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
