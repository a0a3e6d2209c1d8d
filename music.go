package vusic

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type (
	// Beats is a position or length in musical time, in quarter-note beats.
	Beats float64

	// Seconds is a position or length in absolute (render clock) time.
	Seconds float64
)

// A4 is the concert pitch all note frequencies are derived from.
const A4 = 440.0

// Mtof converts a MIDI note number to a frequency in Hz. Fractional note
// numbers are allowed.
func Mtof(note float64) float64 {
	return A4 * math.Pow(2, (note-69)/12)
}

// Ftom converts a frequency in Hz to a (fractional) MIDI note number.
func Ftom(freq float64) float64 {
	return 69 + 12*math.Log2(freq/A4)
}

// GainToDB converts a linear gain factor to decibels.
func GainToDB(gain float64) float64 {
	return 20 * math.Log10(gain)
}

// DBToGain converts decibels to a linear gain factor.
func DBToGain(db float64) float64 {
	return math.Pow(10, db/20)
}

var noteRegexp = regexp.MustCompile(`^([a-gA-G](?:bb|b|#|x)?)(-?[0-9]+)$`)

var noteToScaleIndex = map[string]int{
	"cbb": -2, "cb": -1, "c": 0, "c#": 1, "cx": 2,
	"dbb": 0, "db": 1, "d": 2, "d#": 3, "dx": 4,
	"ebb": 2, "eb": 3, "e": 4, "e#": 5, "ex": 6,
	"fbb": 3, "fb": 4, "f": 5, "f#": 6, "fx": 7,
	"gbb": 5, "gb": 6, "g": 7, "g#": 8, "gx": 9,
	"abb": 7, "ab": 8, "a": 9, "a#": 10, "ax": 11,
	"bbb": 9, "bb": 10, "b": 11, "b#": 12, "bx": 13,
}

// ParseNote parses scientific pitch notation ("C4", "f#3", "Bb-1") into a
// MIDI note number. C4 is 60.
func ParseNote(s string) (int, error) {
	m := noteRegexp.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid note name %q", s)
	}
	index := noteToScaleIndex[strings.ToLower(m[1])]
	octave, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, fmt.Errorf("invalid octave in note name %q: %w", s, err)
	}
	return index + (octave+1)*12, nil
}

// NoteName returns the scientific pitch name of a MIDI note number, using
// sharps.
func NoteName(note int) string {
	names := [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}
	octave := note/12 - 1
	index := note % 12
	if index < 0 {
		index += 12
		octave--
	}
	return fmt.Sprintf("%s%d", names[index], octave)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
