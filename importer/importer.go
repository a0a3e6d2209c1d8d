// Package importer reads Standard MIDI Files into note tuples for
// vusic.Score.ImportPattern.
package importer

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/dawg/vusic"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"
)

// DefaultBPM is assumed when a file carries no tempo event.
const DefaultBPM = 120

var (
	ErrNoTicks = errors.New("importer: file does not use metric ticks")
	ErrNoNotes = errors.New("importer: file contains no notes")
)

type (
	// Import is the result of reading a MIDI file: the notes of all tracks
	// and channels merged, in beats, and the first tempo of the file.
	Import struct {
		BPM   float64
		Notes []vusic.ImportedNote
	}

	noteKey struct {
		track   int
		channel uint8
		key     uint8
	}

	openNote struct {
		tick     int64
		velocity uint8
	}
)

// Read decodes a Standard MIDI File. A note-on without a matching note-off
// lasts until the end of its track.
func Read(r io.Reader) (*Import, error) {
	file, err := smf.ReadFrom(r)
	if err != nil {
		return nil, fmt.Errorf("importer: %w", err)
	}
	ticks, ok := file.TimeFormat.(smf.MetricTicks)
	if !ok || ticks.Resolution() == 0 {
		return nil, ErrNoTicks
	}
	res := float64(ticks.Resolution())
	ret := &Import{BPM: math.NaN()}
	open := map[noteKey][]openNote{}
	emit := func(on openNote, pitch uint8, end int64) {
		ret.Notes = append(ret.Notes, vusic.ImportedNote{
			Pitch:    float64(pitch),
			Velocity: float64(on.velocity) / 127,
			Start:    vusic.Beats(float64(on.tick) / res),
			Duration: vusic.Beats(float64(end-on.tick) / res),
		})
	}
	for ti, track := range file.Tracks {
		var tick int64
		for _, ev := range track {
			tick += int64(ev.Delta)
			var bpm float64
			if ev.Message.GetMetaTempo(&bpm) {
				if math.IsNaN(ret.BPM) && bpm > 0 {
					ret.BPM = bpm
				}
				continue
			}
			msg := midi.Message(ev.Message)
			var ch, key, vel uint8
			switch {
			case msg.GetNoteStart(&ch, &key, &vel):
				k := noteKey{ti, ch, key}
				open[k] = append(open[k], openNote{tick: tick, velocity: vel})
			case msg.GetNoteEnd(&ch, &key):
				k := noteKey{ti, ch, key}
				if q := open[k]; len(q) > 0 {
					emit(q[0], key, tick)
					open[k] = q[1:]
				}
			}
		}
		for k, q := range open {
			if k.track != ti {
				continue
			}
			for _, on := range q {
				emit(on, k.key, tick)
			}
			delete(open, k)
		}
	}
	if math.IsNaN(ret.BPM) {
		ret.BPM = DefaultBPM
	}
	// zero length notes carry no sound and would fail validation
	ret.Notes = slices.DeleteFunc(ret.Notes, func(n vusic.ImportedNote) bool { return n.Duration <= 0 })
	if len(ret.Notes) == 0 {
		return nil, ErrNoNotes
	}
	slices.SortStableFunc(ret.Notes, func(a, b vusic.ImportedNote) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.Pitch, b.Pitch)
	})
	return ret, nil
}

// Pattern reads a MIDI file and adds its notes to score as a new pattern.
func Pattern(score *vusic.Score, name string, r io.Reader) (*vusic.Pattern, error) {
	imp, err := Read(r)
	if err != nil {
		return nil, err
	}
	return score.ImportPattern(name, imp.BPM, imp.Notes)
}

// Write encodes notes as a single track Standard MIDI File at the given
// tempo, with 960 ticks per beat on channel 0.
func Write(w io.Writer, bpm float64, notes []vusic.ImportedNote) error {
	const resolution = 960
	type event struct {
		tick int64
		msg  midi.Message
		off  bool
	}
	events := make([]event, 0, 2*len(notes))
	for _, n := range notes {
		key := uint8(min(max(math.Round(n.Pitch), 0), 127))
		vel := uint8(min(max(math.Round(n.Velocity*127), 1), 127))
		start := int64(math.Round(float64(n.Start) * resolution))
		end := int64(math.Round(float64(n.Start+n.Duration) * resolution))
		events = append(events,
			event{tick: start, msg: midi.NoteOn(0, key, vel)},
			event{tick: end, msg: midi.NoteOff(0, key), off: true})
	}
	// offs first at equal ticks so repeated notes do not overlap
	slices.SortStableFunc(events, func(a, b event) int {
		switch {
		case a.tick != b.tick:
			return cmp.Compare(a.tick, b.tick)
		case a.off && !b.off:
			return -1
		case b.off && !a.off:
			return 1
		}
		return 0
	})
	var track smf.Track
	track.Add(0, smf.MetaTempo(bpm))
	var last int64
	for _, e := range events {
		track.Add(uint32(e.tick-last), e.msg)
		last = e.tick
	}
	track.Close(0)
	file := smf.New()
	file.TimeFormat = smf.MetricTicks(resolution)
	if err := file.Add(track); err != nil {
		return fmt.Errorf("importer: %w", err)
	}
	_, err := file.WriteTo(w)
	return err
}
