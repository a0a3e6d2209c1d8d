package vusic

// ItemID identifies a placed item (note, placement, automation clip) for the
// lifetime of the Score. IDs are handed out in increasing order, which gives
// items a stable insertion order.
type ItemID uint64

// Note is a pitched event in musical time. Pitch is a MIDI note number and may
// be fractional; Velocity is in [0, 1].
type Note struct {
	ID       ItemID
	Pitch    float64
	Velocity float64
	Start    Beats
	Duration Beats
}

// End returns the position where the note is released.
func (n Note) End() Beats { return n.Start + n.Duration }

// Frequency returns the frequency of the note in Hz.
func (n Note) Frequency() float64 { return Mtof(n.Pitch) }

func (n Note) validate(op string) error {
	switch {
	case !finite(float64(n.Start)) || n.Start < 0:
		return invalid(op, "start", "must be a non-negative finite position, got %v", n.Start)
	case !finite(float64(n.Duration)) || n.Duration <= 0:
		return invalid(op, "duration", "must be positive, got %v", n.Duration)
	case !finite(n.Pitch) || n.Pitch < 0 || n.Pitch > 127:
		return invalid(op, "pitch", "must be within [0, 127], got %v", n.Pitch)
	case !finite(n.Velocity) || n.Velocity < 0 || n.Velocity > 1:
		return invalid(op, "velocity", "must be within [0, 1], got %v", n.Velocity)
	}
	return nil
}

// insertNote inserts the note keeping the slice ordered by start, ties by
// ID. The slice is assumed to be a private copy.
func insertNote(notes []Note, n Note) []Note {
	i := len(notes)
	for i > 0 && (notes[i-1].Start > n.Start || (notes[i-1].Start == n.Start && notes[i-1].ID > n.ID)) {
		i--
	}
	notes = append(notes, Note{})
	copy(notes[i+1:], notes[i:])
	notes[i] = n
	return notes
}

func removeNote(notes []Note, id ItemID) ([]Note, bool) {
	for i, n := range notes {
		if n.ID == id {
			return append(notes[:i:i], notes[i+1:]...), true
		}
	}
	return notes, false
}
