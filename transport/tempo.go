package transport

import (
	"fmt"
	"sort"

	"github.com/dawg/vusic"
)

// TempoMap converts between musical and absolute time by integrating a tempo
// timeline of constant-tempo segments. A TempoMap is immutable.
type TempoMap struct {
	segs []segment
}

type segment struct {
	beat vusic.Beats
	sec  vusic.Seconds // absolute time at beat
	bpm  float64
}

// NewTempoMap builds a TempoMap from tempo changes. The changes must be valid
// as returned by vusic.Score.Tempo: ordered, positive, starting at beat 0.
func NewTempoMap(changes []vusic.TempoChange) (*TempoMap, error) {
	if len(changes) == 0 || changes[0].Beat != 0 {
		return nil, fmt.Errorf("tempo timeline must start at beat 0")
	}
	m := &TempoMap{segs: make([]segment, len(changes))}
	for i, c := range changes {
		if c.BPM <= 0 {
			return nil, fmt.Errorf("tempo change %d: bpm must be positive, got %v", i, c.BPM)
		}
		if i > 0 {
			prev := m.segs[i-1]
			if c.Beat <= prev.beat {
				return nil, fmt.Errorf("tempo change %d: beats must be increasing", i)
			}
			m.segs[i].sec = prev.sec + secondsPerBeat(prev.bpm)*vusic.Seconds(c.Beat-prev.beat)
		}
		m.segs[i].beat = c.Beat
		m.segs[i].bpm = c.BPM
	}
	return m, nil
}

// Constant returns a TempoMap with a single tempo.
func Constant(bpm float64) *TempoMap {
	return &TempoMap{segs: []segment{{bpm: bpm}}}
}

func secondsPerBeat(bpm float64) vusic.Seconds { return vusic.Seconds(60 / bpm) }

// Seconds returns the absolute time of a musical position, measured from beat
// 0. Positions before beat 0 extrapolate the first tempo.
func (m *TempoMap) Seconds(b vusic.Beats) vusic.Seconds {
	i := sort.Search(len(m.segs), func(i int) bool { return m.segs[i].beat > b }) - 1
	i = max(i, 0)
	s := m.segs[i]
	return s.sec + secondsPerBeat(s.bpm)*vusic.Seconds(b-s.beat)
}

// Beats is the inverse of Seconds.
func (m *TempoMap) Beats(t vusic.Seconds) vusic.Beats {
	i := sort.Search(len(m.segs), func(i int) bool { return m.segs[i].sec > t }) - 1
	i = max(i, 0)
	s := m.segs[i]
	return s.beat + vusic.Beats(float64(t-s.sec)*s.bpm/60)
}

// BPM returns the tempo in effect at a musical position.
func (m *TempoMap) BPM(b vusic.Beats) float64 {
	i := sort.Search(len(m.segs), func(i int) bool { return m.segs[i].beat > b }) - 1
	return m.segs[max(i, 0)].bpm
}

// Changes returns the tempo timeline the map was built from.
func (m *TempoMap) Changes() []vusic.TempoChange {
	ret := make([]vusic.TempoChange, len(m.segs))
	for i, s := range m.segs {
		ret[i] = vusic.TempoChange{Beat: s.beat, BPM: s.bpm}
	}
	return ret
}

// with returns a copy of the map where the tempo is bpm from beat at
// onwards, up to the next existing change.
func (m *TempoMap) with(bpm float64, at vusic.Beats) (*TempoMap, error) {
	changes := m.Changes()
	i := sort.Search(len(changes), func(i int) bool { return changes[i].Beat >= at })
	if i < len(changes) && changes[i].Beat == at {
		changes[i].BPM = bpm
	} else {
		changes = append(changes, vusic.TempoChange{})
		copy(changes[i+1:], changes[i:])
		changes[i] = vusic.TempoChange{Beat: at, BPM: bpm}
	}
	return NewTempoMap(changes)
}
