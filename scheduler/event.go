package scheduler

import (
	"container/heap"
	"fmt"

	"github.com/dawg/vusic"
)

type (
	// Event is a concrete, timed instruction for the audio graph.
	Event struct {
		Time     vusic.Seconds
		Seq      uint64 // insertion order, breaks ties between events at the same Time
		Kind     Kind
		Entity   Handle // the scheduled entity that produced the event; 0 in a StopAll means every entity
		Track    vusic.TrackID
		Voice    Voice
		Pitch    float64
		Velocity float64
		Sample   *vusic.Sample  // set for sample starts
		Offset   vusic.Seconds  // how far into the sample playback starts
		Param    vusic.ParamRef // target of a SetParam
		Value    float64        // value of a SetParam, as authored
	}

	Kind int

	// Voice identifies one sounding instance of an item: the same note played
	// in two loop iterations, or through two placements of a pattern, is two
	// voices.
	Voice struct {
		Entity    Handle
		Item      vusic.ItemID
		Parent    vusic.ItemID // the pattern placement the note was played through, if any
		Iteration int
	}

	// Sink receives events in non-decreasing time order, ties in insertion
	// order. Push is called from the goroutine calling Session.Tick.
	Sink interface {
		Push(e Event)
	}

	// SinkFunc adapts a function to a Sink.
	SinkFunc func(e Event)

	// Recorder is a Sink that keeps every event, for tests and offline
	// inspection.
	Recorder struct {
		Events []Event
	}

	eventQueue []Event
)

const (
	Start Kind = iota
	Stop
	StopAll
	SetParam
)

func (k Kind) String() string {
	switch k {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case StopAll:
		return "stopall"
	case SetParam:
		return "setparam"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

func (e Event) String() string {
	switch e.Kind {
	case Start:
		if e.Sample != nil {
			return fmt.Sprintf("%.6f start sample %q +%.6f (track %v, voice %v)", e.Time, e.Sample.Name, e.Offset, e.Track, e.Voice)
		}
		return fmt.Sprintf("%.6f start %v vel %.3f (track %v, voice %v)", e.Time, vusic.NoteName(int(e.Pitch)), e.Velocity, e.Track, e.Voice)
	case Stop:
		return fmt.Sprintf("%.6f stop (track %v, voice %v)", e.Time, e.Track, e.Voice)
	case StopAll:
		return fmt.Sprintf("%.6f stop all (entity %v)", e.Time, e.Entity)
	case SetParam:
		return fmt.Sprintf("%.6f set %v/%v = %g (track %v)", e.Time, e.Param.Effect, e.Param.Param, e.Value, e.Track)
	}
	return e.Kind.String()
}

func (f SinkFunc) Push(e Event) { f(e) }

func (r *Recorder) Push(e Event) { r.Events = append(r.Events, e) }

// Kinds returns the recorded events of the given kind.
func (r *Recorder) Kinds(k Kind) []Event {
	var ret []Event
	for _, e := range r.Events {
		if e.Kind == k {
			ret = append(ret, e)
		}
	}
	return ret
}

func (r *Recorder) Reset() { r.Events = r.Events[:0] }

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].Time != q[j].Time {
		return q[i].Time < q[j].Time
	}
	return q[i].Seq < q[j].Seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(Event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	*q = old[:n-1]
	return e
}

func (q *eventQueue) push(e Event) { heap.Push(q, e) }

func (q *eventQueue) pop() Event { return heap.Pop(q).(Event) }

// peek returns the earliest event without removing it.
func (q eventQueue) peek() (Event, bool) {
	if len(q) == 0 {
		return Event{}, false
	}
	return q[0], true
}
