package render

import (
	"sync"
	"sync/atomic"

	"github.com/dawg/vusic"
)

type (
	// Broker carries messages between the control lane and the real-time
	// lane. Every direction is a buffered channel; the real-time lane only
	// ever sends with TrySend and receives without blocking, so a slow or
	// absent reader never stalls rendering.
	//
	// Goroutines started next to an engine (the warning pump, the monitor)
	// are closed with the CloseXXX / FinishedXXX pair: CloseXXX has a
	// capacity of 1, so a close request never blocks, and FinishedXXX is
	// closed once the goroutine has returned:
	//    TrySend(b.CloseWarnings, struct{}{})
	//    <-b.FinishedWarnings
	Broker struct {
		ToEngine  chan any // control requests: MsgSetParameter, MsgRemoveEffect, MsgInsertEffect, msgTracks
		Warnings  chan vusic.Warning
		ToMonitor chan *vusic.AudioBuffer

		CloseWarnings    chan struct{}
		FinishedWarnings chan struct{}
		CloseMonitor     chan struct{}
		FinishedMonitor  chan struct{}

		// monitoring is true while a monitor consumes ToMonitor; the engine
		// does not copy periods otherwise.
		monitoring atomic.Bool
		dropped    atomic.Int64

		bufferPool sync.Pool
	}

	// MsgSetParameter writes a parameter of a track's chain without changing
	// the document, as a performer turning a knob.
	MsgSetParameter struct {
		Track vusic.TrackID
		Ref   vusic.ParamRef
		Value float64
	}

	// MsgRemoveEffect fades an effect out of a track's chain without changing
	// the document.
	MsgRemoveEffect struct {
		Track  vusic.TrackID
		Effect vusic.EffectID
	}

	// MsgInsertEffect fades an effect into a track's chain at Index.
	MsgInsertEffect struct {
		Track  vusic.TrackID
		Index  int
		Effect vusic.Effect
	}

	// msgTracks replaces the set of tracks the real-time lane renders.
	msgTracks struct {
		tracks []*vusic.Track
	}
)

func NewBroker() *Broker {
	return &Broker{
		ToEngine:         make(chan any, 1024),
		Warnings:         make(chan vusic.Warning, 1024),
		ToMonitor:        make(chan *vusic.AudioBuffer, 64),
		CloseWarnings:    make(chan struct{}, 1),
		FinishedWarnings: make(chan struct{}),
		CloseMonitor:     make(chan struct{}, 1),
		FinishedMonitor:  make(chan struct{}),
		bufferPool:       sync.Pool{New: func() any { return &vusic.AudioBuffer{} }},
	}
}

// GetAudioBuffer returns an empty buffer from the pool.
func (b *Broker) GetAudioBuffer() *vusic.AudioBuffer {
	return b.bufferPool.Get().(*vusic.AudioBuffer)
}

// PutAudioBuffer truncates a buffer, keeping its capacity, and returns it to
// the pool.
func (b *Broker) PutAudioBuffer(buf *vusic.AudioBuffer) {
	*buf = (*buf)[:0]
	b.bufferPool.Put(buf)
}

// Warn implements vusic.WarningSink for the real-time lane. A warning that
// does not fit in the channel is counted and dropped.
func (b *Broker) Warn(w vusic.Warning) {
	if !TrySend(b.Warnings, w) {
		b.dropped.Add(1)
	}
}

// Dropped returns how many warnings were lost because nobody drained the
// Warnings channel in time.
func (b *Broker) Dropped() int64 { return b.dropped.Load() }

// TrySend sends v to c if c is not full. It never blocks and reports whether
// the value was sent.
func TrySend[T any](c chan<- T, v T) bool {
	select {
	case c <- v:
		return true
	default:
		return false
	}
}
