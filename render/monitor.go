package render

import (
	"sync/atomic"

	"github.com/dawg/vusic/analysis"
)

// Monitor measures the output of an engine off the real-time lane. The
// engine only copies periods to the broker while a Monitor is running.
type Monitor struct {
	broker *Broker
	meter  analysis.Meter
	levels atomic.Pointer[analysis.Levels]
}

func NewMonitor(b *Broker) *Monitor {
	return &Monitor{broker: b}
}

// Run consumes periods until CloseMonitor is signalled.
func (m *Monitor) Run() {
	m.broker.monitoring.Store(true)
	defer close(m.broker.FinishedMonitor)
	defer m.broker.monitoring.Store(false)
	for {
		select {
		case <-m.broker.CloseMonitor:
			return
		case buf := <-m.broker.ToMonitor:
			l := m.meter.Measure(*buf)
			m.levels.Store(&l)
			m.broker.PutAudioBuffer(buf)
		}
	}
}

// Levels returns the levels of the latest period, and false if none has been
// measured yet.
func (m *Monitor) Levels() (analysis.Levels, bool) {
	l := m.levels.Load()
	if l == nil {
		return analysis.Levels{}, false
	}
	return *l, true
}
