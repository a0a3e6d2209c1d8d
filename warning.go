package vusic

import (
	"fmt"
	"sync"
)

type (
	// Warning is a non-fatal condition raised while scheduling or rendering.
	// Warnings raised in the real-time lane carry only plain values; the
	// human readable message is built lazily by String, so raising a warning
	// never allocates on that lane.
	Warning struct {
		Kind    WarningKind
		Track   TrackID
		Item    ItemID
		Param   string
		Value   float64 // the requested value (RangeViolation) or the time taken in seconds (SchedulingOverrun)
		Applied float64 // the value actually applied (RangeViolation) or the budget in seconds (SchedulingOverrun)
		Err     error   // ResourceLoadFailure cause
	}

	WarningKind int

	// WarningSink receives warnings. Implementations used from the real-time
	// lane must not block.
	WarningSink interface {
		Warn(w Warning)
	}

	// WarningFunc adapts a function to a WarningSink.
	WarningFunc func(w Warning)

	// WarningRecorder is a WarningSink that keeps every warning it receives.
	// It is safe for concurrent use.
	WarningRecorder struct {
		mu       sync.Mutex
		warnings []Warning
	}
)

const (
	RangeViolation WarningKind = iota
	SchedulingOverrun
	ResourceLoadFailure
	UnitFault
)

var warningKindNames = [...]string{"RangeViolation", "SchedulingOverrun", "ResourceLoadFailure", "UnitFault"}

func (k WarningKind) String() string {
	if k < 0 || int(k) >= len(warningKindNames) {
		return fmt.Sprintf("WarningKind(%d)", int(k))
	}
	return warningKindNames[k]
}

func (w Warning) String() string {
	switch w.Kind {
	case RangeViolation:
		return fmt.Sprintf("%v: parameter %q of track %v: value %g clamped to %g", w.Kind, w.Param, w.Track, w.Value, w.Applied)
	case SchedulingOverrun:
		return fmt.Sprintf("%v: tick took %.3f ms, budget %.3f ms", w.Kind, w.Value*1e3, w.Applied*1e3)
	case ResourceLoadFailure:
		return fmt.Sprintf("%v: item %v of track %v is unplayable: %v", w.Kind, w.Item, w.Track, w.Err)
	case UnitFault:
		return fmt.Sprintf("%v: unit %q of track %v produced non-finite output and was silenced", w.Kind, w.Param, w.Track)
	}
	return w.Kind.String()
}

func (f WarningFunc) Warn(w Warning) { f(w) }

func (r *WarningRecorder) Warn(w Warning) {
	r.mu.Lock()
	r.warnings = append(r.warnings, w)
	r.mu.Unlock()
}

// Warnings returns a copy of the recorded warnings.
func (r *WarningRecorder) Warnings() []Warning {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Warning(nil), r.warnings...)
}

// Count returns how many warnings of the given kind have been recorded.
func (r *WarningRecorder) Count(kind WarningKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, w := range r.warnings {
		if w.Kind == kind {
			n++
		}
	}
	return n
}
