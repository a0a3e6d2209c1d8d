package vusic

import (
	"fmt"
	"sort"
)

type (
	// Point is one automation breakpoint. Time is relative to the start of
	// the clip. Curve selects how the value moves towards the next point.
	Point struct {
		Time  Beats
		Value float64
		Curve Curve
	}

	Curve int

	// AutomationClip is an automation curve for exactly one target parameter,
	// placed on a track. Values are stored as authored; they are held to the
	// parameter's declared range only when applied.
	AutomationClip struct {
		ID       ItemID
		Target   ParamRef
		Start    Beats
		Duration Beats
		Points   []Point
	}
)

const (
	Step Curve = iota
	Linear
)

func (c Curve) String() string {
	switch c {
	case Step:
		return "step"
	case Linear:
		return "linear"
	}
	return fmt.Sprintf("Curve(%d)", int(c))
}

// ParseCurve is the inverse of Curve.String.
func ParseCurve(s string) (Curve, error) {
	switch s {
	case "", "step":
		return Step, nil
	case "linear":
		return Linear, nil
	}
	return 0, fmt.Errorf("unknown curve %q", s)
}

// End returns the position where the clip ends.
func (a AutomationClip) End() Beats { return a.Start + a.Duration }

// Copy makes a deep copy of the clip.
func (a AutomationClip) Copy() AutomationClip {
	a.Points = append([]Point(nil), a.Points...)
	return a
}

// ValueAt returns the value of the curve at a position relative to the clip
// start. Before the first point the first value holds; after the last point
// the last value holds.
func (a AutomationClip) ValueAt(t Beats) (float64, bool) {
	if len(a.Points) == 0 {
		return 0, false
	}
	i := sort.Search(len(a.Points), func(i int) bool { return a.Points[i].Time > t })
	if i == 0 {
		return a.Points[0].Value, true
	}
	p := a.Points[i-1]
	if i == len(a.Points) || p.Curve == Step {
		return p.Value, true
	}
	next := a.Points[i]
	span := next.Time - p.Time
	if span <= 0 {
		return next.Value, true
	}
	f := float64((t - p.Time) / span)
	return p.Value + (next.Value-p.Value)*f, true
}

// Overlaps reports whether two clips share a target and overlap in time.
func (a AutomationClip) Overlaps(b AutomationClip) bool {
	return a.Target == b.Target && a.Start < b.End() && b.Start < a.End()
}

func (a AutomationClip) validate(op string) error {
	if !finite(float64(a.Start)) || a.Start < 0 {
		return invalid(op, "start", "must be a non-negative finite position, got %v", a.Start)
	}
	if !finite(float64(a.Duration)) || a.Duration <= 0 {
		return invalid(op, "duration", "must be positive, got %v", a.Duration)
	}
	if a.Target.Param == "" {
		return invalid(op, "target", "parameter name is empty")
	}
	for i, p := range a.Points {
		if !finite(float64(p.Time)) || p.Time < 0 || p.Time > a.Duration {
			return invalid(op, "points", "point %d time %v outside the clip [0, %v]", i, p.Time, a.Duration)
		}
		if !finite(p.Value) {
			return invalid(op, "points", "point %d value is not finite", i)
		}
		if p.Curve != Step && p.Curve != Linear {
			return invalid(op, "points", "point %d has unknown curve %v", i, p.Curve)
		}
		if i > 0 && a.Points[i-1].Time > p.Time {
			return invalid(op, "points", "points are not ordered by time")
		}
	}
	return nil
}
