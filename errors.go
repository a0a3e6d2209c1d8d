package vusic

import (
	"errors"
	"fmt"
)

var (
	ErrNotReady        = errors.New("sample is not ready")
	ErrAlreadyResolved = errors.New("sample handle already resolved")
	ErrUnknownTrack    = errors.New("unknown track")
	ErrUnknownPattern  = errors.New("unknown pattern")
	ErrUnknownSample   = errors.New("unknown sample")
	ErrUnknownItem     = errors.New("unknown item")
	ErrUnknownEffect   = errors.New("unknown effect")
	ErrNoResolver      = errors.New("document has samples but no sample resolver was given")
)

// ValidationError is returned by every Document mutation that was rejected.
// The Document is left unchanged when a ValidationError is returned.
type ValidationError struct {
	Op     string // the mutation that failed, e.g. "AddNote"
	Field  string // the offending field, if any
	Reason string
	Err    error // optional wrapped sentinel
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: invalid %s: %s", e.Op, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(op, field, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func dangling(op string, err error) *ValidationError {
	return &ValidationError{Op: op, Reason: "dangling reference: " + err.Error(), Err: err}
}
