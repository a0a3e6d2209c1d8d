package render

import (
	"log/slog"

	"github.com/dawg/vusic"
)

// LogWarnings logs every warning sent to the broker until CloseWarnings is
// signalled. It runs on the control lane, typically in its own goroutine.
func LogWarnings(b *Broker, logger *slog.Logger) {
	defer close(b.FinishedWarnings)
	for {
		select {
		case <-b.CloseWarnings:
			return
		case w := <-b.Warnings:
			LogWarning(logger, w)
		}
	}
}

// LogWarning logs one warning with its fields as attributes.
func LogWarning(logger *slog.Logger, w vusic.Warning) {
	attrs := []any{slog.String("kind", w.Kind.String())}
	if w.Track != 0 {
		attrs = append(attrs, slog.Any("track", w.Track))
	}
	switch w.Kind {
	case vusic.RangeViolation:
		attrs = append(attrs, slog.String("param", w.Param), slog.Float64("value", w.Value), slog.Float64("applied", w.Applied))
	case vusic.SchedulingOverrun:
		attrs = append(attrs, slog.Float64("elapsed", w.Value), slog.Float64("budget", w.Applied))
	case vusic.ResourceLoadFailure:
		attrs = append(attrs, slog.Any("item", w.Item), slog.Any("err", w.Err))
	case vusic.UnitFault:
		attrs = append(attrs, slog.String("unit", w.Param))
	}
	logger.Warn(w.String(), attrs...)
}
