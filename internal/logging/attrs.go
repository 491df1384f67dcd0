package logging

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"reelgrab/internal/services"
)

type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

// Error returns the standard error attribute.
func Error(err error) Attr {
	if err != nil {
		return slog.Any("error", err)
	}
	return slog.String("error", "<nil>")
}

// ErrorAttrs returns the error and its marker kind.
func ErrorAttrs(err error) []Attr {
	attrs := []Attr{Error(err)}
	if kind := services.Kind(err); kind != "" {
		attrs = append(attrs, String(FieldErrorKind, kind))
	}
	return attrs
}

// Args converts attrs for the variadic slog.Logger methods.
func Args(attrs ...Attr) []any {
	out := make([]any, 0, len(attrs))
	for _, a := range attrs {
		out = append(out, a)
	}
	return out
}

func NewNop() *slog.Logger {
	return slog.New(NoopHandler{})
}

// NewComponentLogger tags logger with a component. A nil logger discards.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop().With(String(FieldComponent, component))
	}
	return logger.With(String(FieldComponent, component))
}

const defaultHint = "check logs for details"

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact; missing ones get generic defaults.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logEvent(logger, slog.LevelWarn, msg, attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, defaultHint),
		String(FieldImpact, "operation completed with warnings"),
	)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logEvent(logger, slog.LevelError, msg, attrs,
		String(FieldEventType, eventType),
		String(FieldErrorHint, defaultHint),
	)
}

// logEvent appends each default whose key attrs does not already set.
func logEvent(logger *slog.Logger, level slog.Level, msg string, attrs []Attr, defaults ...Attr) {
	if logger == nil {
		return
	}
	for _, d := range defaults {
		if !slices.ContainsFunc(attrs, func(a Attr) bool { return a.Key == d.Key }) {
			attrs = append(attrs, d)
		}
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
