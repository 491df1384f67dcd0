package logging

import (
	"context"
	"log/slog"

	"reelgrab/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for worker job identifiers.
	FieldJobID = "job_id"
	// FieldPlatform is the standardized structured logging key for source platforms.
	FieldPlatform = "platform"
	// FieldTransport is the standardized structured logging key for push channel transports.
	FieldTransport = "transport"
	// FieldCorrelationID is the standardized structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (e.g. "job_update_ignored").
	FieldEventType = "event_type"
	// FieldErrorHint carries the next step a user should take.
	FieldErrorHint = "error_hint"
	// FieldErrorKind carries the error marker (input, transport, timeout, worker).
	FieldErrorKind = "error_kind"
	// FieldProgressPercent carries job progress in percent.
	FieldProgressPercent = "progress_percent"
	// FieldProgressStatus carries the job status at the time of a progress log.
	FieldProgressStatus = "progress_status"
	// FieldImpact describes what a warning means for the running download.
	FieldImpact = "impact"
	// FieldSessionID identifies the process-wide download session.
	FieldSessionID = "session_id"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if platform, ok := services.PlatformFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldPlatform, platform))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
