package services

import (
	"errors"
	"fmt"
	"strings"
)

// Error markers. Every failure surfaced by the session carries exactly one.
var (
	// ErrInput marks a request the caller must correct before retrying.
	ErrInput = errors.New("input error")
	// ErrTransport marks network or channel failures.
	ErrTransport = errors.New("transport error")
	// ErrTimeout marks operations that exceeded their deadline.
	ErrTimeout = errors.New("timeout")
	// ErrWorker marks failures reported by the extraction worker.
	ErrWorker = errors.New("worker error")
)

// ErrConnectionLost is the only session-fatal error: the push channel gave up reconnecting.
var ErrConnectionLost = fmt.Errorf("%w: connection lost", ErrTransport)

// Error annotates a failure with its marker, origin, and the text shown to users.
type Error struct {
	Marker    error
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	detail := buildDetail(e.Component, e.Operation, e.Message)
	if e.Err != nil {
		return fmt.Sprintf("%v: %s: %v", e.Marker, detail, e.Err)
	}
	return fmt.Sprintf("%v: %s", e.Marker, detail)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Err}
}

// Wrap builds an error that includes component context while tagging it with
// the provided marker for later classification. The marker should be one of
// the exported sentinel errors above; message is what a user gets to read.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransport
	}
	return &Error{
		Marker:    marker,
		Component: strings.TrimSpace(component),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Err:       err,
	}
}

// Kind names the marker carried by err, or "" when none is present.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInput):
		return "input"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrWorker):
		return "worker"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return ""
	}
}

// IsFatal reports whether err ends the session rather than a single operation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}

// UserMessage returns the text to show for err. Worker-provided messages are
// passed through verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsFatal(err) {
		return "Connection lost. Please refresh."
	}
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Message != "" {
		return svcErr.Message
	}
	switch Kind(err) {
	case "timeout":
		return "Request timed out. Try again."
	case "transport":
		return "Network error. Check the worker address."
	default:
		return err.Error()
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
