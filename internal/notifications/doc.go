// Package notifications pushes job outcomes to ntfy.
//
// NewService returns an ntfy-backed Service when a topic is configured and a
// no-op otherwise. Notifier adapts a Service into a job.Observer so the
// session can forward completed jobs, failed jobs, and lost connections
// without knowing about HTTP.
package notifications
