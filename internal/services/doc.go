// Package services defines shared utilities consumed by the session
// components and the worker client.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, platforms, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers (input, transport, timeout, worker) plus the
//     Wrap helper that attaches a user-facing message to each failure.
//
// Use these helpers when wiring new components so failures surface with the
// same classification everywhere.
package services
