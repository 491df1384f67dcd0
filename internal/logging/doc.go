// Package logging assembles structured slog loggers and formatting helpers used
// across reelgrab.
//
// It owns the configurable console/JSON handlers, mirrors every record into a
// JSON log file, and exposes context-aware helpers so session code can tag log
// lines with job IDs, platforms, and correlation IDs. The package also provides
// a no-op logger for tests and wiring code that cannot fail.
//
// Prefer these constructors over hand-rolled slog setup so new components emit
// data with the same shape and routing as the rest of the client.
package logging
