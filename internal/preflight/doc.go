// Package preflight provides readiness checks for the worker and the local
// directories reelgrab writes to.
//
// The CLI "reelgrab status" command prints every result, and the download
// commands call RunAll before connecting so a missing download directory or
// an unreachable worker fails fast instead of after a job was submitted.
package preflight
