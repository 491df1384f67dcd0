// Package textutil normalizes worker-supplied names before they touch the
// filesystem or the terminal.
//
// Artifact filenames arrive from the worker and from remote posts; they may
// carry path separators, reserved characters, or decorated Unicode. The
// helpers here fold them to safe, mostly-ASCII names while keeping the
// extension intact.
package textutil
