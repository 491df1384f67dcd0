// Package worker is the HTTP client for the remote extraction worker.
//
// It owns the wire types shared by the REST endpoints and the push channel
// (previews, job snapshots, artifact links), attaches the pass-through token
// and a correlation id to every request, and classifies failures with the
// services error markers so callers can show the right message.
package worker
