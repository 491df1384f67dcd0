// Package job tracks the single job a session is following: submission,
// progress pushed over the channel, cancellation, and the artifacts a
// completed job exposes.
package job

import (
	"slices"
	"time"

	"reelgrab/internal/platform"
	"reelgrab/internal/services/worker"
)

// Kind selects what the worker extracts.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// ArtifactSet lists the places a completed job's output can be fetched from.
type ArtifactSet struct {
	AudioLink       *worker.Link
	DirectLinks     []worker.Link
	DownloadURL     string
	DownloadedFiles []string
}

// Empty reports whether no artifact location is known.
func (a ArtifactSet) Empty() bool {
	return a.AudioLink == nil && len(a.DirectLinks) == 0 && a.DownloadURL == "" && len(a.DownloadedFiles) == 0
}

// Count is the number of distinct artifact entries.
func (a ArtifactSet) Count() int {
	n := len(a.DirectLinks) + len(a.DownloadedFiles)
	if a.AudioLink != nil {
		n++
	}
	if a.DownloadURL != "" {
		n++
	}
	return n
}

// merge overwrites every field the snapshot carries.
func (a *ArtifactSet) merge(s worker.Snapshot) {
	if s.AudioLink != nil && s.AudioLink.URL != "" {
		link := *s.AudioLink
		a.AudioLink = &link
	}
	if len(s.DirectLinks) > 0 {
		a.DirectLinks = slices.Clone(s.DirectLinks)
	}
	if s.DownloadURL != "" {
		a.DownloadURL = s.DownloadURL
	}
	if len(s.DownloadedFiles) > 0 {
		a.DownloadedFiles = slices.Clone(s.DownloadedFiles)
	}
}

func (a ArtifactSet) clone() ArtifactSet {
	out := ArtifactSet{
		DirectLinks:     slices.Clone(a.DirectLinks),
		DownloadURL:     a.DownloadURL,
		DownloadedFiles: slices.Clone(a.DownloadedFiles),
	}
	if a.AudioLink != nil {
		link := *a.AudioLink
		out.AudioLink = &link
	}
	return out
}

// ErrorInfo describes a failed job.
type ErrorInfo struct {
	Message string
}

// Job is the tracked unit of work.
type Job struct {
	ID               string
	Kind             Kind
	Status           Status
	Progress         float64
	Message          string
	SpeedBytesPerSec float64
	ETASeconds       *float64
	Failure          *ErrorInfo
	Artifacts        ArtifactSet
	SourceURL        string
	Platform         platform.Platform
	Quality          string

	SubmittedAt       time.Time
	UpdatedAt         time.Time
	CancelRequestedAt time.Time
	// CancelUnconfirmed is set when the worker has not acknowledged a cancel
	// within the confirmation window.
	CancelUnconfirmed bool
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j Job) Clone() Job {
	out := j
	out.Artifacts = j.Artifacts.clone()
	if j.ETASeconds != nil {
		eta := *j.ETASeconds
		out.ETASeconds = &eta
	}
	if j.Failure != nil {
		failure := *j.Failure
		out.Failure = &failure
	}
	return out
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
