package logging

import "strings"

// ProgressSampler thins progress updates to one per percent bucket, plus one
// whenever the status changes.
type ProgressSampler struct {
	step   float64
	status string
	bucket int
}

// NewProgressSampler returns a sampler with step-percent buckets (10 when
// step is not positive).
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 10
	}
	return &ProgressSampler{step: step, bucket: -1}
}

// ShouldLog reports whether this update starts a new status or a higher
// bucket. A negative percent means unknown and only the status counts. A nil
// sampler logs everything.
func (s *ProgressSampler) ShouldLog(percent float64, status string) bool {
	if s == nil {
		return true
	}
	changed := false
	if status = strings.TrimSpace(status); status != "" && status != s.status {
		s.status, s.bucket = status, -1
		changed = true
	}
	if percent < 0 {
		return changed
	}
	bucket := int(min(percent, 100) / s.step)
	if bucket > s.bucket {
		s.bucket = bucket
		changed = true
	}
	return changed
}

// Reset forgets the last status and bucket.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.status, s.bucket = "", -1
	}
}
