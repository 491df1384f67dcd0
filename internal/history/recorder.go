package history

import (
	"context"
	"log/slog"
	"sync"

	"reelgrab/internal/channel"
	"reelgrab/internal/job"
	"reelgrab/internal/logging"
)

// Recorder writes job status changes to a Store. It implements job.Observer.
type Recorder struct {
	store  *Store
	logger *slog.Logger

	mu   sync.Mutex
	keys map[string]string
	last string
}

// NewRecorder returns an observer that records into store.
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logging.NewComponentLogger(logger, "history"),
		keys:   make(map[string]string),
	}
}

// JobChanged records submissions and status changes; progress-only updates
// are skipped.
func (r *Recorder) JobChanged(ctx context.Context, j job.Job, previous job.Status) {
	if r == nil || r.store == nil || j.Status == "" {
		return
	}
	if previous == j.Status && !j.Status.Terminal() {
		return
	}

	r.mu.Lock()
	key, ok := r.keys[j.ID]
	if j.ID == "" || !ok {
		key = NewKey(j)
		if j.ID != "" {
			r.keys[j.ID] = key
		}
	}
	r.last = key
	r.mu.Unlock()

	if err := r.store.Record(context.WithoutCancel(ctx), key, j); err != nil {
		logging.WarnWithContext(r.logger, "history write failed", "history_write_failed",
			logging.String(logging.FieldJobID, j.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "job missing from history"),
		)
	}
}

// ConnectionChanged is a no-op.
func (r *Recorder) ConnectionChanged(context.Context, channel.StateEvent) {}

// LastKey returns the key of the most recently recorded job.
func (r *Recorder) LastKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
