package job

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"reelgrab/internal/channel"
	"reelgrab/internal/flight"
	"reelgrab/internal/logging"
	"reelgrab/internal/platform"
	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
)

// User-facing messages.
const (
	MsgEnterURL        = "Enter a URL first"
	MsgNotConnected    = "Not connected to server"
	MsgSelectQuality   = "Select a quality before downloading"
	MsgSubmitInFlight  = "A download is already starting"
	MsgPreparing       = "Preparing download..."
	MsgExtractingAudio = "Extracting audio..."
	MsgReady           = "Ready to download"
	MsgAudioReady      = "Audio ready"
	MsgCancelling      = "Cancelling..."
	MsgFailed          = "Download failed"
)

// DefaultQuality is requested when a video job has no ladder.
const DefaultQuality = "highest"

// ErrSuperseded reports a submission aborted by a newer request on the same slot.
var ErrSuperseded = errors.New("submission superseded")

// Channel is the push connection the coordinator follows.
type Channel interface {
	State() channel.State
	Events() <-chan channel.Event
	Join(ctx context.Context, jobID string) error
	Leave(ctx context.Context) error
	CancelJob(ctx context.Context, jobID string) error
}

// Submitter starts jobs on the worker.
type Submitter interface {
	Submit(ctx context.Context, req worker.SubmitRequest, audio bool) (worker.SubmitResponse, error)
}

// Observer is notified after every job or connection change. Callbacks run
// on the goroutine that made the change and must not block.
type Observer interface {
	JobChanged(ctx context.Context, job Job, previous Status)
	ConnectionChanged(ctx context.Context, ev channel.StateEvent)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Job        func(ctx context.Context, job Job, previous Status)
	Connection func(ctx context.Context, ev channel.StateEvent)
}

func (o ObserverFuncs) JobChanged(ctx context.Context, job Job, previous Status) {
	if o.Job != nil {
		o.Job(ctx, job, previous)
	}
}

func (o ObserverFuncs) ConnectionChanged(ctx context.Context, ev channel.StateEvent) {
	if o.Connection != nil {
		o.Connection(ctx, ev)
	}
}

// Request describes a submission.
type Request struct {
	URL      string
	Platform platform.Platform
	Kind     Kind
	Quality  string
	// Ladder is the quality list offered by the preview, if any.
	Ladder []string
}

// Options tune a Coordinator.
type Options struct {
	SubmitTimeout time.Duration
	CancelConfirm time.Duration
}

// Coordinator is the job state machine. All channel events are applied by
// Run on a single goroutine.
type Coordinator struct {
	channel   Channel
	submitter Submitter
	slot      *flight.Slot
	opts      Options
	logger    *slog.Logger

	mu           sync.Mutex
	current      *Job
	currentJobID string
	connection   channel.State
	sampler      *logging.ProgressSampler
	cancelTimer  *time.Timer
	observers    []Observer
	lost         error
}

// NewCoordinator wires a coordinator to its channel and worker. Submissions
// share slot with preview lookups.
func NewCoordinator(ch Channel, submitter Submitter, slot *flight.Slot, opts Options, logger *slog.Logger) *Coordinator {
	if slot == nil {
		slot = &flight.Slot{}
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 10 * time.Second
	}
	if opts.CancelConfirm <= 0 {
		opts.CancelConfirm = 30 * time.Second
	}
	return &Coordinator{
		channel:   ch,
		submitter: submitter,
		slot:      slot,
		opts:      opts,
		logger:    logging.NewComponentLogger(logger, "job"),
		sampler:   logging.NewProgressSampler(10),
	}
}

// AddObserver registers o for job and connection changes.
func (c *Coordinator) AddObserver(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Current returns a copy of the tracked job.
func (c *Coordinator) Current() (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Job{}, false
	}
	return c.current.Clone(), true
}

// CurrentJobID returns the id whose channel updates are applied.
func (c *Coordinator) CurrentJobID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentJobID
}

// Connection returns the last connection state seen by Run.
func (c *Coordinator) Connection() channel.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connection
}

// Processing reports whether a submission is in flight or the tracked job is active.
func (c *Coordinator) Processing() bool {
	if c.slot.Busy(flight.KindSubmit) {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.Status.Active()
}

// Submit validates req and starts a job on the worker.
func (c *Coordinator) Submit(ctx context.Context, req Request) (Job, error) {
	rawURL := strings.TrimSpace(req.URL)
	if rawURL == "" {
		return Job{}, services.Wrap(services.ErrInput, "job", "submit", MsgEnterURL, nil)
	}
	if c.channel.State() != channel.Connected {
		return Job{}, services.Wrap(services.ErrTransport, "job", "submit", MsgNotConnected, nil)
	}
	kind := req.Kind
	if kind == "" {
		kind = KindVideo
	}
	quality := strings.TrimSpace(req.Quality)
	if kind == KindVideo && len(req.Ladder) > 0 {
		if quality == "" || strings.EqualFold(quality, "none") || !slices.Contains(req.Ladder, quality) {
			return Job{}, services.Wrap(services.ErrInput, "job", "submit", MsgSelectQuality, nil)
		}
	}
	if kind == KindVideo && quality == "" {
		quality = DefaultQuality
	}
	reqCtx, ticket, ok := c.slot.TryBegin(ctx, flight.KindSubmit, rawURL)
	if !ok {
		return Job{}, services.Wrap(services.ErrInput, "job", "submit", MsgSubmitInFlight, nil)
	}
	defer ticket.Release()
	reqCtx, cancel := context.WithTimeout(reqCtx, c.opts.SubmitTimeout)
	defer cancel()
	reqCtx = services.WithPlatform(reqCtx, req.Platform.String())

	c.logger.Info("submitting job",
		logging.String(logging.FieldPlatform, req.Platform.String()),
		logging.String("kind", string(kind)),
		logging.String("quality", quality),
	)
	resp, err := c.submitter.Submit(reqCtx, worker.SubmitRequest{
		URL:      rawURL,
		Platform: req.Platform.String(),
		Quality:  quality,
	}, kind == KindAudio)
	if !ticket.Current() {
		if err == nil && resp.DownloadID != "" {
			logging.WarnWithContext(c.logger, "submission superseded after acceptance", "submit_superseded",
				logging.String(logging.FieldJobID, resp.DownloadID),
				logging.String(logging.FieldImpact, "worker job continues untracked"),
			)
		}
		return Job{}, ErrSuperseded
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return Job{}, ErrSuperseded
		}
		c.logger.Warn("submission failed", logging.Args(append(logging.ErrorAttrs(err),
			logging.String(logging.FieldPlatform, req.Platform.String()),
			logging.String(logging.FieldEventType, "submit_failed"),
		)...)...)
		return Job{}, err
	}

	now := time.Now()
	job := Job{
		ID:          resp.DownloadID,
		Kind:        kind,
		SourceURL:   rawURL,
		Platform:    req.Platform,
		Quality:     quality,
		SubmittedAt: now,
		UpdatedAt:   now,
	}

	if resp.Completed() {
		job.Status = StatusCompleted
		job.Progress = 100
		job.Message = MsgReady
		if kind == KindAudio {
			job.Message = MsgAudioReady
		}
		job.Artifacts.merge(resp.Snapshot)
		c.mu.Lock()
		previous := c.replaceLocked(&job, "")
		c.mu.Unlock()
		if previous != "" {
			c.leave(ctx)
		}
		c.logger.Info("job completed inline",
			logging.String(logging.FieldPlatform, req.Platform.String()),
			logging.Int("artifacts", job.Artifacts.Count()),
		)
		c.notifyJob(ctx, job.Clone(), "")
		return job.Clone(), nil
	}

	job.Status = StatusQueued
	job.Message = MsgPreparing
	if kind == KindAudio {
		job.Message = MsgExtractingAudio
	}
	c.mu.Lock()
	c.replaceLocked(&job, job.ID)
	c.mu.Unlock()

	ctx = services.WithJobID(services.WithPlatform(ctx, req.Platform.String()), job.ID)
	logging.WithContext(ctx, c.logger).Info("job accepted")
	if err := c.channel.Join(ctx, job.ID); err != nil {
		logging.WarnWithContext(c.logger, "join failed; will retry on reconnect", "join_failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "progress updates delayed until reconnect"),
		)
	}
	c.notifyJob(ctx, job.Clone(), "")
	return job.Clone(), nil
}

// replaceLocked swaps in a new tracked job and returns the id it displaced.
func (c *Coordinator) replaceLocked(job *Job, trackedID string) string {
	previous := c.currentJobID
	c.stopCancelTimerLocked()
	c.current = job
	c.currentJobID = trackedID
	c.sampler.Reset()
	return previous
}

// Run applies channel events until ctx ends or the channel closes. It returns
// services.ErrConnectionLost when the channel gave up reconnecting.
func (c *Coordinator) Run(ctx context.Context) error {
	events := c.channel.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				c.mu.Lock()
				lost := c.lost
				c.mu.Unlock()
				return lost
			}
			c.handle(ctx, ev)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, ev channel.Event) {
	switch ev := ev.(type) {
	case channel.StateEvent:
		c.handleState(ctx, ev)
	case channel.JobUpdateEvent:
		c.handleUpdate(ctx, ev.JobID, ev.Snapshot)
	}
}

func (c *Coordinator) handleState(ctx context.Context, ev channel.StateEvent) {
	c.mu.Lock()
	c.connection = ev.State
	if ev.Err != nil && services.IsFatal(ev.Err) {
		c.lost = ev.Err
	}
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, o := range observers {
		o.ConnectionChanged(ctx, ev)
	}
}

// handleUpdate merges a pushed snapshot into the tracked job. Updates for any
// other id are dropped.
func (c *Coordinator) handleUpdate(ctx context.Context, jobID string, snap worker.Snapshot) {
	c.mu.Lock()
	if jobID == "" || jobID != c.currentJobID || c.current == nil {
		current := c.currentJobID
		c.mu.Unlock()
		c.logger.Debug("ignoring update for untracked job",
			logging.String(logging.FieldJobID, jobID),
			logging.String("tracked_job_id", current),
			logging.String(logging.FieldEventType, "job_update_ignored"),
		)
		return
	}
	ctx = services.WithJobID(ctx, jobID)
	job := c.current
	previous := job.Status
	next := Status(strings.ToLower(strings.TrimSpace(snap.Status)))
	if next == "" {
		next = previous
	}
	if previous == StatusCancelling && next == StatusError {
		next = StatusCancelled
	}

	switch {
	case CanTransition(previous, next):
		_ = TransitionJobStatus(job, next)
	case previous == StatusCancelling && next.Active():
		// late progress from before the cancel landed
	default:
		c.mu.Unlock()
		c.logger.Debug("ignoring out-of-order status",
			logging.String(logging.FieldJobID, jobID),
			logging.String("from", string(previous)),
			logging.String("to", string(next)),
			logging.String(logging.FieldEventType, "job_update_ignored"),
		)
		return
	}

	job.Progress = clampProgress(snap.Progress)
	if snap.Message != "" && !(job.Status == StatusCancelling && next != StatusCancelling) {
		job.Message = snap.Message
	}
	job.SpeedBytesPerSec = snap.CurrentSpeed
	job.ETASeconds = snap.ETASeconds
	if snap.Error != "" && job.Status != StatusCancelled {
		job.Failure = &ErrorInfo{Message: snap.Error}
	}
	if job.Status == StatusError && job.Failure == nil {
		message := snap.Message
		if message == "" {
			message = MsgFailed
		}
		job.Failure = &ErrorInfo{Message: message}
	}
	job.Artifacts.merge(snap)
	job.UpdatedAt = time.Now()

	terminal := job.Status.Terminal() && !previous.Terminal()
	if job.Status.Terminal() {
		c.stopCancelTimerLocked()
		job.CancelUnconfirmed = false
	}
	logProgress := c.sampler.ShouldLog(job.Progress, string(job.Status))
	snapshot := job.Clone()
	c.mu.Unlock()

	logger := logging.WithContext(ctx, c.logger)
	attrs := []logging.Attr{
		logging.Float64(logging.FieldProgressPercent, snapshot.Progress),
		logging.String(logging.FieldProgressStatus, string(snapshot.Status)),
	}
	switch {
	case terminal && snapshot.Status == StatusError:
		logger.Warn("job failed", logging.Args(append(attrs,
			logging.String("error", snapshot.Failure.Message),
			logging.String(logging.FieldEventType, "job_failed"),
		)...)...)
	case terminal:
		logger.Info("job finished", logging.Args(append(attrs, logging.Int("artifacts", snapshot.Artifacts.Count()))...)...)
	case logProgress:
		logger.Info("job progress", logging.Args(append(attrs, logging.String("message", snapshot.Message))...)...)
	}

	if terminal {
		c.leave(ctx)
	}
	c.notifyJob(ctx, snapshot, previous)
}

// Cancel asks the worker to stop the tracked job and marks it cancelling
// until the worker confirms. Without an active tracked job it does nothing.
func (c *Coordinator) Cancel(ctx context.Context) error {
	c.mu.Lock()
	if c.current == nil || c.currentJobID == "" || !c.current.Status.Active() || c.current.Status == StatusCancelling {
		c.mu.Unlock()
		return nil
	}
	id := c.currentJobID
	c.mu.Unlock()

	ctx = services.WithJobID(ctx, id)
	if err := c.channel.CancelJob(ctx, id); err != nil {
		return err
	}

	c.mu.Lock()
	if c.currentJobID != id || c.current == nil || !c.current.Status.Active() {
		c.mu.Unlock()
		return nil
	}
	previous := c.current.Status
	_ = TransitionJobStatus(c.current, StatusCancelling)
	c.current.Message = MsgCancelling
	c.current.CancelRequestedAt = time.Now()
	c.current.UpdatedAt = c.current.CancelRequestedAt
	c.stopCancelTimerLocked()
	c.cancelTimer = time.AfterFunc(c.opts.CancelConfirm, func() {
		c.cancelUnconfirmed(context.WithoutCancel(ctx), id)
	})
	snapshot := c.current.Clone()
	c.mu.Unlock()

	logging.WithContext(ctx, c.logger).Info("cancel requested")
	c.notifyJob(ctx, snapshot, previous)
	return nil
}

func (c *Coordinator) cancelUnconfirmed(ctx context.Context, id string) {
	c.mu.Lock()
	if c.currentJobID != id || c.current == nil || c.current.Status != StatusCancelling {
		c.mu.Unlock()
		return
	}
	c.current.CancelUnconfirmed = true
	snapshot := c.current.Clone()
	c.mu.Unlock()

	logging.WarnWithContext(c.logger, "worker has not confirmed cancellation", "cancel_unconfirmed",
		logging.String(logging.FieldJobID, id),
		logging.Duration("waited", c.opts.CancelConfirm),
		logging.String(logging.FieldErrorHint, "the worker may still finish the job; reset to stop tracking it"),
		logging.String(logging.FieldImpact, "job remains in cancelling state"),
	)
	c.notifyJob(ctx, snapshot, StatusCancelling)
}

// Reset stops tracking the current job. An active job is cancelled on the
// worker first.
func (c *Coordinator) Reset(ctx context.Context) {
	c.mu.Lock()
	job := c.current
	id := c.currentJobID
	c.current = nil
	c.currentJobID = ""
	c.stopCancelTimerLocked()
	c.sampler.Reset()
	c.mu.Unlock()

	if job == nil {
		return
	}
	if id != "" && job.Status.Active() && job.Status != StatusCancelling {
		if err := c.channel.CancelJob(ctx, id); err != nil {
			c.logger.Debug("cancel on reset failed", logging.String(logging.FieldJobID, id), logging.Error(err))
		}
	}
	if id != "" {
		c.leave(ctx)
	}
	c.notifyJob(ctx, Job{}, job.Status)
}

func (c *Coordinator) leave(ctx context.Context) {
	if err := c.channel.Leave(ctx); err != nil {
		c.logger.Debug("leave failed", logging.Error(err))
	}
}

func (c *Coordinator) stopCancelTimerLocked() {
	if c.cancelTimer != nil {
		c.cancelTimer.Stop()
		c.cancelTimer = nil
	}
}

func (c *Coordinator) notifyJob(ctx context.Context, job Job, previous Status) {
	c.mu.Lock()
	observers := slices.Clone(c.observers)
	c.mu.Unlock()
	for _, o := range observers {
		o.JobChanged(ctx, job, previous)
	}
}
