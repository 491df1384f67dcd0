package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"reelgrab/internal/artifact"
	"reelgrab/internal/channel"
	"reelgrab/internal/config"
	"reelgrab/internal/flight"
	"reelgrab/internal/history"
	"reelgrab/internal/job"
	"reelgrab/internal/logging"
	"reelgrab/internal/notifications"
	"reelgrab/internal/platform"
	"reelgrab/internal/preview"
	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
)

// User-facing messages.
const (
	MsgUnsupportedURL    = "Unsupported URL. Paste a YouTube, Instagram or Pinterest link."
	MsgPreviewLoading    = "Preview is still loading"
	MsgDownloadInFlight  = "A download is already in progress"
	MsgAudioUnavailable  = "This post has no video to extract audio from"
	MsgNothingToDownload = "Nothing to download yet"
)

// ErrLocked reports that another session holds the state directory.
var ErrLocked = errors.New("another reelgrab session is already running")

// Options tune Open.
type Options struct {
	// ID labels the session in logs. A random id is used when empty.
	ID string
	// Observers receive job and connection changes in addition to history
	// and notifications.
	Observers []job.Observer
	// NoHistory skips the history database.
	NoHistory bool
}

// Session is one front end's view of the worker.
type Session struct {
	id     string
	cfg    *config.Config
	logger *slog.Logger
	lock   *flock.Flock

	client    *worker.Client
	manager   *channel.Manager
	slot      *flight.Slot
	previews  *preview.Fetcher
	jobs      *job.Coordinator
	resolver  *artifact.Resolver
	deliverer *artifact.Deliverer
	history   *history.Store
	recorder  *history.Recorder

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	url       string
	platform  platform.Platform
	submitted string
	runErr    error
	closed    bool
}

// Open acquires the session lock, connects to the worker, and starts
// following the push channel. Close must be called to release the lock.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("session requires configuration")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	s, err := build(cfg, logger, lock, opts)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	if err := s.manager.Start(runCtx); err != nil {
		cancel()
		s.release()
		return nil, fmt.Errorf("start channel: %w", err)
	}
	go s.run(runCtx)

	s.logger.Info("session opened",
		logging.String("worker", s.client.BaseURL()),
		logging.String("lock", cfg.LockPath()),
	)
	return s, nil
}

func build(cfg *config.Config, logger *slog.Logger, lock *flock.Flock, opts Options) (*Session, error) {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	logger = logging.NewComponentLogger(logger, "session")

	client, err := worker.NewFromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("worker client: %w", err)
	}
	manager, err := channel.NewFromConfig(cfg, client, logger)
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}

	slot := &flight.Slot{}
	s := &Session{
		id:        id,
		cfg:       cfg,
		logger:    logger,
		lock:      lock,
		client:    client,
		manager:   manager,
		slot:      slot,
		resolver:  artifact.NewResolver(client),
		deliverer: artifact.NewDelivererFromConfig(cfg, client, logger),
		done:      make(chan struct{}),
	}
	s.previews = preview.New(client, slot, preview.Options{
		Debounce: cfg.PreviewDebounce(),
		Timeout:  cfg.PreviewTimeout(),
	}, logger)
	s.jobs = job.NewCoordinator(manager, client, slot, job.Options{
		SubmitTimeout: cfg.SubmitTimeout(),
		CancelConfirm: cfg.CancelConfirmWindow(),
	}, logger)

	if !opts.NoHistory {
		store, err := history.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		s.history = store
		s.recorder = history.NewRecorder(store, logger)
		s.jobs.AddObserver(s.recorder)
	}
	s.jobs.AddObserver(notifications.NewNotifier(notifications.NewService(cfg), logger))
	for _, o := range opts.Observers {
		s.jobs.AddObserver(o)
	}
	return s, nil
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	err := s.jobs.Run(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logging.ErrorWithContext(s.logger, "session lost its worker connection", "session_fatal",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart reelgrab once the worker is reachable"),
		)
	}
	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
}

// Close stops the channel, waits for the dispatcher, and releases the lock.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.previews.Close()
	s.cancel()
	err := s.manager.Close()
	<-s.done
	s.release()
	s.logger.Info("session closed")
	return err
}

func (s *Session) release() {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.Warn("failed to close history", logging.Error(err))
		}
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release session lock", logging.Error(err))
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Done is closed when the dispatcher stops, either after Close or when the
// channel gave up reconnecting.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// Client returns the worker client.
func (s *Session) Client() *worker.Client {
	return s.client
}

// History returns the history store, or nil when disabled.
func (s *Session) History() *history.Store {
	return s.history
}

// Subscribe adds an observer for job and connection changes.
func (s *Session) Subscribe(o job.Observer) {
	s.jobs.AddObserver(o)
}

// OnPreview registers fn to receive preview state changes.
func (s *Session) OnPreview(fn func(preview.State)) {
	s.previews.OnChange(fn)
}

// WaitConnected blocks until the push channel is connected.
func (s *Session) WaitConnected(ctx context.Context) error {
	return s.manager.WaitFor(ctx, channel.Connected)
}

// Connection returns the push channel state.
func (s *Session) Connection() channel.State {
	return s.manager.State()
}

// Transport returns the name of the connected push transport.
func (s *Session) Transport() string {
	return s.manager.TransportName()
}

// URL returns the current URL and its platform.
func (s *Session) URL() (string, platform.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.platform
}

// SetURL records an edit of the URL field. A changed URL supersedes the
// tracked job and any submission still in flight, then schedules a debounced
// preview. An empty URL clears the preview and the job.
func (s *Session) SetURL(ctx context.Context, raw string) platform.Platform {
	raw = strings.TrimSpace(raw)
	kind, _ := platform.Classify(raw)

	s.mu.Lock()
	changed := raw != s.url
	s.url = raw
	s.platform = kind
	s.mu.Unlock()

	if !changed {
		return kind
	}
	if s.slot.Busy(flight.KindSubmit) {
		s.slot.Abort()
	}
	if current, ok := s.jobs.Current(); ok && current.SourceURL != raw {
		s.jobs.Reset(ctx)
	}
	if raw == "" {
		s.previews.Clear()
		return kind
	}
	s.previews.Trigger(ctx, raw)
	return kind
}

// FetchPreview looks up the current URL immediately.
func (s *Session) FetchPreview(ctx context.Context) (preview.State, error) {
	raw, _ := s.URL()
	return s.previews.FetchNow(ctx, raw)
}

// Preview returns the preview state.
func (s *Session) Preview() preview.State {
	return s.previews.State()
}

// SelectQuality records the user's quality choice.
func (s *Session) SelectQuality(quality string) error {
	return s.previews.Select(quality)
}

// ActionState derives the primary action from the session state.
func (s *Session) ActionState() Action {
	raw, kind := s.URL()
	st := s.previews.State()
	loading := st.Loading || (raw != "" && kind != platform.None && st.URL != raw)
	return DeriveAction(Inputs{
		Processing: s.jobs.Processing(),
		Loading:    loading,
		Connection: s.manager.State(),
		Platform:   kind,
	})
}

// Download submits the current URL as a kind job using the preview's quality.
func (s *Session) Download(ctx context.Context, kind job.Kind) (job.Job, error) {
	raw, p := s.URL()
	if raw == "" {
		return job.Job{}, services.Wrap(services.ErrInput, "session", "download", job.MsgEnterURL, nil)
	}
	switch s.ActionState() {
	case ActionProcessing:
		return job.Job{}, services.Wrap(services.ErrInput, "session", "download", MsgDownloadInFlight, nil)
	case ActionLoading:
		return job.Job{}, services.Wrap(services.ErrInput, "session", "download", MsgPreviewLoading, nil)
	case ActionNoPlatform:
		return job.Job{}, services.Wrap(services.ErrInput, "session", "download", MsgUnsupportedURL, nil)
	}

	st := s.previews.State()
	req := job.Request{URL: raw, Platform: p, Kind: kind}
	if st.URL == raw {
		req.Quality = st.Quality
		req.Ladder = st.Ladder()
		if kind == job.KindAudio && st.Preview != nil && !AudioAvailable(st) {
			return job.Job{}, services.Wrap(services.ErrInput, "session", "download", MsgAudioUnavailable, nil)
		}
	}

	s.mu.Lock()
	s.submitted = raw
	s.mu.Unlock()
	return s.jobs.Submit(ctx, req)
}

// LastSubmittedURL returns the URL of the most recent submission.
func (s *Session) LastSubmittedURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Current returns the tracked job.
func (s *Session) Current() (job.Job, bool) {
	return s.jobs.Current()
}

// Cancel asks the worker to stop the tracked job.
func (s *Session) Cancel(ctx context.Context) error {
	return s.jobs.Cancel(ctx)
}

// Reset clears the URL, the preview, and the tracked job.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	s.url = ""
	s.platform = platform.None
	s.mu.Unlock()
	if s.slot.Busy(flight.KindSubmit) {
		s.slot.Abort()
	}
	s.previews.Clear()
	s.jobs.Reset(ctx)
}

// Resolve lists the artifacts of the completed tracked job.
func (s *Session) Resolve() (artifact.Resolution, error) {
	current, ok := s.jobs.Current()
	if !ok {
		return artifact.Resolution{}, services.Wrap(services.ErrInput, "session", "resolve", MsgNothingToDownload, nil)
	}
	return s.resolver.Resolve(current, current.Kind)
}

// Save delivers the primary artifact, or every artifact when all is set.
func (s *Session) Save(ctx context.Context, all bool) ([]artifact.Delivered, error) {
	res, err := s.Resolve()
	if err != nil {
		return nil, err
	}
	if !all {
		saved, err := s.deliverer.Deliver(ctx, res.Primary)
		if err != nil {
			return nil, err
		}
		return []artifact.Delivered{saved}, nil
	}
	return s.deliverer.DeliverAll(ctx, res.All)
}

// SaveZip delivers the worker-built archive of the job's downloaded files.
func (s *Session) SaveZip(ctx context.Context) (artifact.Delivered, error) {
	current, ok := s.jobs.Current()
	if !ok || current.Status != job.StatusCompleted {
		return artifact.Delivered{}, services.Wrap(services.ErrInput, "session", "zip", MsgNothingToDownload, nil)
	}
	return s.deliverer.DeliverZip(ctx, s.resolver, current.Platform, current.Artifacts.DownloadedFiles)
}

// Bundle fetches the media-plus-metadata archive for the current URL. It is
// not tracked as a job.
func (s *Session) Bundle(ctx context.Context) (artifact.Delivered, error) {
	raw, p := s.URL()
	if raw == "" {
		return artifact.Delivered{}, services.Wrap(services.ErrInput, "session", "bundle", job.MsgEnterURL, nil)
	}
	if p == platform.None {
		return artifact.Delivered{}, services.Wrap(services.ErrInput, "session", "bundle", MsgUnsupportedURL, nil)
	}
	return s.deliverer.FetchMetadataBundle(ctx, raw, p)
}

// Bundling reports whether a metadata bundle is being fetched.
func (s *Session) Bundling() bool {
	return s.deliverer.Bundling()
}

// Resolver exposes the artifact URL helpers.
func (s *Session) Resolver() *artifact.Resolver {
	return s.resolver
}
