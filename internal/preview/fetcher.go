// Package preview resolves metadata for the URL being edited: a trailing
// debounce collapses keystrokes into one lookup, and a newer lookup aborts the
// older one so late responses never overwrite fresher state.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"reelgrab/internal/flight"
	"reelgrab/internal/logging"
	"reelgrab/internal/platform"
	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
)

// Highest is the quality sentinel used when the worker offers no ladder.
const Highest = "highest"

// ErrSuperseded reports that a newer lookup or an edit replaced the request.
var ErrSuperseded = errors.New("preview superseded")

// Source fetches preview metadata.
type Source interface {
	Preview(ctx context.Context, rawURL string) (worker.Preview, error)
}

// Options tune a Fetcher.
type Options struct {
	Debounce time.Duration
	Timeout  time.Duration
}

// State is a snapshot of the preview pane.
type State struct {
	URL      string
	Platform platform.Platform
	Loading  bool
	Preview  *worker.Preview
	Error    string
	// Quality is the selection a submission will use. Empty means the user
	// must choose one before downloading.
	Quality string
	// Explicit is true when the user picked Quality for URL.
	Explicit bool
}

// Ladder returns the qualities offered for the current preview.
func (s State) Ladder() []string {
	if s.Preview == nil {
		return nil
	}
	return s.Preview.AvailableQualities
}

// Fetcher owns the preview state for one session.
type Fetcher struct {
	source   Source
	slot     *flight.Slot
	debounce time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	state    State
	target   string
	timer    *time.Timer
	pending  uint64
	onChange func(State)
}

// New constructs a Fetcher. Preview lookups share slot with job submissions.
func New(source Source, slot *flight.Slot, opts Options, logger *slog.Logger) *Fetcher {
	if slot == nil {
		slot = &flight.Slot{}
	}
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Fetcher{
		source:   source,
		slot:     slot,
		debounce: opts.Debounce,
		timeout:  opts.Timeout,
		logger:   logging.NewComponentLogger(logger, "preview"),
	}
}

// OnChange registers fn to receive every state change. fn runs on the
// goroutine that caused the change and must not call back into the Fetcher
// synchronously.
func (f *Fetcher) OnChange(fn func(State)) {
	f.mu.Lock()
	f.onChange = fn
	f.mu.Unlock()
}

// State returns the current preview state.
func (f *Fetcher) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Trigger schedules a lookup for rawURL after the debounce interval, replacing
// any lookup still waiting. An empty URL clears the preview immediately.
func (f *Fetcher) Trigger(ctx context.Context, rawURL string) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		f.Clear()
		return
	}
	f.mu.Lock()
	f.target = rawURL
	f.stopTimerLocked()
	f.pending++
	gen := f.pending
	f.timer = time.AfterFunc(f.debounce, func() {
		f.mu.Lock()
		fire := gen == f.pending
		f.mu.Unlock()
		if !fire {
			return
		}
		if _, err := f.FetchNow(ctx, rawURL); err != nil && !errors.Is(err, ErrSuperseded) {
			f.logger.Debug("debounced preview failed", logging.Args(logging.ErrorAttrs(err)...)...)
		}
	})
	f.mu.Unlock()
}

// FetchNow looks up rawURL immediately, cancelling a pending debounce and any
// request still in flight.
func (f *Fetcher) FetchNow(ctx context.Context, rawURL string) (State, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		f.Clear()
		return f.State(), nil
	}
	kind, _ := platform.Classify(rawURL)

	f.mu.Lock()
	f.stopTimerLocked()
	f.pending++
	f.target = rawURL
	if f.state.URL != rawURL {
		f.state = State{URL: rawURL}
	}
	f.state.Platform = kind
	f.state.Loading = true
	f.state.Error = ""
	f.mu.Unlock()
	f.notify()

	reqCtx, ticket := f.slot.Begin(ctx, flight.KindPreview, rawURL)
	defer ticket.Release()
	reqCtx, cancel := context.WithTimeout(reqCtx, f.timeout)
	defer cancel()

	f.logger.Debug("preview lookup", logging.String(logging.FieldPlatform, kind.String()), logging.String("url", rawURL))
	result, err := f.source.Preview(reqCtx, rawURL)

	f.mu.Lock()
	current := ticket.Current()
	if f.target != rawURL || (!current && f.slot.Busy(flight.KindPreview)) {
		f.mu.Unlock()
		return f.State(), ErrSuperseded
	}
	if !current || (err != nil && errors.Is(err, context.Canceled)) {
		f.state.Loading = false
		f.mu.Unlock()
		f.notify()
		return f.State(), ErrSuperseded
	}
	f.state.Loading = false
	if err != nil {
		f.state.Preview = nil
		f.state.Quality = ""
		f.state.Explicit = false
		f.state.Error = failureMessage(err)
		state := f.state
		f.mu.Unlock()
		f.notify()
		f.logger.Warn("preview failed",
			logging.Args(append(logging.ErrorAttrs(err),
				logging.String(logging.FieldPlatform, kind.String()),
				logging.String(logging.FieldEventType, "preview_failed"),
			)...)...)
		return state, err
	}
	f.state.Preview = &result
	f.state.Error = ""
	f.applyLadderLocked(result.AvailableQualities)
	state := f.state
	f.mu.Unlock()
	f.notify()
	f.logger.Info("preview ready",
		logging.String(logging.FieldPlatform, kind.String()),
		logging.String("title", result.Title),
		logging.Int("qualities", len(result.AvailableQualities)),
		logging.Int("media_items", len(result.Media)),
	)
	return state, nil
}

// applyLadderLocked defaults the quality to the first ladder entry (or Highest
// without a ladder) and drops an explicit selection the ladder no longer offers.
func (f *Fetcher) applyLadderLocked(ladder []string) {
	if f.state.Explicit {
		if slices.Contains(ladder, f.state.Quality) {
			return
		}
		f.logger.Info("selected quality no longer offered",
			logging.String("quality", f.state.Quality),
			logging.String(logging.FieldEventType, "quality_selection_cleared"),
		)
		f.state.Quality = ""
		f.state.Explicit = false
		return
	}
	if len(ladder) > 0 {
		f.state.Quality = ladder[0]
		return
	}
	f.state.Quality = Highest
}

// Select records the user's quality choice for the current preview.
func (f *Fetcher) Select(quality string) error {
	quality = strings.TrimSpace(quality)
	f.mu.Lock()
	ladder := f.state.Ladder()
	switch {
	case len(ladder) > 0 && !slices.Contains(ladder, quality):
		f.mu.Unlock()
		return services.Wrap(services.ErrInput, "preview", "select quality",
			fmt.Sprintf("Quality %s is not available", displayQuality(quality)), nil)
	case len(ladder) == 0 && quality != Highest:
		f.mu.Unlock()
		return services.Wrap(services.ErrInput, "preview", "select quality",
			"This source has no quality options", nil)
	}
	f.state.Quality = quality
	f.state.Explicit = true
	f.mu.Unlock()
	f.notify()
	return nil
}

// Clear drops the preview and aborts any pending or in-flight lookup.
func (f *Fetcher) Clear() {
	f.mu.Lock()
	f.stopTimerLocked()
	f.pending++
	f.target = ""
	f.state = State{}
	f.mu.Unlock()
	if f.slot.Busy(flight.KindPreview) {
		f.slot.Abort()
	}
	f.notify()
}

// Close stops the debounce timer.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.stopTimerLocked()
	f.pending++
	f.mu.Unlock()
}

func (f *Fetcher) stopTimerLocked() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *Fetcher) notify() {
	f.mu.Lock()
	fn := f.onChange
	state := f.state
	f.mu.Unlock()
	if fn != nil {
		fn(state)
	}
}

func failureMessage(err error) string {
	if msg := services.UserMessage(err); msg != "" {
		return msg
	}
	return worker.MsgPreviewFailed
}

func displayQuality(q string) string {
	if q == "" {
		return `""`
	}
	return q
}
