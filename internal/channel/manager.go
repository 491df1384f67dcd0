package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"reelgrab/internal/config"
	"reelgrab/internal/logging"
	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
)

// Conn is an established push connection.
type Conn interface {
	Send(ctx context.Context, frame Frame) error
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Transport dials push connections.
type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// Options configure a Manager.
type Options struct {
	Transports        []Transport
	HeartbeatInterval time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	ReconnectMaxDelay time.Duration
	ConnectTimeout    time.Duration
}

// Manager owns the push connection lifecycle.
type Manager struct {
	opts   Options
	logger *slog.Logger
	events chan Event

	mu        sync.Mutex
	state     State
	transport string
	conn      Conn
	room      string
	changed   chan struct{}
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}

	sendMu sync.Mutex
}

// NewManager constructs a Manager. Start must be called before use.
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.ReconnectMaxDelay < opts.ReconnectDelay {
		opts.ReconnectMaxDelay = opts.ReconnectDelay
	}
	if opts.ReconnectAttempts < 0 {
		opts.ReconnectAttempts = 0
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 20 * time.Second
	}
	return &Manager{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "channel"),
		events:  make(chan Event, 64),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// NewFromConfig builds a Manager with the transports listed in [channel].
func NewFromConfig(cfg *config.Config, client *worker.Client, logger *slog.Logger) (*Manager, error) {
	if cfg == nil || client == nil {
		return nil, errors.New("channel manager requires configuration and a worker client")
	}
	transports := make([]Transport, 0, len(cfg.Channel.Transports))
	for _, name := range cfg.Channel.Transports {
		switch name {
		case config.TransportWebSocket:
			transports = append(transports, NewWebSocket(client))
		case config.TransportPolling:
			transports = append(transports, NewPolling(client, cfg.PollWait()))
		default:
			return nil, fmt.Errorf("unknown channel transport %q", name)
		}
	}
	initial, maxDelay := cfg.ReconnectDelay()
	return NewManager(Options{
		Transports:        transports,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		ReconnectAttempts: cfg.Channel.ReconnectAttempts,
		ReconnectDelay:    initial,
		ReconnectMaxDelay: maxDelay,
		ConnectTimeout:    cfg.ConnectTimeout(),
	}, logger), nil
}

// Start launches the connection loop. It returns immediately; progress is
// reported through Events. Start may only be called once.
func (m *Manager) Start(ctx context.Context) error {
	if len(m.opts.Transports) == 0 {
		return errors.New("channel manager has no transports")
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("channel manager already started")
	}
	m.started = true
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Close stops the connection loop and waits for it to exit. The Events
// channel is closed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-m.done
	return nil
}

// Events returns the event stream. It is closed when the Manager stops.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// TransportName returns the transport of the live connection, if any.
func (m *Manager) TransportName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// Room returns the job room re-joined on every connect.
func (m *Manager) Room() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.room
}

// WaitFor blocks until the connection reaches want or ctx ends. It returns
// services.ErrConnectionLost when the Manager stops first.
func (m *Manager) WaitFor(ctx context.Context, want State) error {
	for {
		m.mu.Lock()
		state := m.state
		changed := m.changed
		m.mu.Unlock()
		if state == want {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			if m.State() == want {
				return nil
			}
			return services.ErrConnectionLost
		case <-changed:
		}
	}
}

// Join subscribes to the job room and remembers it for re-joins. When the
// connection is down the join is deferred to the next connect.
func (m *Manager) Join(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return services.Wrap(services.ErrInput, "channel", "join", "", errors.New("job id is required"))
	}
	m.mu.Lock()
	m.room = jobID
	connected := m.state == Connected
	m.mu.Unlock()
	if !connected {
		m.logger.Debug("join deferred until connected", logging.String(logging.FieldJobID, jobID))
		return nil
	}
	return m.emit(ctx, EventJoin, RoomPayload{DownloadID: jobID})
}

// Leave stops re-joining the tracked room and tells the worker when connected.
func (m *Manager) Leave(ctx context.Context) error {
	m.mu.Lock()
	room := m.room
	m.room = ""
	connected := m.state == Connected
	m.mu.Unlock()
	if room == "" || !connected {
		return nil
	}
	return m.emit(ctx, EventLeave, RoomPayload{DownloadID: room})
}

// CancelJob asks the worker to cancel jobID.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	if m.State() != Connected {
		return services.Wrap(services.ErrTransport, "channel", "cancel", "Not connected to server", nil)
	}
	return m.emit(ctx, EventCancel, RoomPayload{DownloadID: jobID})
}

func (m *Manager) emit(ctx context.Context, event string, data any) error {
	frame, err := NewFrame(event, data)
	if err != nil {
		return err
	}
	return m.send(ctx, frame)
}

func (m *Manager) send(ctx context.Context, frame Frame) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return services.Wrap(services.ErrTransport, "channel", frame.Event, "Not connected to server", nil)
	}
	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	if err := conn.Send(ctx, frame); err != nil {
		return services.Wrap(services.ErrTransport, "channel", frame.Event, "", err)
	}
	return nil
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)
	defer close(m.events)

	attempt := 0
	m.setState(ctx, StateEvent{State: Connecting})
	for {
		conn, name, err := m.dial(ctx)
		if err == nil {
			attempt = 0
			err = m.serve(ctx, conn, name)
		}
		if ctx.Err() != nil {
			m.setState(ctx, StateEvent{State: Disconnected})
			return
		}

		attempt++
		if attempt > m.opts.ReconnectAttempts {
			lost := fmt.Errorf("%w: %d reconnection attempts failed: %v", services.ErrConnectionLost, m.opts.ReconnectAttempts, err)
			logging.ErrorWithContext(m.logger, "push channel lost", "connection_lost",
				logging.Error(lost),
				logging.String(logging.FieldErrorHint, "check that the worker is running and reachable"),
			)
			m.setState(ctx, StateEvent{State: Disconnected, Attempt: attempt - 1, Err: lost})
			return
		}

		// Leave Connected before sleeping so submissions are refused for
		// the whole backoff.
		m.setState(ctx, StateEvent{State: Reconnecting, Attempt: attempt, Err: err})

		delay := m.backoff(attempt)
		logging.WarnWithContext(m.logger, "push channel interrupted", "connection_retry",
			logging.Error(err),
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", m.opts.ReconnectAttempts),
			logging.Duration("retry_in", delay),
			logging.String(logging.FieldImpact, "job progress paused until reconnected"),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.setState(ctx, StateEvent{State: Disconnected})
			return
		case <-timer.C:
		}
	}
}

// backoff returns the delay before reconnection attempt n (1-based).
func (m *Manager) backoff(n int) time.Duration {
	delay := m.opts.ReconnectDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= m.opts.ReconnectMaxDelay {
			return m.opts.ReconnectMaxDelay
		}
	}
	return min(delay, m.opts.ReconnectMaxDelay)
}

// dial tries each transport in order and returns the first connection.
func (m *Manager) dial(ctx context.Context) (Conn, string, error) {
	var errs []error
	for _, transport := range m.opts.Transports {
		dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
		conn, err := transport.Dial(dialCtx)
		cancel()
		if err == nil {
			return conn, transport.Name(), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		m.logger.Debug("transport dial failed",
			logging.String(logging.FieldTransport, transport.Name()),
			logging.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", transport.Name(), err))
	}
	return nil, "", errors.Join(errs...)
}

// serve runs one connection until it fails or ctx ends.
func (m *Manager) serve(ctx context.Context, conn Conn, name string) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	m.conn = conn
	m.transport = name
	room := m.room
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.transport = ""
		m.mu.Unlock()
		_ = conn.Close()
	}()

	m.setState(ctx, StateEvent{State: Connected, Transport: name})
	m.logger.Info("push channel connected", logging.String(logging.FieldTransport, name))

	if room != "" {
		if err := m.emit(connCtx, EventJoin, RoomPayload{DownloadID: room}); err != nil {
			return fmt.Errorf("rejoin %s: %w", room, err)
		}
		m.logger.Debug("rejoined job room", logging.String(logging.FieldJobID, room))
	}

	var heartbeatErr error
	var wg sync.WaitGroup
	if m.opts.HeartbeatInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(m.opts.HeartbeatInterval)
			defer ticker.Stop()
			for {
				select {
				case <-connCtx.Done():
					return
				case <-ticker.C:
					if err := m.send(connCtx, Frame{Event: EventPing}); err != nil {
						if connCtx.Err() == nil {
							heartbeatErr = err
						}
						cancel()
						return
					}
				}
			}
		}()
	}

	var err error
	for {
		var frame Frame
		frame, err = conn.Receive(connCtx)
		if err != nil {
			break
		}
		m.dispatch(ctx, frame)
	}
	cancel()
	wg.Wait()
	if heartbeatErr != nil {
		return fmt.Errorf("heartbeat: %w", heartbeatErr)
	}
	return err
}

func (m *Manager) dispatch(ctx context.Context, frame Frame) {
	switch frame.Event {
	case EventDownloadUpdate:
		var payload UpdatePayload
		if err := frame.Decode(&payload); err != nil {
			m.logger.Warn("malformed job update", logging.Error(err), logging.String(logging.FieldEventType, "frame_malformed"))
			return
		}
		m.publish(ctx, JobUpdateEvent{JobID: payload.DownloadID, Snapshot: payload.Session})
	case EventPong:
		m.logger.Debug("heartbeat acknowledged")
	case EventConnectionResponse:
		var payload struct {
			Message string `json:"message"`
		}
		_ = frame.Decode(&payload)
		m.logger.Debug("worker greeted connection", logging.String("message", payload.Message))
	default:
		m.logger.Debug("ignoring frame", logging.String("event", frame.Event))
	}
}

func (m *Manager) setState(ctx context.Context, ev StateEvent) {
	m.mu.Lock()
	m.state = ev.State
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()
	m.publish(ctx, ev)
}

// publish delivers ev, waiting for buffer space only while ctx is live.
func (m *Manager) publish(ctx context.Context, ev Event) {
	select {
	case m.events <- ev:
		return
	default:
	}
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}
