package channel_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"reelgrab/internal/channel"
	"reelgrab/internal/services"
)

type memConn struct {
	in     chan channel.Frame
	sent   chan channel.Frame
	closed chan struct{}
	once   sync.Once
}

func newMemConn() *memConn {
	return &memConn{
		in:     make(chan channel.Frame, 16),
		sent:   make(chan channel.Frame, 64),
		closed: make(chan struct{}),
	}
}

func (c *memConn) Send(ctx context.Context, frame channel.Frame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.sent <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *memConn) Receive(ctx context.Context) (channel.Frame, error) {
	select {
	case frame := <-c.in:
		return frame, nil
	case <-c.closed:
		return channel.Frame{}, io.EOF
	case <-ctx.Done():
		return channel.Frame{}, ctx.Err()
	}
}

func (c *memConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type memTransport struct {
	name  string
	fail  func(n int) bool
	mu    sync.Mutex
	dials int
	conns chan *memConn
}

func newMemTransport(name string) *memTransport {
	return &memTransport{name: name, conns: make(chan *memConn, 16)}
}

func (t *memTransport) Name() string { return t.name }

func (t *memTransport) Dial(ctx context.Context) (channel.Conn, error) {
	t.mu.Lock()
	t.dials++
	n := t.dials
	t.mu.Unlock()
	if t.fail != nil && t.fail(n) {
		return nil, errors.New("connection refused")
	}
	conn := newMemConn()
	t.conns <- conn
	return conn, nil
}

func fastOptions(transports ...channel.Transport) channel.Options {
	return channel.Options{
		Transports:        transports,
		ReconnectAttempts: 3,
		ReconnectDelay:    5 * time.Millisecond,
		ReconnectMaxDelay: 10 * time.Millisecond,
		ConnectTimeout:    time.Second,
	}
}

func nextEvent(t *testing.T, events <-chan channel.Event) channel.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func waitState(t *testing.T, events <-chan channel.Event, want channel.State) channel.StateEvent {
	t.Helper()
	for {
		if ev, ok := nextEvent(t, events).(channel.StateEvent); ok && ev.State == want {
			return ev
		}
	}
}

func nextSent(t *testing.T, conn *memConn) channel.Frame {
	t.Helper()
	select {
	case frame := <-conn.sent:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound frame")
	}
	return channel.Frame{}
}

func takeConn(t *testing.T, transport *memTransport) *memConn {
	t.Helper()
	select {
	case conn := <-transport.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for dial")
	}
	return nil
}

func TestManagerDeliversJobUpdates(t *testing.T) {
	transport := newMemTransport("mem")
	mgr := channel.NewManager(fastOptions(transport), nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close()

	if ev := nextEvent(t, mgr.Events()).(channel.StateEvent); ev.State != channel.Connecting {
		t.Fatalf("expected connecting first, got %v", ev.State)
	}
	connected := waitState(t, mgr.Events(), channel.Connected)
	if connected.Transport != "mem" {
		t.Fatalf("unexpected transport %q", connected.Transport)
	}
	conn := takeConn(t, transport)

	if err := mgr.Join(context.Background(), "j1"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	join := nextSent(t, conn)
	var room channel.RoomPayload
	if join.Event != channel.EventJoin || join.Decode(&room) != nil || room.DownloadID != "j1" {
		t.Fatalf("unexpected join frame %+v", join)
	}

	conn.in <- channel.Frame{Event: channel.EventPong}
	update, _ := channel.NewFrame(channel.EventDownloadUpdate, map[string]any{
		"download_id": "j1",
		"session":     map[string]any{"status": "downloading", "progress": 42.5, "current_speed": 2048},
	})
	conn.in <- update

	ev, ok := nextEvent(t, mgr.Events()).(channel.JobUpdateEvent)
	if !ok {
		t.Fatal("pong must not surface as an event")
	}
	if ev.JobID != "j1" || ev.Snapshot.Status != "downloading" || ev.Snapshot.Progress != 42.5 {
		t.Fatalf("unexpected update %+v", ev)
	}
}

func TestManagerRejoinsRoomAfterReconnect(t *testing.T) {
	transport := newMemTransport("mem")
	mgr := channel.NewManager(fastOptions(transport), nil)
	if err := mgr.Join(context.Background(), "j1"); err != nil {
		t.Fatalf("Join before start: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close()

	waitState(t, mgr.Events(), channel.Connected)
	first := takeConn(t, transport)
	if frame := nextSent(t, first); frame.Event != channel.EventJoin {
		t.Fatalf("expected deferred join on connect, got %q", frame.Event)
	}

	first.Close()
	reconnecting := waitState(t, mgr.Events(), channel.Reconnecting)
	if reconnecting.Attempt != 1 {
		t.Fatalf("expected first reconnect attempt, got %d", reconnecting.Attempt)
	}
	waitState(t, mgr.Events(), channel.Connected)
	second := takeConn(t, transport)
	frame := nextSent(t, second)
	var room channel.RoomPayload
	if frame.Event != channel.EventJoin || frame.Decode(&room) != nil || room.DownloadID != "j1" {
		t.Fatalf("expected rejoin of j1, got %+v", frame)
	}
}

func TestManagerGivesUpAfterAttempts(t *testing.T) {
	transport := newMemTransport("mem")
	transport.fail = func(int) bool { return true }
	opts := fastOptions(transport)
	opts.ReconnectAttempts = 2
	mgr := channel.NewManager(opts, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close()

	final := waitState(t, mgr.Events(), channel.Disconnected)
	if !errors.Is(final.Err, services.ErrConnectionLost) || !services.IsFatal(final.Err) {
		t.Fatalf("expected fatal connection loss, got %v", final.Err)
	}
	if _, ok := <-mgr.Events(); ok {
		t.Fatal("event stream should close after giving up")
	}
	transport.mu.Lock()
	dials := transport.dials
	transport.mu.Unlock()
	if dials != 3 {
		t.Fatalf("expected initial dial plus 2 retries, got %d", dials)
	}
	if err := mgr.WaitFor(context.Background(), channel.Connected); !errors.Is(err, services.ErrConnectionLost) {
		t.Fatalf("WaitFor after loss = %v", err)
	}
}

func TestManagerFallsBackToNextTransport(t *testing.T) {
	broken := newMemTransport("websocket")
	broken.fail = func(int) bool { return true }
	fallback := newMemTransport("polling")
	mgr := channel.NewManager(fastOptions(broken, fallback), nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close()

	connected := waitState(t, mgr.Events(), channel.Connected)
	if connected.Transport != "polling" || mgr.TransportName() != "polling" {
		t.Fatalf("expected polling fallback, got %q", connected.Transport)
	}
}

func TestManagerSendsHeartbeats(t *testing.T) {
	transport := newMemTransport("mem")
	opts := fastOptions(transport)
	opts.HeartbeatInterval = 10 * time.Millisecond
	mgr := channel.NewManager(opts, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close()

	conn := takeConn(t, transport)
	for i := 0; i < 2; i++ {
		if frame := nextSent(t, conn); frame.Event != channel.EventPing {
			t.Fatalf("expected ping, got %q", frame.Event)
		}
	}
}

func TestCancelJobRequiresConnection(t *testing.T) {
	mgr := channel.NewManager(fastOptions(newMemTransport("mem")), nil)
	err := mgr.CancelJob(context.Background(), "j1")
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestWaitForConnected(t *testing.T) {
	transport := newMemTransport("mem")
	mgr := channel.NewManager(fastOptions(transport), nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close()
	go func() {
		for range mgr.Events() {
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.WaitFor(ctx, channel.Connected); err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
	if mgr.State() != channel.Connected {
		t.Fatalf("unexpected state %v", mgr.State())
	}
}

func TestManagerReportsReconnectingDuringBackoff(t *testing.T) {
	transport := newMemTransport("mem")
	opts := fastOptions(transport)
	opts.ReconnectDelay = 500 * time.Millisecond
	opts.ReconnectMaxDelay = 500 * time.Millisecond
	mgr := channel.NewManager(opts, nil)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close()

	waitState(t, mgr.Events(), channel.Connected)
	conn := takeConn(t, transport)
	conn.Close()

	reconnecting := waitState(t, mgr.Events(), channel.Reconnecting)
	if reconnecting.Attempt != 1 || reconnecting.Err == nil {
		t.Fatalf("expected attempt 1 with cause, got %+v", reconnecting)
	}
	time.Sleep(100 * time.Millisecond)
	if state := mgr.State(); state != channel.Reconnecting {
		t.Fatalf("state during backoff = %v, want reconnecting", state)
	}
	if name := mgr.TransportName(); name != "" {
		t.Fatalf("transport during backoff = %q, want none", name)
	}
	if err := mgr.CancelJob(context.Background(), "j1"); !errors.Is(err, services.ErrTransport) {
		t.Fatalf("CancelJob during backoff = %v, want transport error", err)
	}

	waitState(t, mgr.Events(), channel.Connected)
}
