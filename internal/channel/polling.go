package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"reelgrab/internal/config"
	"reelgrab/internal/services/worker"
)

// Long-poll endpoints.
const (
	PollConnectPath    = "/api/channel/connect"
	PollEventsPath     = "/api/channel/events"
	PollEmitPath       = "/api/channel/emit"
	PollDisconnectPath = "/api/channel/disconnect"
)

// ErrSessionExpired reports that the worker no longer knows the poll session.
var ErrSessionExpired = errors.New("poll session expired")

// PollBatch is the response of the events endpoint.
type PollBatch struct {
	Events []Frame `json:"events"`
	Next   uint64  `json:"next"`
}

// PollEmit is the body of the emit endpoint.
type PollEmit struct {
	SID   string          `json:"sid"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Polling emulates a push connection with HTTP long-polls.
type Polling struct {
	client *worker.Client
	wait   time.Duration
}

// NewPolling returns a long-poll transport. wait bounds each poll on the
// worker side.
func NewPolling(client *worker.Client, wait time.Duration) *Polling {
	if wait <= 0 {
		wait = 25 * time.Second
	}
	return &Polling{client: client, wait: wait}
}

func (t *Polling) Name() string {
	return config.TransportPolling
}

func (t *Polling) Dial(ctx context.Context) (Conn, error) {
	var session struct {
		SID string `json:"sid"`
	}
	if err := t.post(ctx, PollConnectPath, struct{}{}, &session); err != nil {
		return nil, err
	}
	if session.SID == "" {
		return nil, errors.New("poll connect returned no session id")
	}
	return &pollConn{transport: t, sid: session.SID}, nil
}

func (t *Polling) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.client.URL(path, nil), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := pollStatus(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func pollStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrSessionExpired
	case resp.StatusCode >= 300:
		return fmt.Errorf("poll endpoint %s returned %d", resp.Request.URL.Path, resp.StatusCode)
	}
	return nil
}

type pollConn struct {
	transport *Polling
	sid       string

	mu      sync.Mutex
	since   uint64
	pending []Frame
}

func (c *pollConn) Send(ctx context.Context, frame Frame) error {
	return c.transport.post(ctx, PollEmitPath, PollEmit{SID: c.sid, Event: frame.Event, Data: frame.Data}, nil)
}

func (c *pollConn) Receive(ctx context.Context) (Frame, error) {
	for {
		c.mu.Lock()
		if len(c.pending) > 0 {
			frame := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			return frame, nil
		}
		since := c.since
		c.mu.Unlock()

		batch, err := c.poll(ctx, since)
		if err != nil {
			return Frame{}, err
		}
		c.mu.Lock()
		c.pending = append(c.pending, batch.Events...)
		if batch.Next > c.since {
			c.since = batch.Next
		}
		c.mu.Unlock()
	}
}

func (c *pollConn) poll(ctx context.Context, since uint64) (PollBatch, error) {
	query := url.Values{}
	query.Set("sid", c.sid)
	query.Set("since", strconv.FormatUint(since, 10))
	query.Set("wait", strconv.Itoa(int(c.transport.wait/time.Second)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.transport.client.URL(PollEventsPath, query), nil)
	if err != nil {
		return PollBatch{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.transport.client.Do(req)
	if err != nil {
		return PollBatch{}, err
	}
	defer resp.Body.Close()
	if err := pollStatus(resp); err != nil {
		return PollBatch{}, err
	}
	var batch PollBatch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return PollBatch{}, fmt.Errorf("decode poll batch: %w", err)
	}
	return batch, nil
}

func (c *pollConn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return c.transport.post(ctx, PollDisconnectPath, map[string]string{"sid": c.sid}, nil)
}
