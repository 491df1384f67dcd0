package channel

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"reelgrab/internal/config"
	"reelgrab/internal/services/worker"
)

// WebSocketPath is the worker's push endpoint.
const WebSocketPath = "/api/channel/ws"

const maxFrameBytes = 1 << 20

// WebSocket dials the worker's push endpoint.
type WebSocket struct {
	endpoint string
	token    string
}

// NewWebSocket returns a transport for the worker behind client.
func NewWebSocket(client *worker.Client) *WebSocket {
	return &WebSocket{
		endpoint: client.URL(WebSocketPath, nil),
		token:    client.Token(),
	}
}

func (t *WebSocket) Name() string {
	return config.TransportWebSocket
}

func (t *WebSocket) Dial(ctx context.Context) (Conn, error) {
	header := http.Header{}
	if t.token != "" {
		header.Set("Authorization", "Bearer "+t.token)
	}
	c, resp, err := websocket.Dial(ctx, t.endpoint, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake returned %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	c.SetReadLimit(maxFrameBytes)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) Send(ctx context.Context, frame Frame) error {
	return wsjson.Write(ctx, w.c, frame)
}

func (w *wsConn) Receive(ctx context.Context) (Frame, error) {
	var frame Frame
	if err := wsjson.Read(ctx, w.c, &frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "")
}
