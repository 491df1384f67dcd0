package channel

import (
	"encoding/json"
	"fmt"

	"reelgrab/internal/services/worker"
)

// Frame event names.
const (
	EventJoin               = "join"
	EventLeave              = "leave"
	EventCancel             = "cancel_download"
	EventPing               = "ping"
	EventPong               = "pong"
	EventDownloadUpdate     = "download_update"
	EventConnectionResponse = "connection_response"
)

// Frame is one message on the push channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomPayload addresses a job room.
type RoomPayload struct {
	DownloadID string `json:"download_id"`
}

// UpdatePayload is the body of a download_update frame.
type UpdatePayload struct {
	DownloadID string          `json:"download_id"`
	Session    worker.Snapshot `json:"session"`
}

// NewFrame encodes data as the frame payload. A nil data yields an empty payload.
func NewFrame(event string, data any) (Frame, error) {
	frame := Frame{Event: event}
	if data == nil {
		return frame, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s frame: %w", event, err)
	}
	frame.Data = raw
	return frame, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("decode %s frame: %w", f.Event, err)
	}
	return nil
}
