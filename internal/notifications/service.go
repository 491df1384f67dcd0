package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reelgrab/internal/config"
)

const userAgent = "ReelGrab-Go/0.1.0"

// Event names a notification category.
type Event string

const (
	EventJobCompleted   Event = "job_completed"
	EventJobFailed      Event = "job_failed"
	EventConnectionLost Event = "connection_lost"
	EventTest           Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]string

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobCompleted:   cfg.Notifications.Completed,
			EventJobFailed:      cfg.Notifications.Errors,
			EventConnectionLost: cfg.Notifications.Connection,
			EventTest:           true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	get := func(key string) string {
		return strings.TrimSpace(payload[key])
	}
	switch event {
	case EventJobCompleted:
		subject := get("subject")
		if subject == "" {
			subject = "download"
		}
		body := fmt.Sprintf("✅ Ready: %s", subject)
		if files, err := strconv.Atoi(get("files")); err == nil && files > 1 {
			body = fmt.Sprintf("%s (%d files)", body, files)
		}
		return message{
			title: "ReelGrab - Complete",
			body:  body,
			tags:  []string{"reelgrab", kindTag(get("kind")), "completed"},
		}, true
	case EventJobFailed:
		var b strings.Builder
		b.WriteString("❌ Failed")
		if subject := get("subject"); subject != "" {
			b.WriteString(": ")
			b.WriteString(subject)
		}
		b.WriteString("\n")
		if reason := get("error"); reason != "" {
			b.WriteString(reason)
		} else {
			b.WriteString("unknown error")
		}
		return message{
			title:    "ReelGrab - Error",
			body:     b.String(),
			tags:     []string{"reelgrab", "error", "alert"},
			priority: "high",
		}, true
	case EventConnectionLost:
		body := "Connection to worker lost"
		if reason := get("error"); reason != "" {
			body = fmt.Sprintf("%s: %s", body, reason)
		}
		return message{
			title:    "ReelGrab - Disconnected",
			body:     body,
			tags:     []string{"reelgrab", "connection", "lost"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "ReelGrab - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"reelgrab", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func kindTag(kind string) string {
	if kind == "audio" {
		return "audio"
	}
	return "video"
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
