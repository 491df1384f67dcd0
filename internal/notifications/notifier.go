package notifications

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"reelgrab/internal/channel"
	"reelgrab/internal/job"
	"reelgrab/internal/logging"
	"reelgrab/internal/services"
)

const publishTimeout = 15 * time.Second

// Notifier forwards job outcomes to a Service. It implements job.Observer.
type Notifier struct {
	svc    Service
	logger *slog.Logger
}

// NewNotifier wraps svc.
func NewNotifier(svc Service, logger *slog.Logger) *Notifier {
	if svc == nil {
		svc = noopService{}
	}
	return &Notifier{svc: svc, logger: logging.NewComponentLogger(logger, "notifications")}
}

// JobChanged publishes when a job first completes or fails. Cancelled jobs
// were the user's own doing and are not announced.
func (n *Notifier) JobChanged(ctx context.Context, j job.Job, previous job.Status) {
	if j.Status == previous || !j.Status.Terminal() {
		return
	}
	payload := Payload{
		"job_id":  j.ID,
		"subject": subject(j),
		"kind":    string(j.Kind),
	}
	var event Event
	switch j.Status {
	case job.StatusCompleted:
		event = EventJobCompleted
		payload["files"] = strconv.Itoa(j.Artifacts.Count())
	case job.StatusError:
		event = EventJobFailed
		if j.Failure != nil {
			payload["error"] = j.Failure.Message
		}
	default:
		return
	}
	n.publish(ctx, event, payload)
}

// ConnectionChanged publishes when the channel gives up reconnecting.
func (n *Notifier) ConnectionChanged(ctx context.Context, ev channel.StateEvent) {
	if ev.State != channel.Disconnected || !errors.Is(ev.Err, services.ErrConnectionLost) {
		return
	}
	n.publish(ctx, EventConnectionLost, Payload{"error": services.UserMessage(ev.Err)})
}

func (n *Notifier) publish(ctx context.Context, event Event, payload Payload) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := n.svc.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, n.logger), "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "user was not notified"),
		)
	}
}

func subject(j job.Job) string {
	label := j.Platform.Label()
	if j.Platform == "" {
		label = "Media"
	}
	if j.Kind == job.KindAudio {
		return label + " audio"
	}
	return label + " video"
}
