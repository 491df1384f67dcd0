package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"reelgrab/internal/services"
	"reelgrab/internal/services/worker"
)

// HealthChecker probes the worker.
type HealthChecker interface {
	Health(ctx context.Context) (worker.Health, error)
}

// CheckWorker verifies the worker answers /api/health within timeout.
// A worker without ffmpeg passes with a warning since only audio extraction
// depends on it.
func CheckWorker(ctx context.Context, checker HealthChecker, timeout time.Duration) Result {
	const name = "Worker"

	if checker == nil {
		return Result{Name: name, Detail: "not configured"}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	health, err := checker.Health(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeWorkerError(err)}
	}
	status := strings.TrimSpace(health.Status)
	if status == "" {
		status = "ok"
	}
	if !strings.EqualFold(status, "ok") && !strings.EqualFold(status, "healthy") {
		return Result{Name: name, Detail: fmt.Sprintf("reported %q", status)}
	}
	if !health.FFmpegAvailable {
		return Result{Name: name, Passed: true, Detail: "Reachable (ffmpeg missing, audio extraction unavailable)"}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckNotifications validates the ntfy topic URL without publishing.
func CheckNotifications(topic string) Result {
	const name = "Notifications"

	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{Name: name, Passed: true, Detail: "Disabled"}
	}
	parsed, err := url.Parse(topic)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{Name: name, Detail: fmt.Sprintf("invalid topic url %q", topic)}
	}
	return Result{Name: name, Passed: true, Detail: parsed.Host + parsed.Path}
}

func summarizeWorkerError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrTimeout) {
		return "health check timed out (worker unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (worker unreachable)"
	}
	return services.UserMessage(err)
}
