package preflight

import (
	"context"

	"reelgrab/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes every preflight check for cfg. The worker is skipped when
// checker is nil.
func RunAll(ctx context.Context, cfg *config.Config, checker HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Download directory", cfg.Paths.DownloadDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}
	if checker != nil {
		results = append(results, CheckWorker(ctx, checker, cfg.HealthTimeout()))
	}
	results = append(results, CheckNotifications(cfg.Notifications.NtfyTopic))
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
