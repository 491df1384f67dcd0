package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeChannel()
	c.normalizeTimings()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		c.Paths.DownloadDir = defaultDownloadDir
	}
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir()
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() {
	if value, ok := os.LookupEnv("REELGRAB_WORKER_URL"); ok && strings.TrimSpace(value) != "" {
		c.Worker.BaseURL = value
	}
	c.Worker.BaseURL = strings.TrimRight(strings.TrimSpace(c.Worker.BaseURL), "/")
	if c.Worker.BaseURL == "" {
		c.Worker.BaseURL = defaultWorkerBaseURL
	}
	c.Worker.APIToken = strings.TrimSpace(c.Worker.APIToken)
	if c.Worker.APIToken == "" {
		if value, ok := os.LookupEnv("REELGRAB_WORKER_TOKEN"); ok {
			c.Worker.APIToken = strings.TrimSpace(value)
		}
	}
	if c.Worker.PreviewTimeoutSecs <= 0 {
		c.Worker.PreviewTimeoutSecs = defaultPreviewTimeoutSecs
	}
	if c.Worker.SubmitTimeoutSecs <= 0 {
		c.Worker.SubmitTimeoutSecs = defaultSubmitTimeoutSecs
	}
	if c.Worker.BundleTimeoutSecs <= 0 {
		c.Worker.BundleTimeoutSecs = defaultBundleTimeoutSecs
	}
	if c.Worker.HealthTimeoutSecs <= 0 {
		c.Worker.HealthTimeoutSecs = defaultHealthTimeoutSecs
	}
	if c.Worker.DownloadTimeoutSecs <= 0 {
		c.Worker.DownloadTimeoutSecs = defaultDownloadTimeoutSecs
	}
}

func (c *Config) normalizeChannel() {
	transports := make([]string, 0, len(c.Channel.Transports))
	seen := make(map[string]struct{}, len(c.Channel.Transports))
	for _, name := range c.Channel.Transports {
		normalized := strings.ToLower(strings.TrimSpace(name))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		transports = append(transports, normalized)
	}
	if len(transports) == 0 {
		transports = []string{TransportWebSocket, TransportPolling}
	}
	c.Channel.Transports = transports
	if c.Channel.HeartbeatIntervalSecs <= 0 {
		c.Channel.HeartbeatIntervalSecs = defaultHeartbeatIntervalSecs
	}
	if c.Channel.ReconnectDelayMillis <= 0 {
		c.Channel.ReconnectDelayMillis = defaultReconnectDelayMillis
	}
	if c.Channel.ReconnectMaxMillis <= 0 {
		c.Channel.ReconnectMaxMillis = defaultReconnectMaxMillis
	}
	if c.Channel.ConnectTimeoutSecs <= 0 {
		c.Channel.ConnectTimeoutSecs = defaultConnectTimeoutSecs
	}
	if c.Channel.PollWaitSecs <= 0 {
		c.Channel.PollWaitSecs = defaultPollWaitSecs
	}
	if c.Channel.CancelConfirmSecs <= 0 {
		c.Channel.CancelConfirmSecs = defaultCancelConfirmSecs
	}
}

func (c *Config) normalizeTimings() {
	if c.Preview.DebounceMillis < 0 {
		c.Preview.DebounceMillis = 0
	}
	if c.Delivery.StaggerMillis < 0 {
		c.Delivery.StaggerMillis = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("REELGRAB_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
