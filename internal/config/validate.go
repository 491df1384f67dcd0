package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateChannel(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	parsed, err := url.Parse(c.Worker.BaseURL)
	if err != nil {
		return fmt.Errorf("worker.base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("worker.base_url must use http or https, got %q", c.Worker.BaseURL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("worker.base_url must include a host, got %q", c.Worker.BaseURL)
	}
	return ensurePositiveMap(map[string]int{
		"worker.preview_timeout":  c.Worker.PreviewTimeoutSecs,
		"worker.submit_timeout":   c.Worker.SubmitTimeoutSecs,
		"worker.bundle_timeout":   c.Worker.BundleTimeoutSecs,
		"worker.health_timeout":   c.Worker.HealthTimeoutSecs,
		"worker.download_timeout": c.Worker.DownloadTimeoutSecs,
	})
}

func (c *Config) validateChannel() error {
	for _, name := range c.Channel.Transports {
		switch name {
		case TransportWebSocket, TransportPolling:
		default:
			return fmt.Errorf("channel.transports: unsupported transport %q (use %s or %s)", name, TransportWebSocket, TransportPolling)
		}
	}
	if c.Channel.ReconnectAttempts < 0 {
		return errors.New("channel.reconnect_attempts must be >= 0")
	}
	if c.Channel.ReconnectMaxMillis < c.Channel.ReconnectDelayMillis {
		return errors.New("channel.reconnect_delay_max_ms must be >= channel.reconnect_delay_ms")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.TrimSpace(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
