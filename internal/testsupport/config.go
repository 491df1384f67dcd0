package testsupport

import (
	"path/filepath"
	"testing"

	"reelgrab/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Timings are shortened so reconnects and debounces settle quickly, and
// notifications are disabled.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DownloadDir = filepath.Join(base, "downloads")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Worker.BaseURL = "http://127.0.0.1:1"
	cfgVal.Channel.HeartbeatIntervalSecs = 60
	cfgVal.Channel.ReconnectAttempts = 3
	cfgVal.Channel.ReconnectDelayMillis = 10
	cfgVal.Channel.ReconnectMaxMillis = 50
	cfgVal.Channel.ConnectTimeoutSecs = 2
	cfgVal.Channel.PollWaitSecs = 1
	cfgVal.Channel.CancelConfirmSecs = 2
	cfgVal.Preview.DebounceMillis = 10
	cfgVal.Delivery.StaggerMillis = 0
	cfgVal.Notifications.NtfyTopic = ""

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithWorker points the config at a worker base URL.
func WithWorker(baseURL string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.BaseURL = baseURL
	}
}

// WithTransports overrides the channel transport order.
func WithTransports(names ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Channel.Transports = append([]string(nil), names...)
	}
}

// WithNtfyTopic enables notifications against topic.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
