package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains local directory configuration.
type Paths struct {
	DownloadDir string `toml:"download_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
}

// Worker contains connection settings for the remote extraction worker.
type Worker struct {
	BaseURL             string `toml:"base_url"`
	APIToken            string `toml:"api_token"`
	PreviewTimeoutSecs  int    `toml:"preview_timeout"`
	SubmitTimeoutSecs   int    `toml:"submit_timeout"`
	BundleTimeoutSecs   int    `toml:"bundle_timeout"`
	HealthTimeoutSecs   int    `toml:"health_timeout"`
	DownloadTimeoutSecs int    `toml:"download_timeout"`
}

// Channel contains settings for the push channel that streams job progress.
type Channel struct {
	Transports            []string `toml:"transports"`
	HeartbeatIntervalSecs int      `toml:"heartbeat_interval"`
	ReconnectAttempts     int      `toml:"reconnect_attempts"`
	ReconnectDelayMillis  int      `toml:"reconnect_delay_ms"`
	ReconnectMaxMillis    int      `toml:"reconnect_delay_max_ms"`
	ConnectTimeoutSecs    int      `toml:"connect_timeout"`
	PollWaitSecs          int      `toml:"poll_wait"`
	CancelConfirmSecs     int      `toml:"cancel_confirm_window"`
}

// Preview contains settings for metadata lookups.
type Preview struct {
	DebounceMillis int `toml:"debounce_ms"`
}

// Delivery contains settings for fetching finished artifacts.
type Delivery struct {
	StaggerMillis int  `toml:"stagger_ms"`
	Overwrite     bool `toml:"overwrite"`
}

// Notifications configures ntfy pushes for finished jobs and lost connections.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Errors         bool   `toml:"errors"`
	Connection     bool   `toml:"connection"`
}

// Logging selects the console format and minimum level.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the full reelgrab configuration, one struct per TOML table.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Worker        Worker        `toml:"worker"`
	Channel       Channel       `toml:"channel"`
	Preview       Preview       `toml:"preview"`
	Delivery      Delivery      `toml:"delivery"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the expanded default config file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the config at path, or the first existing default candidate
// when path is empty, then applies env overrides and validates. It returns
// the config, the path it settled on, and whether that file existed. A
// missing file yields defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := locateConfig(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config %s: %w", resolved, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// locateConfig picks the explicit path, or the user config followed by
// ./reelgrab.toml. With nothing on disk the user config path is reported.
func locateConfig(path string) (string, bool, error) {
	candidates := []string{path}
	if path == "" {
		candidates = []string{defaultConfigPath, "reelgrab.toml"}
	}

	var first string
	for _, candidate := range candidates {
		expanded, err := expandPath(candidate)
		if err != nil {
			return "", false, err
		}
		if first == "" {
			first = expanded
		}
		info, err := os.Stat(expanded)
		switch {
		case err == nil && !info.IsDir():
			return expanded, true, nil
		case err == nil:
			if path != "" {
				return "", false, fmt.Errorf("config %s is a directory", expanded)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config %s: %w", expanded, err)
		}
	}
	return first, false, nil
}

// EnsureDirectories creates the directories a session writes into.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DownloadDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// HistoryPath returns the location of the job history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.StateDir, "history.db")
}

// LockPath returns the location of the single-session lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "session.lock")
}

// PreviewTimeout bounds a single preview request.
func (c *Config) PreviewTimeout() time.Duration {
	return seconds(c.Worker.PreviewTimeoutSecs)
}

// SubmitTimeout bounds a single download submission.
func (c *Config) SubmitTimeout() time.Duration {
	return seconds(c.Worker.SubmitTimeoutSecs)
}

// BundleTimeout bounds metadata bundle creation, which the worker builds synchronously.
func (c *Config) BundleTimeout() time.Duration {
	return seconds(c.Worker.BundleTimeoutSecs)
}

// HealthTimeout bounds the worker health probe.
func (c *Config) HealthTimeout() time.Duration {
	return seconds(c.Worker.HealthTimeoutSecs)
}

// DownloadTimeout bounds fetching one artifact to disk.
func (c *Config) DownloadTimeout() time.Duration {
	return seconds(c.Worker.DownloadTimeoutSecs)
}

// HeartbeatInterval is the spacing between liveness pings on the push channel.
func (c *Config) HeartbeatInterval() time.Duration {
	return seconds(c.Channel.HeartbeatIntervalSecs)
}

// ReconnectDelay returns the initial and maximum reconnect backoff.
func (c *Config) ReconnectDelay() (time.Duration, time.Duration) {
	return millis(c.Channel.ReconnectDelayMillis), millis(c.Channel.ReconnectMaxMillis)
}

// ConnectTimeout bounds a single connection attempt.
func (c *Config) ConnectTimeout() time.Duration {
	return seconds(c.Channel.ConnectTimeoutSecs)
}

// PollWait is the long-poll window used by the polling transport.
func (c *Config) PollWait() time.Duration {
	return seconds(c.Channel.PollWaitSecs)
}

// CancelConfirmWindow is how long a cancel may stay unacknowledged before it is flagged.
func (c *Config) CancelConfirmWindow() time.Duration {
	return seconds(c.Channel.CancelConfirmSecs)
}

// PreviewDebounce is the quiet period after the last URL edit before a lookup fires.
func (c *Config) PreviewDebounce() time.Duration {
	return millis(c.Preview.DebounceMillis)
}

// DeliveryStagger separates consecutive artifact downloads.
func (c *Config) DeliveryStagger() time.Duration {
	return millis(c.Delivery.StaggerMillis)
}

func seconds(value int) time.Duration {
	return time.Duration(value) * time.Second
}

func millis(value int) time.Duration {
	return time.Duration(value) * time.Millisecond
}

// expandPath resolves a leading ~ and returns an absolute, cleaned path.
// Empty stays empty.
func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("home directory: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("absolute path for %q: %w", p, err)
	}
	return abs, nil
}

// ExpandPath applies the same ~ and relative path rules Load uses.
func ExpandPath(p string) (string, error) {
	return expandPath(p)
}

func defaultStateDir() string {
	if base, ok := os.LookupEnv("XDG_STATE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "reelgrab")
	}
	return "~/.local/state/reelgrab"
}

// SampleConfig returns the annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the annotated sample config to path, creating parent
// directories.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}
