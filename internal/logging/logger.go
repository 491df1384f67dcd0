package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"reelgrab/internal/config"
)

// LogFileName is the JSON log written inside paths.log_dir.
const LogFileName = "reelgrab.log"

// Options describes logger construction parameters. FilePath, when set,
// receives a JSON copy of every record regardless of Format.
type Options struct {
	Level       string
	Format      string
	OutputPaths []string
	FilePath    string
	SessionID   string
	Development bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	addSource := opts.Development || level.Level() <= slog.LevelDebug

	console, err := openWriters(opts.OutputPaths)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		handler = newConsoleHandler(console, level, addSource)
	case "json":
		handler = newJSONHandler(console, level, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}

	if path := strings.TrimSpace(opts.FilePath); path != "" {
		file, err := openWriters([]string{path})
		if err != nil {
			return nil, err
		}
		handler = tee(handler, newJSONHandler(file, level, addSource))
	}
	if opts.SessionID != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String(FieldSessionID, opts.SessionID)})
	}
	return slog.New(handler), nil
}

// NewFromConfig builds the session logger from cfg. The console copy goes to
// stderr unless quiet is set (the interactive UI owns the terminal); the JSON
// log file in paths.log_dir is always written.
func NewFromConfig(cfg *config.Config, sessionID string, quiet bool) (*slog.Logger, error) {
	opts := Options{Level: "info", SessionID: sessionID, OutputPaths: []string{"stderr"}}
	if quiet {
		opts.OutputPaths = []string{"discard"}
	}
	if cfg == nil {
		return New(opts)
	}
	opts.Level = cfg.Logging.Level
	opts.Format = cfg.Logging.Format
	if dir := cfg.Paths.LogDir; dir != "" {
		opts.FilePath = filepath.Join(dir, LogFileName)
	}
	return New(opts)
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo
	}
	return parsed
}

// openWriters resolves stdout, stderr, discard, or file paths into one
// writer. No paths means stderr.
func openWriters(paths []string) (io.Writer, error) {
	var writers []io.Writer
	var seen []string
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" || slices.Contains(seen, path) {
			continue
		}
		seen = append(seen, path)

		switch path {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		case "discard":
			writers = append(writers, io.Discard)
		default:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", path, err)
			}
			writers = append(writers, file)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stderr, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}
