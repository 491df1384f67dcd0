package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"reelgrab/internal/config"
	"reelgrab/internal/job"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Entry is one recorded job.
type Entry struct {
	Key           string
	JobID         string
	SourceURL     string
	Platform      string
	Kind          string
	Quality       string
	Status        string
	Message       string
	ErrorMessage  string
	ArtifactCount int
	SubmittedAt   time.Time
	UpdatedAt     time.Time
	FinishedAt    time.Time
}

// Store manages job history backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open connects to the history database in the configured state directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryPath())
}

// OpenPath connects to the database at path, creating it when missing.
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// NewKey returns the history key for j. Jobs completed inline have no worker
// id and get a random key.
func NewKey(j job.Job) string {
	if j.ID != "" {
		return j.ID
	}
	return "inline-" + uuid.NewString()
}

// Record inserts or updates the entry stored under key.
func (s *Store) Record(ctx context.Context, key string, j job.Job) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("history key is required")
	}
	now := time.Now().UTC()
	submitted := j.SubmittedAt
	if submitted.IsZero() {
		submitted = now
	}
	var finished any
	if j.Status.Terminal() {
		finished = now.Format(time.RFC3339Nano)
	}
	errorMessage := ""
	if j.Failure != nil {
		errorMessage = j.Failure.Message
	}
	return s.execWithRetry(ctx,
		`INSERT INTO jobs (
            key, job_id, source_url, platform, kind, quality, status, message,
            error_message, artifact_count, submitted_at, updated_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET
            status = excluded.status,
            message = excluded.message,
            error_message = excluded.error_message,
            artifact_count = excluded.artifact_count,
            updated_at = excluded.updated_at,
            finished_at = COALESCE(jobs.finished_at, excluded.finished_at)`,
		key,
		nullableString(j.ID),
		j.SourceURL,
		j.Platform.String(),
		string(j.Kind),
		nullableString(j.Quality),
		string(j.Status),
		nullableString(j.Message),
		nullableString(errorMessage),
		j.Artifacts.Count(),
		submitted.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		finished,
	)
}

// List returns the most recent entries, newest first. A non-positive limit
// returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM jobs ORDER BY submitted_at DESC, key`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get returns the entry stored under key, or nil when absent.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM jobs WHERE key = ?`, key)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history entry: %w", err)
	}
	return &entry, nil
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM jobs`)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return removed, err
}

const entryColumns = "key, job_id, source_url, platform, kind, quality, status, message, error_message, artifact_count, submitted_at, updated_at, finished_at"

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry        Entry
		jobID        sql.NullString
		quality      sql.NullString
		message      sql.NullString
		errorMessage sql.NullString
		submittedRaw string
		updatedRaw   string
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&entry.Key,
		&jobID,
		&entry.SourceURL,
		&entry.Platform,
		&entry.Kind,
		&quality,
		&entry.Status,
		&message,
		&errorMessage,
		&entry.ArtifactCount,
		&submittedRaw,
		&updatedRaw,
		&finishedRaw,
	); err != nil {
		return Entry{}, err
	}
	entry.JobID = jobID.String
	entry.Quality = quality.String
	entry.Message = message.String
	entry.ErrorMessage = errorMessage.String
	entry.SubmittedAt = parseTime(submittedRaw)
	entry.UpdatedAt = parseTime(updatedRaw)
	if finishedRaw.Valid {
		entry.FinishedAt = parseTime(finishedRaw.String)
	}
	return entry, nil
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
