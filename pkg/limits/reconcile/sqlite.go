package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS reconcile_queue (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload BLOB NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    enqueued_at INTEGER NOT NULL,
    next_attempt_at INTEGER NOT NULL,
    dead INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_reconcile_due ON reconcile_queue(dead, next_attempt_at);
`

// SQLiteConfig contains configuration for the SQLite queue.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite queue configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:         "data/reconcile.db",
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteQueue is a durable Queue backed by SQLite.
type SQLiteQueue struct {
	db     *sql.DB
	logger *slog.Logger

	closeOnce sync.Once
}

// NewSQLiteQueue opens (and creates if needed) the queue database.
func NewSQLiteQueue(config SQLiteConfig) (*SQLiteQueue, error) {
	d := DefaultSQLiteConfig()
	if config.Path == "" {
		config.Path = d.Path
	}
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = d.MaxOpenConns
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = d.BusyTimeout
	}

	logger := slog.Default().With("component", "reconcile.queue")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", config.BusyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure queue database: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}

	logger.Info("reconcile queue initialized", "path", config.Path)
	return &SQLiteQueue{db: db, logger: logger}, nil
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, e *Entry) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO reconcile_queue (id, kind, payload, attempts, last_error, enqueued_at, next_attempt_at, dead)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, string(e.Kind), e.Payload, e.Attempts, e.LastError,
		e.EnqueuedAt.UnixNano(), e.NextAttemptAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", e.ID, err)
	}
	return nil
}

func (q *SQLiteQueue) Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, payload, attempts, COALESCE(last_error, ''), enqueued_at, next_attempt_at
		FROM reconcile_queue
		WHERE dead = 0 AND next_attempt_at <= ?
		ORDER BY enqueued_at, id
		LIMIT ?`,
		now.UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query due entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e              Entry
			kind           string
			enqueued, next int64
		)
		if err := rows.Scan(&e.ID, &kind, &e.Payload, &e.Attempts, &e.LastError, &enqueued, &next); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Kind = Kind(kind)
		e.EnqueuedAt = time.Unix(0, enqueued).UTC()
		e.NextAttemptAt = time.Unix(0, next).UTC()
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (q *SQLiteQueue) Complete(ctx context.Context, id string) error {
	if _, err := q.db.ExecContext(ctx, `DELETE FROM reconcile_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to complete %s: %w", id, err)
	}
	return nil
}

func (q *SQLiteQueue) Retry(ctx context.Context, id string, payload []byte, lastErr string, next time.Time) error {
	dead := 0
	var nextNanos int64
	if next.IsZero() {
		dead = 1
	} else {
		nextNanos = next.UnixNano()
	}

	query := `
		UPDATE reconcile_queue
		SET attempts = attempts + 1,
		    last_error = ?,
		    next_attempt_at = CASE WHEN ? = 1 THEN next_attempt_at ELSE ? END,
		    dead = ?
		WHERE id = ?`
	args := []any{lastErr, dead, nextNanos, dead, id}
	if payload != nil {
		query = `
		UPDATE reconcile_queue
		SET attempts = attempts + 1,
		    last_error = ?,
		    next_attempt_at = CASE WHEN ? = 1 THEN next_attempt_at ELSE ? END,
		    dead = ?,
		    payload = ?
		WHERE id = ?`
		args = []any{lastErr, dead, nextNanos, dead, payload, id}
	}

	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to reschedule %s: %w", id, err)
	}
	return nil
}

func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := q.db.QueryRowContext(ctx, `
		SELECT
		    COALESCE(SUM(CASE WHEN dead = 0 THEN 1 ELSE 0 END), 0),
		    COALESCE(SUM(CASE WHEN dead = 1 THEN 1 ELSE 0 END), 0)
		FROM reconcile_queue`,
	).Scan(&s.Pending, &s.Dead)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count entries: %w", err)
	}
	return s, nil
}

// Ping checks the database connection.
func (q *SQLiteQueue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

func (q *SQLiteQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		err = q.db.Close()
		q.logger.Info("reconcile queue closed")
	})
	return err
}
