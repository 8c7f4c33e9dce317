package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/costgate/pkg/apperrors"
	"mercator-hq/costgate/pkg/limits/budget"
)

// SQLiteStore implements Store using SQLite for persistence.
// It is suitable for single-writer deployments; budgets change rarely and
// usage appends are small, so one connection is enough.
//
// SQLiteStore uses a write-ahead log (WAL) for better concurrent performance
// and automatic checkpointing to balance write performance with durability.
type SQLiteStore struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	closeOnce          sync.Once

	// preparedStatements contains pre-compiled SQL statements for performance
	insertBudgetStmt *sql.Stmt
	getBudgetStmt    *sql.Stmt
	updateBudgetStmt *sql.Stmt
	listScopeStmt    *sql.Stmt
	listChildStmt    *sql.Stmt
	appendUsageStmt  *sql.Stmt
	listUsageStmt    *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a new SQLite store with custom configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	// Apply defaults
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go s.checkpointLoop()

	return s, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS budgets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		scope_type TEXT NOT NULL,
		scope_id TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		period TEXT NOT NULL,
		start_date INTEGER NOT NULL,
		end_date INTEGER,
		recurring INTEGER NOT NULL,
		alerts TEXT NOT NULL,
		parent_budget_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_budgets_scope ON budgets(scope_type, scope_id);
	CREATE INDEX IF NOT EXISTS idx_budgets_parent ON budgets(parent_budget_id);

	CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		budget_id TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		source TEXT NOT NULL,
		metadata TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_budget_ts ON usage_records(budget_id, timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

const budgetColumns = `id, name, scope_type, scope_id, amount, currency, period, start_date, end_date,
	recurring, alerts, parent_budget_id, created_at, updated_at, deleted_at`

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	prepare := func(dst **sql.Stmt, name, query string) {
		if err != nil {
			return
		}
		*dst, err = s.db.Prepare(query)
		if err != nil {
			err = fmt.Errorf("failed to prepare %s statement: %w", name, err)
		}
	}

	prepare(&s.insertBudgetStmt, "insert budget", `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	prepare(&s.getBudgetStmt, "get budget", `
		SELECT `+budgetColumns+` FROM budgets WHERE id = ?`)
	prepare(&s.updateBudgetStmt, "update budget", `
		UPDATE budgets SET
			name = ?, amount = ?, end_date = ?, recurring = ?, alerts = ?,
			parent_budget_id = ?, updated_at = ?, deleted_at = ?
		WHERE id = ?`)
	prepare(&s.listScopeStmt, "list scope", `
		SELECT `+budgetColumns+` FROM budgets
		WHERE scope_type = ? AND scope_id = ?
		ORDER BY created_at, id`)
	prepare(&s.listChildStmt, "list children", `
		SELECT `+budgetColumns+` FROM budgets
		WHERE parent_budget_id = ?
		ORDER BY created_at, id`)
	prepare(&s.appendUsageStmt, "append usage", `
		INSERT INTO usage_records (id, budget_id, amount, currency, timestamp, source, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`)
	prepare(&s.listUsageStmt, "list usage", `
		SELECT id, budget_id, amount, currency, timestamp, source, metadata
		FROM usage_records
		WHERE budget_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp, id`)

	return err
}

// CreateBudget stores a new budget definition.
func (s *SQLiteStore) CreateBudget(ctx context.Context, def *budget.Definition) error {
	if def == nil || def.ID == "" {
		return fmt.Errorf("budget id cannot be empty")
	}

	alerts, err := json.Marshal(def.Alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	_, err = s.insertBudgetStmt.ExecContext(ctx,
		def.ID,
		def.Name,
		string(def.Scope.Type),
		def.Scope.ID,
		def.Amount,
		def.Currency,
		string(def.Period),
		def.StartDate.UnixNano(),
		nullableTime(def.EndDate),
		boolToInt(def.Recurring),
		string(alerts),
		nullableString(def.ParentBudgetID),
		def.CreatedAt.UnixNano(),
		def.UpdatedAt.UnixNano(),
		nullableTime(def.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert budget: %w", err)
	}
	return nil
}

// GetBudget returns a budget, including soft-deleted ones.
func (s *SQLiteStore) GetBudget(ctx context.Context, id string) (*budget.Definition, error) {
	def, err := scanBudget(s.getBudgetStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("budget", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load budget: %w", err)
	}
	return def, nil
}

// UpdateBudget writes the mutable fields of a budget.
func (s *SQLiteStore) UpdateBudget(ctx context.Context, def *budget.Definition) error {
	alerts, err := json.Marshal(def.Alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alerts: %w", err)
	}

	res, err := s.updateBudgetStmt.ExecContext(ctx,
		def.Name,
		def.Amount,
		nullableTime(def.EndDate),
		boolToInt(def.Recurring),
		string(alerts),
		nullableString(def.ParentBudgetID),
		def.UpdatedAt.UnixNano(),
		nullableTime(def.DeletedAt),
		def.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("budget", def.ID)
	}
	return nil
}

// ListBudgetsByScope returns every budget of a scope ordered by creation time.
func (s *SQLiteStore) ListBudgetsByScope(ctx context.Context, scope budget.Scope) ([]*budget.Definition, error) {
	rows, err := s.listScopeStmt.QueryContext(ctx, string(scope.Type), scope.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list budgets: %w", err)
	}
	return collectBudgets(rows)
}

// ListChildBudgets returns the direct children of a budget.
func (s *SQLiteStore) ListChildBudgets(ctx context.Context, parentID string) ([]*budget.Definition, error) {
	rows, err := s.listChildStmt.QueryContext(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child budgets: %w", err)
	}
	return collectBudgets(rows)
}

// AppendUsage appends a usage record. Appending the same id twice is a no-op.
func (s *SQLiteStore) AppendUsage(ctx context.Context, rec *budget.UsageRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("usage record id cannot be empty")
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal usage metadata: %w", err)
	}

	_, err = s.appendUsageStmt.ExecContext(ctx,
		rec.ID,
		rec.BudgetID,
		rec.Amount,
		rec.Currency,
		rec.Timestamp.UnixNano(),
		rec.Source,
		string(meta),
	)
	if err != nil {
		return fmt.Errorf("failed to append usage: %w", err)
	}
	return nil
}

// ListUsage returns a budget's records with since <= timestamp < until.
// Zero bounds are open.
func (s *SQLiteStore) ListUsage(ctx context.Context, budgetID string, since, until time.Time) ([]*budget.UsageRecord, error) {
	lo := int64(-1 << 63)
	hi := int64(1<<63 - 1)
	if !since.IsZero() {
		lo = since.UnixNano()
	}
	if !until.IsZero() {
		hi = until.UnixNano()
	}

	rows, err := s.listUsageStmt.QueryContext(ctx, budgetID, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	out := []*budget.UsageRecord{}
	for rows.Next() {
		var (
			rec  budget.UsageRecord
			ts   int64
			meta string
		)
		if err := rows.Scan(&rec.ID, &rec.BudgetID, &rec.Amount, &rec.Currency, &ts, &rec.Source, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal usage metadata: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		for _, stmt := range []*sql.Stmt{
			s.insertBudgetStmt, s.getBudgetStmt, s.updateBudgetStmt,
			s.listScopeStmt, s.listChildStmt, s.appendUsageStmt, s.listUsageStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}

		// Run final checkpoint
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteStore) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-s.done:
			return
		}
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBudget(row rowScanner) (*budget.Definition, error) {
	var (
		def                       budget.Definition
		scopeType, period, alerts string
		start, created, updated   int64
		recurring                 int
		endDate, deletedAt        sql.NullInt64
		parentID                  sql.NullString
	)

	err := row.Scan(
		&def.ID, &def.Name, &scopeType, &def.Scope.ID, &def.Amount, &def.Currency, &period,
		&start, &endDate, &recurring, &alerts, &parentID, &created, &updated, &deletedAt,
	)
	if err != nil {
		return nil, err
	}

	def.Scope.Type = budget.ScopeType(scopeType)
	def.Period = budget.Period(period)
	def.StartDate = time.Unix(0, start).UTC()
	def.EndDate = timeFromNull(endDate)
	def.Recurring = recurring != 0
	def.ParentBudgetID = parentID.String
	def.CreatedAt = time.Unix(0, created).UTC()
	def.UpdatedAt = time.Unix(0, updated).UTC()
	def.DeletedAt = timeFromNull(deletedAt)

	if err := json.Unmarshal([]byte(alerts), &def.Alerts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alerts: %w", err)
	}
	if def.Alerts == nil {
		def.Alerts = []budget.Alert{}
	}

	return &def, nil
}

func collectBudgets(rows *sql.Rows) ([]*budget.Definition, error) {
	defer rows.Close()

	out := []*budget.Definition{}
	for rows.Next() {
		def, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan budget row: %w", err)
		}
		out = append(out, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
