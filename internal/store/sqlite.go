// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

// SQLiteStore implements DataStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent readers with a serialized
	// writer (WAL).
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Append-only trade ledger
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT,
		action TEXT NOT NULL,
		price REAL NOT NULL,
		quantity INTEGER NOT NULL,
		amount REAL NOT NULL,
		timestamp DATETIME NOT NULL,
		trade_date TEXT NOT NULL,
		status TEXT NOT NULL,
		realized_pnl REAL DEFAULT 0,
		dry_run INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daily statistics snapshot, recomputable from the ledger
	CREATE TABLE IF NOT EXISTS daily_stats (
		date TEXT PRIMARY KEY,
		trade_count INTEGER NOT NULL,
		realized_pnl REAL NOT NULL,
		breaker_tripped INTEGER DEFAULT 0,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Terminal task snapshots for later inspection
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		name TEXT,
		action TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		price REAL NOT NULL,
		state TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		completed_at DATETIME,
		result TEXT,
		error TEXT
	);

	-- Market data cache
	CREATE TABLE IF NOT EXISTS market_cache (
		key TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		value BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_code ON trades(code);
	CREATE INDEX IF NOT EXISTS idx_trades_date ON trades(trade_date);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at);
	CREATE INDEX IF NOT EXISTS idx_cache_category ON market_cache(category);
	CREATE INDEX IF NOT EXISTS idx_cache_expires ON market_cache(expires_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Trade Ledger Methods
// ============================================================================

// AppendTrade appends a trade record to the ledger. Records are immutable:
// an ID collision is an error, never an overwrite.
func (s *SQLiteStore) AppendTrade(ctx context.Context, record *models.TradeRecord) error {
	dryRun := 0
	if record.DryRun {
		dryRun = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, code, name, action, price, quantity, amount, timestamp, trade_date, status, realized_pnl, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, record.ID, record.Code, record.Name, string(record.Action), record.Price, record.Quantity,
		record.Amount, record.Timestamp, record.Timestamp.Format("2006-01-02"), string(record.Status),
		record.RealizedPnL, dryRun)
	if err != nil {
		return fmt.Errorf("failed to append trade: %w", err)
	}
	return nil
}

// GetTrades retrieves trade records matching the filter, oldest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error) {
	query := `SELECT id, code, name, action, price, quantity, amount, timestamp, status, realized_pnl, dry_run
		FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Code != "" {
		query += " AND code = ?"
		args = append(args, filter.Code)
	}
	if filter.Date != "" {
		query += " AND trade_date = ?"
		args = append(args, filter.Date)
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.DryRun != nil {
		dryRun := 0
		if *filter.DryRun {
			dryRun = 1
		}
		query += " AND dry_run = ?"
		args = append(args, dryRun)
	}

	query += " ORDER BY timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var records []models.TradeRecord
	for rows.Next() {
		var r models.TradeRecord
		var action, status string
		var dryRun int
		if err := rows.Scan(&r.ID, &r.Code, &r.Name, &action, &r.Price, &r.Quantity,
			&r.Amount, &r.Timestamp, &status, &r.RealizedPnL, &dryRun); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		r.Action = models.TradeAction(action)
		r.Status = models.TradeStatus(status)
		r.DryRun = dryRun == 1
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return records, nil
}

// ============================================================================
// Daily Stats Methods
// ============================================================================

// GetDailyStats returns the persisted snapshot for a date, or ErrDataNotFound.
func (s *SQLiteStore) GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error) {
	var stats models.DailyStats
	var tripped int
	err := s.db.QueryRowContext(ctx, `
		SELECT date, trade_count, realized_pnl, breaker_tripped FROM daily_stats WHERE date = ?
	`, date).Scan(&stats.Date, &stats.TradeCount, &stats.RealizedPnL, &tripped)
	if err == sql.ErrNoRows {
		return nil, errs.Wrapf(errs.ErrDataNotFound, "daily stats for %s", date)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	stats.CircuitBreakerTripped = tripped == 1
	return &stats, nil
}

// SaveDailyStats upserts the snapshot for a date.
func (s *SQLiteStore) SaveDailyStats(ctx context.Context, stats *models.DailyStats) error {
	tripped := 0
	if stats.CircuitBreakerTripped {
		tripped = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (date, trade_count, realized_pnl, breaker_tripped, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(date) DO UPDATE SET
			trade_count = excluded.trade_count,
			realized_pnl = excluded.realized_pnl,
			breaker_tripped = excluded.breaker_tripped,
			updated_at = CURRENT_TIMESTAMP
	`, stats.Date, stats.TradeCount, stats.RealizedPnL, tripped)
	if err != nil {
		return fmt.Errorf("failed to save daily stats: %w", err)
	}
	return nil
}

// ============================================================================
// Task Log Methods
// ============================================================================

// SaveTask upserts a task snapshot. Terminal states overwrite earlier
// snapshots of the same task.
func (s *SQLiteStore) SaveTask(ctx context.Context, task *models.Task) error {
	started := sql.NullTime{Time: task.StartedAt, Valid: !task.StartedAt.IsZero()}
	completed := sql.NullTime{Time: task.CompletedAt, Valid: !task.CompletedAt.IsZero()}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, code, name, action, quantity, price, state, created_at, started_at, completed_at, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			result = excluded.result,
			error = excluded.error
	`, task.ID, task.Order.Code, task.Order.Name, string(task.Order.Action), task.Order.Quantity,
		task.Order.Price, string(task.State), task.CreatedAt, started, completed, task.Result, task.Error)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// GetTasks returns the most recent task snapshots, newest first.
func (s *SQLiteStore) GetTasks(ctx context.Context, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, action, quantity, price, state, created_at, started_at, completed_at, result, error
		FROM tasks ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		var action, state string
		var started, completed sql.NullTime
		var result, taskErr sql.NullString
		if err := rows.Scan(&task.ID, &task.Order.Code, &task.Order.Name, &action, &task.Order.Quantity,
			&task.Order.Price, &state, &task.CreatedAt, &started, &completed, &result, &taskErr); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		task.Order.Action = models.TradeAction(action)
		task.State = models.TaskState(state)
		if started.Valid {
			task.StartedAt = started.Time
		}
		if completed.Valid {
			task.CompletedAt = completed.Time
		}
		task.Result = result.String
		task.Error = taskErr.String
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// ============================================================================
// Market Cache Methods
// ============================================================================

// CacheGet returns the entry for a key, lazily deleting it when expired.
// A missing or expired key yields (nil, nil).
func (s *SQLiteStore) CacheGet(ctx context.Context, key string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT key, category, value, created_at, expires_at FROM market_cache WHERE key = ?
	`, key).Scan(&entry.Key, &entry.Category, &entry.Value, &entry.CreatedAt, &entry.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	if entry.Expired(time.Now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM market_cache WHERE key = ?`, key)
		return nil, nil
	}
	return &entry, nil
}

// CacheSet upserts a cache entry with the given TTL.
func (s *SQLiteStore) CacheSet(ctx context.Context, key, category string, value []byte, ttl time.Duration) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO market_cache (key, category, value, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			category = excluded.category,
			value = excluded.value,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, key, category, value, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}
	return nil
}

// CacheClearExpired sweeps all expired entries and returns the count removed.
func (s *SQLiteStore) CacheClearExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM market_cache WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired cache entries: %w", err)
	}
	return res.RowsAffected()
}

// CacheClearCategory removes all entries in a category and returns the count.
func (s *SQLiteStore) CacheClearCategory(ctx context.Context, category string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM market_cache WHERE category = ?`, category)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache category: %w", err)
	}
	return res.RowsAffected()
}

// CacheStats summarizes the cache contents per category.
func (s *SQLiteStore) CacheStats(ctx context.Context) (CacheStats, error) {
	stats := CacheStats{Categories: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM market_cache GROUP BY category`)
	if err != nil {
		return stats, fmt.Errorf("failed to query cache stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return stats, fmt.Errorf("failed to scan cache stats: %w", err)
		}
		stats.Categories[category] = count
		stats.Entries += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("error iterating cache stats: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM market_cache WHERE expires_at < ?
	`, time.Now()).Scan(&stats.Expired); err != nil {
		return stats, fmt.Errorf("failed to count expired entries: %w", err)
	}

	return stats, nil
}
