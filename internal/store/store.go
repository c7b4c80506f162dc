// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"ths-trader/internal/models"
)

// DataStore defines the interface for data persistence: the append-only
// trade ledger, the daily statistics snapshot and the market data cache.
type DataStore interface {
	// Trade ledger (append-only; no update or delete surface exists)
	AppendTrade(ctx context.Context, record *models.TradeRecord) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error)

	// Daily statistics snapshot
	GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error)
	SaveDailyStats(ctx context.Context, stats *models.DailyStats) error

	// Execution task log (terminal snapshots for later inspection)
	SaveTask(ctx context.Context, task *models.Task) error
	GetTasks(ctx context.Context, limit int) ([]models.Task, error)

	// Market data cache
	CacheGet(ctx context.Context, key string) (*models.CacheEntry, error)
	CacheSet(ctx context.Context, key, category string, value []byte, ttl time.Duration) error
	CacheClearExpired(ctx context.Context) (int64, error)
	CacheClearCategory(ctx context.Context, category string) (int64, error)
	CacheStats(ctx context.Context) (CacheStats, error)

	// Lifecycle
	Close() error
}

// TradeFilter represents filters for querying the trade ledger.
type TradeFilter struct {
	Code      string
	Date      string // exact trading day, 2006-01-02
	StartDate time.Time
	EndDate   time.Time
	Action    string
	DryRun    *bool
	Limit     int
}

// CacheStats summarizes the cache store contents.
type CacheStats struct {
	Entries    int64            `json:"entries"`
	Expired    int64            `json:"expired"`
	Categories map[string]int64 `json:"categories"`
}
