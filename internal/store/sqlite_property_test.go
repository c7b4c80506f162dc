package store

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "trader.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// Property: trade records survive a ledger round trip intact.
func TestProperty_TradeRoundTripConsistency(t *testing.T) {
	store := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	codes := []string{"600000", "000001", "600519", "002594", "601398"}

	actionGen := gen.OneConstOf(string(models.ActionBuy), string(models.ActionSell))
	priceGen := gen.Float64Range(1.0, 500.0)
	qtyGen := gen.IntRange(100, 10000)
	pnlGen := gen.Float64Range(-5000, 5000)
	codeIdxGen := gen.IntRange(0, len(codes)-1)

	properties.Property("Trade round-trip: append then query produces equivalent record", prop.ForAll(
		func(codeIdx int, action string, price float64, qty int, pnl float64) bool {
			ctx := context.Background()

			record := &models.TradeRecord{
				ID:          uuid.NewString(),
				Code:        codes[codeIdx],
				Name:        "TEST",
				Action:      models.TradeAction(action),
				Price:       price,
				Quantity:    qty,
				Amount:      price * float64(qty),
				Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
				Status:      models.TradeFilled,
				RealizedPnL: pnl,
			}

			if err := store.AppendTrade(ctx, record); err != nil {
				t.Logf("append failed: %v", err)
				return false
			}

			trades, err := store.GetTrades(ctx, TradeFilter{Code: record.Code})
			if err != nil {
				t.Logf("query failed: %v", err)
				return false
			}

			for _, got := range trades {
				if got.ID != record.ID {
					continue
				}
				return got.Code == record.Code &&
					got.Action == record.Action &&
					got.Quantity == record.Quantity &&
					math.Abs(got.Price-record.Price) < 1e-9 &&
					math.Abs(got.RealizedPnL-record.RealizedPnL) < 1e-9 &&
					got.Status == models.TradeFilled
			}
			t.Logf("record %s not found after append", record.ID)
			return false
		},
		codeIdxGen, actionGen, priceGen, qtyGen, pnlGen,
	))

	properties.TestingRun(t)
}

func TestAppendTrade_LedgerIsAppendOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := &models.TradeRecord{
		ID: uuid.NewString(), Code: "600000", Action: models.ActionSell,
		Price: 9.0, Quantity: 100, Amount: 900,
		Timestamp: time.Now(), Status: models.TradeFilled,
	}
	require.NoError(t, store.AppendTrade(ctx, record))

	// Re-inserting the same ID is an error, never an overwrite.
	dup := *record
	dup.Price = 99.0
	err := store.AppendTrade(ctx, &dup)
	require.Error(t, err)

	trades, err := store.GetTrades(ctx, TradeFilter{Code: "600000"})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, 9.0, trades[0].Price)
}

func TestGetTrades_Filters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	dry := true
	mk := func(code string, action models.TradeAction, dryRun bool, offset time.Duration) {
		require.NoError(t, store.AppendTrade(ctx, &models.TradeRecord{
			ID: uuid.NewString(), Code: code, Action: action,
			Price: 10, Quantity: 100, Amount: 1000,
			Timestamp: now.Add(offset), Status: models.TradeFilled, DryRun: dryRun,
		}))
	}
	mk("600000", models.ActionSell, false, 0)
	mk("600000", models.ActionBuy, false, time.Second)
	mk("000001", models.ActionSell, true, 2*time.Second)

	byCode, err := store.GetTrades(ctx, TradeFilter{Code: "600000"})
	require.NoError(t, err)
	assert.Len(t, byCode, 2)

	byAction, err := store.GetTrades(ctx, TradeFilter{Action: string(models.ActionSell)})
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	byDate, err := store.GetTrades(ctx, TradeFilter{Date: now.Format("2006-01-02")})
	require.NoError(t, err)
	assert.Len(t, byDate, 3)

	liveOnly := false
	live, err := store.GetTrades(ctx, TradeFilter{DryRun: &liveOnly})
	require.NoError(t, err)
	assert.Len(t, live, 2)

	dryOnly, err := store.GetTrades(ctx, TradeFilter{DryRun: &dry})
	require.NoError(t, err)
	assert.Len(t, dryOnly, 1)

	// Results come back oldest first (submission order).
	assert.True(t, byDate[0].Timestamp.Before(byDate[2].Timestamp))
}

func TestDailyStats_UpsertAndNotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetDailyStats(ctx, "2026-08-25")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrDataNotFound))

	stats := &models.DailyStats{Date: "2026-08-25", TradeCount: 3, RealizedPnL: -120.5}
	require.NoError(t, store.SaveDailyStats(ctx, stats))

	stats.TradeCount = 4
	stats.CircuitBreakerTripped = true
	require.NoError(t, store.SaveDailyStats(ctx, stats))

	got, err := store.GetDailyStats(ctx, "2026-08-25")
	require.NoError(t, err)
	assert.Equal(t, 4, got.TradeCount)
	assert.Equal(t, -120.5, got.RealizedPnL)
	assert.True(t, got.CircuitBreakerTripped)
}

func TestCache_RoundTripAndLazyExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CacheSet(ctx, "600000_last_trading_day", "quote", []byte(`{"price":9.5}`), time.Hour))

	entry, err := store.CacheGet(ctx, "600000_last_trading_day")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "quote", entry.Category)
	assert.Equal(t, []byte(`{"price":9.5}`), entry.Value)

	// Already-expired entries read back as a miss and are lazily deleted.
	require.NoError(t, store.CacheSet(ctx, "stale", "quote", []byte("x"), -time.Minute))
	gone, err := store.CacheGet(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, gone)

	stats, err := store.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
}

func TestTasks_SnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	task := &models.Task{
		ID: uuid.NewString(),
		Order: models.Order{
			Code: "600000", Name: "浦发银行", Action: models.ActionSell, Quantity: 100, Price: 9.0,
		},
		State:     models.TaskPending,
		CreatedAt: now,
	}
	require.NoError(t, store.SaveTask(ctx, task))

	// Terminal snapshot overwrites the pending one.
	task.State = models.TaskCompleted
	task.StartedAt = now.Add(time.Second)
	task.CompletedAt = now.Add(2 * time.Second)
	task.Result = "order placed"
	require.NoError(t, store.SaveTask(ctx, task))

	tasks, err := store.GetTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskCompleted, tasks[0].State)
	assert.Equal(t, "600000", tasks[0].Order.Code)
	assert.Equal(t, "order placed", tasks[0].Result)
	assert.False(t, tasks[0].CompletedAt.IsZero())
}

func TestGetTasks_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.SaveTask(ctx, &models.Task{
			ID:        uuid.NewString(),
			Order:     models.Order{Code: fmt.Sprintf("60000%d", i), Action: models.ActionBuy, Quantity: 100, Price: 10},
			State:     models.TaskCompleted,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	tasks, err := store.GetTasks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "600002", tasks[0].Order.Code)
	assert.Equal(t, "600001", tasks[1].Order.Code)
}

func TestCache_ClearExpiredAndCategory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.CacheSet(ctx, fmt.Sprintf("q%d", i), "quote", []byte("v"), time.Hour))
	}
	require.NoError(t, store.CacheSet(ctx, "s0", "score", []byte("v"), time.Hour))
	require.NoError(t, store.CacheSet(ctx, "old0", "score", []byte("v"), -time.Minute))
	require.NoError(t, store.CacheSet(ctx, "old1", "quote", []byte("v"), -time.Minute))

	removed, err := store.CacheClearExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = store.CacheClearCategory(ctx, "quote")
	require.NoError(t, err)
	assert.Equal(t, int64(3), removed)

	stats, err := store.CacheStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)
	assert.Equal(t, int64(1), stats.Categories["score"])
}
