package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
	"ths-trader/internal/store"
)

// memLedger is an in-memory Ledger for tests.
type memLedger struct {
	mu      sync.Mutex
	trades  []models.TradeRecord
	stats   map[string]models.DailyStats
	failOn  bool // next AppendTrade fails
	appends int
}

func newMemLedger() *memLedger {
	return &memLedger{stats: make(map[string]models.DailyStats)}
}

func (l *memLedger) AppendTrade(_ context.Context, record *models.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failOn {
		return errors.New("disk full")
	}
	l.trades = append(l.trades, *record)
	l.appends++
	return nil
}

func (l *memLedger) GetTrades(_ context.Context, filter store.TradeFilter) ([]models.TradeRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.TradeRecord
	for _, tr := range l.trades {
		if filter.Date != "" && tr.Timestamp.Format("2006-01-02") != filter.Date {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (l *memLedger) GetDailyStats(_ context.Context, date string) (*models.DailyStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.stats[date]; ok {
		return &s, nil
	}
	return nil, errs.ErrDataNotFound
}

func (l *memLedger) SaveDailyStats(_ context.Context, stats *models.DailyStats) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats[stats.Date] = *stats
	return nil
}

func testManager(t *testing.T, ledger Ledger) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Risk.EnforceTradingTime = false
	m, err := NewManager(&cfg.Risk, ledger, nil, zerolog.Nop())
	require.NoError(t, err)
	m.UpdatePortfolio(PortfolioSnapshot{
		TotalValue:     100000,
		PositionValues: map[string]float64{},
	})
	return m
}

func sellSignal(code string, price float64, qty int) *models.TradeSignal {
	return &models.TradeSignal{
		Code:      code,
		Action:    models.ActionSell,
		Priority:  models.PriorityHigh,
		Quantity:  qty,
		Price:     price,
		Reasons:   []string{"test"},
		CreatedAt: time.Now(),
	}
}

func filledTrade(code string, action models.TradeAction, price float64, qty int, pnl float64) *models.TradeRecord {
	return &models.TradeRecord{
		ID:          uuid.NewString(),
		Code:        code,
		Action:      action,
		Price:       price,
		Quantity:    qty,
		Amount:      price * float64(qty),
		Timestamp:   time.Now(),
		Status:      models.TradeFilled,
		RealizedPnL: pnl,
	}
}

func TestCheck_NilSignalNamesInvalidInput(t *testing.T) {
	m := testManager(t, newMemLedger())

	res := m.Check(nil)
	assert.False(t, res.Passed)
	assert.Equal(t, RuleInvalidInput, res.Reason)
}

func TestCheck_IdempotentWithoutRecord(t *testing.T) {
	m := testManager(t, newMemLedger())
	signal := sellSignal("600000", 9.0, 1000)

	first := m.Check(signal)
	second := m.Check(signal)

	assert.Equal(t, first, second, "Check must be idempotent absent an intervening Record")
	assert.True(t, first.Passed)
}

func TestCheck_CircuitBreakerTripsAfterLossLimit(t *testing.T) {
	m := testManager(t, newMemLedger())

	// Portfolio 100000, loss limit -0.05: a realized loss of 6000 trips it.
	err := m.Record(context.Background(), filledTrade("600000", models.ActionSell, 9.0, 1000, -6000))
	require.NoError(t, err)

	stats := m.DailyStats()
	assert.True(t, stats.CircuitBreakerTripped)

	// Every subsequent check that day fails with the breaker rule, for any
	// instrument.
	for _, code := range []string{"600000", "000001", "600519"} {
		res := m.Check(sellSignal(code, 10.0, 500))
		assert.False(t, res.Passed)
		assert.Equal(t, RuleCircuitBreaker, res.Reason)
		assert.Equal(t, models.RiskHigh, res.Level)
	}
}

func TestCheck_BreakerResetsOnNewDay(t *testing.T) {
	m := testManager(t, newMemLedger())

	require.NoError(t, m.Record(context.Background(),
		filledTrade("600000", models.ActionSell, 9.0, 1000, -6000)))
	require.True(t, m.DailyStats().CircuitBreakerTripped)

	// Advance the clock past midnight.
	m.now = func() time.Time { return time.Now().AddDate(0, 0, 1) }

	res := m.Check(sellSignal("600000", 10.0, 500))
	assert.True(t, res.Passed, "fresh day must start with a fresh breaker: %+v", res)
	assert.False(t, m.DailyStats().CircuitBreakerTripped)
}

func TestCheck_DailyTradeLimit(t *testing.T) {
	ledger := newMemLedger()
	cfg := config.Default()
	cfg.Risk.EnforceTradingTime = false
	cfg.Risk.MaxDailyTrades = 3
	cfg.Risk.MinTradeInterval = 0
	cfg.Risk.AllowCloseWhenLimited = false
	m, err := NewManager(&cfg.Risk, ledger, nil, zerolog.Nop())
	require.NoError(t, err)
	m.UpdatePortfolio(PortfolioSnapshot{TotalValue: 1_000_000, PositionValues: map[string]float64{}})

	for i := 0; i < 3; i++ {
		code := fmt.Sprintf("60000%d", i)
		res := m.Check(sellSignal(code, 10.0, 500))
		require.True(t, res.Passed, "trade %d should pass: %+v", i, res)
		require.NoError(t, m.Record(context.Background(),
			filledTrade(code, models.ActionSell, 10.0, 500, 10)))
	}

	res := m.Check(sellSignal("600099", 10.0, 500))
	assert.False(t, res.Passed)
	assert.Equal(t, RuleDailyTrades, res.Reason)
}

func TestCheck_ClosingAllowedWhenLimited(t *testing.T) {
	cfg := config.Default()
	cfg.Risk.EnforceTradingTime = false
	cfg.Risk.MaxDailyTrades = 1
	cfg.Risk.MinTradeInterval = 0
	cfg.Risk.AllowCloseWhenLimited = true
	m, err := NewManager(&cfg.Risk, newMemLedger(), nil, zerolog.Nop())
	require.NoError(t, err)
	m.UpdatePortfolio(PortfolioSnapshot{TotalValue: 1_000_000, PositionValues: map[string]float64{}})

	require.NoError(t, m.Record(context.Background(),
		filledTrade("600000", models.ActionSell, 10.0, 500, 0)))

	// Sells (closing) still pass; buys are rejected.
	sell := m.Check(sellSignal("600001", 10.0, 500))
	assert.True(t, sell.Passed, "%+v", sell)

	buy := &models.TradeSignal{Code: "600002", Action: models.ActionBuy, Quantity: 500, Price: 10.0}
	res := m.Check(buy)
	assert.False(t, res.Passed)
	assert.Equal(t, RuleDailyTrades, res.Reason)
}

func TestCheck_TradeInterval(t *testing.T) {
	m := testManager(t, newMemLedger())

	require.NoError(t, m.Record(context.Background(),
		filledTrade("600000", models.ActionSell, 10.0, 500, 0)))

	// Immediately retrading the same instrument violates the interval.
	res := m.Check(sellSignal("600000", 10.0, 500))
	assert.False(t, res.Passed)
	assert.Equal(t, RuleTradeInterval, res.Reason)

	// A different instrument is unaffected.
	other := m.Check(sellSignal("000001", 10.0, 500))
	assert.True(t, other.Passed, "%+v", other)
}

func TestCheck_TradeAmountBounds(t *testing.T) {
	m := testManager(t, newMemLedger())

	// Below-minimum notional is advisory: closing a small position passes.
	tooSmall := m.Check(sellSignal("600000", 10.0, 100)) // 1000 < min 4000
	assert.True(t, tooSmall.Passed, "%+v", tooSmall)

	tooLarge := m.Check(sellSignal("600000", 100.0, 500)) // 50000 > max 12000
	assert.False(t, tooLarge.Passed)
	assert.Equal(t, RuleTradeAmount, tooLarge.Reason)
}

func TestCheck_PositionRatioCap(t *testing.T) {
	m := testManager(t, newMemLedger())
	m.UpdatePortfolio(PortfolioSnapshot{
		TotalValue:     30000,
		PositionValues: map[string]float64{"600000": 5000},
	})

	// 5000 existing + 10000 new = 0.5 of 30000, above the 0.30 cap.
	buy := &models.TradeSignal{Code: "600000", Action: models.ActionBuy, Quantity: 1000, Price: 10.0}
	res := m.Check(buy)
	assert.False(t, res.Passed)
	assert.Equal(t, RulePositionRatio, res.Reason)
}

func TestCheck_Blacklist(t *testing.T) {
	m := testManager(t, newMemLedger())
	m.SetBlacklist([]string{"600000"})

	res := m.Check(sellSignal("600000", 10.0, 500))
	assert.False(t, res.Passed)
	assert.Equal(t, RuleBlacklist, res.Reason)
}

func TestCheck_RestrictedInstrumentRatio(t *testing.T) {
	m := testManager(t, newMemLedger())
	m.UpdatePortfolio(PortfolioSnapshot{
		TotalValue:     50000,
		PositionValues: map[string]float64{"600123": 0},
	})

	buy := &models.TradeSignal{
		Code: "600123", Name: "*ST XYKG",
		Action: models.ActionBuy, Quantity: 1000, Price: 10.0,
	}
	// 10000 / 50000 = 0.2, above the 0.10 restricted cap but below the
	// general 0.30 cap.
	res := m.Check(buy)
	assert.False(t, res.Passed)
	assert.Equal(t, RuleRestricted, res.Reason)
}

func TestRecord_PersistenceFailureEscalates(t *testing.T) {
	ledger := newMemLedger()
	m := testManager(t, ledger)

	ledger.failOn = true
	err := m.Record(context.Background(), filledTrade("600000", models.ActionSell, 10.0, 500, -100))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrPersistenceFailure))

	// Counters untouched: no partial state.
	stats := m.DailyStats()
	assert.Zero(t, stats.TradeCount)
	assert.Zero(t, stats.RealizedPnL)
}

func TestRecord_DryRunDoesNotFeedCounters(t *testing.T) {
	ledger := newMemLedger()
	m := testManager(t, ledger)

	tr := filledTrade("600000", models.ActionSell, 10.0, 500, -6000)
	tr.DryRun = true
	require.NoError(t, m.Record(context.Background(), tr))

	stats := m.DailyStats()
	assert.Zero(t, stats.TradeCount)
	assert.False(t, stats.CircuitBreakerTripped)
	assert.Equal(t, 1, ledger.appends, "dry-run records are still persisted for audit")
}

func TestNewManager_RestoresCountersFromLedger(t *testing.T) {
	ledger := newMemLedger()
	today := time.Now().Format("2006-01-02")
	ledger.stats[today] = models.DailyStats{
		Date: today, TradeCount: 5, RealizedPnL: -1200, CircuitBreakerTripped: false,
	}
	ledger.trades = append(ledger.trades, *filledTrade("600000", models.ActionSell, 10.0, 500, -1200))

	cfg := config.Default()
	cfg.Risk.EnforceTradingTime = false
	m, err := NewManager(&cfg.Risk, ledger, nil, zerolog.Nop())
	require.NoError(t, err)

	stats := m.DailyStats()
	assert.Equal(t, 5, stats.TradeCount)
	assert.Equal(t, -1200.0, stats.RealizedPnL)

	// The interval rule sees the restored last-trade timestamp.
	res := m.Check(sellSignal("600000", 10.0, 500))
	assert.False(t, res.Passed)
	assert.Equal(t, RuleTradeInterval, res.Reason)
}

func TestResetBreaker(t *testing.T) {
	m := testManager(t, newMemLedger())

	require.NoError(t, m.Record(context.Background(),
		filledTrade("600000", models.ActionSell, 9.0, 1000, -6000)))
	require.True(t, m.DailyStats().CircuitBreakerTripped)

	require.NoError(t, m.ResetBreaker(context.Background()))
	assert.False(t, m.DailyStats().CircuitBreakerTripped)

	res := m.Check(sellSignal("000001", 10.0, 500))
	assert.True(t, res.Passed, "%+v", res)
}
