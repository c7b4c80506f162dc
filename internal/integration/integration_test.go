// Package integration exercises the decision → risk → execution stack
// end to end against a real SQLite store and a stubbed backend.
package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ths-trader/internal/backend"
	"ths-trader/internal/config"
	"ths-trader/internal/decision"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/executor"
	"ths-trader/internal/models"
	"ths-trader/internal/notify"
	"ths-trader/internal/risk"
	"ths-trader/internal/store"
	"ths-trader/internal/trading"
)

type alwaysOpen struct{}

func (alwaysOpen) IsTradingTime(time.Time) bool { return true }

type fixedMarket struct {
	positions []models.Position
	quotes    map[string]*models.Quote
	scores    map[string]*models.ModelScore
}

func (m *fixedMarket) GetPositions(ctx context.Context) ([]models.Position, error) {
	out := make([]models.Position, len(m.positions))
	copy(out, m.positions)
	return out, nil
}

func (m *fixedMarket) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	return m.quotes[code], nil
}

func (m *fixedMarket) GetQuotes(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	return m.quotes, nil
}

func (m *fixedMarket) GetScore(ctx context.Context, code string) (*models.ModelScore, error) {
	return m.scores[code], nil
}

func (m *fixedMarket) GetScores(ctx context.Context, codes []string) (map[string]*models.ModelScore, error) {
	return m.scores, nil
}

type stack struct {
	cfg   *config.Config
	store *store.SQLiteStore
	risk  *risk.Manager
	exec  *executor.Executor
	pipe  *trading.Pipeline
}

func buildStack(t *testing.T, data *fixedMarket, mutate func(cfg *config.Config)) *stack {
	t.Helper()

	cfg := config.Default()
	cfg.Executor.OrderInterval = time.Millisecond
	cfg.Executor.TaskTimeout = 2 * time.Second
	cfg.Risk.MinTradeInterval = 0
	cfg.Risk.EnforceTradingTime = false
	if mutate != nil {
		mutate(cfg)
	}

	logger := zerolog.Nop()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "trader.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	riskMgr, err := risk.NewManager(&cfg.Risk, st, alwaysOpen{}, logger)
	require.NoError(t, err)

	exec := executor.New(&cfg.Executor, backend.NewDryRunBackend(0), logger)
	exec.Start()
	t.Cleanup(exec.Close)

	engine := decision.NewEngine(&cfg.Decision, nil, logger)
	pipe := trading.NewPipeline(cfg, engine, riskMgr, exec, data, data, data,
		notify.NewNoOpNotifier(), st, logger, false)

	return &stack{cfg: cfg, store: st, risk: riskMgr, exec: exec, pipe: pipe}
}

func stopLossMarket() *fixedMarket {
	return &fixedMarket{
		positions: []models.Position{
			{Code: "600000", Name: "浦发银行", Quantity: 100, Available: 100, CostPrice: 10.0, HoldingDays: 5},
		},
		quotes: map[string]*models.Quote{
			"600000": {Code: "600000", Name: "浦发银行", Price: 9.0, PrevClose: 10.0, Open: 9.8, High: 9.9, Low: 8.9, ChangePercent: -9.0, Timestamp: time.Now()},
		},
		scores: map[string]*models.ModelScore{
			"600000": {Code: "600000", Score: 50, Recommendation: models.RecHold, Confidence: 0.7, UpdatedAt: time.Now()},
		},
	}
}

// A -10% position must flow all the way: critical sell signal, risk
// pass, order executed, one filled sell in the ledger.
func TestEndToEnd_StopLossSell(t *testing.T) {
	s := buildStack(t, stopLossMarket(), nil)

	summary, err := s.pipe.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Signals)
	assert.Equal(t, 1, summary.Completed)

	trades, err := s.store.GetTrades(context.Background(), store.TradeFilter{Code: "600000"})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	assert.Equal(t, models.ActionSell, trades[0].Action)
	assert.Equal(t, 9.0, trades[0].Price)
	assert.Equal(t, 100, trades[0].Quantity)
	assert.Equal(t, models.TradeFilled, trades[0].Status)
	assert.InDelta(t, -100.0, trades[0].RealizedPnL, 1e-9)
}

// With the daily count already at the cap and closing-while-limited
// disabled, a valid signal is rejected by the daily limit rule and
// nothing reaches the executor.
func TestEndToEnd_DailyLimitBlocksSubmission(t *testing.T) {
	s := buildStack(t, stopLossMarket(), func(cfg *config.Config) {
		cfg.Risk.MaxDailyTrades = 3
		cfg.Risk.AllowCloseWhenLimited = false
	})

	// Seed today's ledger at the cap using other instruments.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.risk.Record(context.Background(), &models.TradeRecord{
			ID:        uuid.NewString(),
			Code:      fmt.Sprintf("00000%d", i+1),
			Action:    models.ActionBuy,
			Price:     10.0,
			Quantity:  500,
			Amount:    5000,
			Timestamp: time.Now(),
			Status:    models.TradeFilled,
		}))
	}

	summary, err := s.pipe.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Signals)
	assert.Equal(t, 1, summary.RiskRejected)
	assert.Equal(t, 0, summary.Submitted)

	stats := s.exec.Stats()
	assert.Zero(t, stats.Submitted, "rejected signal must never reach the executor")

	trades, err := s.store.GetTrades(context.Background(), store.TradeFilter{Code: "600000"})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

// The failing rule is reported by name.
func TestEndToEnd_RejectionNamesRule(t *testing.T) {
	s := buildStack(t, stopLossMarket(), func(cfg *config.Config) {
		cfg.Risk.MaxDailyTrades = 0
		cfg.Risk.AllowCloseWhenLimited = false
	})

	signal := &models.TradeSignal{
		Code: "600000", Name: "浦发银行", Action: models.ActionSell,
		Priority: models.PriorityCritical, Quantity: 100, Price: 9.0,
		CreatedAt: time.Now(),
	}
	result := s.pipe.CheckRisk(signal)
	assert.False(t, result.Passed)
	assert.Equal(t, risk.RuleDailyTrades, result.Reason)
}

// A queue of capacity 2 with the worker stopped accepts two orders and
// rejects the third with ErrQueueFull.
func TestEndToEnd_QueueCapacity(t *testing.T) {
	cfg := config.Default()
	cfg.Executor.QueueCapacity = 2
	cfg.Executor.OrderInterval = time.Millisecond

	exec := executor.New(&cfg.Executor, backend.NewDryRunBackend(0), zerolog.Nop())
	// Worker deliberately not started: submissions stay queued.
	t.Cleanup(exec.Close)

	order := models.Order{Code: "600000", Action: models.ActionBuy, Quantity: 100, Price: 10}

	_, err := exec.Submit(order)
	require.NoError(t, err)
	_, err = exec.Submit(order)
	require.NoError(t, err)

	_, err = exec.Submit(order)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrQueueFull))
}

// A breaker tripped by one pass rejects every signal in the next pass.
func TestEndToEnd_BreakerPersistsAcrossPasses(t *testing.T) {
	s := buildStack(t, stopLossMarket(), nil)

	// Pass 1: the -100 realized loss on a ~900 portfolio trips the breaker.
	summary, err := s.pipe.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)
	require.True(t, summary.BreakerActive)

	// Pass 2: same signal now rejected by the breaker rule.
	summary, err = s.pipe.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RiskRejected)
	assert.Equal(t, 0, summary.Submitted)

	// The trip state survives a process restart via daily_stats.
	restored, err := risk.NewManager(&s.cfg.Risk, s.store, alwaysOpen{}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, restored.DailyStats().CircuitBreakerTripped)
}
