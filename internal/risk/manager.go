// Package risk gates trade signals behind day-scoped limits and a circuit breaker.
package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
	"ths-trader/internal/store"
)

// Rule identifiers reported in RiskCheckResult. The check cascade evaluates
// them in this order and short-circuits on the first failure.
const (
	RuleInvalidInput   = "invalid_input"
	RuleCircuitBreaker = "circuit_breaker_tripped"
	RuleTradingTime    = "not_trading_time"
	RuleDailyTrades    = "daily_trade_limit"
	RuleTradeInterval  = "trade_interval"
	RuleTradeAmount    = "trade_amount"
	RulePositionRatio  = "position_ratio"
	RuleDailyLoss      = "daily_loss_limit"
	RuleBlacklist      = "blacklist"
	RuleRestricted     = "restricted_instrument"
)

// SessionGate answers whether orders may be placed at a given instant.
// Implemented by market.SessionManager.
type SessionGate interface {
	IsTradingTime(t time.Time) bool
}

// Ledger is the slice of the data store the risk manager persists through.
type Ledger interface {
	AppendTrade(ctx context.Context, record *models.TradeRecord) error
	GetTrades(ctx context.Context, filter store.TradeFilter) ([]models.TradeRecord, error)
	GetDailyStats(ctx context.Context, date string) (*models.DailyStats, error)
	SaveDailyStats(ctx context.Context, stats *models.DailyStats) error
}

// dayState is the explicit per-session context holding the day's counters.
// It is reset at the session boundary and never shared as ambient state.
type dayState struct {
	date        string
	tradeCount  int
	realizedPnL float64
	tripped     bool
	trippedAt   time.Time
	lastTradeAt map[string]time.Time
}

func newDayState(date string) *dayState {
	return &dayState{
		date:        date,
		lastTradeAt: make(map[string]time.Time),
	}
}

// PortfolioSnapshot carries the portfolio-level figures the ratio rules
// need. Refreshed by the orchestrator each cycle.
type PortfolioSnapshot struct {
	TotalValue     float64            // market value of all positions plus cash
	PositionValues map[string]float64 // per-instrument market value
}

// Manager is the gatekeeper between signal generation and execution. The
// single mutex makes the ledger append and the circuit-breaker transition
// atomic together.
type Manager struct {
	cfg      *config.RiskConfig
	ledger   Ledger
	sessions SessionGate
	logger   zerolog.Logger

	mu        sync.Mutex
	day       *dayState
	portfolio PortfolioSnapshot
	blacklist []string
	now       func() time.Time
}

// NewManager creates a risk manager and restores today's counters from the
// ledger, so a restart mid-day keeps the circuit breaker honest. sessions
// may be nil when trading-time enforcement is disabled.
func NewManager(cfg *config.RiskConfig, ledger Ledger, sessions SessionGate, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		ledger:   ledger,
		sessions: sessions,
		logger:   logger.With().Str("component", "risk").Logger(),
		now:      time.Now,
	}
	m.day = newDayState(m.today())

	if err := m.restoreDay(context.Background()); err != nil {
		return nil, errs.Wrap(err, "restoring daily counters")
	}
	return m, nil
}

// restoreDay rebuilds today's counters from persisted state. A persistence
// failure on a previous day must never poison a fresh day, so only today's
// records are consulted.
func (m *Manager) restoreDay(ctx context.Context) error {
	if m.ledger == nil {
		return nil
	}

	stats, err := m.ledger.GetDailyStats(ctx, m.day.date)
	if err != nil && !errs.Is(err, errs.ErrDataNotFound) {
		return err
	}
	if stats != nil {
		m.day.tradeCount = stats.TradeCount
		m.day.realizedPnL = stats.RealizedPnL
		m.day.tripped = stats.CircuitBreakerTripped
	}

	trades, err := m.ledger.GetTrades(ctx, store.TradeFilter{Date: m.day.date})
	if err != nil {
		return err
	}
	for i := range trades {
		tr := &trades[i]
		if tr.DryRun {
			continue
		}
		if last, ok := m.day.lastTradeAt[tr.Code]; !ok || tr.Timestamp.After(last) {
			m.day.lastTradeAt[tr.Code] = tr.Timestamp
		}
	}
	return nil
}

// UpdatePortfolio refreshes the portfolio snapshot used by the ratio rules.
func (m *Manager) UpdatePortfolio(snapshot PortfolioSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portfolio = snapshot
}

// Check evaluates a signal against the rule cascade. It is idempotent for a
// given counter state: two calls with no intervening Record return the same
// result. Violations are reported, not returned as errors.
func (m *Manager) Check(signal *models.TradeSignal) models.RiskCheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()

	if signal == nil {
		return fail(RuleInvalidInput, models.RiskHigh, "nil signal")
	}

	// Circuit breaker first: a tripped day rejects everything cheaply.
	if m.day.tripped {
		return fail(RuleCircuitBreaker, models.RiskHigh,
			fmt.Sprintf("circuit breaker tripped at %s, daily P&L %.2f",
				m.day.trippedAt.Format("15:04:05"), m.day.realizedPnL))
	}

	if m.cfg.EnforceTradingTime && m.sessions != nil && !m.sessions.IsTradingTime(m.now()) {
		return fail(RuleTradingTime, models.RiskMedium, "outside trading window")
	}

	if m.day.tradeCount >= m.cfg.MaxDailyTrades {
		closing := signal.Action == models.ActionSell
		if !(closing && m.cfg.AllowCloseWhenLimited) {
			return fail(RuleDailyTrades, models.RiskMedium,
				fmt.Sprintf("daily trade count %d reached limit %d", m.day.tradeCount, m.cfg.MaxDailyTrades))
		}
	}

	if last, ok := m.day.lastTradeAt[signal.Code]; ok {
		if elapsed := m.now().Sub(last); elapsed < m.cfg.MinTradeInterval {
			return fail(RuleTradeInterval, models.RiskLow,
				fmt.Sprintf("last trade on %s was %.0fs ago, minimum interval %s",
					signal.Code, elapsed.Seconds(), m.cfg.MinTradeInterval))
		}
	}

	amount := signal.Amount()
	if amount > m.cfg.MaxSingleTradeAmount {
		return fail(RuleTradeAmount, models.RiskLow,
			fmt.Sprintf("notional %.2f exceeds per-trade cap %.2f",
				amount, m.cfg.MaxSingleTradeAmount))
	}
	// Below-minimum notional is advisory only; closing a small position
	// must never be blocked.
	if amount < m.cfg.MinTradeAmount {
		m.logger.Warn().Str("code", signal.Code).Float64("amount", amount).
			Float64("min", m.cfg.MinTradeAmount).Msg("trade notional below recommended minimum")
	}

	if signal.Action == models.ActionBuy && m.portfolio.TotalValue > 0 {
		projected := (m.portfolio.PositionValues[signal.Code] + amount) / m.portfolio.TotalValue
		if projected > m.cfg.MaxPositionRatio {
			return fail(RulePositionRatio, models.RiskMedium,
				fmt.Sprintf("projected position ratio %.2f exceeds cap %.2f", projected, m.cfg.MaxPositionRatio))
		}
	}

	if m.portfolio.TotalValue > 0 {
		lossRatio := m.day.realizedPnL / m.portfolio.TotalValue
		if lossRatio <= m.cfg.DailyLossLimit {
			return fail(RuleDailyLoss, models.RiskHigh,
				fmt.Sprintf("daily loss ratio %.3f at limit %.3f", lossRatio, m.cfg.DailyLossLimit))
		}
	}

	if m.isBlacklisted(signal.Code) {
		return fail(RuleBlacklist, models.RiskHigh, "instrument is blacklisted")
	}

	if isRestricted(signal.Name) && signal.Action == models.ActionBuy && m.portfolio.TotalValue > 0 {
		projected := (m.portfolio.PositionValues[signal.Code] + amount) / m.portfolio.TotalValue
		if projected > m.cfg.RestrictedMaxRatio {
			return fail(RuleRestricted, models.RiskMedium,
				fmt.Sprintf("restricted instrument ratio %.2f exceeds cap %.2f", projected, m.cfg.RestrictedMaxRatio))
		}
	}

	return models.RiskCheckResult{
		Passed: true,
		Level:  m.levelForLocked(signal),
	}
}

// Record appends an executed trade to the ledger and updates the day's
// counters. If the updated daily P&L crosses the loss limit the circuit
// breaker trips in the same critical section. A ledger write failure is
// escalated as ErrPersistenceFailure and leaves counters untouched.
func (m *Manager) Record(ctx context.Context, record *models.TradeRecord) error {
	if record == nil {
		return errs.NewValidationError("record", nil, "trade record is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked()

	if m.ledger != nil {
		if err := m.ledger.AppendTrade(ctx, record); err != nil {
			return errs.Wrapf(errs.ErrPersistenceFailure,
				"appending trade %s %s %s", record.ID, record.Action, record.Code)
		}
	}

	// Dry-run records are persisted for audit but never feed the live
	// counters the breaker depends on.
	if record.DryRun {
		return nil
	}

	m.day.tradeCount++
	m.day.realizedPnL += record.RealizedPnL
	m.day.lastTradeAt[record.Code] = record.Timestamp

	if !m.day.tripped && m.portfolio.TotalValue > 0 {
		lossRatio := m.day.realizedPnL / m.portfolio.TotalValue
		if lossRatio <= m.cfg.DailyLossLimit {
			m.day.tripped = true
			m.day.trippedAt = m.now()
			m.logger.Error().
				Float64("daily_pnl", m.day.realizedPnL).
				Float64("loss_ratio", lossRatio).
				Msg("Circuit breaker tripped")
		}
	}

	if m.ledger != nil {
		stats := m.statsLocked()
		if err := m.ledger.SaveDailyStats(ctx, &stats); err != nil {
			// The ledger append already succeeded; the snapshot is
			// recomputable from it on the next restore.
			m.logger.Error().Err(err).Msg("Failed to persist daily stats snapshot")
		}
	}

	return nil
}

// DailyStats returns the current day's counters.
func (m *Manager) DailyStats() models.DailyStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked()
	return m.statsLocked()
}

// ResetBreaker explicitly clears a tripped circuit breaker before the next
// session boundary. Deliberate operator action only.
func (m *Manager) ResetBreaker(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.day.tripped {
		return nil
	}
	m.day.tripped = false
	m.day.trippedAt = time.Time{}
	m.logger.Warn().Str("date", m.day.date).Msg("Circuit breaker manually reset")

	if m.ledger != nil {
		stats := m.statsLocked()
		if err := m.ledger.SaveDailyStats(ctx, &stats); err != nil {
			return errs.Wrap(errs.ErrPersistenceFailure, "persisting breaker reset")
		}
	}
	return nil
}

func (m *Manager) statsLocked() models.DailyStats {
	return models.DailyStats{
		Date:                  m.day.date,
		TradeCount:            m.day.tradeCount,
		RealizedPnL:           m.day.realizedPnL,
		CircuitBreakerTripped: m.day.tripped,
	}
}

// rollDayLocked swaps in a fresh day state when the wall clock has crossed
// the session boundary. A tripped breaker never carries into a new day.
func (m *Manager) rollDayLocked() {
	if today := m.today(); today != m.day.date {
		m.logger.Info().Str("from", m.day.date).Str("to", today).Msg("Daily counters reset")
		m.day = newDayState(today)
	}
}

func (m *Manager) today() string {
	return m.now().Format("2006-01-02")
}

func (m *Manager) levelForLocked(signal *models.TradeSignal) models.RiskLevel {
	switch {
	case m.day.tradeCount >= m.cfg.MaxDailyTrades*3/4,
		signal.Amount() > m.cfg.MaxSingleTradeAmount*0.8:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

func (m *Manager) isBlacklisted(code string) bool {
	for _, b := range m.blacklist {
		if b == code {
			return true
		}
	}
	return false
}

// SetBlacklist installs the static exclusion list checked by RuleBlacklist.
func (m *Manager) SetBlacklist(codes []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blacklist = codes
}

// isRestricted reports whether the instrument carries an ST/*ST special
// treatment flag in its display name.
func isRestricted(name string) bool {
	return strings.HasPrefix(name, "ST") || strings.HasPrefix(name, "*ST")
}

func fail(rule string, level models.RiskLevel, message string) models.RiskCheckResult {
	return models.RiskCheckResult{
		Passed:     false,
		Level:      level,
		Reason:     rule,
		Violations: []string{rule},
		Message:    message,
	}
}
