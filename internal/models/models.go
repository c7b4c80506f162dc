// Package models provides domain models for the trading core.
package models

import (
	"time"
)

// TradeAction represents the direction of a trade.
type TradeAction string

const (
	ActionBuy  TradeAction = "buy"
	ActionSell TradeAction = "sell"
	ActionHold TradeAction = "hold"
)

// SignalPriority represents the urgency of a trade signal.
type SignalPriority int

const (
	PriorityLow SignalPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns a human-readable priority name.
func (p SignalPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Recommendation represents a model-derived recommendation tier.
type Recommendation string

const (
	RecStrongSell Recommendation = "strong_sell"
	RecSell       Recommendation = "sell"
	RecHold       Recommendation = "hold"
	RecBuy        Recommendation = "buy"
	RecStrongBuy  Recommendation = "strong_buy"
)

// RiskLevel represents the severity band of a risk check result.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Position represents a held position. It is owned by the caller; the
// decision engine reads it and never mutates it.
type Position struct {
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Quantity     int     `json:"quantity"`
	Available    int     `json:"available"` // sellable today (T+1 settled)
	CostPrice    float64 `json:"cost_price"`
	CurrentPrice float64 `json:"current_price"`
	MarketValue  float64 `json:"market_value"`
	HoldingDays  int     `json:"holding_days"`
}

// ProfitLossRatio returns the unrealized P&L ratio against cost.
func (p *Position) ProfitLossRatio() float64 {
	if p.CostPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.CostPrice) / p.CostPrice
}

// Quote represents an immutable market quote snapshot. Its lifecycle is one
// refresh cycle or one cache TTL window.
type Quote struct {
	Code          string    `json:"code"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	PrevClose     float64   `json:"prev_close"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	Timestamp     time.Time `json:"timestamp"`
}

// ModelScore represents an externally produced per-instrument score.
type ModelScore struct {
	Code           string         `json:"code"`
	Score          float64        `json:"score"` // [0,100]
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"` // [0,1]
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TradeSignal is a recommended trade action with priority and rationale,
// not yet risk-checked. Value object; never mutated after creation.
type TradeSignal struct {
	Code       string         `json:"code"`
	Name       string         `json:"name"`
	Action     TradeAction    `json:"action"`
	Priority   SignalPriority `json:"priority"`
	Quantity   int            `json:"quantity"`
	Price      float64        `json:"price"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Amount returns the notional value of the signal.
func (s *TradeSignal) Amount() float64 {
	return s.Price * float64(s.Quantity)
}

// RiskCheckResult is the outcome of a risk check. Created per check and not
// persisted beyond the decision cycle.
type RiskCheckResult struct {
	Passed     bool      `json:"passed"`
	Level      RiskLevel `json:"level"`
	Reason     string    `json:"reason"` // first failing rule identifier
	Violations []string  `json:"violations"`
	Message    string    `json:"message"`
}

// TradeStatus represents the outcome of an executed trade.
type TradeStatus string

const (
	TradeFilled TradeStatus = "filled"
	TradeFailed TradeStatus = "failed"
)

// TradeRecord is one durable record per executed trade. The ledger is
// append-only; records are never deleted or edited in place.
type TradeRecord struct {
	ID          string      `json:"id"`
	Code        string      `json:"code"`
	Name        string      `json:"name"`
	Action      TradeAction `json:"action"`
	Price       float64     `json:"price"`
	Quantity    int         `json:"quantity"`
	Amount      float64     `json:"amount"`
	Timestamp   time.Time   `json:"timestamp"`
	Status      TradeStatus `json:"status"`
	RealizedPnL float64     `json:"realized_pnl"` // closing trades only
	DryRun      bool        `json:"dry_run"`
}

// Order is a risk-approved instruction handed to the execution queue.
type Order struct {
	Code     string      `json:"code"`
	Name     string      `json:"name"`
	Action   TradeAction `json:"action"`
	Quantity int         `json:"quantity"`
	Price    float64     `json:"price"` // 0 means market order
}

// TaskState represents the lifecycle state of an execution task.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskProcessing TaskState = "processing"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskTimeout    TaskState = "timeout"
	TaskCancelled  TaskState = "cancelled"
)

// Terminal reports whether the state is final. Terminal states are immutable.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskTimeout, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task tracks one queued execution. Transitions are driven exclusively by
// the executor.
type Task struct {
	ID          string    `json:"id"`
	Order       Order     `json:"order"`
	State       TaskState `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// DailyStats is the day-scoped trading summary derived from the ledger.
type DailyStats struct {
	Date                  string  `json:"date"` // 2006-01-02
	TradeCount            int     `json:"trade_count"`
	RealizedPnL           float64 `json:"realized_pnl"`
	CircuitBreakerTripped bool    `json:"circuit_breaker_tripped"`
}

// CacheEntry is one row of the market data cache. Expired entries are
// lazily evicted on read or by a periodic sweep.
type CacheEntry struct {
	Key       string    `json:"key"`
	Category  string    `json:"category"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at time t.
func (e *CacheEntry) Expired(t time.Time) bool {
	return !e.ExpiresAt.IsZero() && t.After(e.ExpiresAt)
}
