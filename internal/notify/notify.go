// Package notify surfaces trading events to the operator.
package notify

import (
	"context"
	"time"

	"ths-trader/internal/models"
)

// Notifier receives trading lifecycle events. Notification failures are
// never allowed to affect the trading pipeline itself.
type Notifier interface {
	NotifyTrade(ctx context.Context, record *models.TradeRecord) error
	NotifyRiskReject(ctx context.Context, signal *models.TradeSignal, result *models.RiskCheckResult) error
	NotifyBreakerTripped(ctx context.Context, stats *models.DailyStats) error
	NotifySummary(ctx context.Context, summary *RunSummary) error
}

// RunSummary aggregates the outcome of one evaluation pass.
type RunSummary struct {
	Timestamp     time.Time
	Evaluated     int
	Signals       int
	RiskRejected  int
	Submitted     int
	Completed     int
	Failed        int
	RealizedPnL   float64
	BreakerActive bool
}

// NoOpNotifier discards all events. Used in tests and when output is
// suppressed.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a notifier that does nothing.
func NewNoOpNotifier() *NoOpNotifier { return &NoOpNotifier{} }

func (n *NoOpNotifier) NotifyTrade(ctx context.Context, record *models.TradeRecord) error {
	return nil
}

func (n *NoOpNotifier) NotifyRiskReject(ctx context.Context, signal *models.TradeSignal, result *models.RiskCheckResult) error {
	return nil
}

func (n *NoOpNotifier) NotifyBreakerTripped(ctx context.Context, stats *models.DailyStats) error {
	return nil
}

func (n *NoOpNotifier) NotifySummary(ctx context.Context, summary *RunSummary) error {
	return nil
}
