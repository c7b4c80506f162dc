// Package trading coordinates the decision → risk → execution pipeline.
package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ths-trader/internal/config"
	"ths-trader/internal/decision"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/executor"
	"ths-trader/internal/logging"
	"ths-trader/internal/market"
	"ths-trader/internal/models"
	"ths-trader/internal/notify"
	"ths-trader/internal/risk"
)

// pollInterval is how often task status is sampled while waiting for a
// submitted order to reach a terminal state.
const pollInterval = 100 * time.Millisecond

// TaskLog persists terminal task snapshots so past executions can be
// inspected after the process exits.
type TaskLog interface {
	SaveTask(ctx context.Context, task *models.Task) error
}

// Pipeline drives evaluation passes: refresh positions, gather market
// data, score each holding, risk-check the resulting signals, and hand
// approved orders to the executor one at a time.
type Pipeline struct {
	cfg       *config.Config
	engine    *decision.Engine
	risk      *risk.Manager
	exec      *executor.Executor
	quotes    market.QuoteProvider
	scores    market.ScoreProvider
	positions market.PositionProvider
	notifier  notify.Notifier
	taskLog   TaskLog
	logger    zerolog.Logger
	dryRun    bool
	now       func() time.Time
}

// NewPipeline assembles the orchestrator from its collaborators.
func NewPipeline(
	cfg *config.Config,
	engine *decision.Engine,
	riskMgr *risk.Manager,
	exec *executor.Executor,
	quotes market.QuoteProvider,
	scores market.ScoreProvider,
	positions market.PositionProvider,
	notifier notify.Notifier,
	taskLog TaskLog,
	logger zerolog.Logger,
	dryRun bool,
) *Pipeline {
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}
	return &Pipeline{
		cfg:       cfg,
		engine:    engine,
		risk:      riskMgr,
		exec:      exec,
		quotes:    quotes,
		scores:    scores,
		positions: positions,
		notifier:  notifier,
		taskLog:   taskLog,
		logger:    logging.WithComponent(logger, "pipeline"),
		dryRun:    dryRun,
		now:       time.Now,
	}
}

// RunOnce performs a single evaluation pass over the current portfolio.
// Per-instrument failures are logged and skipped; only portfolio-level
// failures abort the pass.
func (p *Pipeline) RunOnce(ctx context.Context) (*notify.RunSummary, error) {
	summary := &notify.RunSummary{Timestamp: p.now()}

	positions, err := p.positions.GetPositions(ctx)
	if err != nil {
		return nil, errs.Wrapf(err, "refreshing positions")
	}
	if len(positions) == 0 {
		p.logger.Info().Msg("no positions held, nothing to evaluate")
		return summary, nil
	}

	codes := make([]string, 0, len(positions))
	for _, pos := range positions {
		codes = append(codes, pos.Code)
	}

	quotes, err := p.quotes.GetQuotes(ctx, codes)
	if err != nil {
		return nil, errs.Wrapf(err, "fetching quotes")
	}
	scores, err := p.scores.GetScores(ctx, codes)
	if err != nil {
		return nil, errs.Wrapf(err, "fetching scores")
	}

	p.refreshPortfolio(positions, quotes)

	for i := range positions {
		pos := &positions[i]
		summary.Evaluated++
		logger := logging.WithCode(p.logger, pos.Code)

		quote, ok := quotes[pos.Code]
		if !ok {
			logger.Warn().Msg("no quote available, skipping")
			continue
		}
		score, ok := scores[pos.Code]
		if !ok {
			logger.Warn().Msg("no model score available, skipping")
			continue
		}

		pos.CurrentPrice = quote.Price
		pos.MarketValue = quote.Price * float64(pos.Quantity)

		signal, err := p.engine.Evaluate(pos, quote, score)
		if err != nil {
			logger.Error().Err(err).Msg("evaluation failed")
			continue
		}
		if signal == nil {
			continue
		}
		summary.Signals++
		logging.LogSignal(p.logger, signal.Code, string(signal.Action),
			signal.Priority.String(), signal.Confidence, signal.Reasons)

		result := p.risk.Check(signal)
		if !result.Passed {
			summary.RiskRejected++
			logging.LogRiskReject(p.logger, signal.Code, string(signal.Action),
				result.Reason, result.Message)
			if err := p.notifier.NotifyRiskReject(ctx, signal, &result); err != nil {
				logger.Warn().Err(err).Msg("risk-reject notification failed")
			}
			continue
		}

		p.processSignal(ctx, signal, pos, summary)
	}

	stats := p.risk.DailyStats()
	summary.RealizedPnL = stats.RealizedPnL
	summary.BreakerActive = stats.CircuitBreakerTripped

	if err := p.notifier.NotifySummary(ctx, summary); err != nil {
		p.logger.Warn().Err(err).Msg("summary notification failed")
	}
	return summary, nil
}

// RunAuto repeats evaluation passes at the given interval until the
// context is cancelled.
func (p *Pipeline) RunAuto(ctx context.Context, interval time.Duration) error {
	p.logger.Info().Dur("interval", interval).Msg("starting auto evaluation loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunOnce(ctx); err != nil {
			p.logger.Error().Err(err).Msg("evaluation pass failed")
		}

		select {
		case <-ctx.Done():
			p.logger.Info().Msg("auto evaluation loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// processSignal submits an approved signal and follows the task to a
// terminal state, recording the outcome against the day's ledger.
func (p *Pipeline) processSignal(ctx context.Context, signal *models.TradeSignal, pos *models.Position, summary *notify.RunSummary) {
	order := models.Order{
		Code:     signal.Code,
		Name:     signal.Name,
		Action:   signal.Action,
		Quantity: signal.Quantity,
		Price:    signal.Price,
	}

	taskID, err := p.exec.Submit(order)
	if err != nil {
		p.logger.Warn().Str("code", signal.Code).Err(err).Msg("order submission failed")
		return
	}
	summary.Submitted++

	tlog := logging.WithTaskID(p.logger, taskID)

	task, err := p.waitTerminal(ctx, taskID)
	if err != nil {
		tlog.Error().Err(err).Msg("lost track of task")
		return
	}
	logging.LogTask(p.logger, task.ID, task.Order.Code, string(task.State),
		task.CompletedAt.Sub(task.StartedAt), nil)

	if p.taskLog != nil {
		if err := p.taskLog.SaveTask(ctx, &task); err != nil {
			tlog.Warn().Err(err).Msg("task snapshot write failed")
		}
	}

	if task.State != models.TaskCompleted {
		summary.Failed++
		tlog.Error().
			Str("code", signal.Code).
			Str("state", string(task.State)).
			Str("error", task.Error).
			Msg("order did not complete")
		return
	}
	summary.Completed++

	record := p.buildRecord(signal, pos)
	trippedBefore := p.risk.DailyStats().CircuitBreakerTripped

	if err := p.risk.Record(ctx, record); err != nil {
		// Execution succeeded but the ledger write failed. The trade
		// happened; surface it loudly and keep going.
		p.logger.Error().
			Str("code", record.Code).
			Str("trade_id", record.ID).
			Err(err).
			Msg("trade executed but ledger append failed")
		return
	}

	logging.LogTrade(p.logger, record.Code, string(record.Action),
		record.Quantity, record.Price, record.DryRun)

	if err := p.notifier.NotifyTrade(ctx, record); err != nil {
		p.logger.Warn().Err(err).Msg("trade notification failed")
	}

	stats := p.risk.DailyStats()
	if stats.CircuitBreakerTripped && !trippedBefore {
		if err := p.notifier.NotifyBreakerTripped(ctx, &stats); err != nil {
			p.logger.Warn().Err(err).Msg("breaker notification failed")
		}
	}
}

// buildRecord converts a filled signal into its durable ledger record.
// Sells realize P&L against the position's cost basis.
func (p *Pipeline) buildRecord(signal *models.TradeSignal, pos *models.Position) *models.TradeRecord {
	record := &models.TradeRecord{
		ID:        uuid.NewString(),
		Code:      signal.Code,
		Name:      signal.Name,
		Action:    signal.Action,
		Price:     signal.Price,
		Quantity:  signal.Quantity,
		Amount:    signal.Amount(),
		Timestamp: p.now(),
		Status:    models.TradeFilled,
		DryRun:    p.dryRun,
	}
	if signal.Action == models.ActionSell {
		record.RealizedPnL = (signal.Price - pos.CostPrice) * float64(signal.Quantity)
	}
	return record
}

// waitTerminal polls task status until it reaches a terminal state. The
// wait is bounded by the task timeout plus queueing slack.
func (p *Pipeline) waitTerminal(ctx context.Context, taskID string) (models.Task, error) {
	deadline := p.cfg.Executor.TaskTimeout + p.cfg.Executor.OrderInterval + 5*time.Second
	waitCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		task, err := p.exec.Status(taskID)
		if err != nil {
			return models.Task{}, err
		}
		if task.State.Terminal() {
			return task, nil
		}

		select {
		case <-waitCtx.Done():
			return task, errs.Wrapf(waitCtx.Err(), "waiting for task %s", taskID)
		case <-ticker.C:
		}
	}
}

// refreshPortfolio recomputes position market values and feeds the risk
// manager its portfolio snapshot for ratio checks.
func (p *Pipeline) refreshPortfolio(positions []models.Position, quotes map[string]*models.Quote) {
	snapshot := risk.PortfolioSnapshot{
		PositionValues: make(map[string]float64, len(positions)),
	}
	for i := range positions {
		pos := &positions[i]
		price := pos.CurrentPrice
		if quote, ok := quotes[pos.Code]; ok {
			price = quote.Price
		}
		value := price * float64(pos.Quantity)
		snapshot.PositionValues[pos.Code] = value
		snapshot.TotalValue += value
	}
	p.risk.UpdatePortfolio(snapshot)
}

// ============================================================================
// Service surface
// ============================================================================

// Evaluate scores a single position using fresh market data.
func (p *Pipeline) Evaluate(ctx context.Context, pos *models.Position) (*models.TradeSignal, error) {
	quote, err := p.quotes.GetQuote(ctx, pos.Code)
	if err != nil {
		return nil, err
	}
	score, err := p.scores.GetScore(ctx, pos.Code)
	if err != nil {
		return nil, err
	}
	pos.CurrentPrice = quote.Price
	pos.MarketValue = quote.Price * float64(pos.Quantity)
	return p.engine.Evaluate(pos, quote, score)
}

// CheckRisk runs the rule cascade against a signal without recording
// anything.
func (p *Pipeline) CheckRisk(signal *models.TradeSignal) models.RiskCheckResult {
	return p.risk.Check(signal)
}

// SubmitOrder enqueues an order for execution and returns its task ID.
func (p *Pipeline) SubmitOrder(order models.Order) (string, error) {
	return p.exec.Submit(order)
}

// TaskStatus returns the current state of a submitted order.
func (p *Pipeline) TaskStatus(taskID string) (models.Task, error) {
	return p.exec.Status(taskID)
}

// DailyStats returns the risk manager's view of today's activity.
func (p *Pipeline) DailyStats() models.DailyStats {
	return p.risk.DailyStats()
}
