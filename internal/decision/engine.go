// Package decision converts positions, quotes and model scores into trade signals.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

// Factor weights for the composite score.
const (
	weightModel   = 0.5
	weightTrend   = 0.2
	weightPnL     = 0.2
	weightHolding = 0.1
)

// A-share daily price band; a quote pinned at ±10% is limit-locked.
const (
	limitBandPercent = 10.0
	limitEpsilon     = 0.01
)

// ExclusionFunc reports whether an instrument is excluded from signal
// generation (blacklisted or suspended). Injected via configuration.
type ExclusionFunc func(code string) bool

// Engine produces at most one actionable signal per position per evaluation.
type Engine struct {
	cfg      *config.DecisionConfig
	excluded ExclusionFunc
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEngine creates a new decision engine. excluded may be nil.
func NewEngine(cfg *config.DecisionConfig, excluded ExclusionFunc, logger zerolog.Logger) *Engine {
	if excluded == nil {
		excluded = func(string) bool { return false }
	}
	return &Engine{
		cfg:      cfg,
		excluded: excluded,
		logger:   logger.With().Str("component", "decision").Logger(),
		now:      time.Now,
	}
}

// Evaluate analyzes one position against its quote and model score and
// returns an actionable signal, or nil when the safe default is to do
// nothing. Malformed input is fatal to the call: the caller skips the
// instrument for this cycle.
func (e *Engine) Evaluate(pos *models.Position, quote *models.Quote, score *models.ModelScore) (*models.TradeSignal, error) {
	if err := validateInputs(pos, quote, score); err != nil {
		return nil, err
	}

	if pos.Quantity == 0 {
		return nil, nil
	}
	if e.excluded(pos.Code) {
		e.logger.Debug().Str("code", pos.Code).Msg("instrument excluded, no signal")
		return nil, nil
	}

	var reasons []string

	modelFactor, modelReason := e.modelFactor(score)
	reasons = append(reasons, modelReason)

	trendFactor, trendReasons := trendFactor(quote)
	reasons = append(reasons, trendReasons...)

	plRatio := pos.ProfitLossRatio()
	plFactor, plReason := e.pnlFactor(plRatio)
	if plReason != "" {
		reasons = append(reasons, plReason)
	}

	holdFactor, holdReason := holdingFactor(pos.HoldingDays, plRatio < 0)
	if holdReason != "" {
		reasons = append(reasons, holdReason)
	}

	composite := weightModel*modelFactor +
		weightTrend*trendFactor +
		weightPnL*plFactor +
		weightHolding*holdFactor

	action, priority, confidence := mapComposite(composite)

	// Hard triggers override the composite mapping.
	switch {
	case plRatio <= e.cfg.StopLossRatio:
		action, priority = models.ActionSell, models.PriorityCritical
		confidence = 0.95
		reasons = append(reasons, fmt.Sprintf("stop loss breached: %.1f%% <= %.1f%%",
			plRatio*100, e.cfg.StopLossRatio*100))
	case plRatio >= e.cfg.StopProfitRatio:
		action, priority = models.ActionSell, models.PriorityHigh
		confidence = 0.85
		reasons = append(reasons, fmt.Sprintf("stop profit reached: +%.1f%% >= +%.1f%%",
			plRatio*100, e.cfg.StopProfitRatio*100))
	}

	// A locked limit cannot be transacted: suppress new buys at limit-up
	// and sells at limit-down.
	if action == models.ActionBuy && atLimitUp(quote) {
		action = models.ActionHold
		reasons = append(reasons, "buy suppressed: price locked at limit-up")
	}
	if action == models.ActionSell && atLimitDown(quote) {
		action = models.ActionHold
		reasons = append(reasons, "sell suppressed: price locked at limit-down")
	}

	e.logger.Debug().
		Str("code", pos.Code).
		Float64("composite", composite).
		Str("action", string(action)).
		Msg("position evaluated")

	if action == models.ActionHold {
		return nil, nil
	}

	signal := &models.TradeSignal{
		Code:       pos.Code,
		Name:       pos.Name,
		Action:     action,
		Priority:   priority,
		Quantity:   e.quantityFor(action, pos, quote),
		Price:      quote.Price,
		Confidence: confidence,
		Reasons:    reasons,
		CreatedAt:  e.now(),
	}
	if signal.Quantity == 0 {
		// Nothing sellable today (T+1) or buy budget below one lot.
		return nil, nil
	}
	return signal, nil
}

func validateInputs(pos *models.Position, quote *models.Quote, score *models.ModelScore) error {
	if pos == nil || quote == nil || score == nil {
		return errs.NewValidationError("inputs", nil, "position, quote and score are all required")
	}
	if pos.Code != quote.Code || pos.Code != score.Code {
		return errs.NewValidationError("code", quote.Code,
			fmt.Sprintf("instrument mismatch: position=%s quote=%s score=%s", pos.Code, quote.Code, score.Code))
	}
	if math.IsNaN(quote.Price) || math.IsInf(quote.Price, 0) || quote.Price <= 0 {
		return errs.NewValidationError("quote.price", quote.Price, "price must be a positive finite number")
	}
	if math.IsNaN(quote.ChangePercent) || math.IsInf(quote.ChangePercent, 0) {
		return errs.NewValidationError("quote.change_percent", quote.ChangePercent, "change percent is not finite")
	}
	if math.IsNaN(quote.High) || math.IsInf(quote.High, 0) || quote.High < 0 {
		return errs.NewValidationError("quote.high", quote.High, "day high must be a non-negative finite number")
	}
	if math.IsNaN(quote.Low) || math.IsInf(quote.Low, 0) || quote.Low < 0 {
		return errs.NewValidationError("quote.low", quote.Low, "day low must be a non-negative finite number")
	}
	if quote.High < quote.Low {
		return errs.NewValidationError("quote.high", quote.High, "day high below day low")
	}
	if math.IsNaN(score.Score) || score.Score < 0 || score.Score > 100 {
		return errs.NewValidationError("score.score", score.Score, "score must be in [0,100]")
	}
	if math.IsNaN(score.Confidence) || score.Confidence < 0 || score.Confidence > 1 {
		return errs.NewValidationError("score.confidence", score.Confidence, "confidence must be in [0,1]")
	}
	if pos.Quantity < 0 {
		return errs.NewValidationError("position.quantity", pos.Quantity, "quantity must be non-negative")
	}
	if math.IsNaN(pos.CostPrice) || pos.CostPrice < 0 {
		return errs.NewValidationError("position.cost_price", pos.CostPrice, "cost price must be non-negative")
	}
	return nil
}

// modelFactor scales the 0-100 model score into [-1,1], weighted by the
// model's own confidence.
func (e *Engine) modelFactor(score *models.ModelScore) (float64, string) {
	s, conf := score.Score, score.Confidence
	var factor float64
	var tier string
	switch {
	case s < e.cfg.StrongSellScore:
		factor = math.Max(-1.0*conf, -0.5)
		tier = "strong sell"
	case s < e.cfg.SellScore:
		factor = math.Max(-0.7*conf, -0.4)
		tier = "sell"
	case s < e.cfg.HoldScore:
		factor = -0.3 * conf
		tier = "hold"
	case s < e.cfg.BuyScore:
		factor = 0.3 * conf
		tier = "buy"
	default:
		factor = 0.8 * conf
		tier = "strong buy"
	}
	return factor, fmt.Sprintf("model score %.0f (%s, confidence %.2f)", s, tier, conf)
}

// trendFactor derives a price-trend factor from the quote. Contributions
// are summed then clamped to [-1,1].
func trendFactor(quote *models.Quote) (float64, []string) {
	var factor float64
	var reasons []string

	// A locked limit dominates the intraday read; the price position only
	// contributes when the band is not pinned.
	switch {
	case atLimitDown(quote):
		factor -= 0.8
		reasons = append(reasons, "price at limit-down")
	case atLimitUp(quote):
		factor += 0.5
		reasons = append(reasons, "price at limit-up")
	default:
		if quote.High > quote.Low {
			pricePos := (quote.Price - quote.Low) / (quote.High - quote.Low)
			if pricePos < 0.2 {
				factor -= 0.3
				reasons = append(reasons, fmt.Sprintf("price near day low (position %.2f)", pricePos))
			} else if pricePos > 0.8 {
				factor += 0.2
				reasons = append(reasons, fmt.Sprintf("price near day high (position %.2f)", pricePos))
			}
		}
	}

	if quote.ChangePercent <= -5 {
		factor -= 0.5
		reasons = append(reasons, fmt.Sprintf("sharp decline %.2f%%", quote.ChangePercent))
	} else if quote.ChangePercent >= 5 {
		factor += 0.3
		reasons = append(reasons, fmt.Sprintf("sharp rise +%.2f%%", quote.ChangePercent))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, fmt.Sprintf("price change %.2f%%", quote.ChangePercent))
	}
	return clamp(factor, -1, 1), reasons
}

// pnlFactor derives a factor from the unrealized P&L ratio.
func (e *Engine) pnlFactor(ratio float64) (float64, string) {
	switch {
	case ratio <= e.cfg.EmergencyStopRatio:
		return -1.0, fmt.Sprintf("deep loss %.1f%%", ratio*100)
	case ratio <= e.cfg.StopLossRatio:
		return -0.8, fmt.Sprintf("loss %.1f%% past stop level", ratio*100)
	case ratio >= e.cfg.StopProfitRatio:
		return -0.6, fmt.Sprintf("gain +%.1f%% at take-profit level", ratio*100)
	case ratio >= -0.05 && ratio < 0:
		return -0.3, fmt.Sprintf("small loss %.1f%%", ratio*100)
	case ratio > 0:
		return 0.2, fmt.Sprintf("unrealized gain +%.1f%%", ratio*100)
	default:
		return 0, ""
	}
}

// holdingFactor penalizes long stagnant holds.
func holdingFactor(days int, losing bool) (float64, string) {
	switch {
	case days >= 10 && losing:
		return -0.6, fmt.Sprintf("held %d days while losing", days)
	case days >= 3 && losing:
		return -0.4, fmt.Sprintf("held %d days while losing", days)
	case days < 5:
		return 0.1, ""
	default:
		return 0, ""
	}
}

// mapComposite maps the composite score to an action tier. It is a
// monotonic step function; boundary values resolve toward hold.
func mapComposite(s float64) (models.TradeAction, models.SignalPriority, float64) {
	switch {
	case s < -0.7:
		return models.ActionSell, models.PriorityCritical, math.Min(0.95, math.Abs(s))
	case s < -0.5:
		return models.ActionSell, models.PriorityHigh, math.Min(0.85, math.Abs(s)*0.9)
	case s < -0.15:
		return models.ActionSell, models.PriorityMedium, math.Abs(s) * 0.8
	case s <= 0.15:
		return models.ActionHold, models.PriorityLow, 0.5
	default:
		return models.ActionBuy, models.PriorityLow, math.Min(0.8, s)
	}
}

// quantityFor sizes an order: sells liquidate the sellable quantity, buys
// target the configured notional in whole lots of 100 shares.
func (e *Engine) quantityFor(action models.TradeAction, pos *models.Position, quote *models.Quote) int {
	if action == models.ActionSell {
		if pos.Available > 0 {
			return pos.Available
		}
		return 0
	}
	lots := int(e.cfg.BuyAmount / quote.Price / 100)
	return lots * 100
}

func atLimitUp(quote *models.Quote) bool {
	return math.Abs(quote.ChangePercent-limitBandPercent) < limitEpsilon
}

func atLimitDown(quote *models.Quote) bool {
	return math.Abs(quote.ChangePercent+limitBandPercent) < limitEpsilon
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
