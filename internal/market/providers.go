package market

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
)

// QuoteProvider fetches live quotes. Batch calls return partial results:
// instruments that failed are simply absent from the map, and the error
// is non-nil only when the whole fetch failed.
type QuoteProvider interface {
	GetQuote(ctx context.Context, code string) (*models.Quote, error)
	GetQuotes(ctx context.Context, codes []string) (map[string]*models.Quote, error)
}

// ScoreProvider fetches externally produced model scores.
type ScoreProvider interface {
	GetScore(ctx context.Context, code string) (*models.ModelScore, error)
	GetScores(ctx context.Context, codes []string) (map[string]*models.ModelScore, error)
}

// PositionProvider fetches the current portfolio holdings.
type PositionProvider interface {
	GetPositions(ctx context.Context) ([]models.Position, error)
}

// ============================================================================
// Bridge providers (live data via the automation bridge)
// ============================================================================

// BridgeProvider reads market data through the same external bridge
// command the execution backends use. Each call shells out once and
// parses a JSON payload from stdout.
type BridgeProvider struct {
	command string
	logger  zerolog.Logger
}

// NewBridgeProvider builds a live data provider. The bridge command must
// be configured; there is no built-in data source.
func NewBridgeProvider(cfg config.BackendConfig, logger zerolog.Logger) (*BridgeProvider, error) {
	if strings.TrimSpace(cfg.BridgeCommand) == "" {
		return nil, errs.Wrap(errs.ErrConfigInvalid, "backend.bridge_command is required for live market data")
	}
	return &BridgeProvider{
		command: cfg.BridgeCommand,
		logger:  logger.With().Str("component", "bridge_provider").Logger(),
	}, nil
}

func (p *BridgeProvider) invoke(ctx context.Context, out interface{}, args ...string) error {
	cmd := exec.CommandContext(ctx, p.command, args...)
	raw, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return errs.Wrap(errs.ErrBackendTimeout, "bridge data fetch interrupted")
		}
		detail := err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			detail = strings.TrimSpace(string(exitErr.Stderr))
		}
		return errs.Wrapf(errs.ErrBackendFailure, "bridge %s: %s", args[0], detail)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrapf(errs.ErrBackendFailure, "bridge %s: malformed response: %v", args[0], err)
	}
	return nil
}

func (p *BridgeProvider) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	var quote models.Quote
	if err := p.invoke(ctx, &quote, "quote", code); err != nil {
		return nil, err
	}
	if quote.Code == "" {
		quote.Code = code
	}
	quote.Timestamp = time.Now()
	return &quote, nil
}

func (p *BridgeProvider) GetQuotes(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	quotes := make(map[string]*models.Quote, len(codes))
	for _, code := range codes {
		quote, err := p.GetQuote(ctx, code)
		if err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("quote fetch failed, skipping")
			continue
		}
		quotes[code] = quote
	}
	if len(quotes) == 0 && len(codes) > 0 {
		return nil, errs.Wrap(errs.ErrBackendFailure, "all quote fetches failed")
	}
	return quotes, nil
}

func (p *BridgeProvider) GetScore(ctx context.Context, code string) (*models.ModelScore, error) {
	var score models.ModelScore
	if err := p.invoke(ctx, &score, "score", code); err != nil {
		return nil, err
	}
	if score.Code == "" {
		score.Code = code
	}
	return &score, nil
}

func (p *BridgeProvider) GetScores(ctx context.Context, codes []string) (map[string]*models.ModelScore, error) {
	scores := make(map[string]*models.ModelScore, len(codes))
	for _, code := range codes {
		score, err := p.GetScore(ctx, code)
		if err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("score fetch failed, skipping")
			continue
		}
		scores[code] = score
	}
	if len(scores) == 0 && len(codes) > 0 {
		return nil, errs.Wrap(errs.ErrBackendFailure, "all score fetches failed")
	}
	return scores, nil
}

func (p *BridgeProvider) GetPositions(ctx context.Context) ([]models.Position, error) {
	var positions []models.Position
	if err := p.invoke(ctx, &positions, "positions"); err != nil {
		return nil, err
	}
	return positions, nil
}

// ============================================================================
// Synthetic providers (test mode)
// ============================================================================

// SyntheticProvider generates deterministic market data for test runs.
// The same code always yields the same quote and score so scenarios are
// reproducible across invocations.
type SyntheticProvider struct {
	positions []models.Position
}

// NewSyntheticProvider builds a test-mode data source seeded with a
// small fixed portfolio.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{
		positions: []models.Position{
			{Code: "600000", Name: "浦发银行", Quantity: 1000, Available: 1000, CostPrice: 10.50, HoldingDays: 12},
			{Code: "000001", Name: "平安银行", Quantity: 500, Available: 500, CostPrice: 12.80, HoldingDays: 3},
			{Code: "600519", Name: "贵州茅台", Quantity: 100, Available: 0, CostPrice: 1680.00, HoldingDays: 1},
		},
	}
}

// seed derives a stable per-code value in [0,1).
func seed(code string) float64 {
	h := fnv.New32a()
	h.Write([]byte(code))
	return float64(h.Sum32()%10000) / 10000.0
}

func (p *SyntheticProvider) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	if code == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "empty instrument code")
	}
	s := seed(code)
	base := 5.0 + s*45.0
	change := (s - 0.5) * 8.0 // within ±4%
	price := base * (1 + change/100)

	return &models.Quote{
		Code:          code,
		Name:          fmt.Sprintf("合成%s", code),
		Price:         price,
		Open:          base * (1 + change/200),
		PrevClose:     base,
		High:          math.Max(price, base) * 1.01,
		Low:           math.Min(price, base) * 0.99,
		ChangePercent: change,
		Volume:        int64(100000 + s*900000),
		Timestamp:     time.Now(),
	}, nil
}

func (p *SyntheticProvider) GetQuotes(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	quotes := make(map[string]*models.Quote, len(codes))
	for _, code := range codes {
		quote, err := p.GetQuote(ctx, code)
		if err != nil {
			continue
		}
		quotes[code] = quote
	}
	return quotes, nil
}

func (p *SyntheticProvider) GetScore(ctx context.Context, code string) (*models.ModelScore, error) {
	if code == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "empty instrument code")
	}
	s := seed(code)
	score := 20.0 + s*70.0

	rec := models.RecHold
	switch {
	case score >= 70:
		rec = models.RecBuy
	case score < 40:
		rec = models.RecSell
	}

	return &models.ModelScore{
		Code:           code,
		Score:          score,
		Recommendation: rec,
		Confidence:     0.5 + s*0.4,
		UpdatedAt:      time.Now(),
	}, nil
}

func (p *SyntheticProvider) GetScores(ctx context.Context, codes []string) (map[string]*models.ModelScore, error) {
	scores := make(map[string]*models.ModelScore, len(codes))
	for _, code := range codes {
		score, err := p.GetScore(ctx, code)
		if err != nil {
			continue
		}
		scores[code] = score
	}
	return scores, nil
}

func (p *SyntheticProvider) GetPositions(ctx context.Context) ([]models.Position, error) {
	out := make([]models.Position, len(p.positions))
	copy(out, p.positions)
	for i := range out {
		quote, err := p.GetQuote(ctx, out[i].Code)
		if err != nil {
			continue
		}
		out[i].CurrentPrice = quote.Price
		out[i].MarketValue = quote.Price * float64(out[i].Quantity)
	}
	return out, nil
}
