package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ths-trader/internal/config"
	errs "ths-trader/internal/errors"
	"ths-trader/internal/models"
	"ths-trader/pkg/utils"
)

// CacheStore is the slice of the persistence layer the cached providers
// need. Cache I/O errors are treated as misses, never fatal.
type CacheStore interface {
	CacheGet(ctx context.Context, key string) (*models.CacheEntry, error)
	CacheSet(ctx context.Context, key, category string, value []byte, ttl time.Duration) error
}

// SessionGate answers whether a point in time falls inside a trading window.
type SessionGate interface {
	IsTradingTime(t time.Time) bool
}

const (
	categoryQuote = "quote"
	categoryScore = "score"
)

// CachedQuoteProvider is a session-aware read-through cache in front of
// a live quote source. During a trading window it fetches live, caches
// the quote briefly for intra-session reuse, and refreshes a last-day
// snapshot. Outside trading windows it serves the snapshot so closed
// markets never hammer the live source.
type CachedQuoteProvider struct {
	live     QuoteProvider
	cache    CacheStore
	sessions SessionGate
	cfg      config.CacheConfig
	logger   zerolog.Logger
	retry    utils.RetryConfig
	now      func() time.Time
}

// NewCachedQuoteProvider wraps a live quote provider with the
// session-aware caching policy.
func NewCachedQuoteProvider(live QuoteProvider, cache CacheStore, sessions SessionGate, cfg config.CacheConfig, logger zerolog.Logger) *CachedQuoteProvider {
	return &CachedQuoteProvider{
		live:     live,
		cache:    cache,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With().Str("component", "quote_cache").Logger(),
		retry:    utils.DefaultRetryConfig(),
		now:      time.Now,
	}
}

func quoteKey(code string) string         { return fmt.Sprintf("quote_%s", code) }
func quoteSnapshotKey(code string) string { return fmt.Sprintf("%s_last_trading_day", code) }

func (p *CachedQuoteProvider) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	if p.sessions.IsTradingTime(p.now()) {
		if quote, ok := p.cachedQuote(ctx, quoteKey(code)); ok {
			return quote, nil
		}
		return p.fetchLive(ctx, code)
	}

	// Market closed: the last snapshot is the authoritative price.
	if quote, ok := p.cachedQuote(ctx, quoteSnapshotKey(code)); ok {
		return quote, nil
	}

	// Bootstrap: no snapshot yet, fall back to a live fetch once.
	p.logger.Warn().Str("code", code).Msg("no last-day snapshot, falling back to live fetch outside trading window")
	quote, err := p.fetchLive(ctx, code)
	if err != nil {
		return nil, errs.NewDataError("quote", code, "market closed and live fallback failed", errs.ErrNoSnapshot)
	}
	return quote, nil
}

func (p *CachedQuoteProvider) GetQuotes(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	quotes := make(map[string]*models.Quote, len(codes))
	for _, code := range codes {
		quote, err := p.GetQuote(ctx, code)
		if err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("quote unavailable, skipping")
			continue
		}
		quotes[code] = quote
	}
	return quotes, nil
}

// cachedQuote reads a quote entry; any cache error degrades to a miss.
func (p *CachedQuoteProvider) cachedQuote(ctx context.Context, key string) (*models.Quote, bool) {
	entry, err := p.cache.CacheGet(ctx, key)
	if err != nil {
		p.logger.Warn().Str("key", key).Err(err).Msg("cache read failed, treating as miss")
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	var quote models.Quote
	if err := json.Unmarshal(entry.Value, &quote); err != nil {
		p.logger.Warn().Str("key", key).Err(err).Msg("corrupt cache entry, treating as miss")
		return nil, false
	}
	return &quote, true
}

func (p *CachedQuoteProvider) fetchLive(ctx context.Context, code string) (*models.Quote, error) {
	quote, err := utils.RetryWithResult(ctx, p.retry, func() (*models.Quote, error) {
		return p.live.GetQuote(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(quote); err == nil {
		if err := p.cache.CacheSet(ctx, quoteKey(code), categoryQuote, payload, p.cfg.QuoteTTL); err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("quote cache write failed")
		}
		if err := p.cache.CacheSet(ctx, quoteSnapshotKey(code), categoryQuote, payload, p.cfg.SnapshotTTL); err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("snapshot cache write failed")
		}
	}
	return quote, nil
}

// CachedScoreProvider applies the same session-aware read-through
// policy to model scores.
type CachedScoreProvider struct {
	live     ScoreProvider
	cache    CacheStore
	sessions SessionGate
	cfg      config.CacheConfig
	logger   zerolog.Logger
	retry    utils.RetryConfig
	now      func() time.Time
}

// NewCachedScoreProvider wraps a live score provider with the
// session-aware caching policy.
func NewCachedScoreProvider(live ScoreProvider, cache CacheStore, sessions SessionGate, cfg config.CacheConfig, logger zerolog.Logger) *CachedScoreProvider {
	return &CachedScoreProvider{
		live:     live,
		cache:    cache,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With().Str("component", "score_cache").Logger(),
		retry:    utils.DefaultRetryConfig(),
		now:      time.Now,
	}
}

func scoreKey(code string) string         { return fmt.Sprintf("score_%s", code) }
func scoreSnapshotKey(code string) string { return fmt.Sprintf("score_%s_last_trading_day", code) }

func (p *CachedScoreProvider) GetScore(ctx context.Context, code string) (*models.ModelScore, error) {
	if p.sessions.IsTradingTime(p.now()) {
		if score, ok := p.cachedScore(ctx, scoreKey(code)); ok {
			return score, nil
		}
		return p.fetchLive(ctx, code)
	}

	if score, ok := p.cachedScore(ctx, scoreSnapshotKey(code)); ok {
		return score, nil
	}

	p.logger.Warn().Str("code", code).Msg("no last-day snapshot, falling back to live fetch outside trading window")
	score, err := p.fetchLive(ctx, code)
	if err != nil {
		return nil, errs.NewDataError("score", code, "market closed and live fallback failed", errs.ErrNoSnapshot)
	}
	return score, nil
}

func (p *CachedScoreProvider) GetScores(ctx context.Context, codes []string) (map[string]*models.ModelScore, error) {
	scores := make(map[string]*models.ModelScore, len(codes))
	for _, code := range codes {
		score, err := p.GetScore(ctx, code)
		if err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("score unavailable, skipping")
			continue
		}
		scores[code] = score
	}
	return scores, nil
}

func (p *CachedScoreProvider) cachedScore(ctx context.Context, key string) (*models.ModelScore, bool) {
	entry, err := p.cache.CacheGet(ctx, key)
	if err != nil {
		p.logger.Warn().Str("key", key).Err(err).Msg("cache read failed, treating as miss")
		return nil, false
	}
	if entry == nil {
		return nil, false
	}
	var score models.ModelScore
	if err := json.Unmarshal(entry.Value, &score); err != nil {
		p.logger.Warn().Str("key", key).Err(err).Msg("corrupt cache entry, treating as miss")
		return nil, false
	}
	return &score, true
}

func (p *CachedScoreProvider) fetchLive(ctx context.Context, code string) (*models.ModelScore, error) {
	score, err := utils.RetryWithResult(ctx, p.retry, func() (*models.ModelScore, error) {
		return p.live.GetScore(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(score); err == nil {
		if err := p.cache.CacheSet(ctx, scoreKey(code), categoryScore, payload, p.cfg.QuoteTTL); err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("score cache write failed")
		}
		if err := p.cache.CacheSet(ctx, scoreSnapshotKey(code), categoryScore, payload, p.cfg.SnapshotTTL); err != nil {
			p.logger.Warn().Str("code", code).Err(err).Msg("snapshot cache write failed")
		}
	}
	return score, nil
}
