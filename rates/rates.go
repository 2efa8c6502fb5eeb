/*
Package rates supplies USD-to-currency exchange rates to the ledger.

PURPOSE:
  The ledger never fetches rates itself; callers resolve one with a Cache
  and pass it in. The Cache keeps the last known rate per currency for a
  bounded refresh interval and falls back to a static table when the
  source has never answered.

LOOKUP ORDER:
  1. USD is always 1
  2. cached value younger than the refresh interval
  3. fresh value from the Source (cached on success)
  4. last known value, however old
  5. Fallback table
*/
package rates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/franga/engine/ledger"
)

// ErrRateUnavailable is returned by a Source with no rate for a currency.
var ErrRateUnavailable = errors.New("rate unavailable")

// Source returns the current USD-to-currency rate (1 USD = rate units).
type Source interface {
	Rate(ctx context.Context, currency ledger.Currency) (decimal.Decimal, error)
}

// Fallback is used when no source has ever produced a rate.
var Fallback = map[ledger.Currency]decimal.Decimal{
	ledger.USD: decimal.NewFromInt(1),
	ledger.CDF: decimal.NewFromInt(2800),
	ledger.EUR: decimal.RequireFromString("1.1"),
	ledger.GBP: decimal.RequireFromString("1.3"),
}

// Static is a Source backed by a fixed table.
type Static map[ledger.Currency]decimal.Decimal

func (s Static) Rate(_ context.Context, c ledger.Currency) (decimal.Decimal, error) {
	r, ok := s[c]
	if !ok || !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, c)
	}
	return r, nil
}

// FallbackRecorder is notified when the Cache serves a non-fresh rate.
type FallbackRecorder interface {
	RateFallback(currency ledger.Currency, stale bool)
}

// Cache memoizes a Source.
type Cache struct {
	Source   Source
	Refresh  time.Duration
	Logger   *slog.Logger
	Recorder FallbackRecorder

	mu      sync.Mutex
	entries map[ledger.Currency]cached
	now     func() time.Time
}

type cached struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// NewCache wraps src with the given refresh interval.
func NewCache(src Source, refresh time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		Source:  src,
		Refresh: refresh,
		Logger:  logger,
		entries: make(map[ledger.Currency]cached),
		now:     time.Now,
	}
}

// Rate resolves the rate for c. It only fails for unsupported currencies.
func (c *Cache) Rate(ctx context.Context, cur ledger.Currency) (decimal.Decimal, error) {
	if cur == ledger.USD {
		return decimal.NewFromInt(1), nil
	}
	if !cur.Valid() {
		return decimal.Zero, ledger.ErrInvalidCurrency
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	last, known := c.entries[cur]
	if known && now.Sub(last.fetchedAt) < c.Refresh {
		return last.rate, nil
	}

	rate, err := c.Source.Rate(ctx, cur)
	if err == nil && rate.IsPositive() {
		c.entries[cur] = cached{rate: rate, fetchedAt: now}
		return rate, nil
	}
	if err == nil {
		err = fmt.Errorf("%w: non-positive rate %s", ErrRateUnavailable, rate)
	}

	if known {
		c.Logger.Warn("rate refresh failed, serving last known rate",
			slog.String("currency", string(cur)),
			slog.String("rate", last.rate.String()),
			slog.String("error", err.Error()),
		)
		c.recordFallback(cur, true)
		return last.rate, nil
	}

	c.Logger.Warn("rate unavailable, serving static fallback",
		slog.String("currency", string(cur)),
		slog.String("error", err.Error()),
	)
	c.recordFallback(cur, false)
	return Fallback[cur], nil
}

// All resolves every supported currency.
func (c *Cache) All(ctx context.Context) map[ledger.Currency]decimal.Decimal {
	out := make(map[ledger.Currency]decimal.Decimal, len(ledger.SupportedCurrencies))
	for _, cur := range ledger.SupportedCurrencies {
		r, _ := c.Rate(ctx, cur)
		out[cur] = r
	}
	return out
}

// Invalidate drops the cached rate for cur, e.g. after the owner edits it.
func (c *Cache) Invalidate(cur ledger.Currency) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cur)
}

func (c *Cache) recordFallback(cur ledger.Currency, stale bool) {
	if c.Recorder != nil {
		c.Recorder.RateFallback(cur, stale)
	}
}
