package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// QuoteCache is a read-through cache of last-known prices keyed by
// (assetId, currency). Every successful live fetch overwrites the
// entry; last-write-wins is acceptable because quotes carry their
// observation time. On live-fetch failure the most recent cached quote
// is served marked stale, provided it is within the staleness
// threshold.
type QuoteCache struct {
	redis     *RedisCache
	staleness time.Duration
}

// NewQuoteCache creates a quote cache with the given staleness threshold
func NewQuoteCache(redis *RedisCache, staleness time.Duration) *QuoteCache {
	return &QuoteCache{redis: redis, staleness: staleness}
}

// quoteKey builds the cache key. Format: quote:<assetId>:<currency>
func quoteKey(assetID, currency string) string {
	return strings.ToLower(fmt.Sprintf("quote:%s:%s", assetID, currency))
}

// Fetch resolves a quote through the cache. The live fetcher is called
// first; its result is cached and returned. When it fails, a cached
// quote younger than the staleness threshold is returned with Stale
// set; otherwise the live error is classified as a cache miss.
func (c *QuoteCache) Fetch(ctx context.Context, assetID, currency string, network types.Network,
	live func(ctx context.Context) (*models.Quote, error)) (*models.Quote, error) {

	quote, liveErr := live(ctx)
	if liveErr == nil && quote != nil {
		if err := c.store(ctx, quote); err != nil {
			// A write failure degrades future fallbacks but the live
			// quote itself is still good.
			return quote, nil
		}
		return quote, nil
	}

	cached, ok := c.lookup(ctx, assetID, currency)
	if ok && cached.Age(time.Now().UTC()) <= c.staleness {
		cached.Stale = true
		return cached, nil
	}

	return nil, apperrors.CacheMiss(network, "GetQuote",
		fmt.Errorf("live quote failed and no fresh cached value: %w", liveErr))
}

// store writes a quote with the staleness threshold as TTL, so expiry
// enforces the fallback window even without the ObservedAt check.
func (c *QuoteCache) store(ctx context.Context, quote *models.Quote) error {
	data, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	return c.redis.Set(ctx, quoteKey(quote.AssetID, quote.Currency), data, c.staleness)
}

// lookup reads a cached quote, tolerating cache errors as misses
func (c *QuoteCache) lookup(ctx context.Context, assetID, currency string) (*models.Quote, bool) {
	data, ok, err := c.redis.Get(ctx, quoteKey(assetID, currency))
	if err != nil || !ok {
		return nil, false
	}

	var quote models.Quote
	if err := json.Unmarshal([]byte(data), &quote); err != nil {
		return nil, false
	}
	return &quote, true
}
