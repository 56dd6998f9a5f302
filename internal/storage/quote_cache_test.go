package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

func testRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheFromClient(client), mr
}

func liveQuote(price string) func(ctx context.Context) (*models.Quote, error) {
	return func(ctx context.Context) (*models.Quote, error) {
		return &models.Quote{
			AssetID:    "BTC",
			Currency:   "USD",
			Price:      price,
			ObservedAt: time.Now().UTC(),
		}, nil
	}
}

func liveFailure() func(ctx context.Context) (*models.Quote, error) {
	return func(ctx context.Context) (*models.Quote, error) {
		return nil, apperrors.Transient(types.NetworkBitcoin, "GetQuote", errors.New("price feed down"))
	}
}

func TestFetchLiveQuoteAndCache(t *testing.T) {
	cache, mr := testRedis(t)
	qc := NewQuoteCache(cache, 15*time.Minute)

	quote, err := qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveQuote("64000"))
	require.NoError(t, err)
	assert.Equal(t, "64000", quote.Price)
	assert.False(t, quote.Stale)

	assert.True(t, mr.Exists("quote:btc:usd"), "live quote must be written through to the cache")
}

func TestFetchFallsBackToCachedOnLiveFailure(t *testing.T) {
	cache, _ := testRedis(t)
	qc := NewQuoteCache(cache, 15*time.Minute)

	_, err := qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveQuote("64000"))
	require.NoError(t, err)

	quote, err := qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveFailure())
	require.NoError(t, err)
	assert.Equal(t, "64000", quote.Price)
	assert.True(t, quote.Stale, "a cache-served quote must be marked stale")
}

func TestFetchCacheMissWhenNothingCached(t *testing.T) {
	cache, _ := testRedis(t)
	qc := NewQuoteCache(cache, 15*time.Minute)

	_, err := qc.Fetch(context.Background(), "ETH", "USD", types.NetworkEthereum, liveFailure())
	require.Error(t, err)
	assert.True(t, apperrors.IsCacheMiss(err))
}

func TestFetchCacheMissWhenCachedTooOld(t *testing.T) {
	cache, mr := testRedis(t)
	qc := NewQuoteCache(cache, 30*time.Minute)

	_, err := qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveQuote("64000"))
	require.NoError(t, err)

	// Expiry enforces the staleness window
	mr.FastForward(31 * time.Minute)

	_, err = qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveFailure())
	require.Error(t, err)
	assert.True(t, apperrors.IsCacheMiss(err))
}

func TestFetchLastWriteWins(t *testing.T) {
	cache, _ := testRedis(t)
	qc := NewQuoteCache(cache, 15*time.Minute)

	_, err := qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveQuote("64000"))
	require.NoError(t, err)
	_, err = qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveQuote("65000"))
	require.NoError(t, err)

	quote, err := qc.Fetch(context.Background(), "BTC", "USD", types.NetworkBitcoin, liveFailure())
	require.NoError(t, err)
	assert.Equal(t, "65000", quote.Price)
}

func TestQuoteKeyCaseInsensitive(t *testing.T) {
	assert.Equal(t, quoteKey("btc", "usd"), quoteKey("BTC", "USD"))
}
