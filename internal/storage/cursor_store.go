package storage

import (
	"context"
	"fmt"
	"strings"
)

// CursorStore persists the opaque pagination resume cursor per account
// between aggregation cycles, so each cycle fetches only transactions
// strictly after the previous cycle's last result. Cursors are
// adapter-defined: block height for EVM, last txid for Bitcoin, oldest
// signature for Solana, a broker page token for B3.
type CursorStore struct {
	redis *RedisCache
}

// NewCursorStore creates a cursor store
func NewCursorStore(redis *RedisCache) *CursorStore {
	return &CursorStore{redis: redis}
}

// cursorKey builds the cache key. Format: cursor:<accountId>
func cursorKey(accountID string) string {
	return "cursor:" + strings.ToLower(accountID)
}

// Get returns the stored cursor for an account, empty if none
func (s *CursorStore) Get(ctx context.Context, accountID string) (string, error) {
	cursor, ok, err := s.redis.Get(ctx, cursorKey(accountID))
	if err != nil {
		return "", fmt.Errorf("failed to read cursor for %s: %w", accountID, err)
	}
	if !ok {
		return "", nil
	}
	return cursor, nil
}

// Set stores the cursor for an account. Cursors never expire; a
// reordering reset clears them explicitly.
func (s *CursorStore) Set(ctx context.Context, accountID, cursor string) error {
	if cursor == "" {
		return nil
	}
	return s.redis.Set(ctx, cursorKey(accountID), cursor, 0)
}

// Reset clears the cursor after upstream reordering invalidated it,
// forcing the next cycle to resync from the start.
func (s *CursorStore) Reset(ctx context.Context, accountID string) error {
	return s.redis.Del(ctx, cursorKey(accountID))
}
