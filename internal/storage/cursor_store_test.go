package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	cache, _ := testRedis(t)
	store := NewCursorStore(cache)
	ctx := context.Background()

	cursor, err := store.Get(ctx, "bitcoin:bc1qtest")
	require.NoError(t, err)
	assert.Empty(t, cursor, "unknown account starts with an empty cursor")

	require.NoError(t, store.Set(ctx, "bitcoin:bc1qtest", "txid-abc"))

	cursor, err = store.Get(ctx, "bitcoin:bc1qtest")
	require.NoError(t, err)
	assert.Equal(t, "txid-abc", cursor)
}

func TestCursorSetEmptyIsNoop(t *testing.T) {
	cache, mr := testRedis(t)
	store := NewCursorStore(cache)

	require.NoError(t, store.Set(context.Background(), "acct", ""))
	assert.False(t, mr.Exists("cursor:acct"))
}

func TestCursorReset(t *testing.T) {
	cache, _ := testRedis(t)
	store := NewCursorStore(cache)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "acct", "some-cursor"))
	require.NoError(t, store.Reset(ctx, "acct"))

	cursor, err := store.Get(ctx, "acct")
	require.NoError(t, err)
	assert.Empty(t, cursor, "reset must force a resync from scratch")
}

func TestCursorKeysIsolatedPerAccount(t *testing.T) {
	cache, _ := testRedis(t)
	store := NewCursorStore(cache)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "acct-1", "cursor-1"))
	require.NoError(t, store.Set(ctx, "acct-2", "cursor-2"))

	c1, err := store.Get(ctx, "acct-1")
	require.NoError(t, err)
	c2, err := store.Get(ctx, "acct-2")
	require.NoError(t, err)

	assert.Equal(t, "cursor-1", c1)
	assert.Equal(t, "cursor-2", c2)
}
