package aggregator

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/circuitbreaker"
	"github.com/portfolio-aggregator/internal/config"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/policy"
	"github.com/portfolio-aggregator/internal/retry"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

// fakeAdapter is a scriptable SourceAdapter for aggregator tests
type fakeAdapter struct {
	network  types.Network
	holdings func(account models.Account) ([]models.Position, error)
	txs      func(account models.Account, cursor string) ([]models.Transaction, string, error)
	quote    func(assetID, currency string) (*models.Quote, error)

	mu       sync.Mutex
	inFlight int
	peak     int
	delay    time.Duration
}

func (f *fakeAdapter) Network() types.Network { return f.network }

func (f *fakeAdapter) track() func() {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.peak {
		f.peak = f.inFlight
	}
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func (f *fakeAdapter) GetBalance(ctx context.Context, account models.Account) (*models.Position, error) {
	positions, err := f.GetHoldings(ctx, account)
	if err != nil || len(positions) == 0 {
		return nil, err
	}
	return &positions[0], nil
}

func (f *fakeAdapter) GetHoldings(ctx context.Context, account models.Account) ([]models.Position, error) {
	defer f.track()()
	if f.holdings == nil {
		return nil, nil
	}
	return f.holdings(account)
}

func (f *fakeAdapter) GetTransactions(ctx context.Context, account models.Account, cursor string) ([]models.Transaction, string, error) {
	defer f.track()()
	if f.txs == nil {
		return nil, cursor, nil
	}
	return f.txs(account, cursor)
}

func (f *fakeAdapter) GetQuote(ctx context.Context, assetID, currency string) (*models.Quote, error) {
	if f.quote == nil {
		return nil, apperrors.NotConfigured(f.network, "GetQuote", errors.New("no quote source"))
	}
	return f.quote(assetID, currency)
}

func testStores(t *testing.T) (*storage.QuoteCache, *storage.CursorStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	cache := storage.NewRedisCacheFromClient(client)
	return storage.NewQuoteCache(cache, 30*time.Minute), storage.NewCursorStore(cache), mr
}

func testAggregator(t *testing.T, adapters map[types.Network]adapter.SourceAdapter,
	accounts []models.Account, cfg config.AggregatorConfig) *Aggregator {
	t.Helper()

	if cfg.Concurrency == 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxTransactionPages == 0 {
		cfg.MaxTransactionPages = 5
	}
	if cfg.TransferMatchWindow == 0 {
		cfg.TransferMatchWindow = time.Hour
	}
	if cfg.DisplayCurrency == "" {
		cfg.DisplayCurrency = "USD"
	}

	pol := policy.New(&policy.Config{
		Retry: &retry.Config{
			MaxAttempts:  1,
			InitialDelay: time.Millisecond,
			MaxDelay:     time.Millisecond,
			Multiplier:   1,
		},
		Breaker:     &circuitbreaker.Config{FailureThreshold: 100, CoolDown: time.Second},
		CallTimeout: 5 * time.Second,
		SourceRPS:   10000,
		Burst:       10000,
	})

	quotes, cursors, _ := testStores(t)
	logger := logging.New(logging.LevelError, logging.FormatText)
	return New(cfg, adapters, accounts, pol, quotes, cursors, logger)
}

func btcHolding(account models.Account, sats int64) models.Position {
	return models.NewPosition("BTC", "BTC", types.NetworkBitcoin, account.ID, big.NewInt(sats), types.SatoshiDecimals)
}

func TestRefreshMergesAcrossNetworks(t *testing.T) {
	btcAccount := models.Account{ID: "bitcoin:bc1qtest", Network: types.NetworkBitcoin, Address: "bc1qtest"}
	ethAccount := models.Account{ID: "ethereum:0xabc", Network: types.NetworkEthereum, Address: "0xabc"}

	adapters := map[types.Network]adapter.SourceAdapter{
		types.NetworkBitcoin: &fakeAdapter{
			network: types.NetworkBitcoin,
			holdings: func(account models.Account) ([]models.Position, error) {
				return []models.Position{btcHolding(account, 150000000)}, nil
			},
			quote: func(assetID, currency string) (*models.Quote, error) {
				return &models.Quote{AssetID: assetID, Currency: currency, Price: "64250", ObservedAt: time.Now().UTC()}, nil
			},
		},
		types.NetworkEthereum: &fakeAdapter{
			network: types.NetworkEthereum,
			holdings: func(account models.Account) ([]models.Position, error) {
				wei, _ := new(big.Int).SetString("2000000000000000000", 10)
				return []models.Position{models.NewPosition("ETH", "ETH", types.NetworkEthereum, account.ID, wei, types.WeiDecimals)}, nil
			},
		},
	}

	agg := testAggregator(t, adapters, []models.Account{btcAccount, ethAccount}, config.AggregatorConfig{})

	require.Nil(t, agg.Latest(), "no snapshot before the first cycle")

	snapshot, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Positions, 2)

	btc := snapshot.Positions[0]
	assert.Equal(t, "BTC", btc.AssetID)
	assert.Equal(t, "150000000", btc.Quantity)
	assert.Equal(t, "1.5", btc.DisplayQuantity)
	require.NotNil(t, btc.Price)
	assert.Equal(t, "64250", btc.Price.Price)
	assert.False(t, btc.Price.Stale)

	eth := snapshot.Positions[1]
	assert.Equal(t, "ETH", eth.AssetID)
	assert.Equal(t, "2", eth.DisplayQuantity)
	assert.Nil(t, eth.Price, "no quote source on the node RPC")

	assert.Equal(t, types.SourceOK, snapshot.Statuses[btcAccount.ID].State)
	assert.Equal(t, types.SourceOK, snapshot.Statuses[ethAccount.ID].State)
	assert.Same(t, snapshot, agg.Latest())
}

func TestRefreshSumsAccountsOfSameAsset(t *testing.T) {
	a1 := models.Account{ID: "bitcoin:one", Network: types.NetworkBitcoin, Address: "one"}
	a2 := models.Account{ID: "bitcoin:two", Network: types.NetworkBitcoin, Address: "two"}

	adapters := map[types.Network]adapter.SourceAdapter{
		types.NetworkBitcoin: &fakeAdapter{
			network: types.NetworkBitcoin,
			holdings: func(account models.Account) ([]models.Position, error) {
				if account.ID == a1.ID {
					return []models.Position{btcHolding(account, 100000000)}, nil
				}
				return []models.Position{btcHolding(account, 50000000)}, nil
			},
		},
	}

	agg := testAggregator(t, adapters, []models.Account{a1, a2}, config.AggregatorConfig{})
	snapshot, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, snapshot.Positions, 1)
	assert.Equal(t, "150000000", snapshot.Positions[0].Quantity)
	assert.Len(t, snapshot.Positions[0].Accounts, 2)
}

func TestRefreshRetainsStalePositionsOnFailure(t *testing.T) {
	account := models.Account{ID: "bitcoin:bc1qtest", Network: types.NetworkBitcoin, Address: "bc1qtest"}

	failing := false
	fake := &fakeAdapter{
		network: types.NetworkBitcoin,
		holdings: func(a models.Account) ([]models.Position, error) {
			if failing {
				return nil, apperrors.Transient(types.NetworkBitcoin, "GetHoldings", errors.New("upstream down"))
			}
			return []models.Position{btcHolding(a, 150000000)}, nil
		},
		txs: func(a models.Account, cursor string) ([]models.Transaction, string, error) {
			if failing {
				return nil, "", apperrors.Transient(types.NetworkBitcoin, "GetTransactions", errors.New("upstream down"))
			}
			return nil, cursor, nil
		},
	}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{types.NetworkBitcoin: fake},
		[]models.Account{account}, config.AggregatorConfig{})

	first, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Positions, 1)
	assert.False(t, first.Positions[0].Stale)

	failing = true
	second, err := agg.Refresh(context.Background())
	require.NoError(t, err, "a failed source degrades, never fails the cycle")

	require.Len(t, second.Positions, 1, "last-known positions must survive the outage")
	assert.Equal(t, "150000000", second.Positions[0].Quantity, "never report a false zero")
	assert.True(t, second.Positions[0].Stale)
	assert.True(t, second.Positions[0].Accounts[0].Stale)
	assert.Equal(t, types.SourceUnavailable, snapshotState(second, account.ID))
	assert.NotEmpty(t, second.Statuses[account.ID].LastError)
}

func snapshotState(s *models.Snapshot, accountID string) types.SourceState {
	return s.Statuses[accountID].State
}

func TestRefreshDegradedWhenOnlyTransactionsFail(t *testing.T) {
	account := models.Account{ID: "bitcoin:bc1qtest", Network: types.NetworkBitcoin, Address: "bc1qtest"}

	fake := &fakeAdapter{
		network: types.NetworkBitcoin,
		holdings: func(a models.Account) ([]models.Position, error) {
			return []models.Position{btcHolding(a, 100000000)}, nil
		},
		txs: func(a models.Account, cursor string) ([]models.Transaction, string, error) {
			return nil, "", apperrors.Transient(types.NetworkBitcoin, "GetTransactions", errors.New("flaky"))
		},
	}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{types.NetworkBitcoin: fake},
		[]models.Account{account}, config.AggregatorConfig{})

	snapshot, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, types.SourceDegraded, snapshotState(snapshot, account.ID))
	require.Len(t, snapshot.Positions, 1, "holdings still land when only history fails")
	assert.False(t, snapshot.Positions[0].Stale)
}

func TestRefreshMissingAdapter(t *testing.T) {
	account := models.Account{ID: "solana:someaddr", Network: types.NetworkSolana, Address: "someaddr"}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{},
		[]models.Account{account}, config.AggregatorConfig{})

	snapshot, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snapshot.Positions)
	assert.Equal(t, types.SourceUnavailable, snapshotState(snapshot, account.ID))
}

func TestRefreshConcurrencyBound(t *testing.T) {
	const limit = 2

	fake := &fakeAdapter{
		network: types.NetworkBitcoin,
		delay:   20 * time.Millisecond,
		holdings: func(a models.Account) ([]models.Position, error) {
			return []models.Position{btcHolding(a, 1000)}, nil
		},
	}

	accounts := make([]models.Account, 6)
	for i := range accounts {
		accounts[i] = models.Account{
			ID:      "bitcoin:acct" + string(rune('a'+i)),
			Network: types.NetworkBitcoin,
			Address: "acct" + string(rune('a'+i)),
		}
	}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{types.NetworkBitcoin: fake},
		accounts, config.AggregatorConfig{Concurrency: limit})

	_, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	fake.mu.Lock()
	peak := fake.peak
	fake.mu.Unlock()
	assert.LessOrEqual(t, peak, limit, "in-flight account fetches must respect the limit")
}

func TestRefreshDeduplicatesTransactionsAcrossCycles(t *testing.T) {
	account := models.Account{ID: "bitcoin:bc1qtest", Network: types.NetworkBitcoin, Address: "bc1qtest"}
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	status := types.StatusPending
	fake := &fakeAdapter{
		network: types.NetworkBitcoin,
		txs: func(a models.Account, cursor string) ([]models.Transaction, string, error) {
			if cursor == "tx-1" {
				return nil, cursor, nil
			}
			return []models.Transaction{{
				ID: "tx-1", AccountID: a.ID, Network: types.NetworkBitcoin,
				Timestamp: when, Kind: types.KindTransferIn, AssetID: "BTC",
				Quantity: "50000", Decimals: types.SatoshiDecimals, Status: status,
			}}, "tx-1", nil
		},
	}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{types.NetworkBitcoin: fake},
		[]models.Account{account}, config.AggregatorConfig{})

	first, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Transactions, 1)
	assert.Equal(t, types.StatusPending, first.Transactions[0].Status)

	// The same native id observed again, now failed: the record is
	// superseded, never duplicated.
	status = types.StatusFailed
	fake.txs = func(a models.Account, cursor string) ([]models.Transaction, string, error) {
		return []models.Transaction{{
			ID: "tx-1", AccountID: a.ID, Network: types.NetworkBitcoin,
			Timestamp: when, Kind: types.KindTransferIn, AssetID: "BTC",
			Quantity: "50000", Decimals: types.SatoshiDecimals, Status: status,
		}}, "tx-1", nil
	}

	second, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	assert.Equal(t, types.StatusFailed, second.Transactions[0].Status)
}

func TestRefreshLinksTransfersBetweenAccounts(t *testing.T) {
	sender := models.Account{ID: "bitcoin:sender", Network: types.NetworkBitcoin, Address: "sender"}
	receiver := models.Account{ID: "bitcoin:receiver", Network: types.NetworkBitcoin, Address: "receiver"}
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	fake := &fakeAdapter{
		network: types.NetworkBitcoin,
		txs: func(a models.Account, cursor string) ([]models.Transaction, string, error) {
			if cursor != "" {
				return nil, cursor, nil
			}
			if a.ID == sender.ID {
				return []models.Transaction{{
					ID: "out-1", AccountID: a.ID, Network: types.NetworkBitcoin,
					Timestamp: when, Kind: types.KindTransferOut, AssetID: "BTC",
					Quantity: "70000", Decimals: types.SatoshiDecimals, Status: types.StatusConfirmed,
				}}, "out-1", nil
			}
			return []models.Transaction{{
				ID: "in-1", AccountID: a.ID, Network: types.NetworkBitcoin,
				Timestamp: when.Add(10 * time.Minute), Kind: types.KindTransferIn, AssetID: "BTC",
				Quantity: "70000", Decimals: types.SatoshiDecimals, Status: types.StatusConfirmed,
			}}, "in-1", nil
		},
	}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{types.NetworkBitcoin: fake},
		[]models.Account{sender, receiver}, config.AggregatorConfig{})

	snapshot, err := agg.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, snapshot.Transactions, 2)

	var out, in models.Transaction
	for _, tx := range snapshot.Transactions {
		switch tx.Kind {
		case types.KindTransferOut:
			out = tx
		case types.KindTransferIn:
			in = tx
		}
	}
	require.NotEmpty(t, out.TransferLinkID)
	assert.Equal(t, out.TransferLinkID, in.TransferLinkID)
}

func TestRefreshResyncsCursorOnReordering(t *testing.T) {
	account := models.Account{ID: "bitcoin:bc1qtest", Network: types.NetworkBitcoin, Address: "bc1qtest"}
	when := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	fake := &fakeAdapter{
		network: types.NetworkBitcoin,
		txs: func(a models.Account, cursor string) ([]models.Transaction, string, error) {
			switch cursor {
			case "orphaned":
				return nil, "", apperrors.Reordering(types.NetworkBitcoin, "GetTransactions", errors.New("cursor txid gone"))
			case "":
				return []models.Transaction{{
					ID: "tx-fresh", AccountID: a.ID, Network: types.NetworkBitcoin,
					Timestamp: when, Kind: types.KindTransferIn, AssetID: "BTC",
					Quantity: "1000", Decimals: types.SatoshiDecimals, Status: types.StatusConfirmed,
				}}, "tx-fresh", nil
			default:
				return nil, cursor, nil
			}
		},
	}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{types.NetworkBitcoin: fake},
		[]models.Account{account}, config.AggregatorConfig{})

	require.NoError(t, agg.cursors.Set(context.Background(), account.ID, "orphaned"))

	snapshot, err := agg.Refresh(context.Background())
	require.NoError(t, err)

	require.Len(t, snapshot.Transactions, 1)
	assert.Equal(t, "tx-fresh", snapshot.Transactions[0].ID)
	assert.Equal(t, types.SourceOK, snapshotState(snapshot, account.ID))

	cursor, err := agg.cursors.Get(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, "tx-fresh", cursor, "the re-walked cursor replaces the orphaned one")
}

func TestRefreshCancelled(t *testing.T) {
	fake := &fakeAdapter{network: types.NetworkBitcoin}
	account := models.Account{ID: "bitcoin:bc1qtest", Network: types.NetworkBitcoin, Address: "bc1qtest"}

	agg := testAggregator(t, map[types.Network]adapter.SourceAdapter{types.NetworkBitcoin: fake},
		[]models.Account{account}, config.AggregatorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agg.Refresh(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, agg.Latest(), "a cancelled cycle publishes nothing")
}
