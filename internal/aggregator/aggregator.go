// Package aggregator fans out concurrent fetches across every tracked
// account, tolerates partial failure, and folds the results into one
// canonical portfolio snapshot.
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/config"
	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/policy"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

// Aggregator runs aggregation cycles over a fixed account set. One
// cycle fans out across accounts bounded by the concurrency limit,
// then merges positions, deduplicates transactions, links transfers,
// and emits a Snapshot. A failed account degrades its own contribution
// only; the cycle as a whole never fails because of one source.
type Aggregator struct {
	cfg      config.AggregatorConfig
	adapters map[types.Network]adapter.SourceAdapter
	accounts []models.Account
	policy   *policy.CallPolicy
	quotes   *storage.QuoteCache
	cursors  *storage.CursorStore
	logger   *logging.Logger

	mu   sync.RWMutex
	last *models.Snapshot
}

// New creates an aggregator over the given adapters and accounts
func New(cfg config.AggregatorConfig, adapters map[types.Network]adapter.SourceAdapter,
	accounts []models.Account, pol *policy.CallPolicy, quotes *storage.QuoteCache,
	cursors *storage.CursorStore, logger *logging.Logger) *Aggregator {

	return &Aggregator{
		cfg:      cfg,
		adapters: adapters,
		accounts: accounts,
		policy:   pol,
		quotes:   quotes,
		cursors:  cursors,
		logger:   logger.WithField("component", "aggregator"),
	}
}

// accountResult is one account's contribution to a cycle
type accountResult struct {
	account   models.Account
	positions []models.Position
	txs       []models.Transaction
	status    models.SourceStatus
}

// Latest returns the most recent snapshot, nil before the first cycle
func (a *Aggregator) Latest() *models.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Refresh runs one aggregation cycle. Account fetches run in parallel
// bounded by the concurrency limit; within one account, transaction
// pages are fetched sequentially because each page depends on the
// previous cursor. Cancelling ctx cancels all in-flight work.
func (a *Aggregator) Refresh(ctx context.Context) (*models.Snapshot, error) {
	start := time.Now()
	results := make([]accountResult, len(a.accounts))
	sem := make(chan struct{}, a.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, acct := range a.accounts {
		wg.Add(1)
		go func(i int, acct models.Account) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[i] = accountResult{account: acct, status: failedStatus(acct, ctx.Err())}
				return
			}

			results[i] = a.fetchAccount(ctx, acct)
		}(i, acct)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prior := a.Latest()
	snapshot := a.buildSnapshot(ctx, results, prior)

	a.mu.Lock()
	a.last = snapshot
	a.mu.Unlock()

	a.logger.WithFields(map[string]interface{}{
		"accounts":  len(a.accounts),
		"positions": len(snapshot.Positions),
		"duration":  time.Since(start).String(),
	}).Info("aggregation cycle complete")

	return snapshot, nil
}

// fetchAccount pulls holdings and new transactions for one account
// through the call policy and classifies the account's health for the
// cycle.
func (a *Aggregator) fetchAccount(ctx context.Context, acct models.Account) accountResult {
	res := accountResult{account: acct}

	ad, ok := a.adapters[acct.Network]
	if !ok {
		err := apperrors.NotConfigured(acct.Network, "fetchAccount",
			fmt.Errorf("no adapter registered for network %s", acct.Network))
		a.logger.WithField("account", acct.ID).WithError(err).Warn("no adapter for account network")
		res.status = failedStatus(acct, err)
		return res
	}

	holdErr := a.policy.Do(ctx, string(acct.Network), acct.ID, "GetHoldings", func(ctx context.Context) error {
		positions, err := ad.GetHoldings(ctx, acct)
		if err != nil {
			return err
		}
		res.positions = positions
		return nil
	})

	txs, txErr := a.fetchTransactions(ctx, acct, ad)
	res.txs = txs

	now := time.Now().UTC()
	switch {
	case holdErr == nil && txErr == nil:
		res.status = models.SourceStatus{AccountID: acct.ID, Network: acct.Network, State: types.SourceOK, LastSuccessAt: now}
	case holdErr == nil || txErr == nil:
		err := holdErr
		if err == nil {
			err = txErr
		}
		res.status = models.SourceStatus{AccountID: acct.ID, Network: acct.Network, State: types.SourceDegraded, LastError: err.Error(), LastSuccessAt: now}
		a.logger.WithField("account", acct.ID).WithError(err).Warn("account partially degraded this cycle")
	default:
		res.status = failedStatus(acct, holdErr)
		a.logger.WithField("account", acct.ID).WithError(holdErr).Warn("account unavailable this cycle")
	}
	return res
}

// fetchTransactions walks transaction pages sequentially from the
// account's stored cursor. On reordering the cursor is discarded and
// the walk restarts from scratch once.
func (a *Aggregator) fetchTransactions(ctx context.Context, acct models.Account, ad adapter.SourceAdapter) ([]models.Transaction, error) {
	cursor, err := a.cursors.Get(ctx, acct.ID)
	if err != nil {
		// A cursor read failure costs a full re-walk, not the cycle
		a.logger.WithField("account", acct.ID).WithError(err).Warn("cursor read failed, resyncing from scratch")
		cursor = ""
	}

	var all []models.Transaction
	resynced := false

	for page := 0; page < a.cfg.MaxTransactionPages; page++ {
		var (
			txs  []models.Transaction
			next string
		)
		err := a.policy.Do(ctx, string(acct.Network), acct.ID, "GetTransactions", func(ctx context.Context) error {
			t, n, err := ad.GetTransactions(ctx, acct, cursor)
			if err != nil {
				return err
			}
			txs, next = t, n
			return nil
		})
		if err != nil {
			if apperrors.IsReordering(err) && !resynced {
				a.logger.WithField("account", acct.ID).Warn("upstream reordering detected, resyncing cursor")
				if resetErr := a.cursors.Reset(ctx, acct.ID); resetErr != nil {
					return all, resetErr
				}
				cursor = ""
				resynced = true
				continue
			}
			return all, err
		}

		all = append(all, txs...)
		if len(txs) == 0 || next == cursor {
			break
		}
		cursor = next
		if err := a.cursors.Set(ctx, acct.ID, next); err != nil {
			a.logger.WithField("account", acct.ID).WithError(err).Warn("cursor write failed")
		}
	}

	return all, nil
}

// buildSnapshot folds per-account results into one snapshot. Accounts
// that produced nothing this cycle keep their prior positions marked
// stale rather than reporting a false zero.
func (a *Aggregator) buildSnapshot(ctx context.Context, results []accountResult, prior *models.Snapshot) *models.Snapshot {
	statuses := make(map[string]models.SourceStatus, len(results))
	var positions []models.Position

	for _, res := range results {
		statuses[res.account.ID] = res.status

		if len(res.positions) > 0 {
			positions = append(positions, res.positions...)
			continue
		}
		if res.status.State != types.SourceOK && prior != nil {
			stale := priorPositions(prior, res.account.ID)
			positions = append(positions, stale...)
		}
	}

	merged := mergePositions(positions)
	a.attachQuotes(ctx, merged)

	var fresh []models.Transaction
	for _, res := range results {
		fresh = append(fresh, res.txs...)
	}
	var existing []models.Transaction
	if prior != nil {
		existing = prior.Transactions
	}
	txs := dedupeTransactions(existing, fresh)
	LinkTransfers(txs, a.cfg.TransferMatchWindow)
	sortTransactions(txs)

	return &models.Snapshot{
		ID:           uuid.New().String(),
		Positions:    merged,
		Transactions: txs,
		Statuses:     statuses,
		GeneratedAt:  time.Now().UTC(),
	}
}

// attachQuotes prices each merged position through the read-through
// quote cache. A missing quote never fails the cycle.
func (a *Aggregator) attachQuotes(ctx context.Context, positions []models.AggregatedPosition) {
	for i := range positions {
		pos := &positions[i]
		ad, ok := a.adapters[pos.Network]
		if !ok {
			continue
		}

		quote, err := a.quotes.Fetch(ctx, pos.AssetID, a.cfg.DisplayCurrency, pos.Network,
			func(ctx context.Context) (*models.Quote, error) {
				var q *models.Quote
				err := a.policy.Do(ctx, string(pos.Network), "quotes", "GetQuote", func(ctx context.Context) error {
					got, err := ad.GetQuote(ctx, pos.AssetID, a.cfg.DisplayCurrency)
					if err != nil {
						return err
					}
					q = got
					return nil
				})
				return q, err
			})
		if err != nil {
			a.logger.WithField("asset", pos.AssetID).WithError(err).Debug("no quote available")
			continue
		}
		pos.Price = quote
	}
}

// priorPositions extracts one account's positions from the previous
// snapshot and marks them stale
func priorPositions(prior *models.Snapshot, accountID string) []models.Position {
	var out []models.Position
	for _, agg := range prior.Positions {
		for _, p := range agg.Accounts {
			if p.AccountID == accountID {
				p.Stale = true
				out = append(out, p)
			}
		}
	}
	return out
}

func failedStatus(acct models.Account, err error) models.SourceStatus {
	status := models.SourceStatus{
		AccountID: acct.ID,
		Network:   acct.Network,
		State:     types.SourceUnavailable,
	}
	if err != nil {
		status.LastError = err.Error()
	}
	return status
}
