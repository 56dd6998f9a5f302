package aggregator

import (
	"math/big"
	"sort"

	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// mergePositions folds per-account positions into one aggregated
// position per (asset, network), summing base-unit quantities with
// integer math and keeping the per-account breakdown. A stale account
// position marks the whole aggregate stale.
func mergePositions(positions []models.Position) []models.AggregatedPosition {
	type key struct {
		assetID string
		network types.Network
	}

	byAsset := make(map[key]*models.AggregatedPosition)
	totals := make(map[key]*big.Int)
	var order []key

	for _, pos := range positions {
		quantity, ok := pos.QuantityInt()
		if !ok {
			// Contract violation by an adapter, not a runtime condition
			continue
		}

		k := key{assetID: pos.AssetID, network: pos.Network}
		agg, exists := byAsset[k]
		if !exists {
			agg = &models.AggregatedPosition{
				AssetID:  pos.AssetID,
				Symbol:   pos.Symbol,
				Network:  pos.Network,
				Decimals: pos.Decimals,
			}
			byAsset[k] = agg
			totals[k] = new(big.Int)
			order = append(order, k)
		}

		totals[k].Add(totals[k], quantity)
		agg.Accounts = append(agg.Accounts, pos)
		if pos.Stale {
			agg.Stale = true
		}
	}

	out := make([]models.AggregatedPosition, 0, len(order))
	for _, k := range order {
		agg := byAsset[k]
		agg.Quantity = totals[k].String()
		agg.DisplayQuantity = types.FormatUnits(totals[k], agg.Decimals)
		out = append(out, *agg)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].AssetID < out[j].AssetID
	})
	return out
}

// dedupeTransactions merges existing and freshly fetched transactions
// keyed by (account, native id). The first occurrence wins: a
// transaction re-returned by a retried page never overwrites what is
// already recorded, except that a pending transaction may be
// superseded by a failed observation of the same id.
func dedupeTransactions(existing, fresh []models.Transaction) []models.Transaction {
	seen := make(map[string]int, len(existing)+len(fresh))
	out := make([]models.Transaction, 0, len(existing)+len(fresh))

	for _, tx := range existing {
		if _, dup := seen[tx.Key()]; dup {
			continue
		}
		seen[tx.Key()] = len(out)
		out = append(out, tx)
	}
	for _, tx := range fresh {
		if idx, dup := seen[tx.Key()]; dup {
			if out[idx].Status == types.StatusPending && tx.Status != types.StatusPending {
				out[idx].Status = tx.Status
			}
			continue
		}
		seen[tx.Key()] = len(out)
		out = append(out, tx)
	}
	return out
}

// sortTransactions orders newest first, breaking timestamp ties by id
// for a deterministic snapshot
func sortTransactions(txs []models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if !txs[i].Timestamp.Equal(txs[j].Timestamp) {
			return txs[i].Timestamp.After(txs[j].Timestamp)
		}
		return txs[i].ID < txs[j].ID
	})
}
