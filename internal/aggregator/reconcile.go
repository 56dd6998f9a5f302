package aggregator

import (
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// LinkTransfers pairs a TRANSFER_OUT on one tracked account with a
// TRANSFER_IN of the same asset and quantity on another within the
// match window, stamping both with a shared link id. The two records
// stay separate; linking is best-effort and never blocks a cycle.
// Already-linked transactions are left alone so links survive across
// cycles.
func LinkTransfers(txs []models.Transaction, window time.Duration) {
	type candidate struct {
		index int
		when  time.Time
	}

	// Outgoing transfers indexed by asset and quantity
	outs := make(map[string][]candidate)
	for i, tx := range txs {
		if tx.Kind != types.KindTransferOut || tx.TransferLinkID != "" {
			continue
		}
		k := tx.AssetID + "|" + tx.Quantity
		outs[k] = append(outs[k], candidate{index: i, when: tx.Timestamp})
	}

	for i, tx := range txs {
		if tx.Kind != types.KindTransferIn || tx.TransferLinkID != "" {
			continue
		}

		k := tx.AssetID + "|" + tx.Quantity
		for j, out := range outs[k] {
			if out.index < 0 {
				continue
			}
			if txs[out.index].AccountID == tx.AccountID {
				continue
			}
			gap := tx.Timestamp.Sub(out.when)
			if gap < 0 {
				gap = -gap
			}
			if gap > window {
				continue
			}

			linkID := uuid.New().String()
			txs[out.index].TransferLinkID = linkID
			txs[i].TransferLinkID = linkID
			outs[k][j].index = -1
			break
		}
	}
}
