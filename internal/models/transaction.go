package models

import (
	"time"

	"github.com/portfolio-aggregator/internal/types"
)

// Transaction represents one append-only transaction fact in canonical
// form. The ID is the source-native hash, signature, or txid; combined
// with the account it uniquely identifies the fact across cycles.
// Confirmed transactions are never mutated; a pending transaction may
// only be superseded by a later observation of the same ID as failed.
type Transaction struct {
	ID        string                  `json:"id"` // source-native hash/signature/txid
	AccountID string                  `json:"accountId"`
	Network   types.Network           `json:"network"`
	Timestamp time.Time               `json:"timestamp"`
	Kind      types.TransactionKind   `json:"kind"`
	AssetID   string                  `json:"assetId"`
	Quantity  string                  `json:"quantity"` // base units
	Decimals  int                     `json:"decimals"`
	UnitPrice string                  `json:"unitPrice,omitempty"`
	Fee       string                  `json:"fee,omitempty"` // base units
	Status    types.TransactionStatus `json:"status"`
	// TransferLinkID joins a TRANSFER_OUT on one tracked account with
	// the matching TRANSFER_IN on another. Best-effort, set by the
	// aggregator, never merges the two records.
	TransferLinkID string `json:"transferLinkId,omitempty"`
}

// Key returns the deduplication key for this transaction
func (t *Transaction) Key() string {
	return t.AccountID + ":" + t.ID
}
