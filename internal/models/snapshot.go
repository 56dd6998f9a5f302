package models

import (
	"time"

	"github.com/portfolio-aggregator/internal/types"
)

// SourceStatus reports the health of one account's source for one
// aggregation cycle. It drives whether that account's positions are
// live or stale in the snapshot.
type SourceStatus struct {
	AccountID     string            `json:"accountId"`
	Network       types.Network     `json:"network"`
	State         types.SourceState `json:"state"`
	LastError     string            `json:"lastError,omitempty"`
	LastSuccessAt time.Time         `json:"lastSuccessAt,omitempty"`
}

// Snapshot is the canonical portfolio view produced by one aggregation
// cycle. It is immutable once constructed; the next cycle produces a
// fresh one.
type Snapshot struct {
	ID           string                  `json:"id"`
	Positions    []AggregatedPosition    `json:"positions"`
	Transactions []Transaction           `json:"transactions"` // newest first
	Statuses     map[string]SourceStatus `json:"statuses"`     // keyed by account ID
	GeneratedAt  time.Time               `json:"generatedAt"`
}
