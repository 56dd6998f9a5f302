package models

import "time"

// Quote represents a last-known price for an asset in a currency.
// Quotes are cache-only valuation data, never ground truth for
// holdings.
type Quote struct {
	AssetID    string    `json:"assetId"`
	Currency   string    `json:"currency"`
	Price      string    `json:"price"` // decimal string
	ObservedAt time.Time `json:"observedAt"`
	// Stale marks a quote served from cache after a live fetch failed
	Stale bool `json:"stale,omitempty"`
}

// Age returns how long ago the quote was observed
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}
