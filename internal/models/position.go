package models

import (
	"math/big"
	"time"

	"github.com/portfolio-aggregator/internal/types"
)

// Position represents a holding of one asset in one account. Quantity
// is always the asset's smallest indivisible unit (satoshis, wei,
// lamports, centavos, raw token amount) carried as a decimal string;
// DisplayQuantity is derived at the boundary and never fed back into
// arithmetic.
type Position struct {
	AssetID         string        `json:"assetId"` // symbol or contract/mint address
	Symbol          string        `json:"symbol"`
	Network         types.Network `json:"network"`
	AccountID       string        `json:"accountId"`
	Quantity        string        `json:"quantity"` // base units
	Unconfirmed     string        `json:"unconfirmed,omitempty"`
	Decimals        int           `json:"decimals"`
	DisplayQuantity string        `json:"displayQuantity"`
	LastUpdated     time.Time     `json:"lastUpdated"`
	Stale           bool          `json:"stale,omitempty"`
}

// QuantityInt returns the quantity as a big integer. A malformed
// quantity is an invariant breach, not a runtime condition, so the
// second return is a plain ok flag for callers that must not panic.
func (p *Position) QuantityInt() (*big.Int, bool) {
	return new(big.Int).SetString(p.Quantity, 10)
}

// NewPosition builds a position with the display quantity derived from
// the base-unit amount
func NewPosition(assetID, symbol string, network types.Network, accountID string, quantity *big.Int, decimals int) Position {
	return Position{
		AssetID:         assetID,
		Symbol:          symbol,
		Network:         network,
		AccountID:       accountID,
		Quantity:        quantity.String(),
		Decimals:        decimals,
		DisplayQuantity: types.FormatUnits(quantity, decimals),
		LastUpdated:     time.Now().UTC(),
	}
}

// AggregatedPosition is one asset summed across every account that
// holds it on the same network, with the per-account detail retained.
type AggregatedPosition struct {
	AssetID         string        `json:"assetId"`
	Symbol          string        `json:"symbol"`
	Network         types.Network `json:"network"`
	Quantity        string        `json:"quantity"` // base units
	Decimals        int           `json:"decimals"`
	DisplayQuantity string        `json:"displayQuantity"`
	Price           *Quote        `json:"price,omitempty"`
	Stale           bool          `json:"stale,omitempty"`
	Accounts        []Position    `json:"accounts"`
}
