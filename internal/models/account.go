package models

import (
	"github.com/portfolio-aggregator/internal/types"
)

// Account represents one tracked account or address. Accounts are owned
// by the tracking configuration and never mutated by adapters.
type Account struct {
	ID      string        `json:"id"`
	Network types.Network `json:"network"`
	Address string        `json:"address"`
	Label   string        `json:"label,omitempty"`
}
