// Package adapter contains the source adapters: one per external
// system, each translating a network-specific wire protocol into the
// canonical portfolio shapes.
package adapter

import (
	"context"

	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// SourceAdapter is the capability set every source variant implements.
// All errors come back pre-classified (see internal/errors); returning
// an empty result on failure is forbidden because it is
// indistinguishable from genuinely empty holdings.
type SourceAdapter interface {
	// Network returns the network this adapter serves
	Network() types.Network

	// GetBalance returns the native-asset balance only
	GetBalance(ctx context.Context, account models.Account) (*models.Position, error)

	// GetHoldings returns all fungible holdings for the account. For
	// Bitcoin this is a single UTXO-sum position; for EVM chains it is
	// native plus ERC-20 balances; for Solana native SOL plus SPL token
	// accounts; for the brokerage each held security.
	GetHoldings(ctx context.Context, account models.Account) ([]models.Position, error)

	// GetTransactions returns one page of transactions after the given
	// cursor plus the cursor to resume from. Cursors are opaque and
	// adapter-defined. Passing a returned cursor back must yield only
	// transactions strictly after the previous page, with no
	// duplication and no gaps under normal operation. An empty cursor
	// starts from the most recent history.
	GetTransactions(ctx context.Context, account models.Account, cursor string) ([]models.Transaction, string, error)

	// GetQuote returns the current price of an asset in a currency
	GetQuote(ctx context.Context, assetID, currency string) (*models.Quote, error)
}
