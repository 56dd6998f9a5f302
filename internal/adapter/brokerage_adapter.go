package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// BrokerPosition is one security held at the broker. Quantity is a
// whole share count; monetary amounts are centavos.
type BrokerPosition struct {
	Ticker         string
	Class          string // STOCK, FII, ETF, BDR
	Quantity       int64
	AvgPriceCents  int64
	LastPriceCents int64
}

// BrokerTransaction is one brokerage event in broker-native terms
type BrokerTransaction struct {
	ID             string
	Ticker         string
	Kind           string // BUY, SELL, DIVIDEND, FEE, TRANSFER_IN, TRANSFER_OUT
	Quantity       int64
	UnitPriceCents int64
	FeeCents       int64
	Timestamp      time.Time
	Settled        bool
}

// BrokerTransport is the pluggable wire side of the brokerage adapter.
// The actual protocol (partner API, statement import, scrape) is
// decided per deployment; the adapter only canonicalizes.
type BrokerTransport interface {
	CashBalance(ctx context.Context, account models.Account) (int64, error) // centavos
	Positions(ctx context.Context, account models.Account) ([]BrokerPosition, error)
	Transactions(ctx context.Context, account models.Account, pageToken string) ([]BrokerTransaction, string, error)
	Quote(ctx context.Context, ticker string) (int64, error) // centavos
}

// BrokerageAdapter implements SourceAdapter for a B3 brokerage account
// over a pluggable transport. With no transport wired every operation
// fails NotConfigured, never an empty result that would read as "no
// holdings".
type BrokerageAdapter struct {
	transport BrokerTransport
}

// NewBrokerageAdapter creates a brokerage adapter. transport may be
// nil when the integration is not set up yet.
func NewBrokerageAdapter(transport BrokerTransport) *BrokerageAdapter {
	return &BrokerageAdapter{transport: transport}
}

// Network returns the network this adapter serves
func (a *BrokerageAdapter) Network() types.Network {
	return types.NetworkB3
}

func (a *BrokerageAdapter) notConfigured(op string) error {
	return apperrors.NotConfigured(types.NetworkB3, op, fmt.Errorf("no brokerage transport configured"))
}

// GetBalance returns the account's cash balance in centavos
func (a *BrokerageAdapter) GetBalance(ctx context.Context, account models.Account) (*models.Position, error) {
	const op = "GetBalance"
	if a.transport == nil {
		return nil, a.notConfigured(op)
	}

	cents, err := a.transport.CashBalance(ctx, account)
	if err != nil {
		return nil, classifyBrokerErr(op, err)
	}

	pos := models.NewPosition("BRL", "BRL", types.NetworkB3, account.ID, big.NewInt(cents), types.CentavoDecimals)
	return &pos, nil
}

// GetHoldings returns the cash balance plus each held security as a
// whole-share position
func (a *BrokerageAdapter) GetHoldings(ctx context.Context, account models.Account) ([]models.Position, error) {
	const op = "GetHoldings"
	if a.transport == nil {
		return nil, a.notConfigured(op)
	}

	cash, err := a.GetBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	holdings := []models.Position{*cash}

	positions, err := a.transport.Positions(ctx, account)
	if err != nil {
		return nil, classifyBrokerErr(op, err)
	}

	for _, p := range positions {
		if p.Quantity == 0 {
			continue
		}
		holdings = append(holdings, models.NewPosition(
			p.Ticker, p.Ticker, types.NetworkB3, account.ID, big.NewInt(p.Quantity), 0))
	}
	return holdings, nil
}

// GetTransactions pages broker events using the broker's own page
// token as the cursor
func (a *BrokerageAdapter) GetTransactions(ctx context.Context, account models.Account, cursor string) ([]models.Transaction, string, error) {
	const op = "GetTransactions"
	if a.transport == nil {
		return nil, "", a.notConfigured(op)
	}

	events, next, err := a.transport.Transactions(ctx, account, cursor)
	if err != nil {
		return nil, "", classifyBrokerErr(op, err)
	}

	out := make([]models.Transaction, 0, len(events))
	for _, ev := range events {
		out = append(out, models.Transaction{
			ID:        ev.ID,
			AccountID: account.ID,
			Network:   types.NetworkB3,
			Timestamp: ev.Timestamp.UTC(),
			Kind:      brokerKind(ev.Kind),
			AssetID:   ev.Ticker,
			Quantity:  big.NewInt(ev.Quantity).String(),
			Decimals:  0,
			UnitPrice: types.FormatUnits(big.NewInt(ev.UnitPriceCents), types.CentavoDecimals),
			Fee:       big.NewInt(ev.FeeCents).String(),
			Status:    brokerStatus(ev.Settled),
		})
	}
	return out, next, nil
}

// GetQuote returns the last trade price for a ticker in BRL. Other
// currencies would need a conversion source the broker does not
// provide.
func (a *BrokerageAdapter) GetQuote(ctx context.Context, assetID, currency string) (*models.Quote, error) {
	const op = "GetQuote"
	if a.transport == nil {
		return nil, a.notConfigured(op)
	}
	if !strings.EqualFold(currency, "BRL") {
		return nil, apperrors.Permanent(types.NetworkB3, op, fmt.Errorf("currency %s not quoted by broker", currency))
	}

	cents, err := a.transport.Quote(ctx, assetID)
	if err != nil {
		return nil, classifyBrokerErr(op, err)
	}

	return &models.Quote{
		AssetID:    assetID,
		Currency:   "BRL",
		Price:      types.FormatUnits(big.NewInt(cents), types.CentavoDecimals),
		ObservedAt: time.Now().UTC(),
	}, nil
}

// classifyBrokerErr passes through already-classified errors and
// defaults the rest to transient
func classifyBrokerErr(op string, err error) error {
	var se *apperrors.SourceError
	if errors.As(err, &se) {
		return err
	}
	return apperrors.Transient(types.NetworkB3, op, err)
}

func brokerKind(kind string) types.TransactionKind {
	switch strings.ToUpper(kind) {
	case "BUY":
		return types.KindBuy
	case "SELL":
		return types.KindSell
	case "DIVIDEND", "JCP", "RENDIMENTO":
		return types.KindDividend
	case "FEE", "TAXA":
		return types.KindFee
	case "TRANSFER_IN":
		return types.KindTransferIn
	case "TRANSFER_OUT":
		return types.KindTransferOut
	default:
		return types.KindUnknown
	}
}

func brokerStatus(settled bool) types.TransactionStatus {
	if settled {
		return types.StatusConfirmed
	}
	return types.StatusPending
}
