package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

func b3Account() models.Account {
	return models.Account{ID: "b3:12345-6", Network: types.NetworkB3, Address: "12345-6"}
}

// fakeTransport is an in-memory BrokerTransport
type fakeTransport struct {
	cash      int64
	positions []BrokerPosition
	pages     map[string][]BrokerTransaction
	nextPage  map[string]string
	quotes    map[string]int64
	err       error
}

func (f *fakeTransport) CashBalance(ctx context.Context, account models.Account) (int64, error) {
	return f.cash, f.err
}

func (f *fakeTransport) Positions(ctx context.Context, account models.Account) ([]BrokerPosition, error) {
	return f.positions, f.err
}

func (f *fakeTransport) Transactions(ctx context.Context, account models.Account, pageToken string) ([]BrokerTransaction, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.pages[pageToken], f.nextPage[pageToken], nil
}

func (f *fakeTransport) Quote(ctx context.Context, ticker string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.quotes[ticker], nil
}

func TestBrokerageNotConfiguredWithoutTransport(t *testing.T) {
	a := NewBrokerageAdapter(nil)
	ctx := context.Background()

	_, err := a.GetBalance(ctx, b3Account())
	assert.True(t, apperrors.IsNotConfigured(err))

	_, err = a.GetHoldings(ctx, b3Account())
	assert.True(t, apperrors.IsNotConfigured(err),
		"no transport must never read as empty holdings")

	_, _, err = a.GetTransactions(ctx, b3Account(), "")
	assert.True(t, apperrors.IsNotConfigured(err))

	_, err = a.GetQuote(ctx, "PETR4", "BRL")
	assert.True(t, apperrors.IsNotConfigured(err))
}

func TestBrokerageGetBalanceInCentavos(t *testing.T) {
	a := NewBrokerageAdapter(&fakeTransport{cash: 1050})

	pos, err := a.GetBalance(context.Background(), b3Account())
	require.NoError(t, err)

	assert.Equal(t, "BRL", pos.AssetID)
	assert.Equal(t, "1050", pos.Quantity)
	assert.Equal(t, "10.5", pos.DisplayQuantity)
	assert.Equal(t, types.CentavoDecimals, pos.Decimals)
}

func TestBrokerageGetHoldings(t *testing.T) {
	a := NewBrokerageAdapter(&fakeTransport{
		cash: 100000,
		positions: []BrokerPosition{
			{Ticker: "PETR4", Class: "STOCK", Quantity: 100, AvgPriceCents: 3250},
			{Ticker: "HGLG11", Class: "FII", Quantity: 10, AvgPriceCents: 16000},
			{Ticker: "SOLD3", Class: "STOCK", Quantity: 0},
		},
	})

	holdings, err := a.GetHoldings(context.Background(), b3Account())
	require.NoError(t, err)
	require.Len(t, holdings, 3, "cash plus the two non-zero securities")

	assert.Equal(t, "BRL", holdings[0].AssetID)
	assert.Equal(t, "PETR4", holdings[1].AssetID)
	assert.Equal(t, "100", holdings[1].Quantity)
	assert.Equal(t, 0, holdings[1].Decimals, "share counts are whole units")
	assert.Equal(t, "HGLG11", holdings[2].AssetID)
}

func TestBrokerageGetTransactions(t *testing.T) {
	when := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	a := NewBrokerageAdapter(&fakeTransport{
		pages: map[string][]BrokerTransaction{
			"": {
				{ID: "ord-1", Ticker: "PETR4", Kind: "BUY", Quantity: 100, UnitPriceCents: 3250, FeeCents: 490, Timestamp: when, Settled: true},
				{ID: "div-1", Ticker: "PETR4", Kind: "RENDIMENTO", Quantity: 0, UnitPriceCents: 0, FeeCents: 0, Timestamp: when, Settled: true},
				{ID: "ord-2", Ticker: "VALE3", Kind: "SELL", Quantity: 50, UnitPriceCents: 6100, FeeCents: 320, Timestamp: when, Settled: false},
			},
		},
		nextPage: map[string]string{"": "page-2"},
	})

	txs, next, err := a.GetTransactions(context.Background(), b3Account(), "")
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "page-2", next, "the broker page token is the cursor")

	buy := txs[0]
	assert.Equal(t, types.KindBuy, buy.Kind)
	assert.Equal(t, "100", buy.Quantity)
	assert.Equal(t, "32.5", buy.UnitPrice)
	assert.Equal(t, "490", buy.Fee)
	assert.Equal(t, types.StatusConfirmed, buy.Status)

	assert.Equal(t, types.KindDividend, txs[1].Kind)

	sell := txs[2]
	assert.Equal(t, types.KindSell, sell.Kind)
	assert.Equal(t, types.StatusPending, sell.Status, "unsettled orders are pending")
}

func TestBrokerageGetQuote(t *testing.T) {
	a := NewBrokerageAdapter(&fakeTransport{quotes: map[string]int64{"PETR4": 3375}})

	quote, err := a.GetQuote(context.Background(), "PETR4", "brl")
	require.NoError(t, err)
	assert.Equal(t, "33.75", quote.Price)
	assert.Equal(t, "BRL", quote.Currency)

	_, err = a.GetQuote(context.Background(), "PETR4", "USD")
	assert.True(t, apperrors.IsPermanent(err), "the broker quotes BRL only")
}

func TestBrokerageTransportErrorsDefaultTransient(t *testing.T) {
	a := NewBrokerageAdapter(&fakeTransport{err: errors.New("partner api 502")})

	_, err := a.GetBalance(context.Background(), b3Account())
	assert.True(t, apperrors.IsTransient(err))

	// Pre-classified errors pass through untouched
	a = NewBrokerageAdapter(&fakeTransport{
		err: apperrors.Permanent(types.NetworkB3, "GetBalance", errors.New("account closed")),
	})
	_, err = a.GetBalance(context.Background(), b3Account())
	assert.True(t, apperrors.IsPermanent(err))
}
