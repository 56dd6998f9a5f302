package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// bitcoinTxPageSize is the page size esplora-compatible indexers use
// for /address/{addr}/txs
const bitcoinTxPageSize = 25

var bitcoinAddressPattern = regexp.MustCompile(`^(bc1[a-z0-9]{8,87}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})$`)

// BitcoinAdapter implements SourceAdapter against an esplora-compatible
// REST indexer (mempool.space API shape). Balances come from the
// address stats endpoint, holdings from the UTXO set, transactions
// from the address-indexed tx list paged by last-seen txid.
type BitcoinAdapter struct {
	apiURL   string
	client   *http.Client
	maxPages int
}

// NewBitcoinAdapter creates a Bitcoin adapter for the given indexer URL
func NewBitcoinAdapter(apiURL string, maxPages int) *BitcoinAdapter {
	if maxPages <= 0 {
		maxPages = 1
	}
	return &BitcoinAdapter{
		apiURL:   strings.TrimRight(apiURL, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		maxPages: maxPages,
	}
}

// Network returns the network this adapter serves
func (a *BitcoinAdapter) Network() types.Network {
	return types.NetworkBitcoin
}

// ValidateAddress checks if the address looks like a Bitcoin address
// (legacy base58 or bech32)
func (a *BitcoinAdapter) ValidateAddress(address string) bool {
	return bitcoinAddressPattern.MatchString(address)
}

type esploraAddressStats struct {
	FundedTxoSum uint64 `json:"funded_txo_sum"`
	SpentTxoSum  uint64 `json:"spent_txo_sum"`
	TxCount      int    `json:"tx_count"`
}

type esploraAddress struct {
	Address      string              `json:"address"`
	ChainStats   esploraAddressStats `json:"chain_stats"`
	MempoolStats esploraAddressStats `json:"mempool_stats"`
}

type esploraUTXO struct {
	TxID  string `json:"txid"`
	Vout  int    `json:"vout"`
	Value uint64 `json:"value"`
	Status struct {
		Confirmed bool `json:"confirmed"`
	} `json:"status"`
}

type esploraTx struct {
	TxID   string `json:"txid"`
	Fee    uint64 `json:"fee"`
	Status struct {
		Confirmed bool  `json:"confirmed"`
		BlockTime int64 `json:"block_time"`
	} `json:"status"`
	Vin []struct {
		Prevout struct {
			ScriptpubkeyAddress string `json:"scriptpubkey_address"`
			Value               uint64 `json:"value"`
		} `json:"prevout"`
	} `json:"vin"`
	Vout []struct {
		ScriptpubkeyAddress string `json:"scriptpubkey_address"`
		Value               uint64 `json:"value"`
	} `json:"vout"`
}

// GetBalance returns the confirmed balance as funded minus spent from
// the chain stats, with the mempool delta reported separately as the
// unconfirmed amount.
func (a *BitcoinAdapter) GetBalance(ctx context.Context, account models.Account) (*models.Position, error) {
	const op = "GetBalance"
	if !a.ValidateAddress(account.Address) {
		return nil, apperrors.Permanent(types.NetworkBitcoin, op, fmt.Errorf("invalid bitcoin address: %s", account.Address))
	}

	var stats esploraAddress
	url := fmt.Sprintf("%s/address/%s", a.apiURL, account.Address)
	if err := getJSON(ctx, a.client, types.NetworkBitcoin, op, url, &stats); err != nil {
		return nil, err
	}

	confirmed := new(big.Int).SetUint64(stats.ChainStats.FundedTxoSum)
	confirmed.Sub(confirmed, new(big.Int).SetUint64(stats.ChainStats.SpentTxoSum))

	unconfirmed := new(big.Int).SetUint64(stats.MempoolStats.FundedTxoSum)
	unconfirmed.Sub(unconfirmed, new(big.Int).SetUint64(stats.MempoolStats.SpentTxoSum))

	pos := models.NewPosition("BTC", "BTC", types.NetworkBitcoin, account.ID, confirmed, types.SatoshiDecimals)
	if unconfirmed.Sign() != 0 {
		pos.Unconfirmed = unconfirmed.String()
	}
	return &pos, nil
}

// GetHoldings sums the address's UTXO set. Bitcoin has no token
// standard, so the result is a single native position: confirmed UTXOs
// make the quantity, unconfirmed ones the pending amount.
func (a *BitcoinAdapter) GetHoldings(ctx context.Context, account models.Account) ([]models.Position, error) {
	const op = "GetHoldings"
	if !a.ValidateAddress(account.Address) {
		return nil, apperrors.Permanent(types.NetworkBitcoin, op, fmt.Errorf("invalid bitcoin address: %s", account.Address))
	}

	var utxos []esploraUTXO
	url := fmt.Sprintf("%s/address/%s/utxo", a.apiURL, account.Address)
	if err := getJSON(ctx, a.client, types.NetworkBitcoin, op, url, &utxos); err != nil {
		return nil, err
	}

	confirmed := new(big.Int)
	unconfirmed := new(big.Int)
	for _, u := range utxos {
		if u.Status.Confirmed {
			confirmed.Add(confirmed, new(big.Int).SetUint64(u.Value))
		} else {
			unconfirmed.Add(unconfirmed, new(big.Int).SetUint64(u.Value))
		}
	}

	pos := models.NewPosition("BTC", "BTC", types.NetworkBitcoin, account.ID, confirmed, types.SatoshiDecimals)
	if unconfirmed.Sign() != 0 {
		pos.Unconfirmed = unconfirmed.String()
	}
	return []models.Position{pos}, nil
}

// bitcoinCursorSep joins the parts of a continuation cursor. Txids are
// hex, so the separator can never appear inside one.
const bitcoinCursorSep = "~"

// splitBitcoinCursor decodes a cursor. The plain form is the newest
// txid seen so far. When a walk runs out of page budget before closing
// the gap, the cursor carries two more parts: the txid to resume the
// chain walk after, and the txid the walk must still reach.
func splitBitcoinCursor(cursor string) (newest, resumeAfter, stopAt string) {
	parts := strings.SplitN(cursor, bitcoinCursorSep, 3)
	newest = parts[0]
	if len(parts) == 3 {
		resumeAfter = parts[1]
		stopAt = parts[2]
	}
	return newest, resumeAfter, stopAt
}

// GetTransactions pages the address-indexed transaction list newest
// first. The cursor is the most recent txid returned previously; the
// walk stops when it reaches that txid again. A walk that spends its
// whole page budget before getting there returns a continuation cursor
// so the next cycle picks up mid-range rather than skipping the
// transactions in between. If the cursor txid has disappeared from the
// indexer the upstream reordered history (reorg or reindex) and the
// caller must resync from scratch.
func (a *BitcoinAdapter) GetTransactions(ctx context.Context, account models.Account, cursor string) ([]models.Transaction, string, error) {
	const op = "GetTransactions"
	if !a.ValidateAddress(account.Address) {
		return nil, "", apperrors.Permanent(types.NetworkBitcoin, op, fmt.Errorf("invalid bitcoin address: %s", account.Address))
	}

	newest, resumeAfter, stopAt := splitBitcoinCursor(cursor)
	resuming := resumeAfter != ""
	stopTarget := newest
	if resuming {
		stopTarget = stopAt
	}

	for _, txid := range []string{stopTarget, resumeAfter} {
		if txid == "" {
			continue
		}
		if err := a.checkCursor(ctx, txid); err != nil {
			return nil, "", err
		}
	}

	var (
		out      []models.Transaction
		lastTxID = resumeAfter
		met      bool
		complete bool
	)

pages:
	for page := 0; page < a.maxPages; page++ {
		url := fmt.Sprintf("%s/address/%s/txs", a.apiURL, account.Address)
		if lastTxID != "" {
			url = fmt.Sprintf("%s/address/%s/txs/chain/%s", a.apiURL, account.Address, lastTxID)
		}

		var txs []esploraTx
		if err := getJSON(ctx, a.client, types.NetworkBitcoin, op, url, &txs); err != nil {
			return nil, "", err
		}
		if len(txs) == 0 {
			complete = true
			break
		}

		for _, tx := range txs {
			if stopTarget != "" && tx.TxID == stopTarget {
				met = true
				break pages
			}
			out = append(out, a.normalizeTx(tx, account))
			lastTxID = tx.TxID
		}

		if len(txs) < bitcoinTxPageSize {
			complete = true
			break
		}
	}

	if stopTarget != "" && !met && complete {
		// Walked the whole history without meeting the cursor again
		return nil, "", apperrors.Reordering(types.NetworkBitcoin, op, fmt.Errorf("cursor txid %s no longer in address history", stopTarget))
	}

	head := newest
	if !resuming && len(out) > 0 {
		head = out[0].ID
	}

	if !met && !complete {
		// Page budget spent mid-range; hand back where to pick up
		next := head + bitcoinCursorSep + lastTxID + bitcoinCursorSep + stopTarget
		return out, next, nil
	}
	return out, head, nil
}

// checkCursor verifies the cursor txid still exists upstream. A 404
// means the chain reordered under us.
func (a *BitcoinAdapter) checkCursor(ctx context.Context, txid string) error {
	const op = "GetTransactions"
	url := fmt.Sprintf("%s/tx/%s", a.apiURL, txid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return apperrors.Permanent(types.NetworkBitcoin, op, err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return apperrors.Transient(types.NetworkBitcoin, op, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return apperrors.Reordering(types.NetworkBitcoin, op, fmt.Errorf("cursor txid %s not found upstream", txid))
	default:
		err := fmt.Errorf("unexpected status %d checking txid %s", resp.StatusCode, txid)
		return apperrors.New(apperrors.ClassifyHTTPStatus(resp.StatusCode), types.NetworkBitcoin, op, err)
	}
}

// normalizeTx turns an esplora transaction into the canonical shape
// from the tracked address's point of view: net inflow is a
// TRANSFER_IN, net outflow a TRANSFER_OUT with the fee attributed
func (a *BitcoinAdapter) normalizeTx(tx esploraTx, account models.Account) models.Transaction {
	inflow := new(big.Int)
	for _, vout := range tx.Vout {
		if vout.ScriptpubkeyAddress == account.Address {
			inflow.Add(inflow, new(big.Int).SetUint64(vout.Value))
		}
	}
	outflow := new(big.Int)
	for _, vin := range tx.Vin {
		if vin.Prevout.ScriptpubkeyAddress == account.Address {
			outflow.Add(outflow, new(big.Int).SetUint64(vin.Prevout.Value))
		}
	}

	net := new(big.Int).Sub(inflow, outflow)
	kind := types.KindTransferIn
	fee := ""
	if net.Sign() < 0 {
		kind = types.KindTransferOut
		net.Abs(net)
		// Outgoing spends pay the miner fee; exclude it from the
		// transferred quantity
		feeInt := new(big.Int).SetUint64(tx.Fee)
		if net.Cmp(feeInt) > 0 {
			net.Sub(net, feeInt)
		}
		fee = feeInt.String()
	}

	status := types.StatusPending
	ts := time.Now().UTC()
	if tx.Status.Confirmed {
		status = types.StatusConfirmed
		ts = time.Unix(tx.Status.BlockTime, 0).UTC()
	}

	return models.Transaction{
		ID:        tx.TxID,
		AccountID: account.ID,
		Network:   types.NetworkBitcoin,
		Timestamp: ts,
		Kind:      kind,
		AssetID:   "BTC",
		Quantity:  net.String(),
		Decimals:  types.SatoshiDecimals,
		Fee:       fee,
		Status:    status,
	}
}

// GetQuote reads the indexer's fiat price feed (/v1/prices on
// mempool.space). Only the native asset is quotable here.
func (a *BitcoinAdapter) GetQuote(ctx context.Context, assetID, currency string) (*models.Quote, error) {
	const op = "GetQuote"
	if !strings.EqualFold(assetID, "BTC") {
		return nil, apperrors.Permanent(types.NetworkBitcoin, op, fmt.Errorf("unsupported asset: %s", assetID))
	}

	var prices map[string]json.Number
	url := a.apiURL + "/v1/prices"
	if err := getJSON(ctx, a.client, types.NetworkBitcoin, op, url, &prices); err != nil {
		return nil, err
	}

	price, ok := prices[strings.ToUpper(currency)]
	if !ok {
		return nil, apperrors.Permanent(types.NetworkBitcoin, op, fmt.Errorf("currency %s not quoted upstream", currency))
	}

	return &models.Quote{
		AssetID:    "BTC",
		Currency:   strings.ToUpper(currency),
		Price:      price.String(),
		ObservedAt: time.Now().UTC(),
	}, nil
}
