package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"regexp"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// splTokenProgram is the SPL token program id used to filter token
// accounts owned by an address
const splTokenProgram = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"

var solanaAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// SolanaAdapter implements SourceAdapter against a Solana cluster's
// JSON-RPC endpoint. Token amounts come from the raw amount string;
// the RPC's uiAmount is a display convenience and is recomputed here
// from raw amount and decimals rather than trusted.
type SolanaAdapter struct {
	rpcURL   string
	client   *http.Client
	pageSize int
}

// NewSolanaAdapter creates a Solana adapter for the given cluster URL
func NewSolanaAdapter(rpcURL string, pageSize int) *SolanaAdapter {
	if pageSize <= 0 {
		pageSize = 25
	}
	return &SolanaAdapter{
		rpcURL:   rpcURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		pageSize: pageSize,
	}
}

// Network returns the network this adapter serves
func (a *SolanaAdapter) Network() types.Network {
	return types.NetworkSolana
}

// ValidateAddress checks if the address is base58 in the Solana length
// range
func (a *SolanaAdapter) ValidateAddress(address string) bool {
	return solanaAddressPattern.MatchString(address)
}

type solanaRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type solanaRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *solanaRPCError `json:"error"`
}

// call performs one JSON-RPC call and unmarshals the result field
func (a *SolanaAdapter) call(ctx context.Context, op, method string, params []interface{}, result interface{}) error {
	body := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	}

	var resp solanaRPCResponse
	if err := postJSON(ctx, a.client, types.NetworkSolana, op, a.rpcURL, body, &resp); err != nil {
		return err
	}
	if resp.Error != nil {
		// -32602 is invalid params (bad address); everything else is
		// treated as an upstream hiccup
		err := fmt.Errorf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		if resp.Error.Code == -32602 {
			return apperrors.Permanent(types.NetworkSolana, op, err)
		}
		return apperrors.Transient(types.NetworkSolana, op, err)
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return apperrors.Transient(types.NetworkSolana, op, fmt.Errorf("failed to decode result: %w", err))
	}
	return nil
}

// GetBalance reads the account's lamport balance
func (a *SolanaAdapter) GetBalance(ctx context.Context, account models.Account) (*models.Position, error) {
	const op = "GetBalance"
	if !a.ValidateAddress(account.Address) {
		return nil, apperrors.Permanent(types.NetworkSolana, op, fmt.Errorf("invalid solana address: %s", account.Address))
	}

	var result struct {
		Value uint64 `json:"value"`
	}
	if err := a.call(ctx, op, "getBalance", []interface{}{account.Address}, &result); err != nil {
		return nil, err
	}

	lamports := new(big.Int).SetUint64(result.Value)
	pos := models.NewPosition("SOL", "SOL", types.NetworkSolana, account.ID, lamports, types.LamportDecimals)
	return &pos, nil
}

type solanaTokenAccount struct {
	Account struct {
		Data struct {
			Parsed struct {
				Info struct {
					Mint        string `json:"mint"`
					TokenAmount struct {
						Amount   string  `json:"amount"`
						Decimals int     `json:"decimals"`
						UIAmount float64 `json:"uiAmount"`
					} `json:"tokenAmount"`
				} `json:"info"`
			} `json:"parsed"`
		} `json:"data"`
	} `json:"account"`
}

// GetHoldings returns native SOL plus every SPL token account owned by
// the address with a non-zero raw amount
func (a *SolanaAdapter) GetHoldings(ctx context.Context, account models.Account) ([]models.Position, error) {
	const op = "GetHoldings"

	native, err := a.GetBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	holdings := []models.Position{*native}

	var result struct {
		Value []solanaTokenAccount `json:"value"`
	}
	params := []interface{}{
		account.Address,
		map[string]interface{}{"programId": splTokenProgram},
		map[string]interface{}{"encoding": "jsonParsed"},
	}
	if err := a.call(ctx, op, "getTokenAccountsByOwner", params, &result); err != nil {
		return nil, err
	}

	for _, ta := range result.Value {
		info := ta.Account.Data.Parsed.Info
		raw, ok := new(big.Int).SetString(info.TokenAmount.Amount, 10)
		if !ok || raw.Sign() == 0 {
			continue
		}
		holdings = append(holdings, models.NewPosition(
			info.Mint, info.Mint, types.NetworkSolana, account.ID, raw, info.TokenAmount.Decimals))
	}

	return holdings, nil
}

type solanaSignature struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	BlockTime *int64          `json:"blockTime"`
	Err       json.RawMessage `json:"err"`
}

type solanaTxDetail struct {
	Transaction struct {
		Message struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
	Meta struct {
		Fee          uint64   `json:"fee"`
		PreBalances  []uint64 `json:"preBalances"`
		PostBalances []uint64 `json:"postBalances"`
	} `json:"meta"`
}

// GetTransactions lists signatures for the address newest first and
// resolves each into a lamport delta. The cursor is the oldest
// signature seen so far; the next page is requested with "before" so
// the walk moves further back in history.
func (a *SolanaAdapter) GetTransactions(ctx context.Context, account models.Account, cursor string) ([]models.Transaction, string, error) {
	const op = "GetTransactions"
	if !a.ValidateAddress(account.Address) {
		return nil, "", apperrors.Permanent(types.NetworkSolana, op, fmt.Errorf("invalid solana address: %s", account.Address))
	}

	opts := map[string]interface{}{"limit": a.pageSize}
	if cursor != "" {
		opts["before"] = cursor
	}

	var sigs []solanaSignature
	if err := a.call(ctx, op, "getSignaturesForAddress", []interface{}{account.Address, opts}, &sigs); err != nil {
		return nil, "", err
	}
	if len(sigs) == 0 {
		return nil, cursor, nil
	}

	out := make([]models.Transaction, 0, len(sigs))
	for _, sig := range sigs {
		tx, err := a.resolveTransaction(ctx, account, sig)
		if err != nil {
			return nil, "", err
		}
		out = append(out, tx)
	}

	next := sigs[len(sigs)-1].Signature
	return out, next, nil
}

// resolveTransaction fetches the full transaction and derives the
// address's lamport delta from the pre/post balance arrays
func (a *SolanaAdapter) resolveTransaction(ctx context.Context, account models.Account, sig solanaSignature) (models.Transaction, error) {
	const op = "GetTransactions"

	var detail solanaTxDetail
	params := []interface{}{
		sig.Signature,
		map[string]interface{}{"encoding": "jsonParsed", "maxSupportedTransactionVersion": 0},
	}
	if err := a.call(ctx, op, "getTransaction", params, &detail); err != nil {
		return models.Transaction{}, err
	}

	delta := new(big.Int)
	feePayer := false
	for i, key := range detail.Transaction.Message.AccountKeys {
		if key.Pubkey != account.Address {
			continue
		}
		if i < len(detail.Meta.PreBalances) && i < len(detail.Meta.PostBalances) {
			pre := new(big.Int).SetUint64(detail.Meta.PreBalances[i])
			post := new(big.Int).SetUint64(detail.Meta.PostBalances[i])
			delta.Add(delta, new(big.Int).Sub(post, pre))
		}
		if i == 0 {
			feePayer = true
		}
	}

	kind := types.KindTransferIn
	fee := ""
	if delta.Sign() < 0 {
		kind = types.KindTransferOut
		delta.Abs(delta)
		feeInt := new(big.Int).SetUint64(detail.Meta.Fee)
		if feePayer && delta.Cmp(feeInt) > 0 {
			delta.Sub(delta, feeInt)
			fee = feeInt.String()
		}
	}

	status := types.StatusConfirmed
	if len(sig.Err) > 0 && string(sig.Err) != "null" {
		status = types.StatusFailed
	}

	ts := time.Now().UTC()
	if sig.BlockTime != nil {
		ts = time.Unix(*sig.BlockTime, 0).UTC()
	}

	return models.Transaction{
		ID:        sig.Signature,
		AccountID: account.ID,
		Network:   types.NetworkSolana,
		Timestamp: ts,
		Kind:      kind,
		AssetID:   "SOL",
		Quantity:  delta.String(),
		Decimals:  types.LamportDecimals,
		Fee:       fee,
		Status:    status,
	}, nil
}

// GetQuote is not available on Solana: the cluster RPC carries no
// price feed
func (a *SolanaAdapter) GetQuote(ctx context.Context, assetID, currency string) (*models.Quote, error) {
	return nil, apperrors.NotConfigured(types.NetworkSolana, "GetQuote", fmt.Errorf("no quote source configured for %s", types.NetworkSolana))
}
