package adapter

import (
	"context"
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

var evmAddressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// ERC-20 function selectors
const (
	selectorBalanceOf = "0x70a08231"
	selectorDecimals  = "0x313ce567"
	selectorSymbol    = "0x95d89b41"
)

// EVMAdapter implements SourceAdapter for Ethereum and EVM-compatible
// chains over JSON-RPC. One instance serves one chain. Token holdings
// are read with batched eth_call so a long token list costs one round
// trip; decimals always come from token metadata, never assumed except
// for the chain's native asset.
type EVMAdapter struct {
	network   types.Network
	rpcClient *rpc.Client
	client    *ethclient.Client
	tokens    []common.Address
	history   HistoryProvider
}

// NewEVMAdapter dials the chain's RPC endpoint. tokens lists ERC-20
// contract addresses to enumerate as holdings; history may be nil when
// no transaction indexer is configured for the chain.
func NewEVMAdapter(network types.Network, rpcURL string, tokens []string, history HistoryProvider) (*EVMAdapter, error) {
	if !network.IsEVM() {
		return nil, fmt.Errorf("network %s is not EVM-compatible", network)
	}

	rpcClient, err := rpc.Dial(rpcURL)
	if err != nil {
		return nil, apperrors.NotConfigured(network, "NewEVMAdapter", fmt.Errorf("failed to dial %s: %w", rpcURL, err))
	}

	addrs := make([]common.Address, 0, len(tokens))
	for _, t := range tokens {
		if !evmAddressPattern.MatchString(t) {
			return nil, fmt.Errorf("invalid token contract address: %s", t)
		}
		addrs = append(addrs, common.HexToAddress(t))
	}

	return &EVMAdapter{
		network:   network,
		rpcClient: rpcClient,
		client:    ethclient.NewClient(rpcClient),
		tokens:    addrs,
		history:   history,
	}, nil
}

// Network returns the chain this adapter serves
func (a *EVMAdapter) Network() types.Network {
	return a.network
}

// ValidateAddress checks if the address is a 20-byte hex address
func (a *EVMAdapter) ValidateAddress(address string) bool {
	return evmAddressPattern.MatchString(address)
}

// GetBalance reads the native balance at the latest confirmed block
func (a *EVMAdapter) GetBalance(ctx context.Context, account models.Account) (*models.Position, error) {
	const op = "GetBalance"
	if !a.ValidateAddress(account.Address) {
		return nil, apperrors.Permanent(a.network, op, fmt.Errorf("invalid address: %s", account.Address))
	}

	balance, err := a.client.BalanceAt(ctx, common.HexToAddress(account.Address), nil)
	if err != nil {
		return nil, apperrors.Transient(a.network, op, fmt.Errorf("eth_getBalance failed: %w", err))
	}

	symbol, decimals := a.network.NativeAsset()
	pos := models.NewPosition(symbol, symbol, a.network, account.ID, balance, decimals)
	return &pos, nil
}

// GasPrice returns the chain's suggested gas price in wei
func (a *EVMAdapter) GasPrice(ctx context.Context) (*big.Int, error) {
	price, err := a.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, apperrors.Transient(a.network, "GasPrice", fmt.Errorf("eth_gasPrice failed: %w", err))
	}
	return price, nil
}

// GetHoldings returns the native balance plus every configured ERC-20
// token with a non-zero balance. Token metadata (symbol, decimals) is
// fetched in the same batch as the balances.
func (a *EVMAdapter) GetHoldings(ctx context.Context, account models.Account) ([]models.Position, error) {
	const op = "GetHoldings"

	native, err := a.GetBalance(ctx, account)
	if err != nil {
		return nil, err
	}
	holdings := []models.Position{*native}

	if len(a.tokens) == 0 {
		return holdings, nil
	}

	batch := make([]rpc.BatchElem, 0, len(a.tokens)*3)
	results := make([]string, len(a.tokens)*3)
	holder := common.HexToAddress(account.Address)
	balanceData := selectorBalanceOf + fmt.Sprintf("%064x", holder.Big())

	for i, token := range a.tokens {
		for j, data := range []string{balanceData, selectorDecimals, selectorSymbol} {
			batch = append(batch, rpc.BatchElem{
				Method: "eth_call",
				Args: []interface{}{
					map[string]interface{}{"to": token.Hex(), "data": data},
					"latest",
				},
				Result: &results[i*3+j],
			})
		}
	}

	if err := a.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, apperrors.Transient(a.network, op, fmt.Errorf("token batch call failed: %w", err))
	}

	for i, token := range a.tokens {
		if batch[i*3].Error != nil || batch[i*3+1].Error != nil || batch[i*3+2].Error != nil {
			continue
		}

		balance, err := hexToBig(results[i*3])
		if err != nil || balance.Sign() == 0 {
			continue
		}
		decimals, err := hexToBig(results[i*3+1])
		if err != nil {
			continue
		}
		symbol := decodeABIString(results[i*3+2])
		if symbol == "" {
			symbol = token.Hex()
		}

		holdings = append(holdings, models.NewPosition(
			strings.ToLower(token.Hex()), symbol, a.network, account.ID, balance, int(decimals.Int64())))
	}

	return holdings, nil
}

// GetTransactions pages through the chain's history indexer. The
// cursor is a decimal block height to resume from.
func (a *EVMAdapter) GetTransactions(ctx context.Context, account models.Account, cursor string) ([]models.Transaction, string, error) {
	const op = "GetTransactions"
	if a.history == nil {
		return nil, "", apperrors.NotConfigured(a.network, op, fmt.Errorf("no transaction history provider configured for %s", a.network))
	}
	if !a.ValidateAddress(account.Address) {
		return nil, "", apperrors.Permanent(a.network, op, fmt.Errorf("invalid address: %s", account.Address))
	}

	var startBlock uint64
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, "", apperrors.Permanent(a.network, op, fmt.Errorf("malformed cursor %q: %w", cursor, err))
		}
		startBlock = parsed
	}

	txs, nextBlock, err := a.history.Transactions(ctx, account, startBlock)
	if err != nil {
		return nil, "", err
	}
	return txs, strconv.FormatUint(nextBlock, 10), nil
}

// GetQuote is not available on EVM chains: the RPC node carries no
// price feed
func (a *EVMAdapter) GetQuote(ctx context.Context, assetID, currency string) (*models.Quote, error) {
	return nil, apperrors.NotConfigured(a.network, "GetQuote", fmt.Errorf("no quote source configured for %s", a.network))
}

// Close closes the underlying RPC connection
func (a *EVMAdapter) Close() {
	a.client.Close()
}

func hexToBig(s string) (*big.Int, error) {
	if s == "" || s == "0x" {
		return new(big.Int), nil
	}
	return hexutil.DecodeBig(normalizeHex(s))
}

// normalizeHex strips leading zeros that hexutil rejects
func normalizeHex(s string) string {
	trimmed := strings.TrimPrefix(s, "0x")
	trimmed = strings.TrimLeft(trimmed, "0")
	if trimmed == "" {
		return "0x0"
	}
	return "0x" + trimmed
}

// decodeABIString decodes an ABI-encoded string return value. Most
// tokens return a dynamic string (offset, length, bytes); a few old
// ones return a fixed bytes32.
func decodeABIString(hexStr string) string {
	raw, err := hexutil.Decode(hexStr)
	if err != nil {
		return ""
	}

	if len(raw) >= 96 {
		length := new(big.Int).SetBytes(raw[32:64]).Int64()
		if length > 0 && 64+length <= int64(len(raw)) {
			return strings.TrimSpace(string(raw[64 : 64+length]))
		}
	}
	if len(raw) == 32 {
		return strings.TrimRight(string(raw), "\x00")
	}
	return ""
}
