package adapter

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/portfolio-aggregator/internal/errors"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// HistoryProvider supplies transaction history for an EVM address. The
// JSON-RPC node itself cannot enumerate history by address, so this is
// a separate indexer concern. Cursor is a decimal start-block height.
type HistoryProvider interface {
	Transactions(ctx context.Context, account models.Account, startBlock uint64) ([]models.Transaction, uint64, error)
}

// EtherscanHistory implements HistoryProvider against an
// Etherscan-compatible API (module=account&action=txlist)
type EtherscanHistory struct {
	baseURL  string
	apiKey   string
	network  types.Network
	client   *http.Client
	pageSize int
}

// NewEtherscanHistory creates a history provider for one chain
func NewEtherscanHistory(baseURL, apiKey string, network types.Network) *EtherscanHistory {
	return &EtherscanHistory{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		network:  network,
		client:   &http.Client{Timeout: 30 * time.Second},
		pageSize: 100,
	}
}

type etherscanTx struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	GasPrice        string `json:"gasPrice"`
	GasUsed         string `json:"gasUsed"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
}

type etherscanResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Result  []etherscanTx `json:"result"`
}

// maxHistoryOffset is the largest page Etherscan-compatible APIs serve
const maxHistoryOffset = 10000

// Transactions fetches one page of normal transactions from startBlock
// onward, oldest first, and returns the block height to resume from.
// When the page fills, the cut may fall inside the highest block
// fetched, so the resume height is that block itself and the caller's
// (account, native id) dedupe absorbs the re-fetched overlap. A full
// page confined to a single block is re-requested with a wider offset
// until the whole block fits, otherwise resuming at the same height
// could never make progress.
func (c *EtherscanHistory) Transactions(ctx context.Context, account models.Account, startBlock uint64) ([]models.Transaction, uint64, error) {
	offset := c.pageSize

	var page []etherscanTx
	for {
		var err error
		page, err = c.fetchPage(ctx, account, startBlock, offset)
		if err != nil {
			return nil, startBlock, err
		}
		if len(page) < offset {
			break
		}
		if page[0].BlockNumber != page[len(page)-1].BlockNumber {
			break
		}
		if offset >= maxHistoryOffset {
			break
		}
		offset *= 2
		if offset > maxHistoryOffset {
			offset = maxHistoryOffset
		}
	}

	symbol, decimals := c.network.NativeAsset()
	self := strings.ToLower(account.Address)

	out := make([]models.Transaction, 0, len(page))
	var lastBlock uint64
	for _, tx := range page {
		block, err := strconv.ParseUint(tx.BlockNumber, 10, 64)
		if err != nil {
			continue
		}
		if block > lastBlock {
			lastBlock = block
		}

		unix, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)

		kind := types.KindTransferIn
		fee := ""
		if strings.ToLower(tx.From) == self {
			kind = types.KindTransferOut
			if gasUsed, ok := new(big.Int).SetString(tx.GasUsed, 10); ok {
				if gasPrice, ok := new(big.Int).SetString(tx.GasPrice, 10); ok {
					fee = new(big.Int).Mul(gasUsed, gasPrice).String()
				}
			}
		}

		status := types.StatusConfirmed
		if tx.IsError == "1" || tx.TxReceiptStatus == "0" {
			status = types.StatusFailed
		}

		out = append(out, models.Transaction{
			ID:        tx.Hash,
			AccountID: account.ID,
			Network:   c.network,
			Timestamp: time.Unix(unix, 0).UTC(),
			Kind:      kind,
			AssetID:   symbol,
			Quantity:  tx.Value,
			Decimals:  decimals,
			Fee:       fee,
			Status:    status,
		})
	}

	if len(out) == 0 {
		return nil, startBlock, nil
	}
	if len(page) == offset {
		// Page cut may have landed inside lastBlock; resume there
		return out, lastBlock, nil
	}
	return out, lastBlock + 1, nil
}

// fetchPage requests one txlist page. Status "0" with "No transactions
// found" is an empty page, not a failure; rate-limit messages come back
// the same way, status "0" with message "NOTOK".
func (c *EtherscanHistory) fetchPage(ctx context.Context, account models.Account, startBlock uint64, offset int) ([]etherscanTx, error) {
	const op = "GetTransactions"

	params := url.Values{}
	params.Set("module", "account")
	params.Set("action", "txlist")
	params.Set("address", account.Address)
	params.Set("startblock", strconv.FormatUint(startBlock, 10))
	params.Set("endblock", "latest")
	params.Set("page", "1")
	params.Set("offset", strconv.Itoa(offset))
	params.Set("sort", "asc")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	var resp etherscanResponse
	reqURL := c.baseURL + "?" + params.Encode()
	if err := getJSON(ctx, c.client, c.network, op, reqURL, &resp); err != nil {
		return nil, err
	}

	if resp.Status != "1" {
		if strings.Contains(resp.Message, "No transactions found") {
			return nil, nil
		}
		return nil, apperrors.Transient(c.network, op, fmt.Errorf("history api error: %s", resp.Message))
	}
	return resp.Result, nil
}
