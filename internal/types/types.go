// Package types provides common type definitions for the portfolio aggregation core.
package types

// Network represents a supported external source network
type Network string

const (
	// NetworkBitcoin represents the Bitcoin network
	NetworkBitcoin Network = "BITCOIN"
	// NetworkEthereum represents the Ethereum mainnet
	NetworkEthereum Network = "ETHEREUM"
	// NetworkPolygon represents the Polygon network
	NetworkPolygon Network = "POLYGON"
	// NetworkBSC represents the BNB Smart Chain
	NetworkBSC Network = "BSC"
	// NetworkArbitrum represents the Arbitrum network
	NetworkArbitrum Network = "ARBITRUM"
	// NetworkOptimism represents the Optimism network
	NetworkOptimism Network = "OPTIMISM"
	// NetworkAvalanche represents the Avalanche C-Chain
	NetworkAvalanche Network = "AVALANCHE"
	// NetworkBase represents the Base network
	NetworkBase Network = "BASE"
	// NetworkSolana represents the Solana network
	NetworkSolana Network = "SOLANA"
	// NetworkB3 represents the B3 brokerage (equities, FIIs, ETFs)
	NetworkB3 Network = "B3"
)

// IsEVM reports whether the network is an EVM-compatible chain
func (n Network) IsEVM() bool {
	switch n {
	case NetworkEthereum, NetworkPolygon, NetworkBSC, NetworkArbitrum,
		NetworkOptimism, NetworkAvalanche, NetworkBase:
		return true
	}
	return false
}

// NativeAsset returns the native asset symbol and its base-unit decimals
// for a network. Brokerage amounts are carried in centavos.
func (n Network) NativeAsset() (string, int) {
	switch n {
	case NetworkBitcoin:
		return "BTC", 8
	case NetworkEthereum, NetworkArbitrum, NetworkOptimism, NetworkBase:
		return "ETH", 18
	case NetworkPolygon:
		return "POL", 18
	case NetworkBSC:
		return "BNB", 18
	case NetworkAvalanche:
		return "AVAX", 18
	case NetworkSolana:
		return "SOL", 9
	case NetworkB3:
		return "BRL", 2
	}
	return "", 0
}

// TransactionKind represents the canonical classification of a transaction
type TransactionKind string

const (
	// KindBuy represents a purchase of a security
	KindBuy TransactionKind = "BUY"
	// KindSell represents a sale of a security
	KindSell TransactionKind = "SELL"
	// KindTransferIn represents an incoming transfer (account is recipient)
	KindTransferIn TransactionKind = "TRANSFER_IN"
	// KindTransferOut represents an outgoing transfer (account is sender)
	KindTransferOut TransactionKind = "TRANSFER_OUT"
	// KindDividend represents a dividend or income event
	KindDividend TransactionKind = "DIVIDEND"
	// KindFee represents a standalone fee charge
	KindFee TransactionKind = "FEE"
	// KindUnknown represents a transaction the adapter could not classify
	KindUnknown TransactionKind = "UNKNOWN"
)

// TransactionStatus represents transaction confirmation status
type TransactionStatus string

const (
	// StatusConfirmed represents a confirmed transaction
	StatusConfirmed TransactionStatus = "CONFIRMED"
	// StatusPending represents a transaction not yet confirmed
	StatusPending TransactionStatus = "PENDING"
	// StatusFailed represents a failed transaction
	StatusFailed TransactionStatus = "FAILED"
)

// SourceState represents the health of one source for one aggregation cycle
type SourceState string

const (
	// SourceOK means the source answered every call this cycle
	SourceOK SourceState = "OK"
	// SourceDegraded means the source answered some calls this cycle
	SourceDegraded SourceState = "DEGRADED"
	// SourceUnavailable means the source contributed nothing this cycle
	SourceUnavailable SourceState = "UNAVAILABLE"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
