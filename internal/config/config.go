// Package config provides configuration management for the portfolio
// aggregation service. It loads configuration from environment
// variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/portfolio-aggregator/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	Chains     ChainsConfig
	Bitcoin    BitcoinConfig
	Solana     SolanaConfig
	Aggregator AggregatorConfig
	Retry      RetryConfig
	Breaker    BreakerConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
	Accounts   []AccountConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// RedisConfig holds the quote/cursor cache connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// ChainsConfig holds per-EVM-chain configuration
type ChainsConfig struct {
	Enabled []types.Network
	Chains  map[types.Network]ChainConfig
}

// ChainConfig holds configuration for a single EVM chain
type ChainConfig struct {
	RPCURL string
	// Tokens lists ERC-20 contract addresses to enumerate as holdings
	Tokens []string
	// HistoryURL and HistoryAPIKey configure the Etherscan-style
	// transaction history provider. Empty means transaction history
	// is not configured for this chain.
	HistoryURL    string
	HistoryAPIKey string
}

// BitcoinConfig holds the esplora-compatible indexer configuration
type BitcoinConfig struct {
	APIURL string
}

// SolanaConfig holds the Solana cluster configuration
type SolanaConfig struct {
	RPCURL string
	// TxPageSize bounds getSignaturesForAddress pages
	TxPageSize int
}

// AggregatorConfig tunes the aggregation cycle
type AggregatorConfig struct {
	Concurrency         int
	CallTimeout         time.Duration
	MaxTransactionPages int
	TransferMatchWindow time.Duration
	QuoteStaleness      time.Duration
	DisplayCurrency     string
}

// RetryConfig tunes the per-call retry policy
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64
}

// BreakerConfig tunes the per-(account,operation) circuit breaker
type BreakerConfig struct {
	FailureThreshold int
	CoolDown         time.Duration
}

// RateLimitConfig bounds outbound request rate per source
type RateLimitConfig struct {
	SourceRPS float64
	Burst     int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// AccountConfig is one tracked account from the tracking configuration
type AccountConfig struct {
	Network types.Network
	Address string
	Label   string
}

// Default public endpoints. Any of these can be overridden per env var.
var defaultRPCURLs = map[types.Network]string{
	types.NetworkEthereum:  "https://eth.llamarpc.com",
	types.NetworkPolygon:   "https://polygon.llamarpc.com",
	types.NetworkBSC:       "https://bsc-dataseed.binance.org",
	types.NetworkArbitrum:  "https://arb1.arbitrum.io/rpc",
	types.NetworkOptimism:  "https://mainnet.optimism.io",
	types.NetworkAvalanche: "https://api.avax.network/ext/bc/C/rpc",
	types.NetworkBase:      "https://mainnet.base.org",
}

const (
	defaultBitcoinAPI = "https://mempool.space/api"
	defaultSolanaRPC  = "https://api.mainnet-beta.solana.com"
)

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 20),
		},
		Bitcoin: BitcoinConfig{
			APIURL: getEnv("BITCOIN_API_URL", defaultBitcoinAPI),
		},
		Solana: SolanaConfig{
			RPCURL:     getEnv("SOLANA_RPC_URL", defaultSolanaRPC),
			TxPageSize: getEnvAsInt("SOLANA_TX_PAGE_SIZE", 25),
		},
		Aggregator: AggregatorConfig{
			Concurrency:         getEnvAsInt("AGGREGATOR_CONCURRENCY", 4),
			CallTimeout:         getEnvAsDuration("AGGREGATOR_CALL_TIMEOUT", 10*time.Second),
			MaxTransactionPages: getEnvAsInt("AGGREGATOR_MAX_TX_PAGES", 4),
			TransferMatchWindow: getEnvAsDuration("TRANSFER_MATCH_WINDOW", 15*time.Minute),
			QuoteStaleness:      getEnvAsDuration("QUOTE_STALENESS", 15*time.Minute),
			DisplayCurrency:     getEnv("DISPLAY_CURRENCY", "USD"),
		},
		Retry: RetryConfig{
			MaxAttempts:  getEnvAsInt("RETRY_MAX_ATTEMPTS", 4),
			InitialDelay: getEnvAsDuration("RETRY_INITIAL_DELAY", 500*time.Millisecond),
			MaxDelay:     getEnvAsDuration("RETRY_MAX_DELAY", 15*time.Second),
			Multiplier:   getEnvAsFloat("RETRY_MULTIPLIER", 2.0),
			Jitter:       getEnvAsFloat("RETRY_JITTER", 0.2),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			CoolDown:         getEnvAsDuration("BREAKER_COOL_DOWN", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			SourceRPS: getEnvAsFloat("SOURCE_RATE_LIMIT_RPS", 5),
			Burst:     getEnvAsInt("SOURCE_RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	config.Chains = loadChainConfigs()

	accounts, err := parseAccounts(getEnv("TRACKED_ACCOUNTS", ""))
	if err != nil {
		return nil, err
	}
	config.Accounts = accounts

	return config, nil
}

// loadChainConfigs loads EVM chain configurations from the environment
func loadChainConfigs() ChainsConfig {
	enabledNames := strings.Split(getEnv("ENABLED_CHAINS", "ethereum,polygon,bsc,arbitrum,optimism,avalanche,base"), ",")

	enabled := make([]types.Network, 0, len(enabledNames))
	chains := make(map[types.Network]ChainConfig)
	for _, name := range enabledNames {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		network := types.Network(strings.ToUpper(name))
		if !network.IsEVM() {
			continue
		}

		prefix := strings.ToUpper(name)
		cfg := ChainConfig{
			RPCURL:        getEnv(prefix+"_RPC_URL", defaultRPCURLs[network]),
			HistoryURL:    getEnv(prefix+"_HISTORY_URL", ""),
			HistoryAPIKey: getEnv(prefix+"_HISTORY_API_KEY", ""),
		}
		if tokens := getEnv(prefix+"_TOKENS", ""); tokens != "" {
			for _, token := range strings.Split(tokens, ",") {
				if token = strings.TrimSpace(token); token != "" {
					cfg.Tokens = append(cfg.Tokens, token)
				}
			}
		}

		enabled = append(enabled, network)
		chains[network] = cfg
	}

	return ChainsConfig{Enabled: enabled, Chains: chains}
}

// parseAccounts parses the tracked-account list. Format:
// NETWORK:address[:label], comma separated.
func parseAccounts(raw string) ([]AccountConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var accounts []AccountConfig
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		parts := strings.SplitN(item, ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid tracked account %q: want NETWORK:address[:label]", item)
		}

		network := types.Network(strings.ToUpper(strings.TrimSpace(parts[0])))
		if symbol, _ := network.NativeAsset(); symbol == "" {
			return nil, fmt.Errorf("invalid tracked account %q: unknown network %q", item, parts[0])
		}

		account := AccountConfig{
			Network: network,
			Address: strings.TrimSpace(parts[1]),
		}
		if len(parts) == 3 {
			account.Label = strings.TrimSpace(parts[2])
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
