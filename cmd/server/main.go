// Package main provides the API server entry point for the portfolio
// aggregation service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/portfolio-aggregator/internal/adapter"
	"github.com/portfolio-aggregator/internal/aggregator"
	"github.com/portfolio-aggregator/internal/api"
	"github.com/portfolio-aggregator/internal/circuitbreaker"
	"github.com/portfolio-aggregator/internal/config"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/policy"
	"github.com/portfolio-aggregator/internal/retry"
	"github.com/portfolio-aggregator/internal/storage"
	"github.com/portfolio-aggregator/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.New(logging.LevelError, logging.FormatText).Fatalf("failed to load configuration: %v", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), logging.ParseFormat(cfg.Logging.Format))
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("structured logging initialized")

	redis, err := storage.NewRedisCache(&cfg.Redis)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to Redis")
	}
	defer redis.Close()

	quotes := storage.NewQuoteCache(redis, cfg.Aggregator.QuoteStaleness)
	cursors := storage.NewCursorStore(redis)

	adapters, gasOracles := buildAdapters(cfg, logger)
	if len(adapters) == 0 {
		logger.Fatal("no source adapters could be constructed")
	}

	accounts := buildAccounts(cfg.Accounts)
	logger.WithFields(map[string]interface{}{
		"adapters": len(adapters),
		"accounts": len(accounts),
	}).Info("sources configured")

	pol := policy.New(&policy.Config{
		Retry: &retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			Jitter:       cfg.Retry.Jitter,
		},
		Breaker: &circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			CoolDown:         cfg.Breaker.CoolDown,
		},
		CallTimeout: cfg.Aggregator.CallTimeout,
		SourceRPS:   cfg.RateLimit.SourceRPS,
		Burst:       cfg.RateLimit.Burst,
	})

	agg := aggregator.New(cfg.Aggregator, adapters, accounts, pol, quotes, cursors, logger)

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
	server := api.NewServer(serverConfig, agg, gasOracles, pol, logger)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutdown signal received")
	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("server forced to shutdown")
	}
	logger.Info("server stopped")
}

// buildAdapters constructs one adapter per configured network. A chain
// that fails to dial is skipped with a warning rather than aborting
// startup.
func buildAdapters(cfg *config.Config, logger *logging.Logger) (map[types.Network]adapter.SourceAdapter, map[types.Network]api.GasOracle) {
	adapters := make(map[types.Network]adapter.SourceAdapter)
	gasOracles := make(map[types.Network]api.GasOracle)

	adapters[types.NetworkBitcoin] = adapter.NewBitcoinAdapter(cfg.Bitcoin.APIURL, cfg.Aggregator.MaxTransactionPages)
	adapters[types.NetworkSolana] = adapter.NewSolanaAdapter(cfg.Solana.RPCURL, cfg.Solana.TxPageSize)

	// The brokerage transport is deployment-specific; registering the
	// adapter without one makes B3 accounts fail NotConfigured instead
	// of silently reporting empty holdings.
	adapters[types.NetworkB3] = adapter.NewBrokerageAdapter(nil)

	for _, network := range cfg.Chains.Enabled {
		chainCfg := cfg.Chains.Chains[network]

		var history adapter.HistoryProvider
		if chainCfg.HistoryURL != "" {
			history = adapter.NewEtherscanHistory(chainCfg.HistoryURL, chainCfg.HistoryAPIKey, network)
		}

		evm, err := adapter.NewEVMAdapter(network, chainCfg.RPCURL, chainCfg.Tokens, history)
		if err != nil {
			logger.WithField("network", string(network)).WithError(err).Warn("skipping chain")
			continue
		}
		adapters[network] = evm
		gasOracles[network] = evm
	}

	return adapters, gasOracles
}

// buildAccounts turns tracked-account configuration into account
// models with stable ids, so cursor and breaker state survive restarts
func buildAccounts(configs []config.AccountConfig) []models.Account {
	accounts := make([]models.Account, 0, len(configs))
	for _, c := range configs {
		accounts = append(accounts, models.Account{
			ID:      strings.ToLower(string(c.Network)) + ":" + c.Address,
			Network: c.Network,
			Address: c.Address,
			Label:   c.Label,
		})
	}
	return accounts
}
