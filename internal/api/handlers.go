package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/portfolio-aggregator/internal/types"
)

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-aggregator",
	})
}

// handleGetSnapshot returns the latest snapshot
func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.aggregator.Latest()
	if snapshot == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotReady, "No aggregation cycle has completed yet", nil)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// handleGetPositions returns just the aggregated positions
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	snapshot := s.aggregator.Latest()
	if snapshot == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotReady, "No aggregation cycle has completed yet", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"positions":   snapshot.Positions,
		"generatedAt": snapshot.GeneratedAt,
	})
}

// handleGetTransactions returns the transaction history, newest first,
// optionally bounded by ?limit=
func (s *Server) handleGetTransactions(w http.ResponseWriter, r *http.Request) {
	snapshot := s.aggregator.Latest()
	if snapshot == nil {
		respondError(w, http.StatusNotFound, ErrCodeNotReady, "No aggregation cycle has completed yet", nil)
		return
	}

	txs := snapshot.Transactions
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a non-negative integer", nil)
			return
		}
		if limit < len(txs) {
			txs = txs[:limit]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"total":        len(snapshot.Transactions),
		"generatedAt":  snapshot.GeneratedAt,
	})
}

// handleRefresh runs an aggregation cycle synchronously and returns
// the fresh snapshot. Abandoning the request cancels the cycle.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.aggregator.Refresh(r.Context())
	if err != nil {
		status, code := mapSourceError(err)
		respondError(w, status, code, err.Error(), nil)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// handleGetStatus reports per-account source health from the latest
// snapshot plus the live circuit breaker states
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{}

	if snapshot := s.aggregator.Latest(); snapshot != nil {
		body["sources"] = snapshot.Statuses
		body["generatedAt"] = snapshot.GeneratedAt
	}
	if s.breakers != nil {
		body["breakers"] = s.breakers.BreakerStates()
	}

	respondJSON(w, http.StatusOK, body)
}

// handleGasPrice returns the suggested gas price for an EVM chain in
// wei
func (s *Server) handleGasPrice(w http.ResponseWriter, r *http.Request) {
	network := types.Network(strings.ToUpper(mux.Vars(r)["network"]))
	if !network.IsEVM() {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "gas price is only available for EVM networks", nil)
		return
	}

	oracle, ok := s.gasOracles[network]
	if !ok {
		respondError(w, http.StatusServiceUnavailable, ErrCodeNotConfigured, "no RPC endpoint configured for "+string(network), nil)
		return
	}

	price, err := oracle.GasPrice(r.Context())
	if err != nil {
		status, code := mapSourceError(err)
		respondError(w, status, code, err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"network":  string(network),
		"gasPrice": price.String(),
	})
}
