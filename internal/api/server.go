// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-aggregator/internal/circuitbreaker"
	"github.com/portfolio-aggregator/internal/logging"
	"github.com/portfolio-aggregator/internal/models"
	"github.com/portfolio-aggregator/internal/types"
)

// AggregatorService defines the aggregation operations the server
// exposes
type AggregatorService interface {
	Refresh(ctx context.Context) (*models.Snapshot, error)
	Latest() *models.Snapshot
}

// GasOracle reports a chain's suggested gas price
type GasOracle interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// BreakerReporter exposes circuit breaker states for health reporting
type BreakerReporter interface {
	BreakerStates() map[string]circuitbreaker.State
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	aggregator AggregatorService
	gasOracles map[types.Network]GasOracle
	breakers   BreakerReporter
	logger     *logging.Logger
	config     *ServerConfig
}

// NewServer creates a new API server instance. gasOracles and breakers
// may be nil; the matching endpoints then report not configured.
func NewServer(
	config *ServerConfig,
	aggregator AggregatorService,
	gasOracles map[types.Network]GasOracle,
	breakers BreakerReporter,
	logger *logging.Logger,
) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		aggregator: aggregator,
		gasOracles: gasOracles,
		breakers:   breakers,
		logger:     logger.WithField("component", "api"),
		config:     config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Middleware order matters: logging wraps everything, recovery
	// must see panics before CORS rewrites the response
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/snapshot", s.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/snapshot/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/snapshot/transactions", s.handleGetTransactions).Methods("GET")
	api.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc("/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/gas/{network}", s.handleGasPrice).Methods("GET")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}
