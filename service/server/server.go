// Package server exposes the wallet session, history and RPC proxy over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/goldium/service/bridge"
	"github.com/brojonat/goldium/service/history"
	"github.com/brojonat/goldium/service/metrics"
	"github.com/brojonat/goldium/service/session"
	"github.com/brojonat/goldium/service/wallet"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionManager is the part of session.Manager the server uses.
type SessionManager interface {
	State() session.State
	Subscribe(l session.Listener) (unsubscribe func())
	Connect(ctx context.Context, kind wallet.Kind) error
	Disconnect(ctx context.Context) error
	RefreshBalance()
	SignTransaction(ctx context.Context, tx *solanago.Transaction) (*solanago.Transaction, error)
}

// WalletLister reports which wallet kinds are installed.
type WalletLister interface {
	ListAvailable() []wallet.Kind
}

// HistoryStore is the part of history.Recorder the server uses.
type HistoryStore interface {
	Record(ctx context.Context, address string, rec history.Record) error
	Load(ctx context.Context, address string) []history.Record
	Clear(ctx context.Context, address string)
}

// Server represents the HTTP server for the wallet session service.
type Server struct {
	addr          string
	manager       SessionManager
	registry      WalletLister
	history       HistoryStore
	hub           *bridge.Hub
	proxy         *RPCProxy
	historyStream *SSEPublisher
	metrics       *metrics.Metrics
	logger        *slog.Logger
	server        *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The hub is optional - if nil, the wallet bridge endpoint won't be available.
// The proxy is optional - if nil, the RPC proxy endpoint won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, manager SessionManager, registry WalletLister, store HistoryStore, hub *bridge.Hub, proxy *RPCProxy, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		manager:  manager,
		registry: registry,
		history:  store,
		hub:      hub,
		proxy:    proxy,
		metrics:  m,
		logger:   logger,
	}
}

// WithHistoryStream enables the NATS-backed history SSE endpoints.
func (s *Server) WithHistoryStream(p *SSEPublisher) *Server {
	s.historyStream = p
	return s
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
	}

	// Wallet and session routes
	route("GET /api/v1/wallets", handleListWallets(s.registry, s.logger))
	route("GET /api/v1/session", handleGetSession(s.manager))
	route("POST /api/v1/session/connect", handleConnect(s.manager, s.logger))
	route("POST /api/v1/session/disconnect", handleDisconnect(s.manager, s.logger))
	route("POST /api/v1/session/refresh", handleRefreshBalance(s.manager))
	route("POST /api/v1/session/sign", handleSignTransaction(s.manager, s.logger))
	route("GET /api/v1/stream/session", handleStreamSession(s.manager, s.metrics, s.logger))

	// History routes
	route("GET /api/v1/history/{address}", handleGetHistory(s.history, s.logger))
	route("POST /api/v1/history/{address}", handleRecordHistory(s.history, s.logger))
	route("DELETE /api/v1/history/{address}", handleClearHistory(s.history, s.logger))

	if s.historyStream != nil {
		route("GET /api/v1/stream/history/{address}", handleStreamHistory(s.historyStream, s.metrics, s.logger))
		route("GET /api/v1/stream/history", handleStreamHistory(s.historyStream, s.metrics, s.logger))
		s.logger.Info("history streaming endpoints enabled")
	}

	if s.proxy != nil {
		route("POST /api/v1/rpc", handleRPCProxy(s.proxy))
		s.logger.Info("RPC proxy endpoint enabled", "upstream", s.proxy.upstream)
	}

	if s.hub != nil {
		route("GET /api/v1/bridge", s.hub)
		s.logger.Info("wallet bridge endpoint enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: SSE streams and the bridge socket are long-lived.
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close long-lived streams first so Shutdown does not wait on them.
	if s.hub != nil {
		s.hub.Close()
	}
	if s.historyStream != nil {
		s.historyStream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
