package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kasuto/tokengate/service/config"
	"github.com/kasuto/tokengate/service/db"
	"github.com/kasuto/tokengate/service/metrics"
	"github.com/kasuto/tokengate/service/nats"
)

// Server represents the HTTP server for the storefront.
type Server struct {
	addr      string
	cfg       *config.Config
	store     *db.Store
	chain     Chain
	publisher nats.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The chain client is used for balance reads and for verifying payment
// signatures before orders are persisted. The publisher is optional - if
// nil, order events are not published. The metrics is optional - if nil,
// the /metrics endpoint is not registered.
func New(addr string, cfg *config.Config, store *db.Store, chain Chain, publisher nats.Publisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:      addr,
		cfg:       cfg,
		store:     store,
		chain:     chain,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Catalog routes
	mux.Handle("GET /api/v1/products", s.instrument("/api/v1/products",
		handleListProducts(s.store, s.logger)))
	mux.Handle("GET /api/v1/products/{id}", s.instrument("/api/v1/products/{id}",
		handleGetProduct(s.store, s.logger)))

	// Admin catalog mutations; disabled entirely without a token
	if s.cfg.AdminToken != "" {
		mux.Handle("POST /api/v1/products", s.instrument("/api/v1/products",
			requireAdmin(s.cfg.AdminToken, handleCreateProduct(s.store, s.logger))))
		mux.Handle("PUT /api/v1/products/{id}", s.instrument("/api/v1/products/{id}",
			requireAdmin(s.cfg.AdminToken, handleUpdateProduct(s.store, s.logger))))
		mux.Handle("DELETE /api/v1/products/{id}", s.instrument("/api/v1/products/{id}",
			requireAdmin(s.cfg.AdminToken, handleDeleteProduct(s.store, s.logger))))
		mux.Handle("PUT /api/v1/orders/{id}/status", s.instrument("/api/v1/orders/{id}/status",
			requireAdmin(s.cfg.AdminToken, handleUpdateOrderStatus(s.store, s.logger))))
	} else {
		s.logger.Warn("ADMIN_TOKEN not set, admin routes disabled")
	}

	// Order routes
	mux.Handle("POST /api/v1/orders", s.instrument("/api/v1/orders",
		handleCreateOrder(s.store, s.chain, s.publisher, s.logger)))
	mux.Handle("GET /api/v1/orders", s.instrument("/api/v1/orders",
		handleListOrders(s.store, s.logger)))
	mux.Handle("GET /api/v1/orders/{id}", s.instrument("/api/v1/orders/{id}",
		handleGetOrder(s.store, s.logger)))

	// Address routes
	mux.Handle("POST /api/v1/addresses", s.instrument("/api/v1/addresses",
		handleCreateAddress(s.store, s.logger)))
	mux.Handle("GET /api/v1/addresses", s.instrument("/api/v1/addresses",
		handleListAddresses(s.store, s.logger)))

	// Balance reader routes
	mux.Handle("GET /api/v1/balance/{address}", s.instrument("/api/v1/balance/{address}",
		handleGetBalance(s.chain, s.cfg, s.logger)))
	mux.Handle("GET /api/v1/progress", s.instrument("/api/v1/progress",
		handleGetProgress(s.chain, s.cfg, s.logger)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute, // order creation waits on chain confirmation
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// instrument wraps a handler with HTTP metrics collection.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
}

// requireAdmin rejects requests without the admin bearer token.
func requireAdmin(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
