package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/degenlabs/coinflip/service/config"
	"github.com/degenlabs/coinflip/service/db"
	"github.com/degenlabs/coinflip/service/metrics"
	"github.com/degenlabs/coinflip/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the coinflip service.
type Server struct {
	addr         string
	cfg          *config.Config
	store        *db.Store
	sessions     SessionManager
	flips        FlipService
	chain        LimitsReader
	scheduler    temporal.Scheduler
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The scheduler is used to create/delete Temporal schedules for player
// history refresh. The ssePublisher is optional - if nil, SSE endpoints
// won't be available. The metrics is optional - if nil, the metrics
// endpoint won't be available.
func New(addr string, cfg *config.Config, store *db.Store, sessions SessionManager, flips FlipService, chain LimitsReader, scheduler temporal.Scheduler, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	return &Server{
		addr:         addr,
		cfg:          cfg,
		store:        store,
		sessions:     sessions,
		flips:        flips,
		chain:        chain,
		scheduler:    scheduler,
		ssePublisher: ssePublisher,
		metrics:      m,
		logger:       logger,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	// Per-endpoint request metrics; nil-safe when metrics is disabled.
	instrument := func(name string, h http.Handler) http.Handler {
		return metrics.HTTPMetricsMiddleware(s.metrics, name)(h)
	}

	// Wallet session routes
	mux.Handle("POST /api/v1/session", instrument("/api/v1/session", handleConnectSession(s.sessions, s.logger)))
	mux.Handle("DELETE /api/v1/session", instrument("/api/v1/session", handleDisconnectSession(s.sessions, s.logger)))
	mux.Handle("GET /api/v1/session", instrument("/api/v1/session", handleGetSession(s.sessions, s.logger)))

	// Wager flow routes
	mux.Handle("POST /api/v1/flips", instrument("/api/v1/flips", handleFlip(s.flips, s.logger)))
	mux.Handle("GET /api/v1/flips/latest", instrument("/api/v1/flips/latest", handleLatestAttempt(s.flips, s.logger)))
	mux.Handle("GET /api/v1/history", instrument("/api/v1/history", handleHistory(s.flips, s.logger)))
	mux.Handle("GET /api/v1/balance", instrument("/api/v1/balance", handleBalance(s.flips, s.logger)))
	mux.Handle("GET /api/v1/limits", instrument("/api/v1/limits", handleLimits(s.chain, s.cfg, s.logger)))

	// Player registration routes (scheduled history refresh)
	mux.Handle("POST /api/v1/players", instrument("/api/v1/players", handleRegisterPlayer(s.store, s.scheduler, s.cfg, s.logger)))
	mux.Handle("DELETE /api/v1/players/{address}", instrument("/api/v1/players/{address}", handleUnregisterPlayer(s.store, s.scheduler, s.logger)))
	mux.Handle("GET /api/v1/players/{address}", instrument("/api/v1/players/{address}", handleGetPlayer(s.store, s.logger)))
	mux.Handle("GET /api/v1/players", instrument("/api/v1/players", handleListPlayers(s.store, s.logger)))

	// Archived settlement routes
	mux.Handle("GET /api/v1/settlements", instrument("/api/v1/settlements", handleListSettlements(s.store, s.logger)))

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		mux.Handle("GET /api/v1/stream/flips/{address}", handleStreamFlips(s.ssePublisher, s.metrics, s.logger))
		mux.Handle("GET /api/v1/stream/flips", handleStreamFlips(s.ssePublisher, s.metrics, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("SSE publisher not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	handler := corsMiddleware(mux)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		// No write timeout: POST /api/v1/flips holds the connection open
		// through chain confirmation, and SSE streams are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
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

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
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
