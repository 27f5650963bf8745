// Package server exposes the operator HTTP API: liveness, session status,
// start/stop control, circuit reset, and the audit log.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/server/handler"
	"github.com/alanyoungcy/fxsignalbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
	// RateLimit is requests per client per minute. Zero or a nil Limiter
	// disables limiting.
	RateLimit int
	Limiter   domain.RateLimiter
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Trades is optional.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Streaming *handler.StreamingHandler
	Trades    *handler.TradeHandler
}

// Server is the operator HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes and middleware registered.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed and middleware-wrapped http.Handler.
func NewHandler(cfg Config, handlers Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("POST /api/streaming/start", handlers.Streaming.Start)
	mux.HandleFunc("POST /api/streaming/stop", handlers.Streaming.Stop)
	mux.HandleFunc("POST /api/streaming/circuit/reset", handlers.Streaming.ResetCircuit)
	mux.HandleFunc("GET /api/streaming/logs", handlers.Streaming.ListLogs)

	if handlers.Trades != nil {
		mux.HandleFunc("GET /api/trades/recent", handlers.Trades.ListRecent)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if cfg.RateLimit > 0 && cfg.Limiter != nil {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimit, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
