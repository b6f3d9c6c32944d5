// Package server exposes the interactive shell over HTTP: an HTML page, a
// JSON API, prometheus metrics and a websocket push feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bundlerlab/internal/server/handler"
	"github.com/alanyoungcy/bundlerlab/internal/server/middleware"
	"github.com/alanyoungcy/bundlerlab/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port             int
	CORSOrigins      []string
	APIKey           string // empty disables authentication
	ActionsPerMinute int    // per client, zero disables limiting
}

// Handlers aggregates the route handlers. History and Metrics may be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	API     *handler.APIHandler
	Page    *handler.PageHandler
	History *handler.HistoryHandler
	Metrics http.Handler
}

// Server is the harness HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware chain.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           NewHandler(cfg, h, hub, logger),
			ReadHeaderTimeout: 10 * time.Second,
			// Actions wait for receipts, so writes get a generous bound.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	limit := middleware.RateLimit(middleware.NewClientLimiter(cfg.ActionsPerMinute, 2))
	action := func(f http.HandlerFunc) http.Handler { return limit(f) }

	// Page and form posts.
	mux.HandleFunc("GET /{$}", h.Page.Index)
	mux.HandleFunc("POST /shell/inputs", h.Page.SaveInputs)
	mux.HandleFunc("POST /shell/connect", h.Page.Connect)
	mux.HandleFunc("POST /shell/disconnect", h.Page.Disconnect)
	mux.Handle("POST /shell/supply-collateral-borrow", action(h.Page.SupplyCollateralBorrow))
	mux.Handle("POST /shell/repay-withdraw", action(h.Page.RepayWithdraw))

	// JSON API.
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("GET /api/position", h.API.GetPosition)
	mux.HandleFunc("GET /api/simulation", h.API.GetSimulation)
	mux.HandleFunc("GET /api/inputs", h.API.GetInputs)
	mux.HandleFunc("PUT /api/inputs", h.API.PutInputs)
	mux.HandleFunc("GET /api/log", h.API.GetLog)
	mux.HandleFunc("POST /api/wallet/connect", h.API.Connect)
	mux.HandleFunc("POST /api/wallet/disconnect", h.API.Disconnect)
	mux.Handle("POST /api/actions/supply-collateral-borrow", action(h.API.SupplyCollateralBorrow))
	mux.Handle("POST /api/actions/repay-withdraw", action(h.API.RepayWithdraw))
	if h.History != nil {
		mux.HandleFunc("GET /api/actions", h.History.ListActions)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var out http.Handler = mux
	out = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(out)
	out = middleware.Logging(logger)(out)
	out = middleware.CORS(cfg.CORSOrigins)(out)
	return out
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
