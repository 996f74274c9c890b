package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flashpool/internal/crypto"
	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/server/handler"
	"github.com/alanyoungcy/flashpool/internal/server/middleware"
	"github.com/alanyoungcy/flashpool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string            // if empty, participant authentication is disabled
	AdminAuth   *crypto.AdminAuth // if nil, privileged routes are open

	// RateLimit bounds requests per client IP per RateWindow. Zero disables
	// the middleware.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health      *handler.HealthHandler
	Accounts    *handler.AccountHandler
	Events      *handler.EventHandler
	Stakes      *handler.StakeHandler
	Settlements *handler.SettlementHandler
	Grants      *handler.GrantHandler
}

// Server is the headless HTTP + WebSocket API server for the wager engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth, rate limiting) and attaches
// the WebSocket hub. Privileged routes additionally go through the signed
// admin-header check.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	admin := middleware.AdminAuth(cfg.AdminAuth)

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Escrow account endpoints.
	mux.HandleFunc("GET /api/accounts/{identity}", handlers.Accounts.GetBalance)
	mux.HandleFunc("POST /api/accounts/{identity}/deposit", handlers.Accounts.Deposit)
	mux.HandleFunc("POST /api/accounts/{identity}/withdraw", handlers.Accounts.Withdraw)

	// Event endpoints. Creation requires the scheduler's signed admin headers.
	mux.Handle("POST /api/events", admin(http.HandlerFunc(handlers.Events.CreateEvent)))
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("GET /api/events/{id}", handlers.Events.GetEvent)
	mux.HandleFunc("GET /api/events/{id}/totals", handlers.Events.GetTotals)

	// Stake endpoints.
	mux.HandleFunc("POST /api/stakes", handlers.Stakes.PlaceStake)
	mux.HandleFunc("GET /api/stakes", handlers.Stakes.ListWagers)
	mux.HandleFunc("POST /api/events/{id}/claim", handlers.Stakes.Claim)

	// Settlement endpoints. Batch operations and fee collection are
	// privileged.
	mux.Handle("POST /api/settlements", admin(http.HandlerFunc(handlers.Settlements.SettleBatch)))
	mux.Handle("POST /api/settlements/void", admin(http.HandlerFunc(handlers.Settlements.VoidBatch)))
	mux.Handle("POST /api/events/{id}/fees/collect", admin(http.HandlerFunc(handlers.Settlements.CollectFees)))
	mux.HandleFunc("GET /api/settlements", handlers.Settlements.ListRecent)
	mux.HandleFunc("GET /api/settlements/{id}", handlers.Settlements.GetRecord)

	// Delegation grant endpoints. Authorization carries its own owner
	// signature, so it is not admin gated.
	mux.HandleFunc("POST /api/grants", handlers.Grants.Authorize)
	mux.HandleFunc("GET /api/grants/{owner}/{delegate}", handlers.Grants.Get)
	mux.HandleFunc("DELETE /api/grants/{owner}/{delegate}", handlers.Grants.Revoke)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
