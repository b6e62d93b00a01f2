// Package server exposes the marketplace over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/server/handler"
	"github.com/alanyoungcy/tokenmarket/internal/server/middleware"
	"github.com/alanyoungcy/tokenmarket/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey guards operator endpoints (sandbox helpers). Empty disables it.
	APIKey string
	// MaxSkew bounds the age of a request signature timestamp.
	MaxSkew    time.Duration
	RateLimit  int
	RateWindow time.Duration
	// Replay remembers used request signatures. Nil keeps them in process.
	Replay middleware.ReplayGuard
}

// Handlers aggregates the HTTP handlers. Events, Audit and Sandbox are
// optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Market  *handler.MarketHandler
	Events  *handler.EventHandler
	Audit   *handler.AuditHandler
	Sandbox *handler.SandboxHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in the middleware chain.
// limiter may be nil to disable rate limiting.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	if cfg.MaxSkew <= 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	mux := http.NewServeMux()
	signed := middleware.Caller(cfg.MaxSkew, nil, cfg.Replay)
	operator := middleware.APIKey(cfg.APIKey)
	handle := func(pattern string, mw func(http.Handler) http.Handler, fn http.HandlerFunc) {
		mux.Handle(pattern, mw(fn))
	}

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	m := handlers.Market
	handle("PUT /api/collections/{collection}", signed, m.ConfigureCollection)
	handle("DELETE /api/collections/{collection}", signed, m.DisableCollection)
	mux.HandleFunc("GET /api/collections/{collection}", m.GetCollection)

	handle("POST /api/collections/{collection}/items/{token}/offer", signed, m.ListItem)
	handle("DELETE /api/collections/{collection}/items/{token}/offer", signed, m.RevokeListing)
	mux.HandleFunc("GET /api/collections/{collection}/items/{token}/offer", m.GetOffer)

	handle("POST /api/collections/{collection}/items/{token}/bid", signed, m.PlaceBid)
	handle("DELETE /api/collections/{collection}/items/{token}/bid", signed, m.WithdrawBid)
	mux.HandleFunc("GET /api/collections/{collection}/items/{token}/bid", m.GetBid)

	handle("POST /api/collections/{collection}/items/{token}/buy", signed, m.Buy)
	handle("POST /api/collections/{collection}/items/{token}/sell", signed, m.Sell)

	handle("POST /api/balances/withdraw", signed, m.Withdraw)
	mux.HandleFunc("GET /api/balances/{party}", m.GetBalance)

	if e := handlers.Events; e != nil {
		mux.HandleFunc("GET /api/events", e.ListEvents)
		mux.HandleFunc("GET /api/archives", e.ListArchives)
	}

	if a := handlers.Audit; a != nil {
		handle("GET /api/audit", operator, a.ListAudit)
	}

	if sb := handlers.Sandbox; sb != nil {
		handle("POST /api/sandbox/admin", operator, sb.SetAdmin)
		handle("POST /api/sandbox/mint", operator, sb.Mint)
		handle("POST /api/sandbox/approve", operator, sb.Approve)
		handle("POST /api/sandbox/fund", operator, sb.Fund)
		mux.HandleFunc("GET /api/sandbox/wallets/{party}", sb.Wallet)
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
