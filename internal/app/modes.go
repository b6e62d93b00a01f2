package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tokenmarket/internal/domain"
	"github.com/alanyoungcy/tokenmarket/internal/market"
	"github.com/alanyoungcy/tokenmarket/internal/server"
	"github.com/alanyoungcy/tokenmarket/internal/server/handler"
	"github.com/alanyoungcy/tokenmarket/internal/server/ws"
	"github.com/alanyoungcy/tokenmarket/internal/service"
)

const shutdownTimeout = 5 * time.Second

// ServerMode serves the marketplace API with on-chain settlement.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode",
		slog.String("market", deps.MarketAddress.Hex()),
	)
	return a.serve(ctx, deps, nil)
}

// SandboxMode serves the marketplace API against in-process collaborators.
// The operator endpoints under /api/sandbox mint tokens, grant approvals and
// fund wallets so the full flow can be driven over HTTP.
func (a *App) SandboxMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sandbox mode",
		slog.String("market", deps.MarketAddress.Hex()),
	)
	if a.cfg.Server.APIKey == "" {
		a.logger.WarnContext(ctx, "sandbox endpoints are unauthenticated; set server.api_key")
	}
	sh := handler.NewSandboxHandler(deps.SandboxAssets, deps.SandboxTreasury, deps.MarketAddress, a.logger)
	return a.serve(ctx, deps, sh)
}

// ArchiveMode only runs the event archiver.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Duration("interval", a.cfg.Archive.Interval.Duration),
		slog.Duration("retention", a.cfg.Archive.Retention.Duration),
	)
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires s3")
	}
	return a.runArchiver(ctx, deps.Archiver)
}

// newMarketService builds the engine and the service around it.
func (a *App) newMarketService(deps *Dependencies) *service.MarketService {
	engine := market.NewEngine(deps.Store, deps.Assets, deps.Treasury, deps.MarketAddress, a.logger)
	return service.NewMarketService(engine, deps.Treasury, service.Options{
		Lock:     deps.Lock,
		LockTTL:  a.cfg.Redis.LockTTL.Duration,
		Bus:      deps.Bus,
		Cache:    deps.Cache,
		Audit:    deps.Audit,
		Notifier: deps.Notifier,
	}, a.logger)
}

// serve runs the HTTP server, the WebSocket hub and, when enabled, the
// archiver until ctx is cancelled or one of them fails.
func (a *App) serve(ctx context.Context, deps *Dependencies, sandboxHandler *handler.SandboxHandler) error {
	g, ctx := errgroup.WithContext(ctx)

	svc := a.newMarketService(deps)

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Channels:       []string{service.EventsChannel},
		Mode:           a.cfg.Mode,
		StartedAt:      time.Now().UTC(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var archives handler.ArchiveLister
	if deps.Archiver != nil {
		archives = deps.Archiver
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		MaxSkew:     a.cfg.Server.MaxSkew.Duration,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Replay:      deps.Replay,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, deps.Checks, a.logger),
		Market:  handler.NewMarketHandler(svc, a.logger),
		Events:  handler.NewEventHandler(deps.Events, archives, a.logger),
		Audit:   handler.NewAuditHandler(deps.Audit, a.logger),
		Sandbox: sandboxHandler,
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.Archiver != nil && a.cfg.Archive.Enabled {
		g.Go(func() error {
			return a.runArchiver(ctx, deps.Archiver)
		})
	}

	return g.Wait()
}

// runArchiver exports events older than the retention window once at start
// and then on every interval tick. Failed runs are logged and retried on the
// next tick.
func (a *App) runArchiver(ctx context.Context, archiver domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	retention := a.cfg.Archive.Retention.Duration

	archiveOnce := func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := archiver.ArchiveEvents(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive run failed",
				slog.Time("before", cutoff),
				slog.String("error", err.Error()),
			)
			return
		}
		a.logger.InfoContext(ctx, "archive run complete",
			slog.Time("before", cutoff),
			slog.Int64("events", n),
		)
	}

	archiveOnce()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			archiveOnce()
		}
	}
}
