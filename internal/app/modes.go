package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flashpool/internal/crypto"
	"github.com/alanyoungcy/flashpool/internal/server"
	"github.com/alanyoungcy/flashpool/internal/server/handler"
	"github.com/alanyoungcy/flashpool/internal/server/ws"
	"github.com/alanyoungcy/flashpool/internal/service"
)

// services bundles the service layer built on top of the wired dependencies.
type services struct {
	accounts    *service.AccountService
	events      *service.EventService
	stakes      *service.StakeService
	settlements *service.SettlementService
	grants      *service.GrantService
}

// buildServices constructs the service layer. All services share the single
// engine instance from deps.
func (a *App) buildServices(deps *Dependencies) *services {
	return &services{
		accounts: service.NewAccountService(
			deps.Engine, deps.AccountStore, deps.RateLimiter,
			deps.SignalBus, deps.AuditStore, a.logger,
		),
		events: service.NewEventService(
			deps.Engine, deps.EventStore, deps.RateLimiter,
			deps.SignalBus, deps.AuditStore, a.logger,
		).WithAttestor(deps.Attestor),
		stakes: service.NewStakeService(
			deps.Engine, deps.WagerStore, deps.RateLimiter,
			deps.SignalBus, deps.AuditStore, a.logger,
		),
		settlements: service.NewSettlementService(
			deps.Engine, deps.EventStore, deps.SettlementStore,
			deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
		),
		grants: service.NewGrantService(
			deps.Engine, crypto.NewVerifier(),
			deps.SignalBus, deps.AuditStore, a.logger,
		),
	}
}

// APIMode runs the HTTP + WebSocket surface over the shared engine.
func (a *App) APIMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	a.startHTTPServer(ctx, g, deps, svcs)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// SettlerMode runs the settlement loop without the HTTP surface: a periodic
// sweep that locks expired betting windows and settles two-outcome events
// against the price feed.
func (a *App) SettlerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting settler mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	loop := newSettleLoop(a.cfg, deps, svcs, a.logger)
	g.Go(func() error {
		return loop.Run(ctx)
	})
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the HTTP surface and the settlement loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)

	loop := newSettleLoop(a.cfg, deps, svcs, a.logger)
	g.Go(func() error {
		return loop.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, svcs)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var adminAuth *crypto.AdminAuth
	if a.cfg.Server.AdminKey != "" && a.cfg.Server.AdminSecret != "" {
		adminAuth = &crypto.AdminAuth{
			Key:    a.cfg.Server.AdminKey,
			Secret: a.cfg.Server.AdminSecret,
		}
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
			AdminAuth:   adminAuth,
			RateLimit:   a.cfg.Server.RateLimit,
			RateWindow:  a.cfg.Server.RateWindow.Duration,
		},
		server.Handlers{
			Health:      handler.NewHealthHandler(a.logger),
			Accounts:    handler.NewAccountHandler(svcs.accounts, a.logger),
			Events:      handler.NewEventHandler(svcs.events, a.logger),
			Stakes:      handler.NewStakeHandler(svcs.stakes, a.logger),
			Settlements: handler.NewSettlementHandler(svcs.settlements, a.logger),
			Grants:      handler.NewGrantHandler(svcs.grants, a.logger),
		},
		deps.RateLimiter,
		hub,
		a.logger,
	)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop adds the cold-storage archival goroutine when archival is
// enabled. Each cycle snapshots terminal events and settled wagers older than
// the retention window to object storage.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				nEvents, err := deps.Archiver.ArchiveEvents(ctx, cutoff)
				if err != nil {
					a.logger.WarnContext(ctx, "archive: events failed",
						slog.String("error", err.Error()),
					)
				}
				nWagers, err := deps.Archiver.ArchiveWagers(ctx, cutoff)
				if err != nil {
					a.logger.WarnContext(ctx, "archive: wagers failed",
						slog.String("error", err.Error()),
					)
				}
				if nEvents > 0 || nWagers > 0 {
					a.logger.InfoContext(ctx, "archive: cycle complete",
						slog.Int64("events", nEvents),
						slog.Int64("wagers", nWagers),
						slog.Time("cutoff", cutoff),
					)
				}
			}
		}
	})
}
