package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashpool/internal/config"
	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/oracle"
	"github.com/alanyoungcy/flashpool/internal/service"
)

const (
	// settlerLockKey guards the sweep so only one instance settles at a time.
	settlerLockKey = "flashpool:settler"

	// settleBatchMax matches the engine's batch ceiling.
	settleBatchMax = 50

	// sweepListLimit bounds the events considered per cycle.
	sweepListLimit = 200
)

// settleLoop is the periodic settlement sweep. Each cycle it captures feed
// reference prices for newly opened events, locks events whose betting window
// has closed, and settles locked two-outcome events on feed direction:
// outcome 1 when the latest feed value exceeds the value captured at window
// open, outcome 0 otherwise. Events with more than two outcomes, or with no
// captured reference, wait for an explicit settlement call through the admin
// API.
type settleLoop struct {
	events      *service.EventService
	settlements *service.SettlementService
	feed        oracle.PriceOracle // nil disables automatic outcome resolution
	locks       domain.LockManager
	caller      string
	interval    time.Duration
	staleness   time.Duration
	logger      *slog.Logger

	// openRefs maps eventID to the feed value captured while the event was
	// open. Only this loop touches it.
	openRefs map[string]int64
}

func newSettleLoop(cfg *config.Config, deps *Dependencies, svcs *services, logger *slog.Logger) *settleLoop {
	return &settleLoop{
		events:      svcs.events,
		settlements: svcs.settlements,
		feed:        deps.Oracle,
		locks:       deps.LockManager,
		caller:      cfg.Engine.SettlerAdmin,
		interval:    cfg.Engine.SettleInterval.Duration,
		staleness:   cfg.Oracle.MaxStaleness.Duration,
		logger:      logger,
		openRefs:    make(map[string]int64),
	}
}

// Run drives the sweep on a fixed interval until the context is cancelled.
func (l *settleLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.runOnce(ctx)
		}
	}
}

// runOnce performs one guarded sweep cycle. Failures are logged and retried
// on the next tick; the loop never aborts on a bad cycle.
func (l *settleLoop) runOnce(ctx context.Context) {
	unlock, err := l.locks.Acquire(ctx, settlerLockKey, 2*l.interval)
	if errors.Is(err, domain.ErrLockHeld) {
		return
	}
	if err != nil {
		l.logger.WarnContext(ctx, "settler: lock acquire failed",
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	l.captureOpenRefs(ctx)

	locked, err := l.events.LockExpired(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "settler: expiry sweep failed",
			slog.String("error", err.Error()),
		)
	} else if len(locked) > 0 {
		l.logger.InfoContext(ctx, "settler: locked expired events",
			slog.Int("count", len(locked)),
		)
	}

	if l.feed == nil {
		return
	}
	l.settleLocked(ctx)
}

// captureOpenRefs records the current feed value for open events that have no
// reference yet. The reference anchors the direction resolution after lock.
func (l *settleLoop) captureOpenRefs(ctx context.Context) {
	if l.feed == nil {
		return
	}

	open, err := l.events.ListByStatus(ctx, domain.EventStatusOpen, domain.ListOpts{Limit: sweepListLimit})
	if err != nil {
		l.logger.WarnContext(ctx, "settler: list open events failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, ev := range open {
		if _, ok := l.openRefs[ev.ID]; ok {
			continue
		}
		p, err := l.feed.GetPrice(ctx, ev.FeedRef, l.staleness)
		if err != nil {
			l.logger.WarnContext(ctx, "settler: open reference unavailable",
				slog.String("event_id", ev.ID),
				slog.String("feed_ref", ev.FeedRef),
				slog.String("error", err.Error()),
			)
			continue
		}
		l.openRefs[ev.ID] = p.Value
	}
}

// settleLocked resolves and settles locked two-outcome events with a captured
// open reference, then drops references for events this loop no longer needs.
func (l *settleLoop) settleLocked(ctx context.Context) {
	lockedEvents, err := l.events.ListByStatus(ctx, domain.EventStatusLocked, domain.ListOpts{Limit: sweepListLimit})
	if err != nil {
		l.logger.WarnContext(ctx, "settler: list locked events failed",
			slog.String("error", err.Error()),
		)
		return
	}

	var (
		ids      []string
		outcomes []int
	)
	for _, ev := range lockedEvents {
		if len(ids) >= settleBatchMax {
			break
		}
		ref, ok := l.openRefs[ev.ID]
		if !ok || ev.OutcomeCount != 2 {
			continue
		}
		p, err := l.feed.GetPrice(ctx, ev.FeedRef, l.staleness)
		if err != nil {
			l.logger.WarnContext(ctx, "settler: close price unavailable",
				slog.String("event_id", ev.ID),
				slog.String("feed_ref", ev.FeedRef),
				slog.String("error", err.Error()),
			)
			continue
		}
		outcome := 0
		if p.Value > ref {
			outcome = 1
		}
		ids = append(ids, ev.ID)
		outcomes = append(outcomes, outcome)
	}

	if len(ids) > 0 {
		res, err := l.settlements.SettleBatch(ctx, l.caller, ids, outcomes, nil)
		if err != nil {
			l.logger.WarnContext(ctx, "settler: batch failed",
				slog.String("error", err.Error()),
			)
		} else {
			l.logger.InfoContext(ctx, "settler: batch complete",
				slog.String("batch_id", res.BatchID),
				slog.Int("settled", len(res.Settled)),
				slog.Int("failed", len(res.Failures)),
			)
			for _, id := range res.Settled {
				delete(l.openRefs, id)
			}
		}
	}

	l.pruneRefs(ctx, lockedEvents)
}

// pruneRefs drops references for events that are neither open nor still
// locked, so settlement through the admin API cannot leak entries.
func (l *settleLoop) pruneRefs(ctx context.Context, lockedEvents []domain.Event) {
	if len(l.openRefs) == 0 {
		return
	}

	live := make(map[string]bool, len(lockedEvents))
	for _, ev := range lockedEvents {
		live[ev.ID] = true
	}
	open, err := l.events.ListByStatus(ctx, domain.EventStatusOpen, domain.ListOpts{Limit: sweepListLimit})
	if err != nil {
		return
	}
	for _, ev := range open {
		live[ev.ID] = true
	}

	for id := range l.openRefs {
		if !live[id] {
			delete(l.openRefs, id)
		}
	}
}
