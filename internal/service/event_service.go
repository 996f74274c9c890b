package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashpool/internal/attest"
	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
)

// EventService drives the event lifecycle: creation by scheduler identities,
// locking of expired betting windows, and lifecycle reads.
type EventService struct {
	engine   *engine.Engine
	events   domain.EventStore
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
	now      func() time.Time
	attestor *attest.Verifier
}

// NewEventService creates an EventService with all required dependencies.
func NewEventService(
	eng *engine.Engine,
	events domain.EventStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *EventService {
	return &EventService{
		engine:  eng,
		events:  events,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the wall clock used by the expiry sweep. It must match
// the clock the engine was built with.
func (s *EventService) WithClock(now func() time.Time) *EventService {
	s.now = now
	return s
}

// WithAttestor enables model-provenance attestation on event creation.
func (s *EventService) WithAttestor(v *attest.Verifier) *EventService {
	s.attestor = v
	return s
}

// Create opens a new betting event, persists it, and announces it on the bus.
func (s *EventService) Create(ctx context.Context, creator, feedRef string, openAt, closeAt time.Time, outcomeCount int, attestationRef string) (domain.Event, error) {
	allowed, err := s.limiter.Allow(ctx, "events:"+creator, 60, time.Minute)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Event{}, domain.ErrRateLimited
	}

	ev, err := s.engine.Registry.Create(creator, feedRef, openAt, closeAt, outcomeCount, attestationRef)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_service: create event: %w", err)
	}

	if err := s.events.Insert(ctx, ev); err != nil {
		return domain.Event{}, fmt.Errorf("event_service: persist event %q: %w", ev.ID, err)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":    "event_opened",
		"event_id": ev.ID,
		"feed":     ev.FeedRef,
		"open_at":  ev.OpenAt.Format(time.RFC3339),
		"close_at": ev.CloseAt.Format(time.RFC3339),
		"outcomes": ev.OutcomeCount,
	})
	if pubErr := s.bus.Publish(ctx, "events", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "event_service: publish event failed",
			slog.String("event_id", ev.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "event.created", map[string]any{
		"event_id": ev.ID,
		"creator":  creator,
		"feed":     feedRef,
		"outcomes": outcomeCount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "event_service: audit log failed",
			slog.String("event_id", ev.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "event_service: event created",
		slog.String("event_id", ev.ID),
		slog.String("feed", ev.FeedRef),
		slog.Time("close_at", ev.CloseAt),
	)

	return ev, nil
}

// CreateAttested verifies a model-provenance claim and opens the event with
// the resulting attestation hash as its attestation reference. The claim's
// model must be on the trusted allowlist and the signature must come from an
// accepted attestor.
func (s *EventService) CreateAttested(ctx context.Context, creator, feedRef string, openAt, closeAt time.Time, outcomeCount int, claim attest.Claim, signatureHex string) (domain.Event, error) {
	if s.attestor == nil {
		return domain.Event{}, fmt.Errorf("event_service: attested create: %w", domain.ErrUntrustedModel)
	}

	hash, err := s.attestor.Verify(claim, signatureHex)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_service: attested create: %w", err)
	}

	return s.Create(ctx, creator, feedRef, openAt, closeAt, outcomeCount, hash)
}

// LockExpired sweeps open events whose betting window has closed and locks
// them. It returns the IDs of the events locked in this pass. Per-event lock
// failures are logged and skipped so one bad record cannot stall the sweep.
func (s *EventService) LockExpired(ctx context.Context) ([]string, error) {
	now := s.now().UTC()
	open := s.engine.Registry.ListByStatus(domain.EventStatusOpen)

	var locked []string
	for _, ev := range open {
		if now.Before(ev.CloseAt) {
			continue
		}

		if err := s.engine.Registry.Lock(ev.ID); err != nil {
			s.logger.WarnContext(ctx, "event_service: lock failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := s.events.UpdateStatus(ctx, ev.ID, domain.EventStatusLocked, -1); err != nil {
			s.logger.WarnContext(ctx, "event_service: persist lock failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
		}

		evt, _ := json.Marshal(map[string]string{
			"event":    "event_locked",
			"event_id": ev.ID,
		})
		if pubErr := s.bus.Publish(ctx, "events", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "event_service: publish lock failed",
				slog.String("event_id", ev.ID),
				slog.String("error", pubErr.Error()),
			)
		}

		locked = append(locked, ev.ID)
	}

	if len(locked) > 0 {
		s.logger.InfoContext(ctx, "event_service: locked expired events",
			slog.Int("count", len(locked)),
		)
	}

	return locked, nil
}

// Get retrieves a single event by its ID from the engine.
func (s *EventService) Get(_ context.Context, eventID string) (domain.Event, error) {
	ev, err := s.engine.Registry.Get(eventID)
	if err != nil {
		return domain.Event{}, fmt.Errorf("event_service: get event %q: %w", eventID, err)
	}
	return ev, nil
}

// ListByStatus returns persisted events in the given status with pagination.
func (s *EventService) ListByStatus(ctx context.Context, status domain.EventStatus, opts domain.ListOpts) ([]domain.Event, error) {
	events, err := s.events.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("event_service: list by status %q: %w", status, err)
	}
	return events, nil
}

// Totals returns the aggregated pool totals for an event. Before settlement
// this is a live aggregate over the shard counters; after settlement it is the
// frozen snapshot claims are computed from. Voided events never freeze totals,
// so they always read as the live aggregate.
func (s *EventService) Totals(_ context.Context, eventID string) (domain.EventTotals, error) {
	ev, err := s.engine.Registry.Get(eventID)
	if err != nil {
		return domain.EventTotals{}, fmt.Errorf("event_service: totals for %q: %w", eventID, err)
	}

	if ev.Status == domain.EventStatusSettled {
		totals, err := s.engine.Settler.Totals(eventID)
		if err != nil {
			return domain.EventTotals{}, fmt.Errorf("event_service: frozen totals for %q: %w", eventID, err)
		}
		return totals, nil
	}

	return s.engine.Shards.Aggregate(eventID, ev.OutcomeCount), nil
}
