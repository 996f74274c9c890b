package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
)

// stakeRateLimit bounds how fast one identity can submit stakes. Windows are
// short, so the limit is per second rather than per minute.
const (
	stakeRateLimit  = 10
	stakeRateWindow = time.Second
)

// StakeService handles the wager lifecycle from placement to claim.
type StakeService struct {
	engine  *engine.Engine
	wagers  domain.WagerStore
	limiter domain.RateLimiter
	bus     domain.SignalBus
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewStakeService creates a StakeService with all required dependencies.
func NewStakeService(
	eng *engine.Engine,
	wagers domain.WagerStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *StakeService {
	return &StakeService{
		engine:  eng,
		wagers:  wagers,
		limiter: limiter,
		bus:     bus,
		audit:   audit,
		logger:  logger,
	}
}

// Place commits a stake on one outcome of an open event, locking the funds in
// the identity's escrow. The persisted journal and the bus announcement follow
// the engine's accepted record.
func (s *StakeService) Place(ctx context.Context, identity, eventID string, outcomeIndex int, amount int64) (domain.Wager, error) {
	allowed, err := s.limiter.Allow(ctx, "stakes:"+identity, stakeRateLimit, stakeRateWindow)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("stake_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Wager{}, domain.ErrRateLimited
	}

	w, err := s.engine.Ledger.PlaceStake(identity, eventID, outcomeIndex, amount)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("stake_service: place stake: %w", err)
	}

	s.journalPlaced(ctx, w)
	return w, nil
}

// PlaceDelegated commits a stake on the owner's behalf through an active
// delegation grant. Funds come from the owner's escrow and count against the
// grant's spend limit; rate limiting keys on the delegate doing the placing.
func (s *StakeService) PlaceDelegated(ctx context.Context, delegate, owner, eventID string, outcomeIndex int, amount int64) (domain.Wager, error) {
	allowed, err := s.limiter.Allow(ctx, "stakes:"+delegate, stakeRateLimit, stakeRateWindow)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("stake_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Wager{}, domain.ErrRateLimited
	}

	w, err := s.engine.Grants.DelegatedPlaceStake(delegate, owner, eventID, outcomeIndex, amount)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("stake_service: delegated place stake: %w", err)
	}

	s.journalPlaced(ctx, w)
	return w, nil
}

// Claim settles the identity's wager on a terminal event: winners collect
// their payout, voided stakes refund, losing stakes forfeit. Claiming twice
// fails with ErrAlreadySettled and moves no funds.
func (s *StakeService) Claim(ctx context.Context, identity, eventID string) (engine.ClaimResult, error) {
	res, err := s.engine.Ledger.Claim(identity, eventID)
	if err != nil {
		return engine.ClaimResult{}, fmt.Errorf("stake_service: claim: %w", err)
	}

	if err := s.wagers.MarkSettled(ctx, identity, eventID, res.Payout); err != nil {
		s.logger.WarnContext(ctx, "stake_service: journal claim failed",
			slog.String("identity", identity),
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "wager_claimed",
		"identity":  identity,
		"event_id":  eventID,
		"won":       res.Won,
		"voided":    res.Voided,
		"payout":    res.Payout,
		"refunded":  res.Refunded,
		"forfeited": res.Forfeited,
	})
	if pubErr := s.bus.Publish(ctx, "stakes", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "stake_service: publish claim failed",
			slog.String("event_id", eventID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "wager.claimed", map[string]any{
		"identity": identity,
		"event_id": eventID,
		"won":      res.Won,
		"payout":   res.Payout,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "stake_service: audit log failed",
			slog.String("event_id", eventID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stake_service: wager claimed",
		slog.String("identity", identity),
		slog.String("event_id", eventID),
		slog.Bool("won", res.Won),
		slog.Int64("payout", res.Payout),
	)

	return res, nil
}

// Get retrieves the identity's wager on an event from the engine.
func (s *StakeService) Get(_ context.Context, identity, eventID string) (domain.Wager, error) {
	w, err := s.engine.Ledger.Get(identity, eventID)
	if err != nil {
		return domain.Wager{}, fmt.Errorf("stake_service: get wager: %w", err)
	}
	return w, nil
}

// ListByEvent returns persisted wagers on an event with pagination.
func (s *StakeService) ListByEvent(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.Wager, error) {
	wagers, err := s.wagers.ListByEvent(ctx, eventID, opts)
	if err != nil {
		return nil, fmt.Errorf("stake_service: list by event %q: %w", eventID, err)
	}
	return wagers, nil
}

// ListByIdentity returns an identity's persisted wagers with pagination.
func (s *StakeService) ListByIdentity(ctx context.Context, identity string, opts domain.ListOpts) ([]domain.Wager, error) {
	wagers, err := s.wagers.ListByIdentity(ctx, identity, opts)
	if err != nil {
		return nil, fmt.Errorf("stake_service: list by identity %q: %w", identity, err)
	}
	return wagers, nil
}

// journalPlaced persists the accepted wager and announces it. Both are best
// effort; the engine record is authoritative.
func (s *StakeService) journalPlaced(ctx context.Context, w domain.Wager) {
	if err := s.wagers.Insert(ctx, w); err != nil {
		s.logger.WarnContext(ctx, "stake_service: journal insert failed",
			slog.String("identity", w.Identity),
			slog.String("event_id", w.EventID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":    "stake_placed",
		"identity": w.Identity,
		"event_id": w.EventID,
		"outcome":  w.OutcomeIndex,
		"amount":   w.Amount,
		"delegate": w.Delegate,
	})
	if pubErr := s.bus.Publish(ctx, "stakes", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "stake_service: publish stake failed",
			slog.String("event_id", w.EventID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "stake.placed", map[string]any{
		"identity": w.Identity,
		"event_id": w.EventID,
		"outcome":  w.OutcomeIndex,
		"amount":   w.Amount,
		"delegate": w.Delegate,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "stake_service: audit log failed",
			slog.String("event_id", w.EventID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "stake_service: stake placed",
		slog.String("identity", w.Identity),
		slog.String("event_id", w.EventID),
		slog.Int("outcome", w.OutcomeIndex),
		slog.Int64("amount", w.Amount),
	)
}
