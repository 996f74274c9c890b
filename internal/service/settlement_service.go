package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
	"github.com/alanyoungcy/flashpool/internal/notify"
)

// SettlementService finalizes locked events in batches, journals the
// settlement records and fee ledger, and alerts operators about batch
// outcomes.
type SettlementService struct {
	engine      *engine.Engine
	events      domain.EventStore
	settlements domain.SettlementStore
	bus         domain.SignalBus
	audit       domain.AuditStore
	notifier    *notify.Notifier
	logger      *slog.Logger
}

// NewSettlementService creates a SettlementService with all required
// dependencies. notifier may be nil when no operator alerting is configured.
func NewSettlementService(
	eng *engine.Engine,
	events domain.EventStore,
	settlements domain.SettlementStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		engine:      eng,
		events:      events,
		settlements: settlements,
		bus:         bus,
		audit:       audit,
		notifier:    notifier,
		logger:      logger,
	}
}

// SettleBatch settles the listed locked events against their winning outcomes
// in one engine batch, then journals every settled event and the batch result.
// Per-event failures come back in the result; the caller re-submits those
// identifiers once their precondition holds.
func (s *SettlementService) SettleBatch(ctx context.Context, caller string, eventIDs []string, winningOutcomes []int, priceProof [][]byte) (domain.BatchResult, error) {
	res, err := s.engine.Settler.SettleBatch(ctx, caller, eventIDs, winningOutcomes, priceProof)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("settlement_service: settle batch: %w", err)
	}

	for _, id := range res.Settled {
		s.journalSettled(ctx, id, res.BatchID)
	}
	s.journalBatch(ctx, "settlement.batch", res)

	s.logger.InfoContext(ctx, "settlement_service: batch settled",
		slog.String("batch_id", res.BatchID),
		slog.Int("settled", len(res.Settled)),
		slog.Int("failed", len(res.Failures)),
	)

	if s.notifier != nil && len(res.Failures) > 0 {
		msg := fmt.Sprintf("batch %s: %d settled, %d failed", res.BatchID, len(res.Settled), len(res.Failures))
		if notifyErr := s.notifier.Notify(ctx, "settlement", "Settlement failures", msg); notifyErr != nil {
			s.logger.WarnContext(ctx, "settlement_service: notify failed",
				slog.String("batch_id", res.BatchID),
				slog.String("error", notifyErr.Error()),
			)
		}
	}

	return res, nil
}

// VoidBatch voids the listed events, refunding stakes on claim. Journaling
// mirrors SettleBatch with voided records.
func (s *SettlementService) VoidBatch(ctx context.Context, caller string, eventIDs []string) (domain.BatchResult, error) {
	res, err := s.engine.Settler.VoidBatch(ctx, caller, eventIDs)
	if err != nil {
		return domain.BatchResult{}, fmt.Errorf("settlement_service: void batch: %w", err)
	}

	for _, id := range res.Settled {
		s.journalVoided(ctx, id, res.BatchID)
	}
	s.journalBatch(ctx, "settlement.void_batch", res)

	s.logger.InfoContext(ctx, "settlement_service: batch voided",
		slog.String("batch_id", res.BatchID),
		slog.Int("voided", len(res.Settled)),
		slog.Int("failed", len(res.Failures)),
	)

	return res, nil
}

// CollectFees drains the accrued fee balance for an event into the caller's
// escrow. Engine-ops capability required.
func (s *SettlementService) CollectFees(ctx context.Context, caller, eventID string) (int64, error) {
	amount, err := s.engine.Settler.CollectFees(caller, eventID)
	if err != nil {
		return 0, fmt.Errorf("settlement_service: collect fees for %q: %w", eventID, err)
	}
	if amount == 0 {
		return 0, nil
	}

	// Fees accrue in memory as claims process; the durable ledger records
	// them at collection time.
	if err := s.settlements.AddFees(ctx, eventID, amount); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal fees failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "fees.collected", map[string]any{
		"event_id": eventID,
		"caller":   caller,
		"amount":   amount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("event_id", eventID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "settlement_service: fees collected",
		slog.String("event_id", eventID),
		slog.Int64("amount", amount),
	)

	return amount, nil
}

// GetRecord retrieves the durable settlement record for an event.
func (s *SettlementService) GetRecord(ctx context.Context, eventID string) (domain.SettlementRecord, error) {
	rec, err := s.settlements.GetRecord(ctx, eventID)
	if err != nil {
		return domain.SettlementRecord{}, fmt.Errorf("settlement_service: get record %q: %w", eventID, err)
	}
	return rec, nil
}

// ListRecent returns the most recent settlement records.
func (s *SettlementService) ListRecent(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	recs, err := s.settlements.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("settlement_service: list recent: %w", err)
	}
	return recs, nil
}

// journalSettled persists one settled event's record, fee accrual, and status
// transition. All writes are best effort; the engine state is authoritative
// and a journal gap only degrades history, never balances.
func (s *SettlementService) journalSettled(ctx context.Context, eventID, batchID string) {
	ev, err := s.engine.Registry.Get(eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal read event failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return
	}

	totals, err := s.engine.Settler.Totals(eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal read totals failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return
	}

	rec := domain.SettlementRecord{
		EventID:        eventID,
		BatchID:        batchID,
		WinningOutcome: ev.WinningOutcome,
		TotalPool:      totals.TotalPool,
		WinningTotal:   totals.WinningTotal(),
	}
	if ev.SettledAt != nil {
		rec.SettledAt = *ev.SettledAt
	}

	if err := s.settlements.InsertRecord(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal record failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.events.UpdateStatus(ctx, eventID, domain.EventStatusSettled, ev.WinningOutcome); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal status failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":           "event_settled",
		"event_id":        eventID,
		"batch_id":        batchID,
		"winning_outcome": ev.WinningOutcome,
		"total_pool":      totals.TotalPool,
	})
	if pubErr := s.bus.Publish(ctx, "settlements", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish settled failed",
			slog.String("event_id", eventID),
			slog.String("error", pubErr.Error()),
		)
	}
}

// journalVoided persists one voided event's record and status transition.
func (s *SettlementService) journalVoided(ctx context.Context, eventID, batchID string) {
	ev, err := s.engine.Registry.Get(eventID)
	if err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal read event failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
		return
	}

	rec := domain.SettlementRecord{
		EventID:        eventID,
		BatchID:        batchID,
		WinningOutcome: -1,
		Voided:         true,
	}
	if ev.SettledAt != nil {
		rec.SettledAt = *ev.SettledAt
	}

	if err := s.settlements.InsertRecord(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal record failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.events.UpdateStatus(ctx, eventID, domain.EventStatusVoided, -1); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal status failed",
			slog.String("event_id", eventID),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]string{
		"event":    "event_voided",
		"event_id": eventID,
		"batch_id": batchID,
	})
	if pubErr := s.bus.Publish(ctx, "settlements", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "settlement_service: publish voided failed",
			slog.String("event_id", eventID),
			slog.String("error", pubErr.Error()),
		)
	}
}

// journalBatch persists the batch result and writes the audit entry.
func (s *SettlementService) journalBatch(ctx context.Context, auditEvent string, res domain.BatchResult) {
	if err := s.settlements.InsertBatch(ctx, res); err != nil {
		s.logger.WarnContext(ctx, "settlement_service: journal batch failed",
			slog.String("batch_id", res.BatchID),
			slog.String("error", err.Error()),
		)
	}

	failures := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		failures = append(failures, f.EventID+": "+f.Reason)
	}

	if auditErr := s.audit.Log(ctx, auditEvent, map[string]any{
		"batch_id": res.BatchID,
		"settled":  res.Settled,
		"failures": failures,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "settlement_service: audit log failed",
			slog.String("batch_id", res.BatchID),
			slog.String("error", auditErr.Error()),
		)
	}
}
