package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// PriceRefresher is the slice of the price oracle the settler needs: one
// refresh per batch, amortizing the proof-verification cost across all
// events in the call.
type PriceRefresher interface {
	Refresh(ctx context.Context, proof [][]byte) (feeOwed int64, err error)
}

// Settler aggregates shard counters into final totals and finalizes events.
// Batches process events sequentially but each event is settled
// independently: one failing event is recorded and skipped, never aborting
// the rest of the batch.
type Settler struct {
	authz    *Authz
	registry *Registry
	shards   *ShardTable
	totals   *totalsTable
	escrow   *Escrow
	oracle   PriceRefresher // optional
	now      func() time.Time
}

// NewSettler creates a settlement orchestrator. oracle may be nil when no
// price refresh is wanted.
func NewSettler(authz *Authz, registry *Registry, shards *ShardTable, totals *totalsTable, escrow *Escrow, oracle PriceRefresher, now func() time.Time) *Settler {
	if now == nil {
		now = time.Now
	}
	return &Settler{
		authz:    authz,
		registry: registry,
		shards:   shards,
		totals:   totals,
		escrow:   escrow,
		oracle:   oracle,
		now:      now,
	}
}

// SettleBatch settles up to MaxSettlementBatch locked events in one pass.
// Per-event failures are collected, not propagated; the caller re-submits
// failed identifiers in a later batch once their precondition holds.
func (s *Settler) SettleBatch(ctx context.Context, caller string, eventIDs []string, winningOutcomes []int, priceProof [][]byte) (domain.BatchResult, error) {
	if err := s.authz.require(RoleSettler, caller); err != nil {
		return domain.BatchResult{}, err
	}
	if len(eventIDs) != len(winningOutcomes) {
		return domain.BatchResult{}, domain.ErrLengthMismatch
	}
	if len(eventIDs) > domain.MaxSettlementBatch {
		return domain.BatchResult{}, domain.ErrBatchTooLarge
	}

	// One oracle refresh covers the whole batch.
	if s.oracle != nil && len(priceProof) > 0 {
		if _, err := s.oracle.Refresh(ctx, priceProof); err != nil {
			return domain.BatchResult{}, err
		}
	}

	res := domain.BatchResult{BatchID: uuid.New().String()}
	for i, id := range eventIDs {
		if err := s.settleOne(caller, id, winningOutcomes[i]); err != nil {
			res.Failures = append(res.Failures, domain.BatchFailure{EventID: id, Reason: err.Error()})
			continue
		}
		res.Settled = append(res.Settled, id)
	}
	res.CompletedAt = s.now()
	return res, nil
}

// settleOne aggregates and finalizes a single locked event. Totals are
// stored before the registry transition so a claim that observes Settled
// always finds them.
func (s *Settler) settleOne(caller, eventID string, winningOutcome int) error {
	ev, err := s.registry.Get(eventID)
	if err != nil {
		return err
	}
	if ev.Status != domain.EventStatusLocked {
		return domain.ErrEventNotLocked
	}
	if winningOutcome < 0 || winningOutcome >= ev.OutcomeCount {
		return domain.ErrInvalidOutcome
	}

	totals := s.shards.Aggregate(eventID, ev.OutcomeCount)
	totals.WinningOutcome = winningOutcome
	if err := s.totals.put(totals); err != nil {
		return err
	}
	if err := s.registry.settle(caller, eventID, winningOutcome); err != nil {
		// A concurrent void can flip the event terminal between the totals
		// write and the registry transition. Drop the snapshot so a voided
		// event never carries frozen totals; the void path refunds from the
		// wager records alone.
		s.totals.drop(eventID)
		return err
	}
	return nil
}

// VoidBatch voids each event in the list. Void has no precondition beyond a
// non-terminal status, which the registry enforces per event; failures are
// still surfaced so the caller can tell which identifiers were already
// terminal.
func (s *Settler) VoidBatch(ctx context.Context, caller string, eventIDs []string) (domain.BatchResult, error) {
	if err := s.authz.require(RoleSettler, caller); err != nil {
		return domain.BatchResult{}, err
	}

	res := domain.BatchResult{BatchID: uuid.New().String()}
	for _, id := range eventIDs {
		if err := s.registry.Void(caller, id); err != nil {
			res.Failures = append(res.Failures, domain.BatchFailure{EventID: id, Reason: err.Error()})
			continue
		}
		res.Settled = append(res.Settled, id)
	}
	res.CompletedAt = s.now()
	return res, nil
}

// Totals returns the immutable aggregate totals for a settled event.
func (s *Settler) Totals(eventID string) (domain.EventTotals, error) {
	totals, ok := s.totals.get(eventID)
	if !ok {
		return domain.EventTotals{}, domain.ErrNotFound
	}
	return totals, nil
}

// Fees returns the fee balance accrued for an event so far.
func (s *Settler) Fees(eventID string) int64 {
	return s.totals.Fees(eventID)
}

// CollectFees moves the accrued fee balance for an event into the caller's
// available balance. Engine-ops capability required.
func (s *Settler) CollectFees(caller, eventID string) (int64, error) {
	if err := s.authz.require(RoleEngineOps, caller); err != nil {
		return 0, err
	}
	amount := s.totals.takeFees(eventID)
	if amount == 0 {
		return 0, nil
	}
	if err := s.escrow.credit(caller, amount); err != nil {
		return 0, err
	}
	return amount, nil
}
