package engine

import (
	"sync"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// wagerSlot serializes all access to one (identity, event) pair. A placement
// additionally holds the event's read lock from the accepting check through
// its shard write, so the Locked transition acts as a barrier for in-flight
// stakes. Lock order is always slot, then event record, then the short
// escrow field update; no path acquires them in reverse, so the paths cannot
// deadlock.
type wagerSlot struct {
	mu sync.Mutex
	w  *domain.Wager
}

// ClaimResult describes what a successful claim did to the caller's
// balances.
type ClaimResult struct {
	EventID   string
	Won       bool
	Voided    bool
	Payout    int64 // credited to available (winners)
	Refunded  int64 // unlocked back to available (voided events)
	Forfeited int64 // removed from locked (losers)
}

// Ledger records one wager per (identity, event) pair and drives the
// stake-placement and claim paths against the escrow, registry, and shard
// table.
type Ledger struct {
	registry *Registry
	escrow   *Escrow
	shards   *ShardTable
	totals   *totalsTable
	now      func() time.Time
	slots    sync.Map // identity + "\x00" + eventID -> *wagerSlot
}

// NewLedger creates a wager ledger bound to the given core components.
func NewLedger(registry *Registry, escrow *Escrow, shards *ShardTable, totals *totalsTable, now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{
		registry: registry,
		escrow:   escrow,
		shards:   shards,
		totals:   totals,
		now:      now,
	}
}

func slotKey(identity, eventID string) string {
	return identity + "\x00" + eventID
}

func (l *Ledger) slot(identity, eventID string) *wagerSlot {
	key := slotKey(identity, eventID)
	if s, ok := l.slots.Load(key); ok {
		return s.(*wagerSlot)
	}
	s, _ := l.slots.LoadOrStore(key, &wagerSlot{})
	return s.(*wagerSlot)
}

// PlaceStake validates and records a stake: it locks the funds in escrow,
// writes the wager record, and lands the amount in one pool shard. The whole
// sequence is serialized per (identity, event); a second concurrent call for
// the same pair observes the first's record and fails with ErrAlreadyStaked.
// Different pairs proceed fully concurrently.
func (l *Ledger) PlaceStake(identity, eventID string, outcomeIndex int, amount int64) (domain.Wager, error) {
	return l.place(identity, "", eventID, outcomeIndex, amount)
}

func (l *Ledger) place(identity, delegate, eventID string, outcomeIndex int, amount int64) (domain.Wager, error) {
	if amount < domain.MinStake {
		return domain.Wager{}, domain.ErrStakeTooSmall
	}
	if amount > domain.MaxStake {
		return domain.Wager{}, domain.ErrStakeTooLarge
	}

	ev, err := l.registry.Get(eventID)
	if err != nil {
		return domain.Wager{}, err
	}
	if outcomeIndex < 0 || outcomeIndex >= ev.OutcomeCount {
		return domain.Wager{}, domain.ErrInvalidOutcome
	}

	s := l.slot(identity, eventID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w != nil {
		return domain.Wager{}, domain.ErrAlreadyStaked
	}

	// Hold the event's admission lock until the shard counter is written:
	// the event cannot go Locked while an accepted placement is mid-flight,
	// so settlement aggregation never misses a stake the ledger took funds
	// for.
	_, release, err := l.registry.beginStake(eventID)
	if err != nil {
		return domain.Wager{}, err
	}
	defer release()

	// Fixed order: escrow, then wager record, then shard counter.
	if err := l.escrow.lock(identity, amount); err != nil {
		return domain.Wager{}, err
	}
	w := &domain.Wager{
		Identity:     identity,
		EventID:      eventID,
		Amount:       amount,
		OutcomeIndex: outcomeIndex,
		PlacedAt:     l.now(),
		Delegate:     delegate,
	}
	s.w = w
	l.shards.RecordStake(eventID, ev.OutcomeCount, outcomeIndex, identity, amount)
	return *w, nil
}

// Claim settles the caller's wager once the event has reached a terminal
// status. Winners are paid from the pool minus the house fee; losers forfeit
// their locked stake; voided events refund the full stake. Claim is
// idempotent-safe: once settled, repeat calls fail with ErrAlreadySettled
// and leave balances untouched.
func (l *Ledger) Claim(identity, eventID string) (ClaimResult, error) {
	s := l.slot(identity, eventID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.w == nil {
		return ClaimResult{}, domain.ErrNoWager
	}
	if s.w.Settled {
		return ClaimResult{}, domain.ErrAlreadySettled
	}

	ev, err := l.registry.Get(eventID)
	if err != nil {
		return ClaimResult{}, err
	}

	res := ClaimResult{EventID: eventID}
	switch ev.Status {
	case domain.EventStatusSettled:
		totals, ok := l.totals.get(eventID)
		if !ok {
			return ClaimResult{}, domain.ErrNotReadyToClaim
		}
		if s.w.OutcomeIndex == ev.WinningOutcome {
			payout, fee := Payout(s.w.Amount, totals.WinningTotal(), totals.TotalPool)
			if err := l.escrow.debitLocked(identity, s.w.Amount); err != nil {
				return ClaimResult{}, err
			}
			if err := l.escrow.credit(identity, payout); err != nil {
				return ClaimResult{}, err
			}
			l.totals.addFee(eventID, fee)
			res.Won = true
			res.Payout = payout
			s.w.Payout = payout
		} else {
			if err := l.escrow.debitLocked(identity, s.w.Amount); err != nil {
				return ClaimResult{}, err
			}
			// With no stake on the winning side the forfeited pool has no
			// recipient; it accrues to the operator's fee ledger.
			if totals.WinningTotal() == 0 {
				l.totals.addFee(eventID, s.w.Amount)
			}
			res.Forfeited = s.w.Amount
		}
	case domain.EventStatusVoided:
		if err := l.escrow.unlock(identity, s.w.Amount); err != nil {
			return ClaimResult{}, err
		}
		res.Voided = true
		res.Refunded = s.w.Amount
	default:
		return ClaimResult{}, domain.ErrNotReadyToClaim
	}

	s.w.Settled = true
	return res, nil
}

// Get returns a snapshot of the wager for the pair, or ErrNoWager.
func (l *Ledger) Get(identity, eventID string) (domain.Wager, error) {
	s := l.slot(identity, eventID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return domain.Wager{}, domain.ErrNoWager
	}
	return *s.w, nil
}
