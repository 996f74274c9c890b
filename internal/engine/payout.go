package engine

import (
	"math/big"
	"sync"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// Payout computes a winner's credit for a stake given the aggregated pool.
// All arithmetic is integer with truncation, never rounding, so the engine
// cannot issue fractional-unit credits beyond the funds in the pool. When the
// winning outcome received no stake at all the payout is zero.
func Payout(stake, winningTotal, totalPool int64) (payout, fee int64) {
	if winningTotal == 0 {
		return 0, 0
	}
	gross := new(big.Int).Mul(big.NewInt(stake), big.NewInt(totalPool))
	gross.Quo(gross, big.NewInt(winningTotal))

	feeB := new(big.Int).Mul(gross, big.NewInt(domain.HouseFeeRateBps))
	feeB.Quo(feeB, big.NewInt(domain.FeeScale))

	gross.Sub(gross, feeB)
	return gross.Int64(), feeB.Int64()
}

// totalsTable stores the write-once aggregate totals per settled event plus
// the running fee accrual. Totals are written during settlement, before the
// registry flips the event to Settled, so any claim that observes status
// Settled will find them.
type totalsTable struct {
	mu     sync.RWMutex
	totals map[string]domain.EventTotals
	fees   map[string]int64
}

func newTotalsTable() *totalsTable {
	return &totalsTable{
		totals: make(map[string]domain.EventTotals),
		fees:   make(map[string]int64),
	}
}

// put stores the totals for an event. Write-once: a second write for the
// same event is rejected.
func (t *totalsTable) put(totals domain.EventTotals) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.totals[totals.EventID]; exists {
		return domain.ErrAlreadySettled
	}
	t.totals[totals.EventID] = totals
	return nil
}

// drop removes stored totals. Only the settlement orchestrator calls it,
// when a void wins the race against the registry transition after totals
// were already frozen.
func (t *totalsTable) drop(eventID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.totals, eventID)
}

func (t *totalsTable) get(eventID string) (domain.EventTotals, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	totals, ok := t.totals[eventID]
	return totals, ok
}

// addFee accrues house fees (and forfeits with no winning side) for later
// collection by the operator.
func (t *totalsTable) addFee(eventID string, amount int64) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fees[eventID] += amount
}

// Fees returns the accrued fee balance for an event.
func (t *totalsTable) Fees(eventID string) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fees[eventID]
}

// takeFees zeroes and returns the accrued fee balance for an event.
func (t *totalsTable) takeFees(eventID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	amount := t.fees[eventID]
	t.fees[eventID] = 0
	return amount
}
