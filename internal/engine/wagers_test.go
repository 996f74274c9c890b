package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

func TestPlaceStakeLocksFundsAndRecords(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 20)

	w, err := e.Ledger.PlaceStake("alice", ev.ID, 1, units(5))
	require.NoError(t, err)
	assert.Equal(t, "alice", w.Identity)
	assert.Equal(t, ev.ID, w.EventID)
	assert.Equal(t, units(5), w.Amount)
	assert.Equal(t, 1, w.OutcomeIndex)
	assert.False(t, w.Settled)

	bal := e.Escrow.Balance("alice")
	assert.Equal(t, units(15), bal.Available)
	assert.Equal(t, units(5), bal.Locked)

	got, err := e.Ledger.Get("alice", ev.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Amount, got.Amount)
}

func TestPlaceStakeValidation(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 10)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, domain.MinStake-1)
	assert.ErrorIs(t, err, domain.ErrStakeTooSmall)

	_, err = e.Ledger.PlaceStake("alice", ev.ID, 0, domain.MaxStake+1)
	assert.ErrorIs(t, err, domain.ErrStakeTooLarge)

	_, err = e.Ledger.PlaceStake("alice", ev.ID, 2, units(5))
	assert.ErrorIs(t, err, domain.ErrInvalidOutcome)

	_, err = e.Ledger.PlaceStake("alice", "missing", 0, units(5))
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	_, err = e.Ledger.PlaceStake("broke", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailable)
}

func TestPlaceStakeOnePerPair(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 20)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	require.NoError(t, err)

	// No top-up, no replacement, regardless of outcome.
	_, err = e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrAlreadyStaked)
	_, err = e.Ledger.PlaceStake("alice", ev.ID, 1, units(3))
	assert.ErrorIs(t, err, domain.ErrAlreadyStaked)

	// Only the first stake is locked.
	assert.Equal(t, units(5), e.Escrow.Balance("alice").Locked)
}

func TestPlaceStakeWindowClosed(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 10)

	clock.Advance(45 * time.Second)
	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrNotAcceptingStakes)

	require.NoError(t, e.Registry.Lock(ev.ID))
	_, err = e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrNotAcceptingStakes)
}

func TestClaimEvenPoolWinner(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 10)
	fund(t, e, "bob", 10)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	require.NoError(t, err)
	_, err = e.Ledger.PlaceStake("bob", ev.ID, 1, units(5))
	require.NoError(t, err)

	lockAndSettle(t, e, clock, ev, 0)

	res, err := e.Ledger.Claim("alice", ev.ID)
	require.NoError(t, err)
	assert.True(t, res.Won)
	assert.Equal(t, int64(9_800_000), res.Payout)

	bal := e.Escrow.Balance("alice")
	assert.Equal(t, units(5)+9_800_000, bal.Available)
	assert.Equal(t, int64(0), bal.Locked)

	// Loser forfeits the locked stake.
	res, err = e.Ledger.Claim("bob", ev.ID)
	require.NoError(t, err)
	assert.False(t, res.Won)
	assert.Equal(t, units(5), res.Forfeited)

	bal = e.Escrow.Balance("bob")
	assert.Equal(t, units(5), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)

	// The 2% fee remains with the house.
	assert.Equal(t, int64(200_000), e.Settler.Fees(ev.ID))
}

func TestClaimProportionalSplit(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 6)
	fund(t, e, "bob", 4)
	fund(t, e, "carol", 12)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(6))
	require.NoError(t, err)
	_, err = e.Ledger.PlaceStake("bob", ev.ID, 0, units(4))
	require.NoError(t, err)
	_, err = e.Ledger.PlaceStake("carol", ev.ID, 1, units(12))
	require.NoError(t, err)

	lockAndSettle(t, e, clock, ev, 0)

	resA, err := e.Ledger.Claim("alice", ev.ID)
	require.NoError(t, err)
	resB, err := e.Ledger.Claim("bob", ev.ID)
	require.NoError(t, err)
	resC, err := e.Ledger.Claim("carol", ev.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(12_936_000), resA.Payout)
	assert.Equal(t, int64(8_624_000), resB.Payout)
	assert.Equal(t, units(12), resC.Forfeited)

	// Payouts plus accrued fees never exceed the pool.
	paid := resA.Payout + resB.Payout + e.Settler.Fees(ev.ID)
	assert.LessOrEqual(t, paid, units(22))
}

func TestClaimIdempotence(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 10)
	fund(t, e, "bob", 10)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	require.NoError(t, err)
	_, err = e.Ledger.PlaceStake("bob", ev.ID, 1, units(5))
	require.NoError(t, err)

	lockAndSettle(t, e, clock, ev, 0)

	_, err = e.Ledger.Claim("alice", ev.ID)
	require.NoError(t, err)
	before := e.Escrow.Balance("alice")

	_, err = e.Ledger.Claim("alice", ev.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadySettled)
	assert.Equal(t, before, e.Escrow.Balance("alice"))
}

func TestClaimBeforeTerminal(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 10)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	require.NoError(t, err)

	_, err = e.Ledger.Claim("alice", ev.ID)
	assert.ErrorIs(t, err, domain.ErrNotReadyToClaim)

	clock.Advance(45 * time.Second)
	require.NoError(t, e.Registry.Lock(ev.ID))
	_, err = e.Ledger.Claim("alice", ev.ID)
	assert.ErrorIs(t, err, domain.ErrNotReadyToClaim)

	_, err = e.Ledger.Claim("nobody", ev.ID)
	assert.ErrorIs(t, err, domain.ErrNoWager)
}

func TestClaimVoidedEventRefunds(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 10)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	require.NoError(t, err)
	require.NoError(t, e.Registry.Void(settlerAdmin, ev.ID))

	res, err := e.Ledger.Claim("alice", ev.ID)
	require.NoError(t, err)
	assert.True(t, res.Voided)
	assert.Equal(t, units(5), res.Refunded)

	bal := e.Escrow.Balance("alice")
	assert.Equal(t, units(10), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)
}

func TestClaimNoWinningStake(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 3)
	fund(t, e, "alice", 10)

	_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
	require.NoError(t, err)

	// Outcome 2 wins with nobody staked on it.
	lockAndSettle(t, e, clock, ev, 2)

	res, err := e.Ledger.Claim("alice", ev.ID)
	require.NoError(t, err)
	assert.False(t, res.Won)
	assert.Equal(t, units(5), res.Forfeited)

	// The orphaned pool accrues to the operator's fee ledger.
	assert.Equal(t, units(5), e.Settler.Fees(ev.ID))
}

func TestConcurrentPlacementAcrossParticipants(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)

	const participants = 64
	for i := 0; i < participants; i++ {
		fund(t, e, fmt.Sprintf("p-%d", i), 10)
	}

	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Ledger.PlaceStake(fmt.Sprintf("p-%d", i), ev.ID, i%2, units(2))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	totals := e.Shards.Aggregate(ev.ID, 2)
	assert.Equal(t, int64(participants)*units(2), totals.TotalPool)
	assert.Equal(t, int64(participants), totals.Outcomes[0].BetCount+totals.Outcomes[1].BetCount)
}

func TestLockWaitsForInFlightPlacement(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 10)

	// Hold the admission lock the way a placement does between its
	// accepting check and its shard write.
	_, release, err := e.Registry.beginStake(ev.ID)
	require.NoError(t, err)

	clock.Advance(46 * time.Second)
	lockDone := make(chan error, 1)
	go func() { lockDone <- e.Registry.Lock(ev.ID) }()

	select {
	case err := <-lockDone:
		t.Fatalf("lock finished while a placement was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// The in-flight placement lands its shard write, then releases; only
	// now may the lock transition complete.
	e.Shards.RecordStake(ev.ID, 2, 0, "alice", units(5))
	release()
	require.NoError(t, <-lockDone)

	totals := e.Shards.Aggregate(ev.ID, 2)
	assert.Equal(t, units(5), totals.TotalPool)
}

func TestFrozenTotalsIncludeEveryAcceptedStake(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)

	const participants = 32
	for i := 0; i < participants; i++ {
		fund(t, e, fmt.Sprintf("p-%d", i), 10)
	}

	accepted := make(chan int64, participants)
	var wg sync.WaitGroup
	for i := 0; i < participants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.Ledger.PlaceStake(fmt.Sprintf("p-%d", i), ev.ID, i%2, units(2))
			if err == nil {
				accepted <- units(2)
				return
			}
			assert.ErrorIs(t, err, domain.ErrNotAcceptingStakes)
		}(i)
	}

	// Slam the window shut while placements are still racing in. Lock
	// blocks until every admitted placement has written its shard, so the
	// aggregate below must account for each stake whose funds were taken.
	time.Sleep(5 * time.Millisecond)
	clock.Advance(46 * time.Second)
	require.NoError(t, e.Registry.Lock(ev.ID))
	res, err := e.Settler.SettleBatch(t.Context(), settlerAdmin, []string{ev.ID}, []int{0}, nil)
	require.NoError(t, err)
	require.Empty(t, res.Failures)

	wg.Wait()
	close(accepted)

	var staked int64
	for a := range accepted {
		staked += a
	}
	totals, err := e.Settler.Totals(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, staked, totals.TotalPool)
}

func TestConcurrentPlacementSamePair(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 100)

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Ledger.PlaceStake("alice", ev.ID, 0, units(5))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			assert.ErrorIs(t, err, domain.ErrAlreadyStaked)
			dup++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dup)
	assert.Equal(t, units(5), e.Escrow.Balance("alice").Locked)
}
