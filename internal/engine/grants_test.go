package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

func TestAuthorizeValidation(t *testing.T) {
	e, clock := newTestEngine(t)
	expiry := clock.Now().Add(time.Minute)

	_, err := e.Grants.Authorize("alice", "", expiry, units(10), "")
	assert.ErrorIs(t, err, domain.ErrInvalidGrant)

	_, err = e.Grants.Authorize("alice", "alice", expiry, units(10), "")
	assert.ErrorIs(t, err, domain.ErrInvalidGrant)

	_, err = e.Grants.Authorize("alice", "bot", clock.Now(), units(10), "")
	assert.ErrorIs(t, err, domain.ErrInvalidGrant)

	_, err = e.Grants.Authorize("alice", "bot", expiry, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidGrant)

	g, err := e.Grants.Authorize("alice", "bot", expiry, units(10), "")
	require.NoError(t, err)
	assert.Equal(t, "alice", g.Owner)
	assert.Equal(t, "bot", g.Delegate)
	assert.True(t, g.Active)
	assert.Equal(t, int64(0), g.Spent)
}

func TestDelegatedPlaceStake(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 20)

	_, err := e.Grants.Authorize("alice", "bot", clock.Now().Add(time.Minute), units(10), "")
	require.NoError(t, err)

	w, err := e.Grants.DelegatedPlaceStake("bot", "alice", ev.ID, 0, units(5))
	require.NoError(t, err)

	// The wager belongs to the owner and debits the owner's escrow.
	assert.Equal(t, "alice", w.Identity)
	assert.Equal(t, "bot", w.Delegate)
	assert.Equal(t, units(15), e.Escrow.Balance("alice").Available)
	assert.Equal(t, units(5), e.Escrow.Balance("alice").Locked)
	assert.Equal(t, int64(0), e.Escrow.Balance("bot").Locked)

	g, err := e.Grants.Get("alice", "bot")
	require.NoError(t, err)
	assert.Equal(t, units(5), g.Spent)
}

func TestDelegatedPlaceStakeSpendLimit(t *testing.T) {
	e, clock := newTestEngine(t)
	a := openEvent(t, e, clock, 2)
	b := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 100)

	_, err := e.Grants.Authorize("alice", "bot", clock.Now().Add(time.Minute), units(8), "")
	require.NoError(t, err)

	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", a.ID, 0, units(5))
	require.NoError(t, err)

	// Remaining budget is 3; a 5-unit stake exceeds it.
	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", b.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrSpendLimitExceeded)

	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", b.ID, 0, units(3))
	require.NoError(t, err)

	g, err := e.Grants.Get("alice", "bot")
	require.NoError(t, err)
	assert.Equal(t, units(8), g.Spent)
}

func TestDelegatedPlaceStakeExpiry(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 20)

	_, err := e.Grants.Authorize("alice", "bot", clock.Now().Add(10*time.Second), units(10), "")
	require.NoError(t, err)

	clock.Advance(11 * time.Second)
	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrGrantExpired)
}

func TestDelegatedPlaceStakeRevoked(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 20)

	_, err := e.Grants.Authorize("alice", "bot", clock.Now().Add(time.Minute), units(10), "")
	require.NoError(t, err)
	e.Grants.Revoke("alice", "bot")

	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrGrantInactive)

	// Revoking again, or revoking a grant that never existed, is harmless.
	e.Grants.Revoke("alice", "bot")
	e.Grants.Revoke("alice", "stranger")

	// No grant at all reads as inactive too.
	_, err = e.Grants.DelegatedPlaceStake("stranger", "alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrGrantInactive)
}

func TestDelegatedPlaceStakeEventRestriction(t *testing.T) {
	e, clock := newTestEngine(t)
	allowed := openEvent(t, e, clock, 2)
	other := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 20)

	_, err := e.Grants.Authorize("alice", "bot", clock.Now().Add(time.Minute), units(10), allowed.ID)
	require.NoError(t, err)

	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", other.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrEventNotAllowed)

	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", allowed.ID, 0, units(5))
	assert.NoError(t, err)
}

func TestDelegatedPlaceStakeRollsBackSpendOnFailure(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	// Owner has no funds, so the forwarded placement fails.

	_, err := e.Grants.Authorize("alice", "bot", clock.Now().Add(time.Minute), units(10), "")
	require.NoError(t, err)

	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", ev.ID, 0, units(5))
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailable)

	// The failed attempt consumed no grant budget.
	g, err := e.Grants.Get("alice", "bot")
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.Spent)

	// Funded retry succeeds with the full budget intact.
	fund(t, e, "alice", 20)
	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", ev.ID, 0, units(10))
	assert.NoError(t, err)
}

func TestAuthorizeOverwriteResetsGrant(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)
	fund(t, e, "alice", 20)

	_, err := e.Grants.Authorize("alice", "bot", clock.Now().Add(time.Minute), units(5), "")
	require.NoError(t, err)
	_, err = e.Grants.DelegatedPlaceStake("bot", "alice", ev.ID, 0, units(5))
	require.NoError(t, err)

	// Re-authorization issues a fresh budget.
	_, err = e.Grants.Authorize("alice", "bot", clock.Now().Add(time.Minute), units(5), "")
	require.NoError(t, err)

	g, err := e.Grants.Get("alice", "bot")
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.Spent)
}

func TestGrantsGetMissing(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Grants.Get("alice", "bot")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
