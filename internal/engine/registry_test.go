package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

func TestRegistryCreateWindowBounds(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	cases := []struct {
		name   string
		window time.Duration
		ok     bool
	}{
		{"below minimum", 29 * time.Second, false},
		{"at minimum", 30 * time.Second, true},
		{"at maximum", 60 * time.Second, true},
		{"above maximum", 61 * time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Registry.Create(schedAdmin, "feed/x", now, now.Add(tc.window), 2, "")
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrBadWindow)
			}
		})
	}
}

func TestRegistryCreateOutcomeCountBounds(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	_, err := e.Registry.Create(schedAdmin, "feed/x", now, now.Add(45*time.Second), 1, "")
	assert.ErrorIs(t, err, domain.ErrBadOutcomeCount)

	_, err = e.Registry.Create(schedAdmin, "feed/x", now, now.Add(45*time.Second), 11, "")
	assert.ErrorIs(t, err, domain.ErrBadOutcomeCount)

	ev, err := e.Registry.Create(schedAdmin, "feed/x", now, now.Add(45*time.Second), 10, "")
	require.NoError(t, err)
	assert.Equal(t, 10, ev.OutcomeCount)
	assert.Equal(t, -1, ev.WinningOutcome)
}

func TestRegistryCreateRejectsPastOpen(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	_, err := e.Registry.Create(schedAdmin, "feed/x", now.Add(-time.Second), now.Add(44*time.Second), 2, "")
	assert.ErrorIs(t, err, domain.ErrOpenInPast)
}

func TestRegistryCreateRequiresScheduler(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	_, err := e.Registry.Create("mallory", "feed/x", now, now.Add(45*time.Second), 2, "")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	require.NoError(t, e.Authz.Grant(schedAdmin, RoleScheduler, "cron"))
	_, err = e.Registry.Create("cron", "feed/x", now, now.Add(45*time.Second), 2, "")
	assert.NoError(t, err)
}

func TestRegistryIdentifiersAreUnique(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	// Identical creation tuples still yield distinct identifiers.
	a, err := e.Registry.Create(schedAdmin, "feed/x", now, now.Add(45*time.Second), 2, "")
	require.NoError(t, err)
	b, err := e.Registry.Create(schedAdmin, "feed/x", now, now.Add(45*time.Second), 2, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestRegistryLockLifecycle(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)

	// Cannot lock while the window is open.
	assert.ErrorIs(t, e.Registry.Lock(ev.ID), domain.ErrWindowStillOpen)

	clock.Advance(45 * time.Second)
	require.NoError(t, e.Registry.Lock(ev.ID))

	got, err := e.Registry.Get(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusLocked, got.Status)

	// A second lock fails cleanly.
	assert.ErrorIs(t, e.Registry.Lock(ev.ID), domain.ErrEventNotOpen)
}

func TestRegistrySettlePreconditions(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 3)

	// Open events cannot settle.
	assert.ErrorIs(t, e.Registry.settle(settlerAdmin, ev.ID, 0), domain.ErrEventNotLocked)

	clock.Advance(45 * time.Second)
	require.NoError(t, e.Registry.Lock(ev.ID))

	assert.ErrorIs(t, e.Registry.settle("mallory", ev.ID, 0), domain.ErrUnauthorized)
	assert.ErrorIs(t, e.Registry.settle(settlerAdmin, ev.ID, 3), domain.ErrInvalidOutcome)
	assert.ErrorIs(t, e.Registry.settle(settlerAdmin, ev.ID, -1), domain.ErrInvalidOutcome)

	require.NoError(t, e.Registry.settle(settlerAdmin, ev.ID, 1))

	got, err := e.Registry.Get(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusSettled, got.Status)
	assert.Equal(t, 1, got.WinningOutcome)
	require.NotNil(t, got.SettledAt)

	// Settlement is final.
	assert.ErrorIs(t, e.Registry.settle(settlerAdmin, ev.ID, 0), domain.ErrEventNotLocked)
}

func TestRegistryVoid(t *testing.T) {
	e, clock := newTestEngine(t)
	ev := openEvent(t, e, clock, 2)

	assert.ErrorIs(t, e.Registry.Void("mallory", ev.ID), domain.ErrUnauthorized)

	// Void is allowed straight from Open.
	require.NoError(t, e.Registry.Void(settlerAdmin, ev.ID))

	got, err := e.Registry.Get(ev.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusVoided, got.Status)

	// Terminal events cannot be voided again or settled.
	assert.ErrorIs(t, e.Registry.Void(settlerAdmin, ev.ID), domain.ErrEventTerminal)
	assert.ErrorIs(t, e.Registry.settle(settlerAdmin, ev.ID, 0), domain.ErrEventNotLocked)
}

func TestRegistryUnknownEvent(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Registry.Get("missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
	assert.ErrorIs(t, e.Registry.Lock("missing"), domain.ErrEventNotFound)
	assert.False(t, e.Registry.IsAcceptingStakes("missing"))
}

func TestRegistryAcceptingWindow(t *testing.T) {
	e, clock := newTestEngine(t)
	now := clock.Now()

	ev, err := e.Registry.Create(schedAdmin, "feed/x", now.Add(10*time.Second), now.Add(55*time.Second), 2, "")
	require.NoError(t, err)

	// Before the window opens.
	assert.False(t, e.Registry.IsAcceptingStakes(ev.ID))

	clock.Advance(10 * time.Second)
	assert.True(t, e.Registry.IsAcceptingStakes(ev.ID))

	// At closeAt the window is shut even before anyone locks the event.
	clock.Advance(45 * time.Second)
	assert.False(t, e.Registry.IsAcceptingStakes(ev.ID))
}

func TestRegistryListByStatus(t *testing.T) {
	e, clock := newTestEngine(t)

	a := openEvent(t, e, clock, 2)
	b := openEvent(t, e, clock, 2)
	_ = openEvent(t, e, clock, 2)

	clock.Advance(45 * time.Second)
	require.NoError(t, e.Registry.Lock(a.ID))
	require.NoError(t, e.Registry.Lock(b.ID))

	assert.Len(t, e.Registry.ListByStatus(domain.EventStatusLocked), 2)
	assert.Len(t, e.Registry.ListByStatus(domain.EventStatusOpen), 1)
	assert.Empty(t, e.Registry.ListByStatus(domain.EventStatusSettled))
}
