package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// Admin identities used across the engine tests.
const (
	schedAdmin   = "sched-admin"
	settlerAdmin = "settler-admin"
	opsAdmin     = "ops-admin"
)

// fakeClock is a settable clock so tests can pin event windows.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	e := New(Config{
		Admins: map[Role]string{
			RoleScheduler: schedAdmin,
			RoleSettler:   settlerAdmin,
			RoleEngineOps: opsAdmin,
		},
		Clock: clock.Now,
	})
	return e, clock
}

// openEvent creates an event whose window starts now and runs for 45s.
func openEvent(t *testing.T, e *Engine, clock *fakeClock, outcomes int) domain.Event {
	t.Helper()
	now := clock.Now()
	ev, err := e.Registry.Create(schedAdmin, "feed/btc-usd", now, now.Add(45*time.Second), outcomes, "")
	require.NoError(t, err)
	return ev
}

// fund deposits the given number of display units into an account.
func fund(t *testing.T, e *Engine, identity string, units int64) {
	t.Helper()
	require.NoError(t, e.Escrow.Deposit(identity, units*domain.AmountScale))
}

// lockAndSettle closes the window, locks the event, and settles it with the
// given winning outcome.
func lockAndSettle(t *testing.T, e *Engine, clock *fakeClock, ev domain.Event, winning int) {
	t.Helper()
	clock.Advance(46 * time.Second)
	require.NoError(t, e.Registry.Lock(ev.ID))
	res, err := e.Settler.SettleBatch(t.Context(), settlerAdmin, []string{ev.ID}, []int{winning}, nil)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
}

func units(n float64) int64 {
	return int64(n * float64(domain.AmountScale))
}
