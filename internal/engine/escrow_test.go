package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

func TestEscrowDepositWithdrawRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Escrow.Deposit("alice", units(100)))
	require.NoError(t, e.Escrow.Withdraw("alice", units(40)))

	bal := e.Escrow.Balance("alice")
	assert.Equal(t, units(60), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)
}

func TestEscrowWithdrawInsufficient(t *testing.T) {
	e, _ := newTestEngine(t)

	require.NoError(t, e.Escrow.Deposit("alice", units(10)))
	err := e.Escrow.Withdraw("alice", units(11))
	assert.ErrorIs(t, err, domain.ErrInsufficientAvailable)

	// Balance unchanged after the failed withdrawal.
	assert.Equal(t, units(10), e.Escrow.Balance("alice").Available)
}

func TestEscrowRejectsNonPositiveAmounts(t *testing.T) {
	e, _ := newTestEngine(t)

	assert.ErrorIs(t, e.Escrow.Deposit("alice", 0), domain.ErrInvalidAmount)
	assert.ErrorIs(t, e.Escrow.Deposit("alice", -1), domain.ErrInvalidAmount)
	assert.ErrorIs(t, e.Escrow.Withdraw("alice", 0), domain.ErrInvalidAmount)
	assert.ErrorIs(t, e.Escrow.Withdraw("alice", -units(5)), domain.ErrInvalidAmount)
}

func TestEscrowLockUnlock(t *testing.T) {
	e, _ := newTestEngine(t)
	fund(t, e, "alice", 50)

	require.NoError(t, e.Escrow.Lock(opsAdmin, "alice", units(30)))
	bal := e.Escrow.Balance("alice")
	assert.Equal(t, units(20), bal.Available)
	assert.Equal(t, units(30), bal.Locked)

	// Locked funds cannot be withdrawn.
	assert.ErrorIs(t, e.Escrow.Withdraw("alice", units(21)), domain.ErrInsufficientAvailable)

	require.NoError(t, e.Escrow.Unlock(opsAdmin, "alice", units(30)))
	bal = e.Escrow.Balance("alice")
	assert.Equal(t, units(50), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)
}

func TestEscrowLockInsufficient(t *testing.T) {
	e, _ := newTestEngine(t)
	fund(t, e, "alice", 5)

	assert.ErrorIs(t, e.Escrow.Lock(opsAdmin, "alice", units(6)), domain.ErrInsufficientAvailable)
	assert.ErrorIs(t, e.Escrow.Unlock(opsAdmin, "alice", units(1)), domain.ErrInsufficientLocked)
	assert.ErrorIs(t, e.Escrow.DebitLocked(opsAdmin, "alice", units(1)), domain.ErrInsufficientLocked)
}

func TestEscrowPrivilegedOpsRequireCapability(t *testing.T) {
	e, _ := newTestEngine(t)
	fund(t, e, "alice", 50)

	assert.ErrorIs(t, e.Escrow.Lock("mallory", "alice", units(10)), domain.ErrUnauthorized)
	assert.ErrorIs(t, e.Escrow.Unlock("mallory", "alice", units(10)), domain.ErrUnauthorized)
	assert.ErrorIs(t, e.Escrow.CreditWinnings("mallory", "mallory", units(10)), domain.ErrUnauthorized)
	assert.ErrorIs(t, e.Escrow.DebitLocked("mallory", "alice", units(10)), domain.ErrUnauthorized)

	// A granted identity may use them.
	require.NoError(t, e.Authz.Grant(opsAdmin, RoleEngineOps, "worker"))
	assert.NoError(t, e.Escrow.Lock("worker", "alice", units(10)))
}

func TestEscrowUnknownIdentityReportsZero(t *testing.T) {
	e, _ := newTestEngine(t)

	bal := e.Escrow.Balance("nobody")
	assert.Equal(t, int64(0), bal.Available)
	assert.Equal(t, int64(0), bal.Locked)
}

func TestEscrowConcurrentDeposits(t *testing.T) {
	e, _ := newTestEngine(t)

	const workers = 32
	const perWorker = 100

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = e.Escrow.Deposit("shared", 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(workers*perWorker), e.Escrow.Balance("shared").Available)
}
