package engine

import (
	"sync"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// escrowAccount holds one participant's balances behind its own mutex, so
// operations on different identities never block each other.
type escrowAccount struct {
	mu        sync.Mutex
	available int64
	locked    int64
	updatedAt time.Time
}

// Escrow is the per-participant available/locked balance ledger. Lock,
// Unlock, CreditWinnings, and DebitLocked are reserved for engine-authorized
// callers; the wager and settlement paths inside this package use the
// unexported equivalents directly.
type Escrow struct {
	authz    *Authz
	now      func() time.Time
	accounts sync.Map // identity -> *escrowAccount
}

// NewEscrow creates an empty escrow ledger.
func NewEscrow(authz *Authz, now func() time.Time) *Escrow {
	if now == nil {
		now = time.Now
	}
	return &Escrow{authz: authz, now: now}
}

func (e *Escrow) account(identity string) *escrowAccount {
	if acct, ok := e.accounts.Load(identity); ok {
		return acct.(*escrowAccount)
	}
	acct, _ := e.accounts.LoadOrStore(identity, &escrowAccount{})
	return acct.(*escrowAccount)
}

// Deposit adds amount to the identity's available balance.
func (e *Escrow) Deposit(identity string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	acct := e.account(identity)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.available += amount
	acct.updatedAt = e.now()
	return nil
}

// Withdraw removes amount from the identity's available balance.
func (e *Escrow) Withdraw(identity string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	acct := e.account(identity)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if amount > acct.available {
		return domain.ErrInsufficientAvailable
	}
	acct.available -= amount
	acct.updatedAt = e.now()
	return nil
}

// Lock moves amount from available to locked. Engine-ops capability required.
func (e *Escrow) Lock(caller, identity string, amount int64) error {
	if err := e.authz.require(RoleEngineOps, caller); err != nil {
		return err
	}
	return e.lock(identity, amount)
}

// Unlock moves amount from locked back to available. Engine-ops capability
// required.
func (e *Escrow) Unlock(caller, identity string, amount int64) error {
	if err := e.authz.require(RoleEngineOps, caller); err != nil {
		return err
	}
	return e.unlock(identity, amount)
}

// CreditWinnings adds amount directly to available. The funds are already
// accounted for in the pool, so there is no funding-source check. Engine-ops
// capability required.
func (e *Escrow) CreditWinnings(caller, identity string, amount int64) error {
	if err := e.authz.require(RoleEngineOps, caller); err != nil {
		return err
	}
	return e.credit(identity, amount)
}

// DebitLocked removes amount from locked without crediting it elsewhere;
// used when a losing stake is forfeited to the pool. Engine-ops capability
// required.
func (e *Escrow) DebitLocked(caller, identity string, amount int64) error {
	if err := e.authz.require(RoleEngineOps, caller); err != nil {
		return err
	}
	return e.debitLocked(identity, amount)
}

// Balance returns a snapshot of the identity's balances. Unknown identities
// report zero balances.
func (e *Escrow) Balance(identity string) domain.Account {
	acct := e.account(identity)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return domain.Account{
		Identity:  identity,
		Available: acct.available,
		Locked:    acct.locked,
		UpdatedAt: acct.updatedAt,
	}
}

func (e *Escrow) lock(identity string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	acct := e.account(identity)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if amount > acct.available {
		return domain.ErrInsufficientAvailable
	}
	acct.available -= amount
	acct.locked += amount
	acct.updatedAt = e.now()
	return nil
}

func (e *Escrow) unlock(identity string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	acct := e.account(identity)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if amount > acct.locked {
		return domain.ErrInsufficientLocked
	}
	acct.locked -= amount
	acct.available += amount
	acct.updatedAt = e.now()
	return nil
}

func (e *Escrow) credit(identity string, amount int64) error {
	if amount < 0 {
		return domain.ErrInvalidAmount
	}
	if amount == 0 {
		return nil
	}
	acct := e.account(identity)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	acct.available += amount
	acct.updatedAt = e.now()
	return nil
}

func (e *Escrow) debitLocked(identity string, amount int64) error {
	if amount <= 0 {
		return domain.ErrInvalidAmount
	}
	acct := e.account(identity)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if amount > acct.locked {
		return domain.ErrInsufficientLocked
	}
	acct.locked -= amount
	acct.updatedAt = e.now()
	return nil
}
