package engine

import (
	"sync"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// Role names a capability class within the engine.
type Role string

const (
	// RoleScheduler identities may create events.
	RoleScheduler Role = "scheduler"
	// RoleSettler identities may settle and void batches.
	RoleSettler Role = "settler"
	// RoleEngineOps identities may lock/unlock/credit/debit escrow and
	// collect accrued fees.
	RoleEngineOps Role = "engine"
)

// Authz is the capability allowlist injected into the core components. Each
// role has a single designated administrator who may grant and revoke
// membership; administrators are implicitly members of their own role.
type Authz struct {
	mu     sync.RWMutex
	admins map[Role]string
	allow  map[Role]map[string]bool
}

// NewAuthz creates an Authz with the given per-role administrators.
func NewAuthz(admins map[Role]string) *Authz {
	a := &Authz{
		admins: make(map[Role]string, len(admins)),
		allow:  make(map[Role]map[string]bool),
	}
	for role, admin := range admins {
		a.admins[role] = admin
		a.allow[role] = make(map[string]bool)
	}
	return a
}

// Grant adds identity to the role's allowlist. Only the role administrator
// may grant.
func (a *Authz) Grant(caller string, role Role, identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admins[role] == "" || a.admins[role] != caller {
		return domain.ErrUnauthorized
	}
	a.allow[role][identity] = true
	return nil
}

// Revoke removes identity from the role's allowlist. Idempotent.
func (a *Authz) Revoke(caller string, role Role, identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.admins[role] == "" || a.admins[role] != caller {
		return domain.ErrUnauthorized
	}
	delete(a.allow[role], identity)
	return nil
}

// Allowed reports whether identity holds the role.
func (a *Authz) Allowed(role Role, identity string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.admins[role] == identity {
		return true
	}
	return a.allow[role][identity]
}

// require returns ErrUnauthorized unless identity holds the role.
func (a *Authz) require(role Role, identity string) error {
	if !a.Allowed(role, identity) {
		return domain.ErrUnauthorized
	}
	return nil
}
