package engine

import (
	"sync"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// grantSlot serializes spend accounting for one (owner, delegate) pair.
type grantSlot struct {
	mu sync.Mutex
	g  *domain.DelegationGrant
}

// Grants manages ephemeral spend-capped authorizations that let a helper
// identity place stakes on an owner's behalf.
type Grants struct {
	ledger *Ledger
	now    func() time.Time
	slots  sync.Map // owner + "\x00" + delegate -> *grantSlot
}

// NewGrants creates a delegation grant table bound to the wager ledger.
func NewGrants(ledger *Ledger, now func() time.Time) *Grants {
	if now == nil {
		now = time.Now
	}
	return &Grants{ledger: ledger, now: now}
}

func (g *Grants) slot(owner, delegate string) *grantSlot {
	key := owner + "\x00" + delegate
	if s, ok := g.slots.Load(key); ok {
		return s.(*grantSlot)
	}
	s, _ := g.slots.LoadOrStore(key, &grantSlot{})
	return s.(*grantSlot)
}

// Authorize creates (or overwrites) the grant for (owner, delegate).
func (g *Grants) Authorize(owner, delegate string, expiry time.Time, spendLimit int64, allowedEventID string) (domain.DelegationGrant, error) {
	if delegate == "" || delegate == owner {
		return domain.DelegationGrant{}, domain.ErrInvalidGrant
	}
	now := g.now()
	if !expiry.After(now) {
		return domain.DelegationGrant{}, domain.ErrInvalidGrant
	}
	if spendLimit <= 0 {
		return domain.DelegationGrant{}, domain.ErrInvalidGrant
	}

	s := g.slot(owner, delegate)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.g = &domain.DelegationGrant{
		Owner:          owner,
		Delegate:       delegate,
		Expiry:         expiry,
		SpendLimit:     spendLimit,
		AllowedEventID: allowedEventID,
		Active:         true,
		CreatedAt:      now,
	}
	return *s.g, nil
}

// Revoke deactivates the grant. Idempotent; revoking a missing grant is a
// no-op.
func (g *Grants) Revoke(owner, delegate string) {
	s := g.slot(owner, delegate)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.g != nil {
		s.g.Active = false
	}
}

// Get returns a snapshot of the grant for the pair, or ErrNotFound.
func (g *Grants) Get(owner, delegate string) (domain.DelegationGrant, error) {
	s := g.slot(owner, delegate)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.g == nil {
		return domain.DelegationGrant{}, domain.ErrNotFound
	}
	return *s.g, nil
}

// DelegatedPlaceStake places a stake under the owner's identity on the
// delegate's initiative. Every precondition failure yields its specific
// error and performs no state change; if the forwarded placement fails, the
// spend accounting is rolled back so a failed attempt never consumes grant
// budget.
func (g *Grants) DelegatedPlaceStake(delegate, owner, eventID string, outcomeIndex int, amount int64) (domain.Wager, error) {
	s := g.slot(owner, delegate)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.g == nil {
		return domain.Wager{}, domain.ErrGrantInactive
	}
	if err := s.g.Usable(g.now(), eventID, amount); err != nil {
		return domain.Wager{}, err
	}

	s.g.Spent += amount
	w, err := g.ledger.place(owner, delegate, eventID, outcomeIndex, amount)
	if err != nil {
		s.g.Spent -= amount
		return domain.Wager{}, err
	}
	return w, nil
}
