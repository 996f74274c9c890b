package domain

import "time"

// DelegationGrant is an ephemeral, spend-capped authorization letting a
// delegate place stakes on the owner's behalf. Spent never exceeds
// SpendLimit; the grant is usable only while Active and before Expiry.
type DelegationGrant struct {
	Owner          string
	Delegate       string
	Expiry         time.Time
	SpendLimit     int64
	Spent          int64
	AllowedEventID string // empty means any event
	Active         bool
	CreatedAt      time.Time
}

// Usable reports whether the grant can authorize a stake of amount on eventID
// at the given instant. It returns nil or the specific precondition error.
func (g DelegationGrant) Usable(now time.Time, eventID string, amount int64) error {
	if !g.Active {
		return ErrGrantInactive
	}
	if !now.Before(g.Expiry) {
		return ErrGrantExpired
	}
	if g.Spent+amount > g.SpendLimit {
		return ErrSpendLimitExceeded
	}
	if g.AllowedEventID != "" && g.AllowedEventID != eventID {
		return ErrEventNotAllowed
	}
	return nil
}
