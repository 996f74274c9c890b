// Package domain defines the core types, errors, and persistence interfaces
// for the flashpool wager engine.
package domain

import "time"

// AmountScale is the fixed-point scale for all monetary amounts: one display
// unit equals 1e6 micro-units. All arithmetic is integer-only.
const AmountScale int64 = 1_000_000

// Account holds a participant's escrow balances in micro-units. Locked funds
// back open wagers and only move via engine-authorized lock/unlock/debit
// operations, never directly by the account owner.
type Account struct {
	Identity  string
	Available int64
	Locked    int64
	UpdatedAt time.Time
}

// AvailableUnits returns the display value of the available balance.
func (a Account) AvailableUnits() float64 {
	return float64(a.Available) / float64(AmountScale)
}

// LockedUnits returns the display value of the locked balance.
func (a Account) LockedUnits() float64 {
	return float64(a.Locked) / float64(AmountScale)
}
