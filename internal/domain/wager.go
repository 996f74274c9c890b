package domain

import "time"

// Stake bounds in micro-units.
const (
	MinStake int64 = 1 * AmountScale             // 1 unit
	MaxStake int64 = 1_000_000 * AmountScale     // 1M units
)

// Wager is a participant's commitment of funds to one outcome of one event.
// At most one Wager exists per (identity, event) pair. Settled flips
// false -> true exactly once, on successful claim.
type Wager struct {
	Identity     string
	EventID      string
	Amount       int64
	OutcomeIndex int
	PlacedAt     time.Time
	Settled      bool
	Payout       int64 // micro-units credited on claim; 0 for losers and refund-pending voids
	Delegate     string // set when placed through a delegation grant
}
