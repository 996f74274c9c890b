package domain

import "time"

// EventStatus tracks the event lifecycle. Status only moves forward through
// Open -> Locked -> Settled|Voided (Open -> Voided is also allowed) and an
// identifier is never reused once terminal.
type EventStatus string

const (
	EventStatusOpen    EventStatus = "open"
	EventStatusLocked  EventStatus = "locked"
	EventStatusSettled EventStatus = "settled"
	EventStatusVoided  EventStatus = "voided"
)

// Terminal reports whether the status admits no further transitions.
func (s EventStatus) Terminal() bool {
	return s == EventStatusSettled || s == EventStatusVoided
}

// Betting window bounds enforced at event creation.
const (
	MinEventWindow = 30 * time.Second
	MaxEventWindow = 60 * time.Second
)

// Outcome count bounds enforced at event creation.
const (
	MinOutcomeCount = 2
	MaxOutcomeCount = 10
)

// Event is a short-lived betting event. The identifier is a content-derived
// hash of (feedRef, openAt, closeAt, per-creator sequence), so creation is
// independent across creators.
type Event struct {
	ID             string
	FeedRef        string
	Creator        string
	OpenAt         time.Time
	CloseAt        time.Time
	SettledAt      *time.Time
	Status         EventStatus
	OutcomeCount   int
	WinningOutcome int // valid only when Status == EventStatusSettled
	AttestationRef string
	CreatedAt      time.Time
}

// Accepting reports whether the event accepts stakes at the given instant.
func (e Event) Accepting(now time.Time) bool {
	return e.Status == EventStatusOpen && !now.Before(e.OpenAt) && now.Before(e.CloseAt)
}
