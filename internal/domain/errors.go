package domain

import "errors"

// Validation errors. Reported synchronously; the engine never retries these.
var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrStakeTooSmall   = errors.New("stake below minimum")
	ErrStakeTooLarge   = errors.New("stake above maximum")
	ErrInvalidOutcome  = errors.New("invalid outcome index")
	ErrBadWindow       = errors.New("betting window outside allowed range")
	ErrBadOutcomeCount = errors.New("outcome count outside allowed range")
	ErrOpenInPast      = errors.New("open time is in the past")
	ErrLengthMismatch  = errors.New("event and outcome list lengths differ")
	ErrBatchTooLarge   = errors.New("settlement batch too large")
)

// State-precondition errors. The caller may retry after the precondition
// changes.
var (
	ErrInsufficientAvailable = errors.New("insufficient available balance")
	ErrInsufficientLocked    = errors.New("insufficient locked balance")
	ErrEventExists           = errors.New("event already exists")
	ErrEventNotFound         = errors.New("event not found")
	ErrEventNotOpen          = errors.New("event not open")
	ErrEventNotLocked        = errors.New("event not locked")
	ErrWindowStillOpen       = errors.New("betting window still open")
	ErrEventTerminal         = errors.New("event already settled or voided")
	ErrNotAcceptingStakes    = errors.New("event not accepting stakes")
	ErrAlreadyStaked         = errors.New("wager already placed for this event")
	ErrNoWager               = errors.New("no wager for this event")
	ErrAlreadySettled        = errors.New("wager already settled")
	ErrNotReadyToClaim       = errors.New("event not ready to claim")
)

// Delegation grant errors.
var (
	ErrInvalidGrant       = errors.New("invalid grant parameters")
	ErrGrantInactive      = errors.New("grant inactive")
	ErrGrantExpired       = errors.New("grant expired")
	ErrSpendLimitExceeded = errors.New("grant spend limit exceeded")
	ErrEventNotAllowed    = errors.New("event not allowed by grant")
)

// Infrastructure and authorization errors.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrLockHeld         = errors.New("lock already held")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrNonceReplayed    = errors.New("nonce already used")
	ErrStalePrice       = errors.New("price outside staleness bound")
	ErrUntrustedModel   = errors.New("model not trusted")
)
