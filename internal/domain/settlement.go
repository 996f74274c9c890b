package domain

import "time"

// HouseFeeRateBps is the house fee on gross winnings, in basis points.
const HouseFeeRateBps int64 = 200

// FeeScale is the basis-point denominator for fee arithmetic.
const FeeScale int64 = 10_000

// MaxSettlementBatch bounds the per-call cost of a settlement batch.
const MaxSettlementBatch = 50

// BatchFailure records one event that could not be settled or voided within
// a batch. Failures are isolated per item; the batch continues.
type BatchFailure struct {
	EventID string
	Reason  string
}

// BatchResult is the outcome of one settlement or void batch.
type BatchResult struct {
	BatchID     string
	Settled     []string
	Failures    []BatchFailure
	CompletedAt time.Time
}

// SettlementRecord is the durable record of one settled or voided event.
type SettlementRecord struct {
	EventID        string
	BatchID        string
	WinningOutcome int
	TotalPool      int64
	WinningTotal   int64
	Voided         bool
	SettledAt      time.Time
}
