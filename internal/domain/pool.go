package domain

// ShardCount is the number of independent counters per (event, outcome).
// Concurrent stakers hashed to different shards proceed with zero contention;
// same-shard collisions serialize briefly but never fail.
const ShardCount = 16

// ShardCounter is one of the ShardCount counters for an (event, outcome).
// Written only during stake placement and read only during settlement
// aggregation; never decremented.
type ShardCounter struct {
	TotalStaked int64
	BetCount    int64
}

// OutcomeTotal is the aggregated pool for one outcome, written exactly once
// per event during settlement and never mutated afterward.
type OutcomeTotal struct {
	TotalStaked int64
	BetCount    int64
}

// EventTotals holds the final per-outcome and whole-event pool aggregates for
// a settled event.
type EventTotals struct {
	EventID        string
	Outcomes       []OutcomeTotal
	TotalPool      int64
	WinningOutcome int
}

// WinningTotal returns the aggregated stake on the winning outcome.
func (t EventTotals) WinningTotal() int64 {
	if t.WinningOutcome < 0 || t.WinningOutcome >= len(t.Outcomes) {
		return 0
	}
	return t.Outcomes[t.WinningOutcome].TotalStaked
}
