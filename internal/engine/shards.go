package engine

import (
	"sync"
	"sync/atomic"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// shard is one independent counter. Both fields are incremented atomically,
// so same-shard collisions serialize at the hardware level and never fail.
type shard struct {
	totalStaked atomic.Int64
	betCount    atomic.Int64
}

// eventPools holds the full shard grid for one event: outcomeCount rows of
// domain.ShardCount counters each.
type eventPools struct {
	outcomes [][]shard
}

// ShardTable is the per-event, per-outcome array of stake counters. A stake
// write lands in exactly one shard chosen by a hash of the participant
// identity, bounding write contention: two arbitrary concurrent participants
// collide with probability 1/ShardCount.
type ShardTable struct {
	pools sync.Map // eventID -> *eventPools
}

// NewShardTable creates an empty shard table.
func NewShardTable() *ShardTable {
	return &ShardTable{}
}

// ShardIndex maps an identity uniformly onto [0, ShardCount) using the low
// 4 bits of its keccak256 hash. The function is fixed: the same identity
// always lands in the same shard.
func ShardIndex(identity string) int {
	sum := ethcrypto.Keccak256([]byte(identity))
	return int(sum[len(sum)-1] & (domain.ShardCount - 1))
}

func (t *ShardTable) poolsFor(eventID string, outcomeCount int) *eventPools {
	if p, ok := t.pools.Load(eventID); ok {
		return p.(*eventPools)
	}
	fresh := &eventPools{outcomes: make([][]shard, outcomeCount)}
	for i := range fresh.outcomes {
		fresh.outcomes[i] = make([]shard, domain.ShardCount)
	}
	p, _ := t.pools.LoadOrStore(eventID, fresh)
	return p.(*eventPools)
}

// RecordStake increments the single shard ShardIndex(identity) of the given
// (event, outcome). It never touches other shards.
func (t *ShardTable) RecordStake(eventID string, outcomeCount, outcomeIndex int, identity string, amount int64) {
	p := t.poolsFor(eventID, outcomeCount)
	s := &p.outcomes[outcomeIndex][ShardIndex(identity)]
	s.totalStaked.Add(amount)
	s.betCount.Add(1)
}

// Aggregate sums all shards for each outcome into final totals, plus the
// whole-event total. It is the only path that reads every shard and runs
// exactly once per event, during settlement, after the event is Locked, so
// it never races with shard writers for that event.
func (t *ShardTable) Aggregate(eventID string, outcomeCount int) domain.EventTotals {
	totals := domain.EventTotals{
		EventID:        eventID,
		Outcomes:       make([]domain.OutcomeTotal, outcomeCount),
		WinningOutcome: -1,
	}
	p, ok := t.pools.Load(eventID)
	if !ok {
		return totals // no stakes were ever placed
	}
	pools := p.(*eventPools)
	for i := 0; i < outcomeCount && i < len(pools.outcomes); i++ {
		for j := range pools.outcomes[i] {
			s := &pools.outcomes[i][j]
			totals.Outcomes[i].TotalStaked += s.totalStaked.Load()
			totals.Outcomes[i].BetCount += s.betCount.Load()
		}
		totals.TotalPool += totals.Outcomes[i].TotalStaked
	}
	return totals
}

// Snapshot returns a copy of the 16 shard counters for an (event, outcome),
// mainly for inspection and tests. It returns nil when the event has no pool.
func (t *ShardTable) Snapshot(eventID string, outcomeIndex int) []domain.ShardCounter {
	p, ok := t.pools.Load(eventID)
	if !ok {
		return nil
	}
	pools := p.(*eventPools)
	if outcomeIndex < 0 || outcomeIndex >= len(pools.outcomes) {
		return nil
	}
	out := make([]domain.ShardCounter, domain.ShardCount)
	for j := range pools.outcomes[outcomeIndex] {
		s := &pools.outcomes[outcomeIndex][j]
		out[j] = domain.ShardCounter{
			TotalStaked: s.totalStaked.Load(),
			BetCount:    s.betCount.Load(),
		}
	}
	return out
}

// Drop releases the shard grid for an event after it has been settled and
// archived.
func (t *ShardTable) Drop(eventID string) {
	t.pools.Delete(eventID)
}
