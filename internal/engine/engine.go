// Package engine implements the in-process micro-wager accounting core: the
// escrow ledger, event lifecycle state machine, concurrency-partitioned pool
// shard table, wager ledger, settlement orchestrator, and delegation grants.
//
// Isolation granularity follows one rule: single writer at a time per key
// (account, wager pair, shard counter), full concurrency across keys. Every
// lock is short-held except two: the wager slot mutex of the pair being
// placed or claimed, and the event read lock a placement holds from its
// accepting check through its shard write so the Locked transition waits out
// in-flight stakes.
package engine

import "time"

// Config carries the engine's construction parameters.
type Config struct {
	// Admins names the administrator identity per role. Roles without an
	// admin cannot be granted.
	Admins map[Role]string
	// Oracle is the optional batch price refresher used by the settler.
	Oracle PriceRefresher
	// Clock overrides time.Now, used by tests to pin event windows.
	Clock func() time.Time
}

// Engine bundles the core components wired against a shared authorization
// service, escrow ledger, and totals table.
type Engine struct {
	Authz    *Authz
	Escrow   *Escrow
	Registry *Registry
	Shards   *ShardTable
	Ledger   *Ledger
	Settler  *Settler
	Grants   *Grants
}

// New constructs a fully wired engine.
func New(cfg Config) *Engine {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	authz := NewAuthz(cfg.Admins)
	escrow := NewEscrow(authz, clock)
	registry := NewRegistry(authz, clock)
	shards := NewShardTable()
	totals := newTotalsTable()
	ledger := NewLedger(registry, escrow, shards, totals, clock)
	settler := NewSettler(authz, registry, shards, totals, escrow, cfg.Oracle, clock)
	grants := NewGrants(ledger, clock)

	return &Engine{
		Authz:    authz,
		Escrow:   escrow,
		Registry: registry,
		Shards:   shards,
		Ledger:   ledger,
		Settler:  settler,
		Grants:   grants,
	}
}
