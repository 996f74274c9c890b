package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore journals escrow balances. The engine is the source of truth;
// the store provides durability and history for the presentation layer.
type AccountStore interface {
	Upsert(ctx context.Context, acct Account) error
	GetByIdentity(ctx context.Context, identity string) (Account, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists event lifecycle records.
type EventStore interface {
	Insert(ctx context.Context, ev Event) error
	UpdateStatus(ctx context.Context, id string, status EventStatus, winningOutcome int) error
	GetByID(ctx context.Context, id string) (Event, error)
	ListByStatus(ctx context.Context, status EventStatus, opts ListOpts) ([]Event, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Event, error)
}

// WagerStore persists wager records.
type WagerStore interface {
	Insert(ctx context.Context, w Wager) error
	MarkSettled(ctx context.Context, identity, eventID string, payout int64) error
	GetByPair(ctx context.Context, identity, eventID string) (Wager, error)
	ListByEvent(ctx context.Context, eventID string, opts ListOpts) ([]Wager, error)
	ListByIdentity(ctx context.Context, identity string, opts ListOpts) ([]Wager, error)
	ListSettledBefore(ctx context.Context, before time.Time) ([]Wager, error)
	DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error)
}

// SettlementStore persists settlement outcomes and the per-event fee ledger.
type SettlementStore interface {
	InsertRecord(ctx context.Context, rec SettlementRecord) error
	InsertBatch(ctx context.Context, res BatchResult) error
	GetRecord(ctx context.Context, eventID string) (SettlementRecord, error)
	ListRecent(ctx context.Context, limit int) ([]SettlementRecord, error)
	AddFees(ctx context.Context, eventID string, amount int64) error
	GetFees(ctx context.Context, eventID string) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
