package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

var _ domain.SettlementStore = (*SettlementStore)(nil)

// InsertRecord writes one event's settlement outcome.
func (s *SettlementStore) InsertRecord(ctx context.Context, rec domain.SettlementRecord) error {
	const query = `
		INSERT INTO settlements (event_id, batch_id, winning_outcome, total_pool, winning_total, voided, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		rec.EventID, rec.BatchID, rec.WinningOutcome, rec.TotalPool, rec.WinningTotal, rec.Voided, rec.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement %s: %w", rec.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadySettled
	}
	return nil
}

// InsertBatch writes the batch summary including per-event failures.
func (s *SettlementStore) InsertBatch(ctx context.Context, res domain.BatchResult) error {
	failuresJSON, err := json.Marshal(res.Failures)
	if err != nil {
		return fmt.Errorf("postgres: marshal batch failures: %w", err)
	}

	const query = `
		INSERT INTO settlement_batches (batch_id, settled_count, failure_count, failures, completed_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.pool.Exec(ctx, query,
		res.BatchID, len(res.Settled), len(res.Failures), failuresJSON, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement batch %s: %w", res.BatchID, err)
	}
	return nil
}

// GetRecord retrieves the settlement outcome for one event.
func (s *SettlementStore) GetRecord(ctx context.Context, eventID string) (domain.SettlementRecord, error) {
	const query = `
		SELECT event_id, batch_id, winning_outcome, total_pool, winning_total, voided, settled_at
		FROM settlements WHERE event_id = $1`

	var rec domain.SettlementRecord
	err := s.pool.QueryRow(ctx, query, eventID).Scan(
		&rec.EventID, &rec.BatchID, &rec.WinningOutcome, &rec.TotalPool, &rec.WinningTotal, &rec.Voided, &rec.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SettlementRecord{}, domain.ErrNotFound
		}
		return domain.SettlementRecord{}, fmt.Errorf("postgres: get settlement %s: %w", eventID, err)
	}
	return rec, nil
}

// ListRecent returns the most recently settled events.
func (s *SettlementStore) ListRecent(ctx context.Context, limit int) ([]domain.SettlementRecord, error) {
	const query = `
		SELECT event_id, batch_id, winning_outcome, total_pool, winning_total, voided, settled_at
		FROM settlements ORDER BY settled_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent settlements: %w", err)
	}
	defer rows.Close()

	var recs []domain.SettlementRecord
	for rows.Next() {
		var rec domain.SettlementRecord
		if err := rows.Scan(
			&rec.EventID, &rec.BatchID, &rec.WinningOutcome, &rec.TotalPool, &rec.WinningTotal, &rec.Voided, &rec.SettledAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent settlements rows: %w", err)
	}
	return recs, nil
}

// AddFees accrues fee balance for an event.
func (s *SettlementStore) AddFees(ctx context.Context, eventID string, amount int64) error {
	const query = `
		INSERT INTO event_fees (event_id, accrued) VALUES ($1, $2)
		ON CONFLICT (event_id) DO UPDATE SET accrued = event_fees.accrued + EXCLUDED.accrued`

	if _, err := s.pool.Exec(ctx, query, eventID, amount); err != nil {
		return fmt.Errorf("postgres: add fees %s: %w", eventID, err)
	}
	return nil
}

// GetFees returns the accrued fee balance for an event. Unknown events report
// zero.
func (s *SettlementStore) GetFees(ctx context.Context, eventID string) (int64, error) {
	var accrued int64
	err := s.pool.QueryRow(ctx, `SELECT accrued FROM event_fees WHERE event_id = $1`, eventID).Scan(&accrued)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get fees %s: %w", eventID, err)
	}
	return accrued, nil
}
