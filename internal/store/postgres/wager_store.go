package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// WagerStore implements domain.WagerStore using PostgreSQL. One row per
// (identity, event) pair, enforced by the primary key.
type WagerStore struct {
	pool *pgxpool.Pool
}

// NewWagerStore creates a new WagerStore backed by the given pool.
func NewWagerStore(pool *pgxpool.Pool) *WagerStore {
	return &WagerStore{pool: pool}
}

var _ domain.WagerStore = (*WagerStore)(nil)

// Insert writes a placed wager. A second insert for the same pair fails with
// ErrAlreadyStaked.
func (s *WagerStore) Insert(ctx context.Context, w domain.Wager) error {
	const query = `
		INSERT INTO wagers (identity, event_id, amount, outcome_index, placed_at, settled, payout, delegate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identity, event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		w.Identity, w.EventID, w.Amount, w.OutcomeIndex, w.PlacedAt, w.Settled, w.Payout, w.Delegate,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert wager %s/%s: %w", w.Identity, w.EventID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyStaked
	}
	return nil
}

// MarkSettled records the claim outcome for a wager.
func (s *WagerStore) MarkSettled(ctx context.Context, identity, eventID string, payout int64) error {
	const query = `UPDATE wagers SET settled = TRUE, payout = $1 WHERE identity = $2 AND event_id = $3`

	tag, err := s.pool.Exec(ctx, query, payout, identity, eventID)
	if err != nil {
		return fmt.Errorf("postgres: mark wager settled %s/%s: %w", identity, eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNoWager
	}
	return nil
}

const wagerSelectCols = `identity, event_id, amount, outcome_index, placed_at, settled, payout, delegate`

func scanWagerFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Wager, error) {
	var w domain.Wager
	err := scanner.Scan(
		&w.Identity, &w.EventID, &w.Amount, &w.OutcomeIndex, &w.PlacedAt, &w.Settled, &w.Payout, &w.Delegate,
	)
	return w, err
}

func scanWagerRows(rows pgx.Rows) ([]domain.Wager, error) {
	var wagers []domain.Wager
	for rows.Next() {
		w, err := scanWagerFromRow(rows)
		if err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

// GetByPair retrieves the wager for one (identity, event) pair.
func (s *WagerStore) GetByPair(ctx context.Context, identity, eventID string) (domain.Wager, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers WHERE identity = $1 AND event_id = $2`,
		identity, eventID)

	w, err := scanWagerFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Wager{}, domain.ErrNoWager
		}
		return domain.Wager{}, fmt.Errorf("postgres: get wager %s/%s: %w", identity, eventID, err)
	}
	return w, nil
}

// ListByEvent returns wagers on one event with pagination.
func (s *WagerStore) ListByEvent(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.Wager, error) {
	return s.list(ctx, "event_id", eventID, opts)
}

// ListByIdentity returns one participant's wagers with pagination.
func (s *WagerStore) ListByIdentity(ctx context.Context, identity string, opts domain.ListOpts) ([]domain.Wager, error) {
	return s.list(ctx, "identity", identity, opts)
}

func (s *WagerStore) list(ctx context.Context, col, value string, opts domain.ListOpts) ([]domain.Wager, error) {
	query := `SELECT ` + wagerSelectCols + ` FROM wagers WHERE ` + col + ` = $1`
	args := []any{value}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND placed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND placed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY placed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list wagers by %s: %w", col, err)
	}
	defer rows.Close()

	wagers, err := scanWagerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan wagers by %s: %w", col, err)
	}
	return wagers, nil
}

// ListSettledBefore returns settled wagers placed before the cutoff, for
// archival.
func (s *WagerStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+wagerSelectCols+` FROM wagers
		 WHERE settled = TRUE AND placed_at < $1
		 ORDER BY placed_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled wagers: %w", err)
	}
	defer rows.Close()

	wagers, err := scanWagerRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled wagers: %w", err)
	}
	return wagers, nil
}

// DeleteSettledBefore prunes settled wagers placed before the cutoff after
// they have been archived. Returns the number of rows removed.
func (s *WagerStore) DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM wagers WHERE settled = TRUE AND placed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settled wagers: %w", err)
	}
	return tag.RowsAffected(), nil
}
