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

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

var _ domain.EventStore = (*EventStore)(nil)

// Insert writes a freshly created event.
func (s *EventStore) Insert(ctx context.Context, ev domain.Event) error {
	const query = `
		INSERT INTO events (
			id, feed_ref, creator, open_at, close_at, settled_at,
			status, outcome_count, winning_outcome, attestation_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.FeedRef, ev.Creator, ev.OpenAt, ev.CloseAt, ev.SettledAt,
		string(ev.Status), ev.OutcomeCount, ev.WinningOutcome, ev.AttestationRef, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", ev.ID, err)
	}
	return nil
}

// UpdateStatus records a lifecycle transition. Terminal transitions stamp
// settled_at.
func (s *EventStore) UpdateStatus(ctx context.Context, id string, status domain.EventStatus, winningOutcome int) error {
	var query string
	if status.Terminal() {
		query = `UPDATE events SET status = $1, winning_outcome = $2, settled_at = NOW() WHERE id = $3`
	} else {
		query = `UPDATE events SET status = $1, winning_outcome = $2 WHERE id = $3`
	}

	tag, err := s.pool.Exec(ctx, query, string(status), winningOutcome, id)
	if err != nil {
		return fmt.Errorf("postgres: update event status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

const eventSelectCols = `id, feed_ref, creator, open_at, close_at, settled_at,
	status, outcome_count, winning_outcome, attestation_ref, created_at`

func scanEventFromRow(scanner interface{ Scan(dest ...any) error }) (domain.Event, error) {
	var ev domain.Event
	var status string
	err := scanner.Scan(
		&ev.ID, &ev.FeedRef, &ev.Creator, &ev.OpenAt, &ev.CloseAt, &ev.SettledAt,
		&status, &ev.OutcomeCount, &ev.WinningOutcome, &ev.AttestationRef, &ev.CreatedAt,
	)
	if err != nil {
		return domain.Event{}, err
	}
	ev.Status = domain.EventStatus(status)
	return ev, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		ev, err := scanEventFromRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetByID retrieves a single event.
func (s *EventStore) GetByID(ctx context.Context, id string) (domain.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventSelectCols+` FROM events WHERE id = $1`, id)

	ev, err := scanEventFromRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("postgres: get event %s: %w", id, err)
	}
	return ev, nil
}

// ListByStatus returns events in the given status, newest first.
func (s *EventStore) ListByStatus(ctx context.Context, status domain.EventStatus, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE status = $1`
	args := []any{string(status)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

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
		return nil, fmt.Errorf("postgres: list events by status: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events by status: %w", err)
	}
	return events, nil
}

// ListSettledBefore returns terminal events whose settle time is before the
// cutoff, oldest first, for archival.
func (s *EventStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM events
		 WHERE status IN ('settled', 'voided') AND settled_at < $1
		 ORDER BY settled_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settled events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settled events: %w", err)
	}
	return events, nil
}
