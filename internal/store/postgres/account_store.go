package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL. The engine's
// escrow ledger is the source of truth; this store journals balances for
// durability and the read side.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

var _ domain.AccountStore = (*AccountStore)(nil)

// Upsert writes the account balances, inserting on first sight.
func (s *AccountStore) Upsert(ctx context.Context, acct domain.Account) error {
	const query = `
		INSERT INTO accounts (identity, available, locked, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity) DO UPDATE SET
			available = EXCLUDED.available,
			locked = EXCLUDED.locked,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query, acct.Identity, acct.Available, acct.Locked, acct.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert account %s: %w", acct.Identity, err)
	}
	return nil
}

// GetByIdentity retrieves one account's journaled balances.
func (s *AccountStore) GetByIdentity(ctx context.Context, identity string) (domain.Account, error) {
	const query = `SELECT identity, available, locked, updated_at FROM accounts WHERE identity = $1`

	var acct domain.Account
	err := s.pool.QueryRow(ctx, query, identity).Scan(
		&acct.Identity, &acct.Available, &acct.Locked, &acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Account{}, domain.ErrNotFound
		}
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", identity, err)
	}
	return acct, nil
}

// Count returns the number of journaled accounts.
func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count accounts: %w", err)
	}
	return n, nil
}
