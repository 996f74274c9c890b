package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
)

// AccountService fronts the escrow ledger: deposits, withdrawals, and balance
// reads. The engine holds the authoritative balances; the account store is a
// journal kept in step for history and restarts.
type AccountService struct {
	engine   *engine.Engine
	accounts domain.AccountStore
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewAccountService creates an AccountService with all required dependencies.
func NewAccountService(
	eng *engine.Engine,
	accounts domain.AccountStore,
	limiter domain.RateLimiter,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *AccountService {
	return &AccountService{
		engine:   eng,
		accounts: accounts,
		limiter:  limiter,
		bus:      bus,
		audit:    audit,
		logger:   logger,
	}
}

// Deposit credits the identity's available balance and journals the new
// balances.
func (s *AccountService) Deposit(ctx context.Context, identity string, amount int64) (domain.Account, error) {
	allowed, err := s.limiter.Allow(ctx, "funds:"+identity, 30, time.Minute)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Account{}, domain.ErrRateLimited
	}

	if err := s.engine.Escrow.Deposit(identity, amount); err != nil {
		return domain.Account{}, fmt.Errorf("account_service: deposit: %w", err)
	}

	acct := s.engine.Escrow.Balance(identity)
	s.journal(ctx, acct)

	if auditErr := s.audit.Log(ctx, "escrow.deposit", map[string]any{
		"identity": identity,
		"amount":   amount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("identity", identity),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account_service: deposit",
		slog.String("identity", identity),
		slog.Int64("amount", amount),
		slog.Int64("available", acct.Available),
	)

	return acct, nil
}

// Withdraw debits the identity's available balance. Locked funds stay locked.
func (s *AccountService) Withdraw(ctx context.Context, identity string, amount int64) (domain.Account, error) {
	allowed, err := s.limiter.Allow(ctx, "funds:"+identity, 30, time.Minute)
	if err != nil {
		return domain.Account{}, fmt.Errorf("account_service: rate limiter: %w", err)
	}
	if !allowed {
		return domain.Account{}, domain.ErrRateLimited
	}

	if err := s.engine.Escrow.Withdraw(identity, amount); err != nil {
		return domain.Account{}, fmt.Errorf("account_service: withdraw: %w", err)
	}

	acct := s.engine.Escrow.Balance(identity)
	s.journal(ctx, acct)

	if auditErr := s.audit.Log(ctx, "escrow.withdraw", map[string]any{
		"identity": identity,
		"amount":   amount,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("identity", identity),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account_service: withdraw",
		slog.String("identity", identity),
		slog.Int64("amount", amount),
		slog.Int64("available", acct.Available),
	)

	return acct, nil
}

// GetBalance reads the identity's current balances from the engine. Unknown
// identities read as zero balances.
func (s *AccountService) GetBalance(_ context.Context, identity string) domain.Account {
	return s.engine.Escrow.Balance(identity)
}

// GrantRole adds an identity to a capability role's allowlist. Only the role
// administrator may grant.
func (s *AccountService) GrantRole(ctx context.Context, caller string, role engine.Role, identity string) error {
	if err := s.engine.Authz.Grant(caller, role, identity); err != nil {
		return fmt.Errorf("account_service: grant role: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "authz.grant", map[string]any{
		"caller":   caller,
		"role":     string(role),
		"identity": identity,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("identity", identity),
			slog.String("error", auditErr.Error()),
		)
	}

	return nil
}

// RevokeRole removes an identity from a capability role's allowlist.
func (s *AccountService) RevokeRole(ctx context.Context, caller string, role engine.Role, identity string) error {
	if err := s.engine.Authz.Revoke(caller, role, identity); err != nil {
		return fmt.Errorf("account_service: revoke role: %w", err)
	}

	if auditErr := s.audit.Log(ctx, "authz.revoke", map[string]any{
		"caller":   caller,
		"role":     string(role),
		"identity": identity,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("identity", identity),
			slog.String("error", auditErr.Error()),
		)
	}

	return nil
}

// journal writes the balance snapshot to the account store and publishes a
// balance event. Both are best effort; the engine remains the source of truth.
func (s *AccountService) journal(ctx context.Context, acct domain.Account) {
	if err := s.accounts.Upsert(ctx, acct); err != nil {
		s.logger.WarnContext(ctx, "account_service: journal upsert failed",
			slog.String("identity", acct.Identity),
			slog.String("error", err.Error()),
		)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":     "balance_changed",
		"identity":  acct.Identity,
		"available": acct.Available,
		"locked":    acct.Locked,
	})
	if err := s.bus.Publish(ctx, "accounts", evt); err != nil {
		s.logger.WarnContext(ctx, "account_service: publish event failed",
			slog.String("identity", acct.Identity),
			slog.String("error", err.Error()),
		)
	}
}
