package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flashpool/internal/crypto"
	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
)

// GrantVerifier recovers the signer identity from a signed grant message,
// enforcing nonce monotonicity per signer.
type GrantVerifier interface {
	VerifyStructuredMessage(msg crypto.GrantMessage, signatureHex string) (string, error)
}

// GrantService manages delegation grants. Grants arrive as structured messages
// signed by the account owner, so a delegate can present an authorization the
// owner produced out of band.
type GrantService struct {
	engine   *engine.Engine
	verifier GrantVerifier
	bus      domain.SignalBus
	audit    domain.AuditStore
	logger   *slog.Logger
}

// NewGrantService creates a GrantService with all required dependencies.
func NewGrantService(
	eng *engine.Engine,
	verifier GrantVerifier,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *GrantService {
	return &GrantService{
		engine:   eng,
		verifier: verifier,
		bus:      bus,
		audit:    audit,
		logger:   logger,
	}
}

// Authorize verifies the owner's signature over the grant message and
// activates the grant. The grant is keyed by the recovered signer identity,
// never by the claimed owner field, so a valid signature from the wrong key
// cannot graft a grant onto someone else's escrow.
func (s *GrantService) Authorize(ctx context.Context, msg crypto.GrantMessage, signatureHex string) (domain.DelegationGrant, error) {
	owner, err := s.verifier.VerifyStructuredMessage(msg, signatureHex)
	if err != nil {
		return domain.DelegationGrant{}, fmt.Errorf("grant_service: verify grant: %w", err)
	}

	grant, err := s.engine.Grants.Authorize(owner, msg.Delegate, time.Unix(msg.Expiry, 0).UTC(), msg.SpendLimit, msg.EventID)
	if err != nil {
		return domain.DelegationGrant{}, fmt.Errorf("grant_service: authorize grant: %w", err)
	}

	evt, _ := json.Marshal(map[string]any{
		"event":       "grant_authorized",
		"owner":       grant.Owner,
		"delegate":    grant.Delegate,
		"spend_limit": grant.SpendLimit,
		"expiry":      grant.Expiry.Format(time.RFC3339),
	})
	if pubErr := s.bus.Publish(ctx, "grants", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "grant_service: publish grant failed",
			slog.String("owner", grant.Owner),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "grant.authorized", map[string]any{
		"owner":       grant.Owner,
		"delegate":    grant.Delegate,
		"spend_limit": grant.SpendLimit,
		"event_id":    grant.AllowedEventID,
		"nonce":       msg.Nonce,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "grant_service: audit log failed",
			slog.String("owner", grant.Owner),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "grant_service: grant authorized",
		slog.String("owner", grant.Owner),
		slog.String("delegate", grant.Delegate),
		slog.Int64("spend_limit", grant.SpendLimit),
	)

	return grant, nil
}

// Revoke deactivates the owner's grant to the delegate. Revoking a missing or
// already-revoked grant is a no-op.
func (s *GrantService) Revoke(ctx context.Context, owner, delegate string) error {
	s.engine.Grants.Revoke(owner, delegate)

	evt, _ := json.Marshal(map[string]string{
		"event":    "grant_revoked",
		"owner":    owner,
		"delegate": delegate,
	})
	if pubErr := s.bus.Publish(ctx, "grants", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "grant_service: publish revoke failed",
			slog.String("owner", owner),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "grant.revoked", map[string]any{
		"owner":    owner,
		"delegate": delegate,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "grant_service: audit log failed",
			slog.String("owner", owner),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "grant_service: grant revoked",
		slog.String("owner", owner),
		slog.String("delegate", delegate),
	)

	return nil
}

// Get retrieves the owner's grant to the delegate.
func (s *GrantService) Get(_ context.Context, owner, delegate string) (domain.DelegationGrant, error) {
	grant, err := s.engine.Grants.Get(owner, delegate)
	if err != nil {
		return domain.DelegationGrant{}, fmt.Errorf("grant_service: get grant: %w", err)
	}
	return grant, nil
}
