package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flashpool/internal/crypto"
	"github.com/alanyoungcy/flashpool/internal/domain"
)

// GrantService defines the methods the grant handler requires from the
// service layer.
type GrantService interface {
	Authorize(ctx context.Context, msg crypto.GrantMessage, signatureHex string) (domain.DelegationGrant, error)
	Revoke(ctx context.Context, owner, delegate string) error
	Get(ctx context.Context, owner, delegate string) (domain.DelegationGrant, error)
}

// GrantHandler serves delegation grant endpoints.
type GrantHandler struct {
	grants GrantService
	logger *slog.Logger
}

// NewGrantHandler creates a GrantHandler with the given service and logger.
func NewGrantHandler(grants GrantService, logger *slog.Logger) *GrantHandler {
	return &GrantHandler{
		grants: grants,
		logger: logger,
	}
}

// authorizeGrantRequest is the JSON body for grant authorization: the signed
// structured message plus the owner's signature over it.
type authorizeGrantRequest struct {
	Message   crypto.GrantMessage `json:"message"`
	Signature string              `json:"signature"`
}

// Authorize activates a delegation grant from a message signed by the account
// owner.
// POST /api/grants
func (h *GrantHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	grant, err := h.grants.Authorize(r.Context(), req.Message, req.Signature)
	if err != nil {
		writeDomainError(w, r, h.logger, "authorize grant", err)
		return
	}

	writeJSON(w, http.StatusCreated, grant)
}

// Revoke deactivates the owner's grant to the delegate. Idempotent.
// DELETE /api/grants/{owner}/{delegate}
func (h *GrantHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	delegate := pathParam(r, "delegate")
	if owner == "" || delegate == "" {
		writeError(w, http.StatusBadRequest, "missing owner or delegate")
		return
	}

	if err := h.grants.Revoke(r.Context(), owner, delegate); err != nil {
		writeDomainError(w, r, h.logger, "revoke grant", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "revoked",
		"owner":    owner,
		"delegate": delegate,
	})
}

// Get returns the owner's grant to the delegate.
// GET /api/grants/{owner}/{delegate}
func (h *GrantHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner := pathParam(r, "owner")
	delegate := pathParam(r, "delegate")
	if owner == "" || delegate == "" {
		writeError(w, http.StatusBadRequest, "missing owner or delegate")
		return
	}

	grant, err := h.grants.Get(r.Context(), owner, delegate)
	if err != nil {
		writeDomainError(w, r, h.logger, "get grant", err)
		return
	}

	writeJSON(w, http.StatusOK, grant)
}
