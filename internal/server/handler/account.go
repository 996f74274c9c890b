package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// AccountService defines the methods the account handler requires from the
// service layer.
type AccountService interface {
	Deposit(ctx context.Context, identity string, amount int64) (domain.Account, error)
	Withdraw(ctx context.Context, identity string, amount int64) (domain.Account, error)
	GetBalance(ctx context.Context, identity string) domain.Account
}

// AccountHandler serves escrow account endpoints.
type AccountHandler struct {
	accounts AccountService
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler with the given service and logger.
func NewAccountHandler(accounts AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		logger:   logger,
	}
}

// fundsRequest is the JSON body for deposit and withdraw requests. Amounts are
// micro-units.
type fundsRequest struct {
	Amount int64 `json:"amount"`
}

// balanceResponse is the JSON shape for account balance responses.
type balanceResponse struct {
	Identity  string `json:"identity"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
}

func toBalanceResponse(acct domain.Account) balanceResponse {
	return balanceResponse{
		Identity:  acct.Identity,
		Available: acct.Available,
		Locked:    acct.Locked,
	}
}

// Deposit credits the identity's available balance.
// POST /api/accounts/{identity}/deposit
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	identity := pathParam(r, "identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}

	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	acct, err := h.accounts.Deposit(r.Context(), identity, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "deposit", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(acct))
}

// Withdraw debits the identity's available balance.
// POST /api/accounts/{identity}/withdraw
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	identity := pathParam(r, "identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}

	var req fundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	acct, err := h.accounts.Withdraw(r.Context(), identity, req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "withdraw", err)
		return
	}

	writeJSON(w, http.StatusOK, toBalanceResponse(acct))
}

// GetBalance returns the identity's current balances. Unknown identities read
// as zero balances.
// GET /api/accounts/{identity}
func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	identity := pathParam(r, "identity")
	if identity == "" {
		writeError(w, http.StatusBadRequest, "missing identity")
		return
	}

	acct := h.accounts.GetBalance(r.Context(), identity)
	writeJSON(w, http.StatusOK, toBalanceResponse(acct))
}
