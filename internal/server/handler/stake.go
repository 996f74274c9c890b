package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flashpool/internal/domain"
	"github.com/alanyoungcy/flashpool/internal/engine"
)

// StakeService defines the methods the stake handler requires from the
// service layer.
type StakeService interface {
	Place(ctx context.Context, identity, eventID string, outcomeIndex int, amount int64) (domain.Wager, error)
	PlaceDelegated(ctx context.Context, delegate, owner, eventID string, outcomeIndex int, amount int64) (domain.Wager, error)
	Claim(ctx context.Context, identity, eventID string) (engine.ClaimResult, error)
	Get(ctx context.Context, identity, eventID string) (domain.Wager, error)
	ListByEvent(ctx context.Context, eventID string, opts domain.ListOpts) ([]domain.Wager, error)
	ListByIdentity(ctx context.Context, identity string, opts domain.ListOpts) ([]domain.Wager, error)
}

// StakeHandler serves wager placement and claim endpoints.
type StakeHandler struct {
	stakes StakeService
	logger *slog.Logger
}

// NewStakeHandler creates a StakeHandler with the given service and logger.
func NewStakeHandler(stakes StakeService, logger *slog.Logger) *StakeHandler {
	return &StakeHandler{
		stakes: stakes,
		logger: logger,
	}
}

// placeStakeRequest is the JSON body for stake placement. Amount is
// micro-units. Owner is set only for delegated placement, naming the account
// the funds come from.
type placeStakeRequest struct {
	Identity     string `json:"identity"`
	Owner        string `json:"owner,omitempty"`
	EventID      string `json:"event_id"`
	OutcomeIndex int    `json:"outcome_index"`
	Amount       int64  `json:"amount"`
}

// PlaceStake commits a stake on one outcome of an open event. When the body
// carries an owner, the stake is placed through the caller's delegation grant
// against the owner's escrow.
// POST /api/stakes
func (h *StakeHandler) PlaceStake(w http.ResponseWriter, r *http.Request) {
	var req placeStakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Identity == "" || req.EventID == "" {
		writeError(w, http.StatusBadRequest, "identity and event_id are required")
		return
	}

	var (
		wager domain.Wager
		err   error
	)
	if req.Owner != "" {
		wager, err = h.stakes.PlaceDelegated(r.Context(), req.Identity, req.Owner, req.EventID, req.OutcomeIndex, req.Amount)
	} else {
		wager, err = h.stakes.Place(r.Context(), req.Identity, req.EventID, req.OutcomeIndex, req.Amount)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "place stake", err)
		return
	}

	writeJSON(w, http.StatusCreated, wager)
}

// claimRequest is the JSON body for claim requests.
type claimRequest struct {
	Identity string `json:"identity"`
}

// Claim settles the identity's wager on a terminal event.
// POST /api/events/{id}/claim
func (h *StakeHandler) Claim(w http.ResponseWriter, r *http.Request) {
	eventID := pathParam(r, "id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Identity == "" {
		writeError(w, http.StatusBadRequest, "identity is required")
		return
	}

	res, err := h.stakes.Claim(r.Context(), req.Identity, eventID)
	if err != nil {
		writeDomainError(w, r, h.logger, "claim", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// listWagersResponse wraps the list wagers response.
type listWagersResponse struct {
	Wagers []domain.Wager `json:"wagers"`
}

// ListWagers returns wagers for an event or an identity.
// GET /api/stakes?event_id=...&identity=...&limit=50&offset=0
func (h *StakeHandler) ListWagers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eventID := q.Get("event_id")
	identity := q.Get("identity")

	if eventID == "" && identity == "" {
		writeError(w, http.StatusBadRequest, "event_id or identity query parameter required")
		return
	}

	// A fully qualified pair reads the single wager.
	if eventID != "" && identity != "" {
		wager, err := h.stakes.Get(r.Context(), identity, eventID)
		if err != nil {
			writeDomainError(w, r, h.logger, "get wager", err)
			return
		}
		writeJSON(w, http.StatusOK, listWagersResponse{Wagers: []domain.Wager{wager}})
		return
	}

	var (
		wagers []domain.Wager
		err    error
	)
	opts := parseListOpts(r)
	if eventID != "" {
		wagers, err = h.stakes.ListByEvent(r.Context(), eventID, opts)
	} else {
		wagers, err = h.stakes.ListByIdentity(r.Context(), identity, opts)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "list wagers", err)
		return
	}

	if wagers == nil {
		wagers = []domain.Wager{}
	}
	writeJSON(w, http.StatusOK, listWagersResponse{Wagers: wagers})
}
