package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/flashpool/internal/domain"
)

// SettlementService defines the methods the settlement handler requires from
// the service layer.
type SettlementService interface {
	SettleBatch(ctx context.Context, caller string, eventIDs []string, winningOutcomes []int, priceProof [][]byte) (domain.BatchResult, error)
	VoidBatch(ctx context.Context, caller string, eventIDs []string) (domain.BatchResult, error)
	CollectFees(ctx context.Context, caller, eventID string) (int64, error)
	GetRecord(ctx context.Context, eventID string) (domain.SettlementRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.SettlementRecord, error)
}

// SettlementHandler serves the privileged settlement endpoints.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler with the given service and
// logger.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logger,
	}
}

// settleBatchRequest is the JSON body for settlement batches. EventIDs and
// WinningOutcomes are parallel lists; PriceProof entries are hex-encoded
// oracle proofs covering the whole batch.
type settleBatchRequest struct {
	EventIDs        []string `json:"event_ids"`
	WinningOutcomes []int    `json:"winning_outcomes"`
	PriceProof      []string `json:"price_proof,omitempty"`
}

// SettleBatch settles up to the batch limit of locked events in one call.
// POST /api/settlements
func (h *SettlementHandler) SettleBatch(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller == "" {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}

	var req settleBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.EventIDs) == 0 {
		writeError(w, http.StatusBadRequest, "event_ids is required")
		return
	}

	proofs := make([][]byte, 0, len(req.PriceProof))
	for _, p := range req.PriceProof {
		raw, err := hex.DecodeString(p)
		if err != nil {
			writeError(w, http.StatusBadRequest, "price_proof entries must be hex")
			return
		}
		proofs = append(proofs, raw)
	}

	res, err := h.settlements.SettleBatch(r.Context(), caller, req.EventIDs, req.WinningOutcomes, proofs)
	if err != nil {
		writeDomainError(w, r, h.logger, "settle batch", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// voidBatchRequest is the JSON body for void batches.
type voidBatchRequest struct {
	EventIDs []string `json:"event_ids"`
}

// VoidBatch voids the listed events; stakes refund on claim.
// POST /api/settlements/void
func (h *SettlementHandler) VoidBatch(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller == "" {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}

	var req voidBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.EventIDs) == 0 {
		writeError(w, http.StatusBadRequest, "event_ids is required")
		return
	}

	res, err := h.settlements.VoidBatch(r.Context(), caller, req.EventIDs)
	if err != nil {
		writeDomainError(w, r, h.logger, "void batch", err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// CollectFees drains the accrued fee balance for an event into the caller's
// escrow.
// POST /api/events/{id}/fees/collect
func (h *SettlementHandler) CollectFees(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller == "" {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}

	eventID := pathParam(r, "id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	amount, err := h.settlements.CollectFees(r.Context(), caller, eventID)
	if err != nil {
		writeDomainError(w, r, h.logger, "collect fees", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"event_id":  eventID,
		"collected": amount,
	})
}

// GetRecord returns the durable settlement record for an event.
// GET /api/settlements/{id}
func (h *SettlementHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	eventID := pathParam(r, "id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	rec, err := h.settlements.GetRecord(r.Context(), eventID)
	if err != nil {
		writeDomainError(w, r, h.logger, "get settlement", err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// listSettlementsResponse wraps the recent settlements response.
type listSettlementsResponse struct {
	Settlements []domain.SettlementRecord `json:"settlements"`
}

// ListRecent returns the most recent settlement records.
// GET /api/settlements?limit=50
func (h *SettlementHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	recs, err := h.settlements.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list settlements", err)
		return
	}

	if recs == nil {
		recs = []domain.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, listSettlementsResponse{Settlements: recs})
}
