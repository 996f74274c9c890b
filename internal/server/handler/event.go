package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/flashpool/internal/attest"
	"github.com/alanyoungcy/flashpool/internal/domain"
)

// EventService defines the methods the event handler requires from the
// service layer.
type EventService interface {
	Create(ctx context.Context, creator, feedRef string, openAt, closeAt time.Time, outcomeCount int, attestationRef string) (domain.Event, error)
	CreateAttested(ctx context.Context, creator, feedRef string, openAt, closeAt time.Time, outcomeCount int, claim attest.Claim, signatureHex string) (domain.Event, error)
	Get(ctx context.Context, eventID string) (domain.Event, error)
	ListByStatus(ctx context.Context, status domain.EventStatus, opts domain.ListOpts) ([]domain.Event, error)
	Totals(ctx context.Context, eventID string) (domain.EventTotals, error)
}

// EventHandler serves event lifecycle endpoints.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler with the given service and logger.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// createEventRequest is the JSON body for event creation. Times are RFC 3339.
// When attestation is present the event's attestation reference is the
// verified claim hash, not the caller-supplied attestation_ref.
type createEventRequest struct {
	FeedRef        string              `json:"feed_ref"`
	OpenAt         time.Time           `json:"open_at"`
	CloseAt        time.Time           `json:"close_at"`
	OutcomeCount   int                 `json:"outcome_count"`
	AttestationRef string              `json:"attestation_ref,omitempty"`
	Attestation    *attestationPayload `json:"attestation,omitempty"`
}

// attestationPayload carries a signed model-provenance claim.
type attestationPayload struct {
	ModelRef      string `json:"model_ref"`
	DataRef       string `json:"data_ref"`
	ConfidenceBps int64  `json:"confidence_bps"`
	Signature     string `json:"signature"`
}

// CreateEvent opens a new betting event. The creator identity comes from the
// authenticated admin headers.
// POST /api/events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	creator := callerIdentity(r)
	if creator == "" {
		writeError(w, http.StatusBadRequest, "missing caller identity")
		return
	}

	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.FeedRef == "" {
		writeError(w, http.StatusBadRequest, "feed_ref is required")
		return
	}

	var (
		ev  domain.Event
		err error
	)
	if req.Attestation != nil {
		if req.Attestation.Signature == "" {
			writeError(w, http.StatusBadRequest, "attestation signature is required")
			return
		}
		claim := attest.Claim{
			ModelRef:      req.Attestation.ModelRef,
			DataRef:       req.Attestation.DataRef,
			ConfidenceBps: req.Attestation.ConfidenceBps,
		}
		ev, err = h.events.CreateAttested(r.Context(), creator, req.FeedRef, req.OpenAt, req.CloseAt, req.OutcomeCount, claim, req.Attestation.Signature)
	} else {
		ev, err = h.events.Create(r.Context(), creator, req.FeedRef, req.OpenAt, req.CloseAt, req.OutcomeCount, req.AttestationRef)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "create event", err)
		return
	}

	writeJSON(w, http.StatusCreated, ev)
}

// GetEvent returns a single event by ID.
// GET /api/events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	ev, err := h.events.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get event", err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// listEventsResponse wraps the list events response.
type listEventsResponse struct {
	Events []domain.Event `json:"events"`
}

// ListEvents returns persisted events filtered by status.
// GET /api/events?status=open&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	status := domain.EventStatus(r.URL.Query().Get("status"))
	switch status {
	case domain.EventStatusOpen, domain.EventStatusLocked, domain.EventStatusSettled, domain.EventStatusVoided:
	default:
		writeError(w, http.StatusBadRequest, "status must be one of open, locked, settled, voided")
		return
	}

	events, err := h.events.ListByStatus(r.Context(), status, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}

	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

// GetTotals returns the pool totals for an event.
// GET /api/events/{id}/totals
func (h *EventHandler) GetTotals(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing event id")
		return
	}

	totals, err := h.events.Totals(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, "get totals", err)
		return
	}

	writeJSON(w, http.StatusOK, totals)
}
