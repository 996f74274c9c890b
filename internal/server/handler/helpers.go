package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/flashpool/internal/crypto"
	"github.com/alanyoungcy/flashpool/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a domain error to its HTTP status and writes the JSON
// error body. Unrecognized errors are logged and reported as a 500 without
// leaking internals.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := errStatus(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, rootCause(err).Error())
}

// rootCause walks the error chain to the innermost error, which for service
// errors is the domain sentinel the client can act on.
func rootCause(err error) error {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err
		}
		err = inner
	}
}

// errStatus maps domain sentinel errors to HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrUntrustedModel):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrEventNotFound),
		errors.Is(err, domain.ErrNoWager):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrStakeTooSmall),
		errors.Is(err, domain.ErrStakeTooLarge),
		errors.Is(err, domain.ErrInvalidOutcome),
		errors.Is(err, domain.ErrBadWindow),
		errors.Is(err, domain.ErrBadOutcomeCount),
		errors.Is(err, domain.ErrOpenInPast),
		errors.Is(err, domain.ErrLengthMismatch),
		errors.Is(err, domain.ErrBatchTooLarge),
		errors.Is(err, domain.ErrInvalidGrant),
		errors.Is(err, domain.ErrInvalidSignature),
		errors.Is(err, domain.ErrNonceReplayed):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientAvailable),
		errors.Is(err, domain.ErrInsufficientLocked),
		errors.Is(err, domain.ErrAlreadyStaked),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrEventTerminal),
		errors.Is(err, domain.ErrEventNotOpen),
		errors.Is(err, domain.ErrEventNotLocked),
		errors.Is(err, domain.ErrWindowStillOpen),
		errors.Is(err, domain.ErrNotAcceptingStakes),
		errors.Is(err, domain.ErrNotReadyToClaim),
		errors.Is(err, domain.ErrGrantInactive),
		errors.Is(err, domain.ErrGrantExpired),
		errors.Is(err, domain.ErrSpendLimitExceeded),
		errors.Is(err, domain.ErrEventNotAllowed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// callerIdentity returns the identity the request acts as, taken from the
// X-Flashpool-Identity header the auth middleware validated.
func callerIdentity(r *http.Request) string {
	return r.Header.Get(crypto.HeaderAdminIdentity)
}
