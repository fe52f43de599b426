package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/antihub/quotabroker/core/ledger"
	"github.com/antihub/quotabroker/core/logger"
)

// errorBody is the JSON error envelope returned by every handler.
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondErrorBody(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Code: code, Message: message})
}

// respondError maps ledger errors onto HTTP statuses. Order matters:
// a fail-closed denial carries both ErrInsufficientQuota and
// ErrStoreUnavailable, and must surface as 503, not 429.
func respondError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, ledger.ErrStoreUnavailable):
		respondErrorBody(w, http.StatusServiceUnavailable, "store_unavailable", "quota backend temporarily unavailable")
	case errors.Is(err, ledger.ErrInsufficientQuota):
		respondErrorBody(w, http.StatusTooManyRequests, "quota_exhausted", "pool quota exhausted")
	case errors.Is(err, ledger.ErrPoolUnknown):
		respondErrorBody(w, http.StatusNotFound, "pool_not_found", "unknown pool")
	case errors.Is(err, ledger.ErrReservationNotFound):
		respondErrorBody(w, http.StatusNotFound, "reservation_not_found", "unknown reservation")
	case errors.Is(err, ledger.ErrAlreadyResolved):
		respondErrorBody(w, http.StatusConflict, "already_resolved", "reservation already committed or released")
	case errors.Is(err, ledger.ErrPoolExists):
		respondErrorBody(w, http.StatusConflict, "pool_exists", "pool already exists")
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidPool):
		respondErrorBody(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		log.Error("request failed", logger.Error(err))
		respondErrorBody(w, http.StatusInternalServerError, "internal_server_error", "internal server error")
	}
}

func badRequest(w http.ResponseWriter, message string) {
	respondErrorBody(w, http.StatusBadRequest, "bad_request", message)
}

// decodeJSON reads a JSON request body into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
