package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/antihub/quotabroker/core/ledger"
)

type reserveRequest struct {
	PoolID         string         `json:"pool_id"`
	EstimatedQuota ledger.Credits `json:"estimated_quota"`
}

// handleReserve serves POST /v1/reservations: the admission check.
// Callers reserve an estimated amount before the upstream call and
// settle with commit or release afterwards.
func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req reserveRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.PoolID == "" {
		badRequest(w, "pool_id is required")
		return
	}

	res, err := h.engine.CheckAndReserve(r.Context(), req.PoolID, req.EstimatedQuota)
	if err != nil {
		respondError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

type commitRequest struct {
	ActualQuota ledger.Credits `json:"actual_quota"`
	SourceKeyID string         `json:"source_key_id,omitempty"`
}

// handleCommit serves POST /v1/reservations/{id}/commit.
func (h *Handler) handleCommit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "reservation id must be a UUID")
		return
	}

	var req commitRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	if err := h.engine.Commit(r.Context(), &ledger.Reservation{ID: id}, req.ActualQuota, req.SourceKeyID); err != nil {
		respondError(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRelease serves POST /v1/reservations/{id}/release.
func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		badRequest(w, "reservation id must be a UUID")
		return
	}

	if err := h.engine.Release(r.Context(), &ledger.Reservation{ID: id}); err != nil {
		respondError(w, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type recordRequest struct {
	PoolID        string         `json:"pool_id"`
	QuotaConsumed ledger.Credits `json:"quota_consumed"`
	SourceKeyID   string         `json:"source_key_id,omitempty"`
	ConsumedAt    *time.Time     `json:"consumed_at,omitempty"`
}

// handleRecordConsumption serves POST /v1/consumption: direct append
// for consumption that bypassed the reservation cycle.
func (h *Handler) handleRecordConsumption(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.PoolID == "" {
		badRequest(w, "pool_id is required")
		return
	}

	// Defaults are filled here so the response carries the stored event.
	event := ledger.ConsumptionEvent{
		ID:                    uuid.New(),
		PoolID:                req.PoolID,
		QuotaConsumed:         req.QuotaConsumed,
		ConsumedAt:            time.Now().UTC(),
		SourceKeyID:           req.SourceKeyID,
		RequestCountIncrement: 1,
	}
	if req.ConsumedAt != nil {
		event.ConsumedAt = req.ConsumedAt.UTC()
	}

	if err := h.engine.RecordConsumption(r.Context(), event); err != nil {
		respondError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, event)
}

type remainingResponse struct {
	PoolID         string         `json:"pool_id"`
	RemainingQuota ledger.Credits `json:"remaining_quota"`
}

// handleRemaining serves GET /v1/pools/{id}/remaining.
func (h *Handler) handleRemaining(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("id")

	remaining, err := h.engine.Remaining(r.Context(), poolID)
	if err != nil {
		respondError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, remainingResponse{PoolID: poolID, RemainingQuota: remaining})
}
