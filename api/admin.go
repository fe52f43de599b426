package api

import (
	"net/http"
	"time"

	"github.com/antihub/quotabroker/core/ledger"
)

type poolRequest struct {
	PoolID        string         `json:"pool_id"`
	TotalQuota    ledger.Credits `json:"total_quota"`
	ResetPolicy   string         `json:"reset_policy"`
	ResetInterval string         `json:"reset_interval,omitempty"`
}

func (req poolRequest) toPool() (ledger.Pool, error) {
	pool := ledger.Pool{
		ID:          req.PoolID,
		TotalQuota:  req.TotalQuota,
		ResetPolicy: ledger.ResetPolicy(req.ResetPolicy),
	}
	if req.ResetInterval != "" {
		interval, err := time.ParseDuration(req.ResetInterval)
		if err != nil {
			return ledger.Pool{}, err
		}
		pool.ResetInterval = interval
	}
	return pool, nil
}

// handleCreatePool serves POST /v1/admin/pools.
func (h *Handler) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}

	pool, err := req.toPool()
	if err != nil {
		badRequest(w, "reset_interval must be a duration, e.g. 24h")
		return
	}

	if err := h.engine.CreatePool(r.Context(), pool); err != nil {
		respondError(w, h.log, err)
		return
	}

	status, err := h.engine.Status(r.Context(), pool.ID)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, status)
}

// handleUpdatePool serves PUT /v1/admin/pools/{id}. The path id wins
// over any pool_id in the body.
func (h *Handler) handleUpdatePool(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	req.PoolID = r.PathValue("id")

	pool, err := req.toPool()
	if err != nil {
		badRequest(w, "reset_interval must be a duration, e.g. 24h")
		return
	}

	if err := h.engine.UpdatePool(r.Context(), pool); err != nil {
		respondError(w, h.log, err)
		return
	}

	status, err := h.engine.Status(r.Context(), pool.ID)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

// handleResetPool serves POST /v1/admin/pools/{id}/reset: force the
// remaining counter back to the full allowance.
func (h *Handler) handleResetPool(w http.ResponseWriter, r *http.Request) {
	poolID := r.PathValue("id")

	if err := h.engine.ResetPool(r.Context(), poolID); err != nil {
		respondError(w, h.log, err)
		return
	}

	status, err := h.engine.Status(r.Context(), poolID)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

type poolListResponse struct {
	Pools []ledger.Pool `json:"pools"`
}

// handleListPools serves GET /v1/admin/pools.
func (h *Handler) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := h.engine.Pools(r.Context())
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if pools == nil {
		pools = []ledger.Pool{}
	}

	respondJSON(w, http.StatusOK, poolListResponse{Pools: pools})
}

// handlePoolStatus serves GET /v1/admin/pools/{id}.
func (h *Handler) handlePoolStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		respondError(w, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, status)
}
