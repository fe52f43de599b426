package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/antihub/quotabroker/core/aggregate"
	"github.com/antihub/quotabroker/core/ledger"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	defaultTrendHours  = 24
	maxTrendHours      = 24 * 90
	defaultBucketWidth = time.Hour
)

type consumptionResponse struct {
	Events []ledger.ConsumptionEvent `json:"events"`
}

// handleListConsumption serves GET /v1/consumption. Read-only filter
// over the durable event log; no business logic.
func (h *Handler) handleListConsumption(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := ledger.EventFilter{
		PoolID: q.Get("pool_id"),
		Limit:  defaultListLimit,
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			badRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = min(limit, maxListLimit)
	}

	if raw := q.Get("start_date"); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "start_date must be RFC3339")
			return
		}
		filter.Start = start.UTC()
	}
	if raw := q.Get("end_date"); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "end_date must be RFC3339")
			return
		}
		filter.End = end.UTC()
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && !filter.End.After(filter.Start) {
		badRequest(w, "end_date must be after start_date")
		return
	}

	events, err := h.events.ListEvents(r.Context(), filter)
	if err != nil {
		respondError(w, h.log, err)
		return
	}
	if events == nil {
		events = []ledger.ConsumptionEvent{}
	}

	respondJSON(w, http.StatusOK, consumptionResponse{Events: events})
}

type trendResponse struct {
	PoolID      string                 `json:"pool_id,omitempty"`
	BucketWidth string                 `json:"bucket_width"`
	Points      []aggregate.TrendPoint `json:"points"`
}

// handleTrend serves GET /v1/trend with pre-aggregated usage buckets.
func (h *Handler) handleTrend(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	hours := defaultTrendHours
	if raw := q.Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxTrendHours {
			badRequest(w, "hours must be between 1 and "+strconv.Itoa(maxTrendHours))
			return
		}
		hours = parsed
	}

	width := defaultBucketWidth
	if raw := q.Get("bucket"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			badRequest(w, "bucket must be a positive duration, e.g. 15m or 1h")
			return
		}
		width = parsed
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)
	poolID := q.Get("pool_id")

	points, err := h.agg.Aggregate(r.Context(), poolID, start, end, width)
	if err != nil {
		switch err {
		case aggregate.ErrInvalidWindow, aggregate.ErrInvalidBucketWidth, aggregate.ErrWindowTooWide:
			badRequest(w, err.Error())
		default:
			respondError(w, h.log, err)
		}
		return
	}

	respondJSON(w, http.StatusOK, trendResponse{
		PoolID:      poolID,
		BucketWidth: width.String(),
		Points:      points,
	})
}
