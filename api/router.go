package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/antihub/quotabroker/core/aggregate"
	"github.com/antihub/quotabroker/core/health"
	"github.com/antihub/quotabroker/core/ledger"
)

// Handler bundles the HTTP surface over the ledger engine: admission,
// reporting, pool administration and health probes.
type Handler struct {
	engine *ledger.Engine
	agg    *aggregate.Aggregator
	events aggregate.EventSource

	log         *slog.Logger
	adminAPIKey string
	readiness   []func(context.Context) error
}

// Option configures the Handler.
type Option func(*Handler)

// WithLogger sets the logger for request logging and error reporting.
func WithLogger(log *slog.Logger) Option {
	return func(h *Handler) {
		if log != nil {
			h.log = log
		}
	}
}

// WithAdminKey sets the pre-shared key for the /v1/admin surface.
// Without it admin routes reject every request.
func WithAdminKey(key string) Option {
	return func(h *Handler) {
		h.adminAPIKey = key
	}
}

// WithReadinessChecks registers dependency checks for /health/ready.
func WithReadinessChecks(checks ...func(context.Context) error) Option {
	return func(h *Handler) {
		h.readiness = append(h.readiness, checks...)
	}
}

// New builds the service router.
func New(engine *ledger.Engine, agg *aggregate.Aggregator, events aggregate.EventSource, opts ...Option) (http.Handler, error) {
	switch {
	case engine == nil:
		return nil, ledger.ErrNilEngine
	case agg == nil, events == nil:
		return nil, aggregate.ErrNilEventSource
	}

	h := &Handler{
		engine: engine,
		agg:    agg,
		events: events,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	mux := http.NewServeMux()

	// Admission path.
	mux.HandleFunc("POST /v1/reservations", h.handleReserve)
	mux.HandleFunc("POST /v1/reservations/{id}/commit", h.handleCommit)
	mux.HandleFunc("POST /v1/reservations/{id}/release", h.handleRelease)
	mux.HandleFunc("POST /v1/consumption", h.handleRecordConsumption)
	mux.HandleFunc("GET /v1/pools/{id}/remaining", h.handleRemaining)

	// Reporting.
	mux.HandleFunc("GET /v1/consumption", h.handleListConsumption)
	mux.HandleFunc("GET /v1/trend", h.handleTrend)

	// Pool administration, key-gated.
	admin := http.NewServeMux()
	admin.HandleFunc("GET /v1/admin/pools", h.handleListPools)
	admin.HandleFunc("POST /v1/admin/pools", h.handleCreatePool)
	admin.HandleFunc("GET /v1/admin/pools/{id}", h.handlePoolStatus)
	admin.HandleFunc("PUT /v1/admin/pools/{id}", h.handleUpdatePool)
	admin.HandleFunc("POST /v1/admin/pools/{id}/reset", h.handleResetPool)
	mux.Handle("/v1/admin/", adminKey(h.adminAPIKey)(admin))

	mux.Handle("GET /health/live", health.Liveness())
	mux.Handle("GET /health/ready", health.Readiness(h.log, h.readiness...))

	return chain(mux, recoverer(h.log), requestLogger(h.log)), nil
}
