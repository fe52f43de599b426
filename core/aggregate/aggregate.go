package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/antihub/quotabroker/core/ledger"
)

// Aggregation errors.
var (
	ErrInvalidWindow      = errors.New("aggregation window end must be after start")
	ErrInvalidBucketWidth = errors.New("bucket width must be positive")
	ErrWindowTooWide      = errors.New("aggregation window exceeds bucket limit")
	ErrNilEventSource     = errors.New("event source is required")
)

// maxBuckets bounds the response size for a single aggregation query.
const maxBuckets = 10_000

// EventSource supplies consumption events from the durable store.
// *storage/pg.Store satisfies it.
type EventSource interface {
	ListEvents(ctx context.Context, filter ledger.EventFilter) ([]ledger.ConsumptionEvent, error)
}

// TrendPoint is one bucket of the usage trend.
type TrendPoint struct {
	BucketStart   time.Time      `json:"bucket_start"`
	QuotaConsumed ledger.Credits `json:"quota_consumed"`
	CallCount     int64          `json:"call_count"`
}

// Aggregator computes anchor-aligned, gap-filled usage rollups.
type Aggregator struct {
	src    EventSource
	logger *slog.Logger

	retryAttempts int
	retryInterval time.Duration
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger for internal operations.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithRetry sets how transient event-store read failures are retried.
func WithRetry(attempts int, interval time.Duration) Option {
	return func(a *Aggregator) {
		if attempts >= 0 {
			a.retryAttempts = attempts
		}
		if interval > 0 {
			a.retryInterval = interval
		}
	}
}

// New creates an Aggregator reading from the given event source.
func New(src EventSource, opts ...Option) (*Aggregator, error) {
	if src == nil {
		return nil, ErrNilEventSource
	}

	a := &Aggregator{
		src:           src,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		retryAttempts: 2,
		retryInterval: 250 * time.Millisecond,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a, nil
}

// Aggregate returns one TrendPoint per bucket covering [start, end),
// in ascending bucket order. poolID empty means all pools. Buckets with
// no events are emitted with zero values.
func (a *Aggregator) Aggregate(ctx context.Context, poolID string, start, end time.Time, width time.Duration) ([]TrendPoint, error) {
	if width <= 0 {
		return nil, ErrInvalidBucketWidth
	}
	if !end.After(start) {
		return nil, ErrInvalidWindow
	}

	start = start.UTC()
	end = end.UTC()

	// Bucket edges sit on multiples of width counted from the Unix
	// epoch, so the grid is a pure function of the width, not of the
	// query range. time.Truncate would anchor on Go's zero time
	// instead, which drifts from the epoch grid for widths like 7h.
	epoch := time.Unix(0, 0).UTC()
	first := epoch.Add(start.Sub(epoch).Truncate(width))
	n := int(end.Sub(first)+width-1) / int(width)
	if n > maxBuckets {
		return nil, ErrWindowTooWide
	}

	points := make([]TrendPoint, n)
	for i := range points {
		points[i].BucketStart = first.Add(time.Duration(i) * width)
	}

	events, err := a.listEvents(ctx, ledger.EventFilter{
		PoolID: poolID,
		Start:  start,
		End:    end,
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		ts := ev.ConsumedAt.UTC()
		if ts.Before(start) || !ts.Before(end) {
			continue
		}
		idx := int(ts.Sub(first) / width)
		points[idx].QuotaConsumed += ev.QuotaConsumed
		points[idx].CallCount += int64(ev.RequestCountIncrement)
	}

	return points, nil
}

// listEvents reads with bounded retries; aggregation is a read path and
// transient store hiccups should not surface to the dashboard.
func (a *Aggregator) listEvents(ctx context.Context, filter ledger.EventFilter) ([]ledger.ConsumptionEvent, error) {
	var (
		events []ledger.ConsumptionEvent
		err    error
	)
	for attempt := 0; attempt <= a.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.retryInterval):
			}
		}

		if events, err = a.src.ListEvents(ctx, filter); err == nil {
			return events, nil
		}

		a.logger.WarnContext(ctx, "event read failed during aggregation",
			slog.String("pool_id", filter.PoolID),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}
	return nil, errors.Join(ledger.ErrStoreUnavailable, err)
}
