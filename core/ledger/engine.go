package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Engine coordinates the counter store (fast path) and the durable store
// (source of truth) to provide atomic, race-free quota accounting.
// Safe for concurrent use; no in-process lock is ever held across a
// network round trip.
type Engine struct {
	store   Store
	counter CounterStore
	res     *reservationTable
	logger  *slog.Logger

	// Configuration
	counterTTL    time.Duration
	poolCacheTTL  time.Duration
	commitRetries int
	retryInterval time.Duration

	// Pool definitions change rarely; a short-lived in-process cache
	// keeps the admission path off the durable store.
	poolMu    sync.RWMutex
	poolCache map[string]poolCacheEntry

	// Observability metrics
	granted  atomic.Int64
	denied   atomic.Int64
	commits  atomic.Int64
	releases atomic.Int64
}

type poolCacheEntry struct {
	pool      Pool
	fetchedAt time.Time
}

// EngineStats provides observability metrics for monitoring and debugging.
type EngineStats struct {
	ReservationsGranted int64 // Total successful CheckAndReserve calls
	ReservationsDenied  int64 // Total InsufficientQuota denials
	Commits             int64 // Total committed reservations
	Releases            int64 // Total released reservations (explicit + swept)
	Pending             int   // Reservations currently in flight
}

// NewEngine creates a ledger engine over the given durable store and
// counter store.
func NewEngine(store Store, counter CounterStore, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if counter == nil {
		return nil, ErrNilCounter
	}

	e := &Engine{
		store:         store,
		counter:       counter,
		res:           newReservationTable(),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		counterTTL:    time.Hour,
		poolCacheTTL:  30 * time.Second,
		commitRetries: 3,
		retryInterval: 500 * time.Millisecond,
		poolCache:     make(map[string]poolCacheEntry),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// CheckAndReserve atomically verifies that the pool holds at least
// estimated remaining quota and places a Pending hold on it. The
// check-and-decrement is a single atomic operation in the counter store,
// so two concurrent callers racing for the last slice cannot both win.
//
// On a counter miss the true remaining value is recomputed from the
// durable log and the decrement retried once. A counter-store outage
// fails closed: denying a valid call is recoverable, over-granting
// shared quota is not.
func (e *Engine) CheckAndReserve(ctx context.Context, poolID string, estimated Credits) (*Reservation, error) {
	if estimated <= 0 {
		return nil, fmt.Errorf("%w: reservation amount must be positive, got %s", ErrInvalidAmount, estimated)
	}

	pool, err := e.pool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	remaining, ok, err := e.counter.ReserveN(ctx, poolID, estimated)
	if errors.Is(err, ErrCounterMiss) {
		if _, repairErr := e.repairCounter(ctx, pool); repairErr != nil {
			return nil, e.failClosed(repairErr)
		}
		remaining, ok, err = e.counter.ReserveN(ctx, poolID, estimated)
	}
	if err != nil {
		return nil, e.failClosed(err)
	}
	if !ok {
		e.denied.Add(1)
		return nil, fmt.Errorf("%w: pool %q has %s remaining, need %s",
			ErrInsufficientQuota, poolID, remaining, estimated)
	}

	res := &Reservation{
		ID:             uuid.New(),
		PoolID:         poolID,
		ReservedAmount: estimated,
		State:          StatePending,
		CreatedAt:      time.Now().UTC(),
	}
	e.res.add(res)
	e.granted.Add(1)

	e.logger.DebugContext(ctx, "quota reserved",
		slog.String("pool_id", poolID),
		slog.String("reservation_id", res.ID.String()),
		slog.String("amount", estimated.String()),
		slog.String("remaining", remaining.String()))

	return res, nil
}

// Commit settles a reservation once the real cost of the upstream call
// is known. It writes one immutable ConsumptionEvent for the actual
// amount and adjusts the counter by the difference between estimate and
// actual: over-reservation is refunded, under-reservation is debited
// even if that drives the counter negative (the call already happened;
// the deficit must be visible to subsequent checks).
//
// The second resolution of a reservation fails with ErrAlreadyResolved
// and leaves ledger state untouched.
func (e *Engine) Commit(ctx context.Context, res *Reservation, actual Credits, sourceKeyID string) error {
	if res == nil {
		return ErrReservationNotFound
	}
	if actual < 0 {
		return fmt.Errorf("%w: actual amount must not be negative, got %s", ErrInvalidAmount, actual)
	}

	resolved, err := e.res.resolve(res.ID, StateCommitted)
	if err != nil {
		return err
	}

	if delta := resolved.ReservedAmount - actual; delta != 0 {
		if _, err := e.counter.AdjustN(ctx, resolved.PoolID, delta); err != nil {
			// Drift until the next reconciliation pass; the commit proceeds.
			e.logger.WarnContext(ctx, "counter adjustment failed on commit",
				slog.String("pool_id", resolved.PoolID),
				slog.String("reservation_id", resolved.ID.String()),
				slog.String("delta", delta.String()),
				slog.Any("error", err))
		}
	}

	event := ConsumptionEvent{
		ID:                    uuid.New(),
		PoolID:                resolved.PoolID,
		QuotaConsumed:         actual,
		ConsumedAt:            time.Now().UTC(),
		SourceKeyID:           sourceKeyID,
		RequestCountIncrement: 1,
	}
	if err := e.insertEventWithRetry(ctx, event); err != nil {
		return err
	}

	e.commits.Add(1)
	e.logger.InfoContext(ctx, "reservation committed",
		slog.String("pool_id", resolved.PoolID),
		slog.String("reservation_id", resolved.ID.String()),
		slog.String("reserved", resolved.ReservedAmount.String()),
		slog.String("actual", actual.String()))

	return nil
}

// Release returns a reservation's held amount to the pool when the
// upstream call never happened. No consumption event is written.
func (e *Engine) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return ErrReservationNotFound
	}

	resolved, err := e.res.resolve(res.ID, StateReleased)
	if err != nil {
		return err
	}

	if _, err := e.counter.AdjustN(ctx, resolved.PoolID, resolved.ReservedAmount); err != nil {
		e.logger.WarnContext(ctx, "counter refund failed on release",
			slog.String("pool_id", resolved.PoolID),
			slog.String("reservation_id", resolved.ID.String()),
			slog.Any("error", err))
	}

	e.releases.Add(1)
	e.logger.DebugContext(ctx, "reservation released",
		slog.String("pool_id", resolved.PoolID),
		slog.String("reservation_id", resolved.ID.String()),
		slog.String("amount", resolved.ReservedAmount.String()))

	return nil
}

// RecordConsumption appends a consumption event that bypassed the
// reserve/commit cycle (post-hoc metering, administrative backfill) and
// debits the counter accordingly.
func (e *Engine) RecordConsumption(ctx context.Context, event ConsumptionEvent) error {
	if event.QuotaConsumed < 0 {
		return fmt.Errorf("%w: consumption must not be negative, got %s", ErrInvalidAmount, event.QuotaConsumed)
	}
	if _, err := e.pool(ctx, event.PoolID); err != nil {
		return err
	}

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.ConsumedAt.IsZero() {
		event.ConsumedAt = time.Now().UTC()
	}
	if event.RequestCountIncrement == 0 {
		event.RequestCountIncrement = 1
	}

	if _, err := e.counter.AdjustN(ctx, event.PoolID, -event.QuotaConsumed); err != nil && !errors.Is(err, ErrCounterMiss) {
		e.logger.WarnContext(ctx, "counter debit failed on direct consumption",
			slog.String("pool_id", event.PoolID),
			slog.Any("error", err))
	}

	return e.insertEventWithRetry(ctx, event)
}

// Remaining reports the pool's current remaining quota, repairing the
// counter from the durable log on a miss.
func (e *Engine) Remaining(ctx context.Context, poolID string) (Credits, error) {
	pool, err := e.pool(ctx, poolID)
	if err != nil {
		return 0, err
	}

	remaining, err := e.counter.GetN(ctx, poolID)
	if errors.Is(err, ErrCounterMiss) {
		return e.repairCounter(ctx, pool)
	}
	if err != nil {
		return 0, errors.Join(ErrStoreUnavailable, err)
	}
	return remaining, nil
}

// CreatePool persists a new pool definition and seeds its counter with
// the full allowance.
func (e *Engine) CreatePool(ctx context.Context, pool Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	pool.CreatedAt = now
	pool.UpdatedAt = now

	if err := e.store.CreatePool(ctx, pool); err != nil {
		return err
	}
	if err := e.counter.SetN(ctx, pool.ID, pool.TotalQuota, e.counterTTL); err != nil {
		e.logger.WarnContext(ctx, "counter seed failed for new pool",
			slog.String("pool_id", pool.ID), slog.Any("error", err))
	}

	e.invalidatePool(pool.ID)
	e.logger.InfoContext(ctx, "pool created",
		slog.String("pool_id", pool.ID),
		slog.String("total_quota", pool.TotalQuota.String()),
		slog.String("reset_policy", string(pool.ResetPolicy)))
	return nil
}

// UpdatePool replaces a pool definition and recomputes its counter so
// the new allowance takes effect immediately.
func (e *Engine) UpdatePool(ctx context.Context, pool Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}

	current, err := e.store.GetPool(ctx, pool.ID)
	if err != nil {
		return err
	}
	pool.CreatedAt = current.CreatedAt
	pool.LastReset = current.LastReset
	pool.UpdatedAt = time.Now().UTC()

	if err := e.store.UpdatePool(ctx, pool); err != nil {
		return err
	}
	e.invalidatePool(pool.ID)

	if _, err := e.repairCounter(ctx, pool); err != nil {
		e.logger.WarnContext(ctx, "counter recompute failed after pool update",
			slog.String("pool_id", pool.ID), slog.Any("error", err))
	}

	e.logger.InfoContext(ctx, "pool updated", slog.String("pool_id", pool.ID))
	return nil
}

// ResetPool forces the pool's remaining quota back to the full allowance
// by moving the consumption window forward to now. Pending holds stay
// deducted. Gated behind the administrative credential at the API
// boundary, not here.
func (e *Engine) ResetPool(ctx context.Context, poolID string) error {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	pool.LastReset = now
	pool.UpdatedAt = now
	if err := e.store.UpdatePool(ctx, pool); err != nil {
		return err
	}
	e.invalidatePool(poolID)

	remaining := pool.TotalQuota - e.res.pendingTotal(poolID)
	if err := e.counter.SetN(ctx, poolID, remaining, e.counterTTL); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}

	e.logger.InfoContext(ctx, "pool quota reset",
		slog.String("pool_id", poolID),
		slog.String("remaining", remaining.String()))
	return nil
}

// Pools lists all pool definitions.
func (e *Engine) Pools(ctx context.Context) ([]Pool, error) {
	return e.store.ListPools(ctx)
}

// Status returns a point-in-time operator view of a pool.
func (e *Engine) Status(ctx context.Context, poolID string) (PoolStatus, error) {
	pool, err := e.pool(ctx, poolID)
	if err != nil {
		return PoolStatus{}, err
	}

	remaining, err := e.Remaining(ctx, poolID)
	if err != nil {
		return PoolStatus{}, err
	}

	return PoolStatus{
		Pool:         pool,
		Remaining:    remaining,
		PendingHolds: e.res.pendingTotal(poolID),
		WindowStart:  pool.WindowStart(time.Now().UTC()),
	}, nil
}

// ReconcilePool recomputes the pool's true remaining quota from the
// durable log and overwrites the cached counter. The durable log wins
// whenever cache and store disagree.
func (e *Engine) ReconcilePool(ctx context.Context, poolID string) (Credits, error) {
	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return 0, err
	}
	return e.repairCounter(ctx, pool)
}

// ReleaseExpired releases every Pending reservation older than maxAge
// and returns their holds to the pools. Called by the Sweeper; exposed
// for tests and manual recovery.
func (e *Engine) ReleaseExpired(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().UTC().Add(-maxAge)

	released := 0
	for _, stale := range e.res.stale(cutoff) {
		if _, err := e.res.resolve(stale.ID, StateReleased); err != nil {
			continue // lost the race with an explicit Commit/Release
		}
		if _, err := e.counter.AdjustN(ctx, stale.PoolID, stale.ReservedAmount); err != nil {
			e.logger.WarnContext(ctx, "counter refund failed for expired reservation",
				slog.String("pool_id", stale.PoolID),
				slog.String("reservation_id", stale.ID.String()),
				slog.Any("error", err))
		}

		released++
		e.releases.Add(1)
		e.logger.InfoContext(ctx, "expired reservation released",
			slog.String("pool_id", stale.PoolID),
			slog.String("reservation_id", stale.ID.String()),
			slog.String("amount", stale.ReservedAmount.String()),
			slog.Duration("max_age", maxAge))
	}
	return released
}

// Stats returns current engine metrics. Thread-safe.
func (e *Engine) Stats() EngineStats {
	return EngineStats{
		ReservationsGranted: e.granted.Load(),
		ReservationsDenied:  e.denied.Load(),
		Commits:             e.commits.Load(),
		Releases:            e.releases.Load(),
		Pending:             e.res.size(),
	}
}

// repairCounter recomputes true remaining quota as
// total − Σ consumed in the current window − Σ pending holds,
// and overwrites the cached counter with it.
func (e *Engine) repairCounter(ctx context.Context, pool Pool) (Credits, error) {
	now := time.Now().UTC()

	consumed, err := e.store.SumConsumed(ctx, pool.ID, pool.WindowStart(now))
	if err != nil {
		return 0, fmt.Errorf("recompute remaining quota: %w", err)
	}

	remaining := pool.TotalQuota - consumed - e.res.pendingTotal(pool.ID)
	if err := e.counter.SetN(ctx, pool.ID, remaining, e.counterTTL); err != nil {
		return 0, fmt.Errorf("write repaired counter: %w", err)
	}

	e.logger.InfoContext(ctx, "remaining-quota counter repaired",
		slog.String("pool_id", pool.ID),
		slog.String("remaining", remaining.String()),
		slog.String("consumed", consumed.String()))

	return remaining, nil
}

// failClosed wraps a counter-store failure so that the reserve path
// denies admission rather than over-granting shared quota.
func (e *Engine) failClosed(err error) error {
	return errors.Join(ErrInsufficientQuota, ErrStoreUnavailable, err)
}

// insertEventWithRetry appends a consumption event, retrying transient
// durable-store failures. A commit is never silently dropped: persistent
// failure is logged at error level for reconciliation and surfaced.
func (e *Engine) insertEventWithRetry(ctx context.Context, event ConsumptionEvent) error {
	var err error
	for attempt := 0; attempt <= e.commitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.retryInterval):
			}
		}

		if err = e.store.InsertEvent(ctx, event); err == nil {
			return nil
		}

		e.logger.WarnContext(ctx, "consumption event write failed",
			slog.String("pool_id", event.PoolID),
			slog.String("event_id", event.ID.String()),
			slog.Int("attempt", attempt+1),
			slog.Any("error", err))
	}

	e.logger.ErrorContext(ctx, "consumption event not persisted after retries",
		slog.String("pool_id", event.PoolID),
		slog.String("event_id", event.ID.String()),
		slog.String("amount", event.QuotaConsumed.String()),
		slog.Any("error", err))

	return errors.Join(ErrStoreUnavailable, err)
}

// pool returns the pool definition, serving from the short-lived
// in-process cache when fresh.
func (e *Engine) pool(ctx context.Context, poolID string) (Pool, error) {
	e.poolMu.RLock()
	entry, ok := e.poolCache[poolID]
	e.poolMu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < e.poolCacheTTL {
		return entry.pool, nil
	}

	pool, err := e.store.GetPool(ctx, poolID)
	if err != nil {
		return Pool{}, err
	}

	e.poolMu.Lock()
	e.poolCache[poolID] = poolCacheEntry{pool: pool, fetchedAt: time.Now()}
	e.poolMu.Unlock()

	return pool, nil
}

func (e *Engine) invalidatePool(poolID string) {
	e.poolMu.Lock()
	delete(e.poolCache, poolID)
	e.poolMu.Unlock()
}
