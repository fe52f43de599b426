package ledger

import (
	"context"
	"time"
)

// CounterStore is the shared, network-visible remaining-quota counter.
// It is the admission fast path: every mutation is a single atomic
// primitive so that no caller ever performs a separate read-then-write.
//
// Implementations must return ErrCounterMiss when the counter for a pool
// is absent (evicted, expired, never written); the engine repairs it
// from the durable log.
type CounterStore interface {
	// ReserveN atomically checks that the counter holds at least amount
	// and decrements it. When the balance is too low it returns
	// ok=false, the current balance, and no mutation.
	ReserveN(ctx context.Context, poolID string, amount Credits) (remaining Credits, ok bool, err error)

	// AdjustN unconditionally adds delta (negative to debit) and returns
	// the new balance. The counter may go negative: an under-reserved
	// commit still debits the full actual cost.
	AdjustN(ctx context.Context, poolID string, delta Credits) (Credits, error)

	// SetN overwrites the counter. A zero ttl means no expiry.
	SetN(ctx context.Context, poolID string, value Credits, ttl time.Duration) error

	// GetN reads the counter without mutating it.
	GetN(ctx context.Context, poolID string) (Credits, error)
}

// EventFilter narrows a durable consumption-event query.
// Zero values mean "no constraint"; Limit <= 0 means no limit.
type EventFilter struct {
	PoolID string
	Start  time.Time // inclusive
	End    time.Time // exclusive
	Limit  int
}

// Store is the durable source of truth: pool definitions plus the
// append-only consumption log.
type Store interface {
	CreatePool(ctx context.Context, pool Pool) error
	UpdatePool(ctx context.Context, pool Pool) error
	GetPool(ctx context.Context, poolID string) (Pool, error)
	ListPools(ctx context.Context) ([]Pool, error)

	// InsertEvent appends one immutable consumption event.
	InsertEvent(ctx context.Context, event ConsumptionEvent) error

	// SumConsumed returns the total quota consumed by a pool since the
	// given instant. This is the authoritative consumption total.
	SumConsumed(ctx context.Context, poolID string, since time.Time) (Credits, error)

	// ListEvents returns events matching the filter, ordered by
	// consumed_at descending.
	ListEvents(ctx context.Context, filter EventFilter) ([]ConsumptionEvent, error)
}
