package ledger

import "errors"

// Package-level error definitions for ledger operations.
// Use errors.Is() to classify failures at the API boundary.
var (
	// ErrPoolUnknown is returned for operations referencing a pool that
	// does not exist. Caller error, surfaced immediately.
	ErrPoolUnknown = errors.New("pool unknown")

	// ErrPoolExists is returned when creating a pool whose ID is taken.
	ErrPoolExists = errors.New("pool already exists")

	// ErrInsufficientQuota is the expected, frequent admission denial:
	// the pool has less remaining quota than the reservation asks for.
	ErrInsufficientQuota = errors.New("insufficient quota")

	// ErrReservationNotFound is returned when resolving a reservation
	// the engine has no record of.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrAlreadyResolved is returned when a reservation is committed or
	// released a second time. The first resolution stands; ledger state
	// is unchanged by the failed call.
	ErrAlreadyResolved = errors.New("reservation already resolved")

	// ErrStoreUnavailable indicates a connectivity failure talking to
	// the counter store or the durable store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCounterMiss indicates the cached remaining-quota counter is
	// absent (evicted, expired, or never written). The engine repairs
	// it from the durable log and retries.
	ErrCounterMiss = errors.New("remaining-quota counter missing")

	// ErrInvalidAmount is returned for zero/negative reservation amounts
	// and unparseable decimal strings.
	ErrInvalidAmount = errors.New("invalid quota amount")

	// ErrInvalidPool is returned for pool definitions that fail validation.
	ErrInvalidPool = errors.New("invalid pool definition")
)

// Configuration errors.
var (
	ErrNilStore   = errors.New("durable store is required")
	ErrNilCounter = errors.New("counter store is required")
	ErrNilEngine  = errors.New("ledger engine is required")
)
