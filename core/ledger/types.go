package ledger

import (
	"time"

	"github.com/google/uuid"
)

// ResetPolicy determines how a pool's consumption window is anchored.
type ResetPolicy string

const (
	// ResetRolling counts consumption over a sliding window of
	// ResetInterval ending now.
	ResetRolling ResetPolicy = "rolling"

	// ResetDaily counts consumption since the current UTC midnight.
	ResetDaily ResetPolicy = "daily"
)

// Valid reports whether the policy is one of the supported values.
func (p ResetPolicy) Valid() bool {
	return p == ResetRolling || p == ResetDaily
}

// Pool is a shared quota allowance drawn down by many callers.
// RemainingQuota is derived state held in the counter store; it is never
// persisted as truth.
type Pool struct {
	ID            string        `json:"pool_id"`
	TotalQuota    Credits       `json:"total_quota"`
	ResetPolicy   ResetPolicy   `json:"reset_policy"`
	ResetInterval time.Duration `json:"reset_interval,omitempty"` // rolling policy only
	LastReset     time.Time     `json:"last_reset,omitempty"`     // set by forced resets
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Validate checks the pool definition before it is persisted.
func (p Pool) Validate() error {
	if p.ID == "" {
		return ErrInvalidPool
	}
	if p.TotalQuota <= 0 {
		return ErrInvalidPool
	}
	if !p.ResetPolicy.Valid() {
		return ErrInvalidPool
	}
	if p.ResetPolicy == ResetRolling && p.ResetInterval <= 0 {
		return ErrInvalidPool
	}
	return nil
}

// WindowStart returns the beginning of the pool's current consumption
// window. Consumption before this instant no longer counts against the
// allowance. A forced reset moves the window forward regardless of policy.
func (p Pool) WindowStart(now time.Time) time.Time {
	now = now.UTC()

	var start time.Time
	switch p.ResetPolicy {
	case ResetRolling:
		start = now.Add(-p.ResetInterval)
	default: // ResetDaily
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}

	if p.LastReset.After(start) {
		return p.LastReset
	}
	return start
}

// ConsumptionEvent is an immutable record of quota actually spent.
// Once written it is never updated or deleted; the sum over any pool and
// time range is the authoritative consumption total.
type ConsumptionEvent struct {
	ID                    uuid.UUID `json:"event_id"`
	PoolID                string    `json:"pool_id"`
	QuotaConsumed         Credits   `json:"quota_consumed"`
	ConsumedAt            time.Time `json:"consumed_at"`
	SourceKeyID           string    `json:"source_key_id,omitempty"`
	RequestCountIncrement int       `json:"request_count_increment"`
}

// ReservationState tracks a reservation through its lifecycle.
// Exactly one of Commit or Release succeeds per reservation.
type ReservationState string

const (
	StatePending   ReservationState = "pending"
	StateCommitted ReservationState = "committed"
	StateReleased  ReservationState = "released"
)

// Reservation is a temporary hold against a pool's remaining quota,
// pending the outcome of the upstream call. Reservations are ephemeral:
// they live in the engine's reservation table, not in the durable store.
type Reservation struct {
	ID             uuid.UUID        `json:"reservation_id"`
	PoolID         string           `json:"pool_id"`
	ReservedAmount Credits          `json:"reserved_amount"`
	State          ReservationState `json:"state"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PoolStatus is a point-in-time view of a pool for operators.
type PoolStatus struct {
	Pool         Pool      `json:"pool"`
	Remaining    Credits   `json:"remaining_quota"`
	PendingHolds Credits   `json:"pending_holds"`
	WindowStart  time.Time `json:"window_start"`
}
