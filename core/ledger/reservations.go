package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// reservationTable is the engine's in-memory book of in-flight holds.
// All transitions happen under the table lock, which is never held
// across a network call: the engine talks to the counter store first or
// after, never inside.
type reservationTable struct {
	mu      sync.RWMutex
	pending map[uuid.UUID]*Reservation
}

func newReservationTable() *reservationTable {
	return &reservationTable{pending: make(map[uuid.UUID]*Reservation)}
}

// add registers a freshly created Pending reservation.
func (t *reservationTable) add(res *Reservation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[res.ID] = res
}

// resolve transitions a reservation out of Pending. It is the
// serialization point for Commit/Release: the first caller wins, every
// later attempt gets ErrAlreadyResolved. The resolved reservation is
// removed from the table and a copy returned.
func (t *reservationTable) resolve(id uuid.UUID, to ReservationState) (Reservation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, ok := t.pending[id]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	if res.State != StatePending {
		return Reservation{}, ErrAlreadyResolved
	}

	res.State = to
	delete(t.pending, id)
	return *res, nil
}

// stale returns copies of Pending reservations created before the cutoff.
func (t *reservationTable) stale(cutoff time.Time) []Reservation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Reservation
	for _, res := range t.pending {
		if res.CreatedAt.Before(cutoff) {
			out = append(out, *res)
		}
	}
	return out
}

// pendingTotal sums the held amounts for one pool. Used when repairing
// or reconciling the cached counter: pending holds reduce true remaining
// quota even though no event exists for them yet.
func (t *reservationTable) pendingTotal(poolID string) Credits {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total Credits
	for _, res := range t.pending {
		if res.PoolID == poolID {
			total += res.ReservedAmount
		}
	}
	return total
}

// size returns the number of reservations currently pending.
func (t *reservationTable) size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}
