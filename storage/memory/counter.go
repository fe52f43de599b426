// Package memory provides an in-memory ledger.CounterStore.
//
// Counters live in a mutex-guarded map, so atomicity only spans one
// process: suitable for single-instance deployments and tests. Shared
// multi-instance deployments use storage/redisdb.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/antihub/quotabroker/core/ledger"
)

type entry struct {
	micros    int64
	expiresAt time.Time // zero means no expiry
}

// Counter implements ledger.CounterStore using in-memory storage.
type Counter struct {
	mu       sync.Mutex
	counters map[string]*entry
}

var _ ledger.CounterStore = (*Counter)(nil)

// NewCounter creates an in-memory counter store.
func NewCounter() *Counter {
	return &Counter{counters: make(map[string]*entry)}
}

// ReserveN atomically checks-and-decrements the pool's counter.
func (c *Counter) ReserveN(_ context.Context, poolID string, amount ledger.Credits) (ledger.Credits, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(poolID)
	if !ok {
		return 0, false, ledger.ErrCounterMiss
	}
	if e.micros < amount.Micros() {
		return ledger.CreditsFromMicros(e.micros), false, nil
	}

	e.micros -= amount.Micros()
	return ledger.CreditsFromMicros(e.micros), true, nil
}

// AdjustN adds delta to the counter. The balance may go negative.
func (c *Counter) AdjustN(_ context.Context, poolID string, delta ledger.Credits) (ledger.Credits, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(poolID)
	if !ok {
		return 0, ledger.ErrCounterMiss
	}

	e.micros += delta.Micros()
	return ledger.CreditsFromMicros(e.micros), nil
}

// SetN overwrites the counter. A zero ttl means no expiry.
func (c *Counter) SetN(_ context.Context, poolID string, value ledger.Credits, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{micros: value.Micros()}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.counters[poolID] = e
	return nil
}

// GetN reads the counter without mutating it.
func (c *Counter) GetN(_ context.Context, poolID string) (ledger.Credits, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(poolID)
	if !ok {
		return 0, ledger.ErrCounterMiss
	}
	return ledger.CreditsFromMicros(e.micros), nil
}

// Delete removes the counter, forcing the next admission check through
// the repair path.
func (c *Counter) Delete(_ context.Context, poolID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.counters, poolID)
	return nil
}

// live returns the entry for poolID, expiring it lazily.
// Callers must hold the lock.
func (c *Counter) live(poolID string) (*entry, bool) {
	e, ok := c.counters[poolID]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		delete(c.counters, poolID)
		return nil, false
	}
	return e, true
}
