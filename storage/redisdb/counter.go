// Package redisdb provides a Redis-backed ledger.CounterStore.
//
// Remaining-quota counters are plain integer keys (micro-credits)
// mutated only through atomic Lua scripts, so the check-and-decrement
// of the admission path is a single round trip and safe across many
// broker instances sharing one Redis.
package redisdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/antihub/quotabroker/core/ledger"
)

// Counter is a Redis-backed ledger.CounterStore.
type Counter struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ ledger.CounterStore = (*Counter)(nil)

// Option configures Counter.
type Option func(*Counter)

// WithKeyPrefix sets the Redis key prefix (default "quotabroker:remaining:").
func WithKeyPrefix(prefix string) Option {
	return func(c *Counter) { c.keyPrefix = prefix }
}

// New creates a Redis-backed counter store. The client must be a
// connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Counter {
	c := &Counter{
		client:    client,
		keyPrefix: "quotabroker:remaining:",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Counter) key(poolID string) string {
	return c.keyPrefix + poolID
}

// reserveScript performs the atomic conditional decrement.
// KEYS[1] = counter key, ARGV[1] = amount in micro-credits.
//
// Returns {-1, 0} on a missing key, {0, balance} when the balance is
// too low (no mutation), {1, newBalance} on success.
var reserveScript = goredis.NewScript(`
local v = redis.call("GET", KEYS[1])
if not v then
    return {-1, 0}
end
v = tonumber(v)
local amount = tonumber(ARGV[1])
if v < amount then
    return {0, v}
end
v = redis.call("DECRBY", KEYS[1], amount)
return {1, v}
`)

// adjustScript adds ARGV[1] (may be negative) to an existing counter,
// preserving its TTL. Returns {-1, 0} on a missing key so the engine
// can repair instead of resurrecting a counter with a stale value.
var adjustScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return {-1, 0}
end
local v = redis.call("INCRBY", KEYS[1], ARGV[1])
return {1, v}
`)

// ReserveN atomically checks-and-decrements the pool's counter.
func (c *Counter) ReserveN(ctx context.Context, poolID string, amount ledger.Credits) (ledger.Credits, bool, error) {
	res, err := reserveScript.Run(ctx, c.client, []string{c.key(poolID)}, amount.Micros()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redisdb: reserve: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redisdb: reserve: unexpected script reply %v", res)
	}

	balance := ledger.CreditsFromMicros(res[1])
	switch res[0] {
	case 1:
		return balance, true, nil
	case 0:
		return balance, false, nil
	case -1:
		return 0, false, ledger.ErrCounterMiss
	default:
		return 0, false, fmt.Errorf("redisdb: reserve: unexpected status %d", res[0])
	}
}

// AdjustN adds delta to the counter. The balance may go negative.
func (c *Counter) AdjustN(ctx context.Context, poolID string, delta ledger.Credits) (ledger.Credits, error) {
	res, err := adjustScript.Run(ctx, c.client, []string{c.key(poolID)}, delta.Micros()).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("redisdb: adjust: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("redisdb: adjust: unexpected script reply %v", res)
	}
	if res[0] == -1 {
		return 0, ledger.ErrCounterMiss
	}
	return ledger.CreditsFromMicros(res[1]), nil
}

// SetN overwrites the counter. A zero ttl means no expiry.
func (c *Counter) SetN(ctx context.Context, poolID string, value ledger.Credits, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.key(poolID), value.Micros(), ttl).Err(); err != nil {
		return fmt.Errorf("redisdb: set: %w", err)
	}
	return nil
}

// GetN reads the counter without mutating it.
func (c *Counter) GetN(ctx context.Context, poolID string) (ledger.Credits, error) {
	raw, err := c.client.Get(ctx, c.key(poolID)).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, ledger.ErrCounterMiss
	}
	if err != nil {
		return 0, fmt.Errorf("redisdb: get: %w", err)
	}

	micros, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redisdb: get: non-integer counter value %q: %w", raw, err)
	}
	return ledger.CreditsFromMicros(micros), nil
}

// Delete removes the counter, forcing the next admission check through
// the repair path. Used by tests and operational tooling.
func (c *Counter) Delete(ctx context.Context, poolID string) error {
	if err := c.client.Del(ctx, c.key(poolID)).Err(); err != nil {
		return fmt.Errorf("redisdb: delete: %w", err)
	}
	return nil
}
