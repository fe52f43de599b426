package ledger

import (
	"log/slog"
	"time"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for internal operations.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithCounterTTL sets the expiry applied when the engine writes the
// cached remaining-quota counter. Zero disables expiry; the reconciler
// refreshes counters either way.
func WithCounterTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl >= 0 {
			e.counterTTL = ttl
		}
	}
}

// WithPoolCacheTTL sets how long pool definitions are served from the
// in-process cache before re-reading the durable store.
func WithPoolCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.poolCacheTTL = ttl
		}
	}
}

// WithCommitRetries sets how many additional attempts a failed durable
// event write gets before the commit is surfaced as a store failure.
func WithCommitRetries(retries int) Option {
	return func(e *Engine) {
		if retries >= 0 {
			e.commitRetries = retries
		}
	}
}

// WithCommitRetryInterval sets the delay between durable write retries.
func WithCommitRetryInterval(interval time.Duration) Option {
	return func(e *Engine) {
		if interval > 0 {
			e.retryInterval = interval
		}
	}
}
