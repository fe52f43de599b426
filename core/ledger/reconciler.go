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
)

// Reconciler periodically recomputes every pool's true remaining quota
// from the durable consumption log and overwrites the cached counter.
// The cache is an optimization that can lose or skew data (eviction,
// restart, partition); the append-only log is the tie-breaking source
// of truth.
type Reconciler struct {
	engine *Engine

	// Configuration
	interval        time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	passes   atomic.Int64
	failures atomic.Int64
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithReconcileInterval sets how often a full reconciliation pass runs.
func WithReconcileInterval(interval time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithReconcilerShutdownTimeout sets the graceful shutdown timeout.
func WithReconcilerShutdownTimeout(timeout time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.shutdownTimeout = timeout
		}
	}
}

// WithReconcilerLogger sets the logger for internal operations.
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewReconciler creates a cache/store reconciler for the engine.
func NewReconciler(engine *Engine, opts ...ReconcilerOption) (*Reconciler, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	r := &Reconciler{
		engine:          engine,
		interval:        time.Minute,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Start begins the reconciliation loop. Blocking; use Run() for errgroup wiring.
func (r *Reconciler) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return fmt.Errorf("reconciler already started")
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	r.running.Store(true)
	defer r.running.Store(false)

	r.logger.InfoContext(r.ctx, "quota reconciler started",
		slog.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.InfoContext(context.Background(), "quota reconciler stopping")
			return r.ctx.Err()
		case <-ticker.C:
			r.reconcileWithWait()
		}
	}
}

// Stop gracefully shuts down the reconciler, waiting for an in-progress
// pass to finish within the shutdown timeout.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return fmt.Errorf("reconciler not started")
	}
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("reconciler shutdown timeout exceeded after %s", r.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (r *Reconciler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- r.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = r.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (r *Reconciler) reconcileWithWait() {
	r.mu.Lock()
	if r.cancel == nil {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	defer r.wg.Done()
	r.reconcileAll(r.ctx)
}

// reconcileAll runs one pass over every pool. Individual pool failures
// are logged and do not stop the pass; the next interval retries.
func (r *Reconciler) reconcileAll(ctx context.Context) {
	pools, err := r.engine.Pools(ctx)
	if err != nil {
		r.failures.Add(1)
		r.logger.WarnContext(ctx, "reconciliation pass skipped, pool listing failed",
			slog.Any("error", err))
		return
	}

	for _, pool := range pools {
		if ctx.Err() != nil {
			return
		}
		if _, err := r.engine.ReconcilePool(ctx, pool.ID); err != nil {
			r.failures.Add(1)
			r.logger.WarnContext(ctx, "pool reconciliation failed",
				slog.String("pool_id", pool.ID),
				slog.Any("error", err))
		}
	}

	r.passes.Add(1)
}
