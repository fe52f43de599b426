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

// Sweeper releases Pending reservations that outlived their timeout.
// It is the principal safeguard against quota stranded by callers that
// crashed or timed out between reserve and commit.
type Sweeper struct {
	engine *Engine

	// Configuration
	interval        time.Duration
	maxPendingAge   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	// State management
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Observability metrics
	swept atomic.Int64
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweeper scans for stale holds.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithMaxPendingAge sets the upper bound on a Pending reservation's
// lifetime before it is forcibly released.
func WithMaxPendingAge(age time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if age > 0 {
			s.maxPendingAge = age
		}
	}
}

// WithSweeperShutdownTimeout sets the graceful shutdown timeout.
func WithSweeperShutdownTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if timeout > 0 {
			s.shutdownTimeout = timeout
		}
	}
}

// WithSweeperLogger sets the logger for internal operations.
func WithSweeperLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper creates a reservation sweeper for the engine.
// Call Start() or wire Run() into an errgroup to begin sweeping.
func NewSweeper(engine *Engine, opts ...SweeperOption) (*Sweeper, error) {
	if engine == nil {
		return nil, ErrNilEngine
	}

	s := &Sweeper{
		engine:          engine,
		interval:        10 * time.Second,
		maxPendingAge:   60 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Start begins the sweep loop. This is a blocking operation that runs
// until the context is cancelled. Use Run() for errgroup wiring.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.running.Store(true)
	defer s.running.Store(false)

	s.logger.InfoContext(s.ctx, "reservation sweeper started",
		slog.Duration("interval", s.interval),
		slog.Duration("max_pending_age", s.maxPendingAge))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.InfoContext(context.Background(), "reservation sweeper stopping")
			return s.ctx.Err()
		case <-ticker.C:
			s.sweepWithWait()
		}
	}
}

// Stop gracefully shuts down the sweeper, waiting for an in-progress
// pass to finish within the shutdown timeout.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return fmt.Errorf("sweeper not started")
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
func (s *Sweeper) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop()
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

// Swept returns the total number of reservations reclaimed so far.
func (s *Sweeper) Swept() int64 {
	return s.swept.Load()
}

func (s *Sweeper) sweepWithWait() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	if released := s.engine.ReleaseExpired(s.ctx, s.maxPendingAge); released > 0 {
		s.swept.Add(int64(released))
		s.logger.InfoContext(s.ctx, "stale reservations reclaimed",
			slog.Int("released", released))
	}
}
