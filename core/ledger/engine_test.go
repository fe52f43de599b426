package ledger_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antihub/quotabroker/core/ledger"
	"github.com/antihub/quotabroker/storage/memory"
)

// memStore is an in-memory ledger.Store double for engine tests.
type memStore struct {
	mu     sync.Mutex
	pools  map[string]ledger.Pool
	events []ledger.ConsumptionEvent

	failInserts int // fail the next N InsertEvent calls
}

func newMemStore() *memStore {
	return &memStore{pools: make(map[string]ledger.Pool)}
}

func (s *memStore) CreatePool(_ context.Context, pool ledger.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[pool.ID]; ok {
		return ledger.ErrPoolExists
	}
	s.pools[pool.ID] = pool
	return nil
}

func (s *memStore) UpdatePool(_ context.Context, pool ledger.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[pool.ID]; !ok {
		return ledger.ErrPoolUnknown
	}
	s.pools[pool.ID] = pool
	return nil
}

func (s *memStore) GetPool(_ context.Context, id string) (ledger.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pool, ok := s.pools[id]
	if !ok {
		return ledger.Pool{}, ledger.ErrPoolUnknown
	}
	return pool, nil
}

func (s *memStore) ListPools(_ context.Context) ([]ledger.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ledger.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) InsertEvent(_ context.Context, event ledger.ConsumptionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failInserts > 0 {
		s.failInserts--
		return errors.New("store down")
	}
	if _, ok := s.pools[event.PoolID]; !ok {
		return ledger.ErrPoolUnknown
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) SumConsumed(_ context.Context, poolID string, since time.Time) (ledger.Credits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total ledger.Credits
	for _, ev := range s.events {
		if ev.PoolID == poolID && !ev.ConsumedAt.Before(since) {
			total += ev.QuotaConsumed
		}
	}
	return total, nil
}

func (s *memStore) ListEvents(_ context.Context, filter ledger.EventFilter) ([]ledger.ConsumptionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.ConsumptionEvent
	for _, ev := range s.events {
		if filter.PoolID != "" && ev.PoolID != filter.PoolID {
			continue
		}
		if !filter.Start.IsZero() && ev.ConsumedAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && !ev.ConsumedAt.Before(filter.End) {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConsumedAt.After(out[j].ConsumedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// brokenCounter fails every operation, simulating a cache outage.
type brokenCounter struct{}

func (brokenCounter) ReserveN(context.Context, string, ledger.Credits) (ledger.Credits, bool, error) {
	return 0, false, errors.New("connection refused")
}

func (brokenCounter) AdjustN(context.Context, string, ledger.Credits) (ledger.Credits, error) {
	return 0, errors.New("connection refused")
}

func (brokenCounter) SetN(context.Context, string, ledger.Credits, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCounter) GetN(context.Context, string) (ledger.Credits, error) {
	return 0, errors.New("connection refused")
}

func newTestEngine(t *testing.T, total string) (*ledger.Engine, *memStore, *memory.Counter) {
	t.Helper()

	store := newMemStore()
	counter := memory.NewCounter()
	engine, err := ledger.NewEngine(store, counter)
	require.NoError(t, err)

	require.NoError(t, engine.CreatePool(context.Background(), ledger.Pool{
		ID:          "shared",
		TotalQuota:  ledger.MustParseCredits(total),
		ResetPolicy: ledger.ResetDaily,
	}))

	return engine, store, counter
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	_, err := ledger.NewEngine(nil, memory.NewCounter())
	assert.ErrorIs(t, err, ledger.ErrNilStore)

	_, err = ledger.NewEngine(newMemStore(), nil)
	assert.ErrorIs(t, err, ledger.ErrNilCounter)
}

func TestCheckAndReserve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("reserves against remaining quota", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "10")

		res, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("4"))
		require.NoError(t, err)
		assert.Equal(t, "shared", res.PoolID)
		assert.Equal(t, ledger.StatePending, res.State)

		remaining, err := engine.Remaining(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("6"), remaining)
	})

	t.Run("denies when quota is insufficient without mutating state", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "3")

		_, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("5"))
		require.ErrorIs(t, err, ledger.ErrInsufficientQuota)

		remaining, err := engine.Remaining(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("3"), remaining)
	})

	t.Run("unknown pool", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "3")

		_, err := engine.CheckAndReserve(ctx, "nope", ledger.CreditsFromInt(1))
		assert.ErrorIs(t, err, ledger.ErrPoolUnknown)
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "3")

		_, err := engine.CheckAndReserve(ctx, "shared", 0)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

		_, err = engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("-1"))
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	})

	t.Run("repairs counter from durable log on miss", func(t *testing.T) {
		t.Parallel()
		engine, _, counter := newTestEngine(t, "10")

		require.NoError(t, engine.RecordConsumption(ctx, ledger.ConsumptionEvent{
			PoolID:        "shared",
			QuotaConsumed: ledger.MustParseCredits("4"),
		}))
		require.NoError(t, counter.Delete(ctx, "shared")) // simulate cache eviction

		res, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("2"))
		require.NoError(t, err)
		require.NotNil(t, res)

		remaining, err := engine.Remaining(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("4"), remaining)
	})

	t.Run("fails closed on counter outage", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		engine, err := ledger.NewEngine(store, brokenCounter{})
		require.NoError(t, err)
		require.NoError(t, store.CreatePool(ctx, ledger.Pool{
			ID:          "shared",
			TotalQuota:  ledger.CreditsFromInt(10),
			ResetPolicy: ledger.ResetDaily,
		}))

		_, err = engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(1))
		assert.ErrorIs(t, err, ledger.ErrInsufficientQuota)
		assert.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	})
}

func TestCheckAndReserveConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// Quota for exactly one winner; every other caller must be denied.
	engine, _, _ := newTestEngine(t, "1")

	const callers = 32
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(1)); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, granted)

	remaining, err := engine.Remaining(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, ledger.Credits(0), remaining)
}

func TestCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("refunds over-reservation and writes one event", func(t *testing.T) {
		t.Parallel()
		engine, store, _ := newTestEngine(t, "10")

		res, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("5"))
		require.NoError(t, err)

		require.NoError(t, engine.Commit(ctx, res, ledger.MustParseCredits("3"), "key-1"))

		remaining, err := engine.Remaining(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("7"), remaining)
		assert.Equal(t, 1, store.eventCount())
	})

	t.Run("under-reservation drives the counter negative", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "4")

		res, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("2"))
		require.NoError(t, err)
		require.NoError(t, engine.Commit(ctx, res, ledger.MustParseCredits("7"), ""))

		remaining, err := engine.Remaining(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("-3"), remaining)
		assert.True(t, remaining.IsNegative())

		_, err = engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(1))
		assert.ErrorIs(t, err, ledger.ErrInsufficientQuota)
	})

	t.Run("second resolution fails and leaves the ledger unchanged", func(t *testing.T) {
		t.Parallel()
		engine, store, _ := newTestEngine(t, "10")

		res, err := engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(2))
		require.NoError(t, err)
		require.NoError(t, engine.Commit(ctx, res, ledger.CreditsFromInt(2), ""))

		assert.ErrorIs(t, engine.Commit(ctx, res, ledger.CreditsFromInt(2), ""), ledger.ErrAlreadyResolved)
		assert.ErrorIs(t, engine.Release(ctx, res), ledger.ErrAlreadyResolved)
		assert.Equal(t, 1, store.eventCount())
	})

	t.Run("unknown reservation", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "10")

		err := engine.Commit(ctx, &ledger.Reservation{}, ledger.CreditsFromInt(1), "")
		assert.ErrorIs(t, err, ledger.ErrReservationNotFound)
	})

	t.Run("retries durable write and surfaces persistent failure", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		counter := memory.NewCounter()
		engine, err := ledger.NewEngine(store, counter,
			ledger.WithCommitRetries(1),
			ledger.WithCommitRetryInterval(time.Millisecond),
		)
		require.NoError(t, err)
		require.NoError(t, engine.CreatePool(ctx, ledger.Pool{
			ID:          "shared",
			TotalQuota:  ledger.CreditsFromInt(10),
			ResetPolicy: ledger.ResetDaily,
		}))

		// First write fails, the retry succeeds.
		res, err := engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(1))
		require.NoError(t, err)
		store.failInserts = 1
		require.NoError(t, engine.Commit(ctx, res, ledger.CreditsFromInt(1), ""))
		assert.Equal(t, 1, store.eventCount())

		// All attempts fail: surfaced, never silently dropped.
		res, err = engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(1))
		require.NoError(t, err)
		store.failInserts = 10
		assert.ErrorIs(t, engine.Commit(ctx, res, ledger.CreditsFromInt(1), ""), ledger.ErrStoreUnavailable)
	})
}

func TestRelease(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, store, _ := newTestEngine(t, "10")

	res, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("4"))
	require.NoError(t, err)

	require.NoError(t, engine.Release(ctx, res))

	remaining, err := engine.Remaining(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, ledger.MustParseCredits("10"), remaining)
	assert.Equal(t, 0, store.eventCount(), "release writes no consumption event")

	assert.ErrorIs(t, engine.Release(ctx, res), ledger.ErrAlreadyResolved)
}

func TestRecordConsumption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("debits counter and appends event", func(t *testing.T) {
		t.Parallel()
		engine, store, _ := newTestEngine(t, "10")

		require.NoError(t, engine.RecordConsumption(ctx, ledger.ConsumptionEvent{
			PoolID:        "shared",
			QuotaConsumed: ledger.MustParseCredits("2.5"),
			SourceKeyID:   "key-9",
		}))

		remaining, err := engine.Remaining(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("7.5"), remaining)
		assert.Equal(t, 1, store.eventCount())
	})

	t.Run("rejects negative consumption", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "10")

		err := engine.RecordConsumption(ctx, ledger.ConsumptionEvent{
			PoolID:        "shared",
			QuotaConsumed: ledger.MustParseCredits("-1"),
		})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	})
}

func TestResetPool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, _, _ := newTestEngine(t, "10")

	require.NoError(t, engine.RecordConsumption(ctx, ledger.ConsumptionEvent{
		PoolID:        "shared",
		QuotaConsumed: ledger.MustParseCredits("9"),
	}))

	require.NoError(t, engine.ResetPool(ctx, "shared"))

	remaining, err := engine.Remaining(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, ledger.MustParseCredits("10"), remaining)

	// A reset must survive reconciliation: the window moved forward, so
	// prior consumption no longer counts.
	reconciled, err := engine.ReconcilePool(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, ledger.MustParseCredits("10"), reconciled)
}

func TestReconcilePool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, _, counter := newTestEngine(t, "10")

	require.NoError(t, engine.RecordConsumption(ctx, ledger.ConsumptionEvent{
		PoolID:        "shared",
		QuotaConsumed: ledger.MustParseCredits("3"),
	}))
	res, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("2"))
	require.NoError(t, err)
	require.NotNil(t, res)

	// Corrupt the cached counter; the durable log must win.
	require.NoError(t, counter.SetN(ctx, "shared", ledger.CreditsFromInt(999), time.Hour))

	reconciled, err := engine.ReconcilePool(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, ledger.MustParseCredits("5"), reconciled, "10 total - 3 consumed - 2 pending")
}

func TestReleaseExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, _, _ := newTestEngine(t, "10")

	res, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("6"))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	released := engine.ReleaseExpired(ctx, 10*time.Millisecond)
	assert.Equal(t, 1, released)

	remaining, err := engine.Remaining(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, ledger.MustParseCredits("10"), remaining, "freed amount is reservable again")

	// The swept reservation is already resolved.
	assert.ErrorIs(t, engine.Commit(ctx, res, ledger.CreditsFromInt(1), ""), ledger.ErrAlreadyResolved)
}

func TestPoolManagement(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("create validates and rejects duplicates", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "10")

		err := engine.CreatePool(ctx, ledger.Pool{ID: "", TotalQuota: ledger.CreditsFromInt(1), ResetPolicy: ledger.ResetDaily})
		assert.ErrorIs(t, err, ledger.ErrInvalidPool)

		err = engine.CreatePool(ctx, ledger.Pool{ID: "shared", TotalQuota: ledger.CreditsFromInt(1), ResetPolicy: ledger.ResetDaily})
		assert.ErrorIs(t, err, ledger.ErrPoolExists)
	})

	t.Run("update takes effect on the counter immediately", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "10")

		require.NoError(t, engine.RecordConsumption(ctx, ledger.ConsumptionEvent{
			PoolID:        "shared",
			QuotaConsumed: ledger.MustParseCredits("4"),
		}))
		require.NoError(t, engine.UpdatePool(ctx, ledger.Pool{
			ID:          "shared",
			TotalQuota:  ledger.CreditsFromInt(20),
			ResetPolicy: ledger.ResetDaily,
		}))

		remaining, err := engine.Remaining(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("16"), remaining)
	})

	t.Run("status reports remaining, pending and window start", func(t *testing.T) {
		t.Parallel()
		engine, _, _ := newTestEngine(t, "10")

		_, err := engine.CheckAndReserve(ctx, "shared", ledger.MustParseCredits("3"))
		require.NoError(t, err)

		status, err := engine.Status(ctx, "shared")
		require.NoError(t, err)
		assert.Equal(t, ledger.MustParseCredits("7"), status.Remaining)
		assert.Equal(t, ledger.MustParseCredits("3"), status.PendingHolds)
		assert.False(t, status.WindowStart.IsZero())
	})
}

func TestEngineStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	engine, _, _ := newTestEngine(t, "10")

	res, err := engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(1))
	require.NoError(t, err)
	require.NoError(t, engine.Commit(ctx, res, ledger.CreditsFromInt(1), ""))

	res, err = engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(1))
	require.NoError(t, err)
	require.NoError(t, engine.Release(ctx, res))

	_, err = engine.CheckAndReserve(ctx, "shared", ledger.CreditsFromInt(100))
	require.ErrorIs(t, err, ledger.ErrInsufficientQuota)

	stats := engine.Stats()
	assert.Equal(t, int64(2), stats.ReservationsGranted)
	assert.Equal(t, int64(1), stats.ReservationsDenied)
	assert.Equal(t, int64(1), stats.Commits)
	assert.Equal(t, int64(1), stats.Releases)
	assert.Equal(t, 0, stats.Pending)
}
