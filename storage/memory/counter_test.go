package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antihub/quotabroker/core/ledger"
	"github.com/antihub/quotabroker/storage/memory"
)

func TestCounterReserveN(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	counter := memory.NewCounter()

	_, _, err := counter.ReserveN(ctx, "p", ledger.CreditsFromInt(1))
	assert.ErrorIs(t, err, ledger.ErrCounterMiss)

	require.NoError(t, counter.SetN(ctx, "p", ledger.CreditsFromInt(3), 0))

	remaining, ok, err := counter.ReserveN(ctx, "p", ledger.CreditsFromInt(2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ledger.CreditsFromInt(1), remaining)

	remaining, ok, err = counter.ReserveN(ctx, "p", ledger.CreditsFromInt(2))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, ledger.CreditsFromInt(1), remaining, "denied reservation mutates nothing")
}

func TestCounterAdjustN(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	counter := memory.NewCounter()

	_, err := counter.AdjustN(ctx, "p", ledger.CreditsFromInt(1))
	assert.ErrorIs(t, err, ledger.ErrCounterMiss, "adjust never resurrects a missing key")

	require.NoError(t, counter.SetN(ctx, "p", ledger.CreditsFromInt(1), 0))

	got, err := counter.AdjustN(ctx, "p", ledger.MustParseCredits("-2.5"))
	require.NoError(t, err)
	assert.Equal(t, ledger.MustParseCredits("-1.5"), got, "balances may go negative")
}

func TestCounterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	counter := memory.NewCounter()
	require.NoError(t, counter.SetN(ctx, "p", ledger.CreditsFromInt(1), 10*time.Millisecond))

	time.Sleep(30 * time.Millisecond)

	_, err := counter.GetN(ctx, "p")
	assert.ErrorIs(t, err, ledger.ErrCounterMiss)
}

func TestCounterConcurrentReserve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	counter := memory.NewCounter()
	require.NoError(t, counter.SetN(ctx, "p", ledger.CreditsFromInt(10), 0))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, err := counter.ReserveN(ctx, "p", ledger.CreditsFromInt(1)); err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, granted)
}
