package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(client, time.Minute), mr
}

func TestCacheSummaryRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	_, ok := cache.GetSummary(ctx, 1)
	require.False(t, ok)

	cache.SetSummary(ctx, Summary{
		CustomerID:       1,
		CurrentBalance:   dec("150.25"),
		HasDebt:          true,
		Formatted:        "Owes $150.25",
		Status:           StatusDebt,
		TransactionCount: 3,
	})

	got, ok := cache.GetSummary(ctx, 1)
	require.True(t, ok)
	require.True(t, got.CurrentBalance.Equal(dec("150.25")))
	require.Equal(t, StatusDebt, got.Status)
	require.Equal(t, "Owes $150.25", got.Formatted)

	mr.FastForward(2 * time.Minute)
	_, ok = cache.GetSummary(ctx, 1)
	require.False(t, ok)
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	cache.SetSummary(ctx, Summary{CustomerID: 7, CurrentBalance: dec("10"), Status: StatusDebt})
	_, ok := cache.GetSummary(ctx, 7)
	require.True(t, ok)

	cache.Invalidate(ctx, 7)
	_, ok = cache.GetSummary(ctx, 7)
	require.False(t, ok)
}

func TestCacheNilSafe(t *testing.T) {
	ctx := context.Background()
	var cache *Cache

	cache.SetSummary(ctx, Summary{CustomerID: 1})
	cache.Invalidate(ctx, 1)
	_, ok := cache.GetSummary(ctx, 1)
	require.False(t, ok)

	release, err := cache.AcquireReconcileLock(ctx, time.Minute)
	require.NoError(t, err)
	release()
}

func TestAcquireReconcileLock(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	release, err := cache.AcquireReconcileLock(ctx, time.Minute)
	require.NoError(t, err)

	_, err = cache.AcquireReconcileLock(ctx, time.Minute)
	require.ErrorIs(t, err, ErrReconcileRunning)

	release()
	release2, err := cache.AcquireReconcileLock(ctx, time.Minute)
	require.NoError(t, err)
	release2()

	// The lease expires on its own if the holder dies.
	_, err = cache.AcquireReconcileLock(ctx, time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cache.AcquireReconcileLock(ctx, time.Minute)
	require.NoError(t, err)
}
