package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSnapshotCache(client, time.Minute), srv
}

func TestSnapshotCacheReadThrough(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	key := StockKey{ProductID: 1, WarehouseID: 1}

	loads := 0
	load := func(context.Context) (StockSnapshot, error) {
		loads++
		return StockSnapshot{ProductID: 1, WarehouseID: 1, OnHand: dec("7")}, nil
	}

	snap, err := cache.Get(ctx, key, load)
	require.NoError(t, err)
	require.True(t, snap.OnHand.Equal(dec("7")))
	require.Equal(t, 1, loads)

	snap, err = cache.Get(ctx, key, load)
	require.NoError(t, err)
	require.True(t, snap.OnHand.Equal(dec("7")))
	require.Equal(t, 1, loads, "second read must hit the cache")
}

func TestSnapshotCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	key := StockKey{ProductID: 2, WarehouseID: 1}

	loads := 0
	load := func(context.Context) (StockSnapshot, error) {
		loads++
		return StockSnapshot{ProductID: 2, WarehouseID: 1, OnHand: dec("1")}, nil
	}

	_, err := cache.Get(ctx, key, load)
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(ctx, key))
	_, err = cache.Get(ctx, key, load)
	require.NoError(t, err)
	require.Equal(t, 2, loads)
}

func TestSnapshotCacheMissLoadError(t *testing.T) {
	cache, _ := newTestCache(t)
	_, err := cache.Get(context.Background(), StockKey{ProductID: 3, WarehouseID: 1}, func(context.Context) (StockSnapshot, error) {
		return StockSnapshot{}, ErrSnapshotNotFound
	})
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}
