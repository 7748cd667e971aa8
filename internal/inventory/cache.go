package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// SnapshotCache is a read-through Redis cache for snapshot rows. Concurrent
// misses for the same key collapse into a single load.
type SnapshotCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewSnapshotCache constructs SnapshotCache.
func NewSnapshotCache(client *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SnapshotCache{client: client, ttl: ttl}
}

func cacheKey(key StockKey) string {
	return fmt.Sprintf("inventory:snapshot:%d:%d:%d", key.ProductID, key.WarehouseID, key.LotID)
}

// Get returns the cached snapshot or loads and stores it.
func (c *SnapshotCache) Get(ctx context.Context, key StockKey, load func(context.Context) (StockSnapshot, error)) (StockSnapshot, error) {
	if c == nil || c.client == nil {
		return load(ctx)
	}
	redisKey := cacheKey(key)
	payload, err := c.client.Get(ctx, redisKey).Bytes()
	if err == nil {
		var snap StockSnapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			return snap, nil
		}
		// Stale or corrupt payload, fall through to the loader.
	}

	result, err, _ := c.group.Do(redisKey, func() (any, error) {
		snap, err := load(ctx)
		if err != nil {
			return StockSnapshot{}, err
		}
		if encoded, err := json.Marshal(snap); err == nil {
			c.client.Set(ctx, redisKey, encoded, c.ttl)
		}
		return snap, nil
	})
	if err != nil {
		return StockSnapshot{}, err
	}
	return result.(StockSnapshot), nil
}

// Invalidate drops the cached snapshot for a key.
func (c *SnapshotCache) Invalidate(ctx context.Context, key StockKey) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKey(key)).Err()
}
