// Package cache keeps the dashboard counts in Redis so every page load
// does not reclassify the full record set. It is strictly best-effort:
// any Redis failure degrades to a direct computation, and the query
// layer never surfaces a cache error.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/crm-sync/internal/classify"
	"github.com/ignite/crm-sync/internal/pkg/logger"
)

const countsKey = "crm:counts"

// CountsCache wraps a Redis client. A nil client disables caching
// entirely, which keeps single-process deployments dependency-free.
type CountsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCountsCache(client *redis.Client, ttl time.Duration) *CountsCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &CountsCache{client: client, ttl: ttl}
}

// Get returns the cached counts, or (nil, false) on miss, disabled cache,
// or any Redis error.
func (c *CountsCache) Get(ctx context.Context) (*classify.Counts, bool) {
	if c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, countsKey).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		logger.Warn("counts cache read failed", "error", err)
		return nil, false
	}
	var counts classify.Counts
	if err := json.Unmarshal(data, &counts); err != nil {
		logger.Warn("counts cache decode failed", "error", err)
		return nil, false
	}
	return &counts, true
}

// Set stores freshly computed counts with the configured TTL.
func (c *CountsCache) Set(ctx context.Context, counts *classify.Counts) {
	if c.client == nil {
		return
	}
	data, err := json.Marshal(counts)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, countsKey, data, c.ttl).Err(); err != nil {
		logger.Warn("counts cache write failed", "error", err)
	}
}

// Invalidate drops the cached counts. The sync worker calls this after a
// pass commits so dashboards pick up the new state before TTL expiry.
func (c *CountsCache) Invalidate(ctx context.Context) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, countsKey).Err(); err != nil {
		logger.Warn("counts cache invalidate failed", "error", err)
	}
}
