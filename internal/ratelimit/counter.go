package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments the hit count of key within the fixed window starting
// at windowStart and returns the new count.
type Counter interface {
	Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

type memoryWindow struct {
	start time.Time
	count int64
}

// MemoryCounter keeps counters in process memory.
type MemoryCounter struct {
	mu        sync.Mutex
	windows   map[string]*memoryWindow
	lastSweep time.Time
}

// NewMemoryCounter creates an empty in-process counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*memoryWindow)}
}

// Incr implements Counter.
func (c *MemoryCounter) Incr(_ context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if windowStart.Sub(c.lastSweep) >= window {
		c.sweep(windowStart)
		c.lastSweep = windowStart
	}

	w, ok := c.windows[key]
	if !ok || !w.start.Equal(windowStart) {
		w = &memoryWindow{start: windowStart}
		c.windows[key] = w
	}
	w.count++
	return w.count, nil
}

// sweep drops windows that ended before current. Callers hold mu.
func (c *MemoryCounter) sweep(current time.Time) {
	for k, w := range c.windows {
		if w.start.Before(current) {
			delete(c.windows, k)
		}
	}
}

// Len returns the number of tracked buckets.
func (c *MemoryCounter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

// RedisCounter shares counters between replicas through redis.
type RedisCounter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCounter creates a counter storing keys under prefix.
func NewRedisCounter(client redis.UniversalClient, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: prefix}
}

// Incr implements Counter with INCR and a key TTL of one window.
func (c *RedisCounter) Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error) {
	k := fmt.Sprintf("%s%s:%d", c.prefix, key, windowStart.Unix())

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	return incr.Val(), nil
}
