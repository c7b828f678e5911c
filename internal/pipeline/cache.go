package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/nyx/internal/tags"
)

// ErrCacheMiss is returned for response ids that are not cached.
var ErrCacheMiss = errors.New("response not cached")

// CacheEntry is the raw and parsed form of one reply.
type CacheEntry struct {
	ResponseID string           `json:"response_id"`
	Raw        string           `json:"raw_reply"`
	Parsed     tags.ParsedReply `json:"parsed"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Cache stores replies by response id.
type Cache interface {
	Put(ctx context.Context, e CacheEntry) error
	Get(ctx context.Context, id string) (*CacheEntry, error)
	// Clear drops every entry and reports how many were removed.
	Clear(ctx context.Context) (int, error)
}

// MemoryCache is an in-process Cache. A zero TTL keeps entries until Clear.
type MemoryCache struct {
	entries map[string]CacheEntry
	ttl     time.Duration
	now     func() time.Time
	mu      sync.RWMutex
}

// NewMemoryCache creates an in-process cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{entries: make(map[string]CacheEntry), ttl: ttl, now: time.Now}
}

func (c *MemoryCache) Put(_ context.Context, e CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict()
	c.entries[e.ResponseID] = e
	return nil
}

func (c *MemoryCache) Get(_ context.Context, id string) (*CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, ErrCacheMiss
	}
	if c.stale(e) {
		delete(c.entries, id)
		return nil, ErrCacheMiss
	}
	return &e, nil
}

// Len reports the number of entries held, stale ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) stale(e CacheEntry) bool {
	return c.ttl > 0 && c.now().Sub(e.Timestamp) > c.ttl
}

// evict drops entries older than the TTL. Callers hold c.mu.
func (c *MemoryCache) evict() {
	for id, e := range c.entries {
		if c.stale(e) {
			delete(c.entries, id)
		}
	}
}

func (c *MemoryCache) Clear(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]CacheEntry)
	return n, nil
}

const cachePrefix = "nyx:resp:"

// RedisCache keeps replies in Redis under nyx:resp:<id> with a TTL, so
// several API replicas can serve the same response ids.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisCache{rdb: rdb, ttl: ttl, logger: logger}, nil
}

func (c *RedisCache) Put(ctx context.Context, e CacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, cachePrefix+e.ResponseID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", e.ResponseID, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, id string) (*CacheEntry, error) {
	data, err := c.rdb.Get(ctx, cachePrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", id, err)
	}
	var e CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", id, err)
	}
	return &e, nil
}

func (c *RedisCache) Clear(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, cachePrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan cache: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("clear cache: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.logger.Info("response cache cleared", zap.Int("removed", removed))
	return removed, nil
}

// Close shuts down the Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
