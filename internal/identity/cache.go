// Package identity maps external device identifiers to internal storage ids,
// with a time-bounded cache in front of the device table.
package identity

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a cached device mapping is trusted before it must
// be re-resolved.
const DefaultTTL = 10 * time.Minute

// Cache stores device uid -> internal id mappings. Entries expire after a
// TTL; expired entries are treated as misses. Entries are never explicitly
// deleted. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, uid string) (int64, bool)
	Put(ctx context.Context, uid string, id int64)
}

type memoryEntry struct {
	id         int64
	insertedAt time.Time
}

// MemoryCache is the in-process Cache used by a single-instance deployment.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache creates a MemoryCache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return newMemoryCacheWithClock(ttl, time.Now)
}

func newMemoryCacheWithClock(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     now,
	}
}

// Get returns the cached id for uid if the entry is younger than the TTL.
func (c *MemoryCache) Get(_ context.Context, uid string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[uid]
	if !ok {
		return 0, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		return 0, false
	}
	return e.id, true
}

// Put stores a fresh mapping, refreshing the insertion time.
func (c *MemoryCache) Put(_ context.Context, uid string, id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[uid] = memoryEntry{id: id, insertedAt: c.now()}
}

// RedisCache is a distributed Cache backend for multi-instance deployments.
// TTL enforcement is delegated to Redis key expiry. Redis errors degrade to
// cache misses so the resolver falls back to the database.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a RedisCache from a redis URL.
func NewRedisCache(url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
		prefix: "ingest:device:",
	}, nil
}

// Get looks up uid; any Redis error or malformed value is a miss.
func (c *RedisCache) Get(ctx context.Context, uid string) (int64, bool) {
	val, err := c.client.Get(ctx, c.prefix+uid).Result()
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Put stores the mapping with the configured expiry. Failures are ignored;
// the entry will simply be re-resolved next time.
func (c *RedisCache) Put(ctx context.Context, uid string, id int64) {
	c.client.Set(ctx, c.prefix+uid, strconv.FormatInt(id, 10), c.ttl)
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
