package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultResultTTL bounds how long a receipt stays cached. The transactions
// table keeps the durable record; the cache only absorbs duplicate triggers
// arriving close together.
const DefaultResultTTL = 15 * time.Minute

// ResultCache holds receipts under their idempotency key for a bounded
// window.
type ResultCache interface {
	Get(ctx context.Context, key string) (*Receipt, bool, error)
	Put(ctx context.Context, key string, r *Receipt) error
	Evict(ctx context.Context, key string) error
}

// ---------------------------------------------------------------------------
// Redis-backed cache
// ---------------------------------------------------------------------------

// RedisCache stores receipts as JSON under a key prefix with a TTL.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ ResultCache = (*RedisCache)(nil)

// NewRedisCache returns a cache with the default receipt TTL.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{Client: client, TTL: DefaultResultTTL}
}

func (c *RedisCache) key(key string) string { return "payments:receipt:" + key }

func (c *RedisCache) Get(ctx context.Context, key string) (*Receipt, bool, error) {
	raw, err := c.Client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("decode cached receipt: %w", err)
	}
	return &r, true, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, r *Receipt) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode receipt: %w", err)
	}
	if err := c.Client.Set(ctx, c.key(key), raw, c.TTL).Err(); err != nil {
		return fmt.Errorf("cache receipt: %w", err)
	}
	return nil
}

func (c *RedisCache) Evict(ctx context.Context, key string) error {
	return c.Client.Del(ctx, c.key(key)).Err()
}

// ---------------------------------------------------------------------------
// In-memory cache
// ---------------------------------------------------------------------------

// MemoryCache is a mutex-guarded map with per-entry expiry. Used in tests
// and single-process deployments without Redis.
type MemoryCache struct {
	TTL time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	receipt Receipt
	expires time.Time
}

var _ ResultCache = (*MemoryCache)(nil)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		TTL:     DefaultResultTTL,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Receipt, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	cp := e.receipt
	return &cp, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, r *Receipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{receipt: *r, expires: c.now().Add(c.TTL)}
	return nil
}

func (c *MemoryCache) Evict(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
