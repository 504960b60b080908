package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"signals/internal/questionnaire/models"
	"signals/pkg/platform/sentinel"
)

// Cache holds loaded graphs per graph id. Get returns sentinel.ErrNotFound on
// a miss.
type Cache interface {
	Get(ctx context.Context, id models.GraphID) (*Graph, error)
	Set(ctx context.Context, g *Graph) error
	Delete(ctx context.Context, id models.GraphID) error
}

type memoryEntry struct {
	graph     *Graph
	expiresAt time.Time
}

// MemoryCache is a process-local graph cache with a fixed TTL.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[models.GraphID]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache constructs a process-local cache. A zero ttl never expires.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[models.GraphID]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, id models.GraphID) (*Graph, error) {
	c.mu.RLock()
	entry, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, id)
		c.mu.Unlock()
		return nil, sentinel.ErrNotFound
	}
	return entry.graph, nil
}

func (c *MemoryCache) Set(_ context.Context, g *Graph) error {
	entry := memoryEntry{graph: g}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[g.ID()] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, id models.GraphID) error {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
	return nil
}

const graphKeyPrefix = "signals:graph:"

// RedisCache shares loaded graphs across instances as JSON snapshots, so an
// edge reorder on one instance invalidates the graph for all of them.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a Redis-backed graph cache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func graphKey(id models.GraphID) string {
	return graphKeyPrefix + strconv.FormatInt(int64(id), 10)
}

func (c *RedisCache) Get(ctx context.Context, id models.GraphID) (*Graph, error) {
	raw, err := c.client.Get(ctx, graphKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cached graph %d: %w", id, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode cached graph %d: %w", id, err)
	}
	return Restore(snapshot)
}

func (c *RedisCache) Set(ctx context.Context, g *Graph) error {
	raw, err := json.Marshal(g.Snapshot())
	if err != nil {
		return fmt.Errorf("encode graph %d: %w", g.ID(), err)
	}
	if err := c.client.Set(ctx, graphKey(g.ID()), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache graph %d: %w", g.ID(), err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, id models.GraphID) error {
	if err := c.client.Del(ctx, graphKey(id)).Err(); err != nil {
		return fmt.Errorf("evict graph %d: %w", id, err)
	}
	return nil
}
