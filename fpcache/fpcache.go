// Package fpcache is a stored LRU cache: a capacity-bounded in-memory map
// with explicit snapshot persistence to an external key-value backend.
//
// Get and Set only touch memory, so the hot path of classification and
// thumbnail reuse never waits on the backend. Save serializes the whole
// mapping to one backend entry with a TTL; Load replaces the mapping
// wholesale with the last stored snapshot, discarding unsaved changes.
// A second process sees a view exactly as fresh as the last Save/Load
// pair.
//
// Get/Set are safe for concurrent use; Save/Load are exclusive against
// them, so no reader can observe a half-swapped mapping.
package fpcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Backend is the external key-value store that holds snapshots.
type Backend interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	InvalidateAll(ctx context.Context) (int64, error)
}

// Config tunes a Cache.
type Config struct {
	// Capacity is the maximum number of in-memory entries. Inserting
	// beyond it evicts the least-recently-used key. Default: 128.
	Capacity int

	// TTL applied to the backend snapshot. Default: 1h.
	TTL time.Duration

	// SnapshotKey is the backend key the full mapping is stored under.
	// Default: "fpcache:snapshot". Tenant scoping happens on the entry
	// keys, not here; one cache instance serves one process.
	SnapshotKey string

	// Logger for save/load diagnostics.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Capacity <= 0 {
		c.Capacity = 128
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.SnapshotKey == "" {
		c.SnapshotKey = "fpcache:snapshot"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Cache is the stored LRU cache. Capacity is fixed at construction.
type Cache struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, []byte]
	backend Backend
	cfg     Config
}

// New creates a Cache over the given backend.
func New(backend Backend, cfg Config) (*Cache, error) {
	cfg.defaults()
	lru, err := simplelru.NewLRU[string, []byte](cfg.Capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("fpcache: %w", err)
	}
	return &Cache{lru: lru, backend: backend, cfg: cfg}, nil
}

// Get returns the value for key and marks it most-recently-used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Set inserts or updates key, marking it most-recently-used. When the
// cache is full the single least-recently-used key is evicted.
func (c *Cache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

// Len returns the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// snapshotEntry preserves recency order in the serialized form.
type snapshotEntry struct {
	Key   string `json:"k"`
	Value []byte `json:"v"`
}

// Save serializes the full mapping to the backend under the configured
// snapshot key and TTL. It is a point-in-time snapshot, not an append log:
// each Save fully replaces the previous one.
func (c *Cache) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.lru.Keys() // oldest to newest
	entries := make([]snapshotEntry, 0, len(keys))
	for _, k := range keys {
		v, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		entries = append(entries, snapshotEntry{Key: k, Value: v})
	}

	blob, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("fpcache: marshal snapshot: %w", err)
	}
	if err := c.backend.Set(ctx, c.cfg.SnapshotKey, blob, c.cfg.TTL); err != nil {
		return fmt.Errorf("fpcache: save snapshot: %w", err)
	}
	c.cfg.Logger.Debug("fpcache: snapshot saved", "entries", len(entries), "ttl", c.cfg.TTL)
	return nil
}

// Load replaces the in-memory mapping wholesale with the backend's stored
// snapshot. Keys added since the last Save are discarded. If the backend
// holds no snapshot (never saved, or TTL expired) the cache comes back
// empty.
func (c *Cache) Load(ctx context.Context) error {
	blob, ok, err := c.backend.Get(ctx, c.cfg.SnapshotKey)
	if err != nil {
		return fmt.Errorf("fpcache: load snapshot: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
	if !ok {
		c.cfg.Logger.Debug("fpcache: no snapshot in backend, cache cleared")
		return nil
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return fmt.Errorf("fpcache: decode snapshot: %w", err)
	}
	// Insert oldest first so recency order survives the round trip.
	for _, e := range entries {
		c.lru.Add(e.Key, e.Value)
	}
	c.cfg.Logger.Debug("fpcache: snapshot loaded", "entries", len(entries))
	return nil
}

// Invalidate clears memory and deletes everything in the backend,
// returning the number of backend entries removed.
func (c *Cache) Invalidate(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
	return c.backend.InvalidateAll(ctx)
}
