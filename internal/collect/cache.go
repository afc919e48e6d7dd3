package collect

import (
	"context"
	"sync"
	"time"
)

// Cache is an in-memory keyed cache with a fixed time-to-live. Loads for the
// same key are serialised so concurrent readers trigger a single fetch.
// Invalidate drops every entry and discards results of loads that were
// already in flight.
type Cache[V any] struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	gen     uint64
	entries map[string]cacheEntry[V]
	locks   map[string]*sync.Mutex
}

type cacheEntry[V any] struct {
	value    V
	storedAt time.Time
}

// EntryStatus describes one cache slot.
type EntryStatus struct {
	Cached bool  `json:"cached"`
	AgeMS  int64 `json:"age_ms"`
}

// NewCache creates a cache. A nil clock means time.Now.
func NewCache[V any](ttl time.Duration, now func() time.Time) *Cache[V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry[V]),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Get returns a fresh entry for key.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[V]) getLocked(key string) (V, bool) {
	e, ok := c.entries[key]
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetOrLoad returns the cached value for key or calls load and stores its
// result. Load errors are returned and nothing is cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	kl := c.keyLock(key)
	kl.Lock()
	defer kl.Unlock()

	c.mu.Lock()
	if v, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return v, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entries[key] = cacheEntry[V]{value: v, storedAt: c.now()}
	}
	c.mu.Unlock()
	return v, nil
}

// Invalidate drops every entry.
func (c *Cache[V]) Invalidate() {
	c.mu.Lock()
	c.gen++
	clear(c.entries)
	c.mu.Unlock()
}

// Status reports whether key holds a fresh entry and how old it is.
func (c *Cache[V]) Status(key string) EntryStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.getLocked(key); !ok {
		return EntryStatus{}
	}
	return EntryStatus{Cached: true, AgeMS: c.now().Sub(c.entries[key].storedAt).Milliseconds()}
}

func (c *Cache[V]) keyLock(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}
