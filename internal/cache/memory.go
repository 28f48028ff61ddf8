package cache

import (
	"sync"
	"time"
)

type item[V any] struct {
	value      V
	expiration int64
}

// MemoryCache is a TTL map with lazy expiration on Get.
type MemoryCache[V any] struct {
	items map[string]item[V]
	mu    sync.RWMutex
	now   func() time.Time
}

func NewMemoryCache[V any]() *MemoryCache[V] {
	return &MemoryCache[V]{
		items: make(map[string]item[V]),
		now:   time.Now,
	}
}

func (c *MemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = item[V]{value: value, expiration: c.now().Add(ttl).UnixNano()}
}

func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	it, found := c.items[key]
	c.mu.RUnlock()

	if !found || c.now().UnixNano() > it.expiration {
		var zero V
		return zero, false
	}
	return it.value, true
}

// GetOrLoad returns the cached value or stores the loader's result.
// Loader errors are not cached.
func (c *MemoryCache[V]) GetOrLoad(key string, ttl time.Duration, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return v, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Purge drops expired entries.
func (c *MemoryCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now().UnixNano()
	for k, it := range c.items {
		if now > it.expiration {
			delete(c.items, k)
		}
	}
}

func (c *MemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
