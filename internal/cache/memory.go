package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultMemoryEntries bounds a MemoryProvider created with a non-positive size.
const DefaultMemoryEntries = 256

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

// MemoryProvider is an in-process Provider used when no Redis server is configured.
type MemoryProvider struct {
	mu         sync.Mutex
	data       map[string]memoryItem
	maxEntries int
	now        func() time.Time
}

// NewMemoryProvider creates a cache holding at most maxEntries values.
func NewMemoryProvider(maxEntries int) *MemoryProvider {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryProvider{data: make(map[string]memoryItem), maxEntries: maxEntries, now: time.Now}
}

func (c *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.data[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !it.expiresAt.IsZero() && c.now().After(it.expiresAt) {
		delete(c.data, key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), it.value...), nil
}

// Set stores a copy of value. A non-positive ttl keeps the entry until evicted.
func (c *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.now().Add(ttl)
	}
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxEntries {
		c.evict()
	}
	c.data[key] = memoryItem{value: append([]byte(nil), value...), expiresAt: expires}
	return nil
}

func (c *MemoryProvider) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *MemoryProvider) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]memoryItem)
	return nil
}

// evict drops expired entries, then the entry closest to expiry if the cache is still full.
func (c *MemoryProvider) evict() {
	now := c.now()
	var victim string
	var victimExpiry time.Time
	for key, it := range c.data {
		if !it.expiresAt.IsZero() && now.After(it.expiresAt) {
			delete(c.data, key)
			continue
		}
		if victim == "" || (!it.expiresAt.IsZero() && (victimExpiry.IsZero() || it.expiresAt.Before(victimExpiry))) {
			victim, victimExpiry = key, it.expiresAt
		}
	}
	if len(c.data) >= c.maxEntries && victim != "" {
		delete(c.data, victim)
	}
}
