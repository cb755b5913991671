package cache

import (
	"context"
	"sync"
	"time"

	"github.com/alekb/botesq/internal/domain"
)

type cachedHealth struct {
	health    domain.ProviderHealth
	expiresAt time.Time
}

// MemoryHealthCache is the in-process fallback used when Redis is not
// configured, and by tests.
type MemoryHealthCache struct {
	mu      sync.Mutex
	entries map[string]cachedHealth
	nowFn   func() time.Time
}

func NewMemoryHealthCache() *MemoryHealthCache {
	return &MemoryHealthCache{entries: map[string]cachedHealth{}, nowFn: func() time.Time { return time.Now().UTC() }}
}

func (c *MemoryHealthCache) Put(_ context.Context, providerID string, health domain.ProviderHealth, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[providerID] = cachedHealth{health: health, expiresAt: c.nowFn().Add(ttl)}
	return nil
}

func (c *MemoryHealthCache) Get(_ context.Context, providerID string) (*domain.ProviderHealth, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[providerID]
	if !ok || c.nowFn().After(entry.expiresAt) {
		delete(c.entries, providerID)
		return nil, nil
	}
	out := entry.health
	return &out, nil
}
