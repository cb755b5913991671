package providers

import (
	"context"
	"sync"
	"time"

	"github.com/alekb/botesq/internal/ports"
)

// DefaultAdapterTTL bounds how long an adapter instance is reused before a
// fresh one is built from the registry row.
const DefaultAdapterTTL = 5 * time.Minute

type cachedAdapter struct {
	adapter   ports.CapabilityAdapter
	expiresAt time.Time
}

// Source builds and caches capability adapters. External adapters are cached
// per provider id with a TTL; the internal adapter lives for the process.
type Source struct {
	internal *InternalAdapter
	registry ports.ProviderRegistry
	ttl      time.Duration
	nowFn    func() time.Time

	mu      sync.Mutex
	entries map[string]cachedAdapter
}

func NewSource(internal *InternalAdapter, registry ports.ProviderRegistry, ttl time.Duration) *Source {
	if ttl <= 0 {
		ttl = DefaultAdapterTTL
	}
	return &Source{
		internal: internal,
		registry: registry,
		ttl:      ttl,
		nowFn:    func() time.Time { return time.Now().UTC() },
		entries:  map[string]cachedAdapter{},
	}
}

func (s *Source) Internal() ports.CapabilityAdapter { return s.internal }

func (s *Source) External(ctx context.Context, providerID string) (ports.CapabilityAdapter, bool) {
	now := s.nowFn()
	s.mu.Lock()
	if entry, ok := s.entries[providerID]; ok && now.Before(entry.expiresAt) {
		s.mu.Unlock()
		return entry.adapter, true
	}
	s.mu.Unlock()

	if s.registry == nil {
		return nil, false
	}
	if _, err := s.registry.GetByID(ctx, providerID); err != nil {
		return nil, false
	}
	adapter := NewExternalAdapter(providerID, s.registry)
	s.mu.Lock()
	s.entries[providerID] = cachedAdapter{adapter: adapter, expiresAt: now.Add(s.ttl)}
	s.mu.Unlock()
	return adapter, true
}

// ClearCache drops every cached adapter. Configuration-reload and test-reset
// hook.
func (s *Source) ClearCache() {
	s.mu.Lock()
	s.entries = map[string]cachedAdapter{}
	s.mu.Unlock()
}
