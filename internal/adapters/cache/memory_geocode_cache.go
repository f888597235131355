package cache

import (
	"context"
	"delivery-run-service/internal/domain"
	"sync"
)

// MemoryGeocodeCache is a process-local map guarded by a RWMutex. Entries
// never expire.
type MemoryGeocodeCache struct {
	mu      sync.RWMutex
	entries map[string]domain.Coordinates
}

func NewMemoryGeocodeCache() *MemoryGeocodeCache {
	return &MemoryGeocodeCache{entries: make(map[string]domain.Coordinates)}
}

func (m *MemoryGeocodeCache) Get(_ context.Context, key string) (domain.Coordinates, bool, error) {
	m.mu.RLock()
	c, ok := m.entries[key]
	m.mu.RUnlock()
	return c, ok, nil
}

func (m *MemoryGeocodeCache) Put(_ context.Context, key string, c domain.Coordinates) error {
	m.mu.Lock()
	m.entries[key] = c
	m.mu.Unlock()
	return nil
}

func (m *MemoryGeocodeCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Len returns the number of cached addresses.
func (m *MemoryGeocodeCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
