package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// InvalidationListener is called after a collection is invalidated.
type InvalidationListener func(collection string)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is an in-process Cache with TTL expiry.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]map[string]memoryEntry // collection -> key -> entry

	listenersMu sync.RWMutex
	listeners   []InvalidationListener
}

// NewMemory creates a memory cache. A zero ttl keeps entries until invalidated.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]map[string]memoryEntry),
	}
}

// OnInvalidate registers a listener.
func (m *Memory) OnInvalidate(l InvalidationListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Get loads a projection.
func (m *Memory) Get(ctx context.Context, collection, key string, dest any) (bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[collection][key]
	m.mu.RUnlock()

	if !ok || (!entry.expiresAt.IsZero() && m.now().After(entry.expiresAt)) {
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, fmt.Errorf("decode cached %s/%s: %w", collection, key, err)
	}
	return true, nil
}

// Set stores a projection.
func (m *Memory) Set(ctx context.Context, collection, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}

	entry := memoryEntry{payload: payload}
	if m.ttl > 0 {
		entry.expiresAt = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[collection] == nil {
		m.entries[collection] = make(map[string]memoryEntry)
	}
	m.entries[collection][key] = entry
	return nil
}

// InvalidateCollection drops every projection of collection and notifies listeners.
func (m *Memory) InvalidateCollection(ctx context.Context, collection string) error {
	m.mu.Lock()
	delete(m.entries, collection)
	m.mu.Unlock()

	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	for _, l := range m.listeners {
		l(collection)
	}
	return nil
}
