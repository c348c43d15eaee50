package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record    Record
	expiresAt time.Time
}

// Memory keeps keys in process. Expired keys are dropped lazily.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemory creates an in-memory store.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
}

// Acquire implements Store.
func (m *Memory) Acquire(ctx context.Context, key string, fp Fingerprint) (*Replay, error) {
	now := m.now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if ok && now.After(entry.expiresAt) {
		ok = false
	}
	if ok {
		replay, reclaim, err := Resolve(key, &entry.record, fp, now)
		if !reclaim {
			return replay, err
		}
	}

	m.entries[key] = &memoryEntry{
		record: Record{
			Fingerprint: fp,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		expiresAt: now.Add(m.ttl),
	}
	return nil, nil
}

// Complete implements Store.
func (m *Memory) Complete(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	m.finish(key, StatusSuccess, statusCode, contentType, body)
	return nil
}

// Fail implements Store.
func (m *Memory) Fail(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	m.finish(key, StatusFailed, statusCode, contentType, body)
	return nil
}

func (m *Memory) finish(key string, status Status, statusCode int, contentType string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return
	}
	entry.record.Status = status
	entry.record.StatusCode = statusCode
	entry.record.ContentType = contentType
	entry.record.Body = append([]byte(nil), body...)
	entry.record.UpdatedAt = m.now().UTC()
}
