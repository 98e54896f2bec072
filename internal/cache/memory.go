package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, for deployments that keep the form
// cache in memory and for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]Entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]map[string]Entry),
		now:     time.Now,
	}
}

// Get returns a copy of the entry, or nil if absent or expired.
func (m *MemoryStore) Get(_ context.Context, key, namespace string) (*Entry, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[namespace][key]
	if !ok || entry.Expired(m.now()) {
		return nil, nil
	}
	entry.Data = append([]byte(nil), entry.Data...)
	return &entry, nil
}

// Set stores a copy of entry.
func (m *MemoryStore) Set(_ context.Context, namespace string, entry *Entry) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}

	stored := *entry
	stored.Data = append([]byte(nil), entry.Data...)
	if stored.Created.IsZero() {
		stored.Created = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bin, ok := m.entries[namespace]
	if !ok {
		bin = make(map[string]Entry)
		m.entries[namespace] = bin
	}
	bin[entry.Key] = stored
	return nil
}

// Delete removes an entry if present.
func (m *MemoryStore) Delete(_ context.Context, key, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries[namespace], key)
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// PurgeExpired drops expired entries from namespace.
func (m *MemoryStore) PurgeExpired(_ context.Context, namespace string) (int64, error) {
	if err := ValidateNamespace(namespace); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int64
	for key, entry := range m.entries[namespace] {
		if entry.Expired(now) {
			delete(m.entries[namespace], key)
			removed++
		}
	}
	return removed, nil
}
