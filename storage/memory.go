package storage

import (
	"context"
	"sync"
)

// Memory is a process-local backend. It never fails and its contents live
// as long as the process.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemory creates an empty memory backend.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

// Get returns a copy of the entry stored under key.
func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.entries[key].Clone(), nil
}

// Set stores a copy of entry under key.
func (m *Memory) Set(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return nil
	}

	c := entry.Clone()
	if c.Metadata.Size == 0 {
		c.Metadata.Size = int64(len(c.Data))
	}

	m.mu.Lock()
	m.entries[key] = c
	m.mu.Unlock()
	return nil
}

// Remove deletes key.
func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Clear drops every entry.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.entries = make(map[string]*Entry)
	m.mu.Unlock()
	return nil
}

// Keys lists the stored keys.
func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Has reports whether key is stored.
func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.entries[key]
	return ok, nil
}

// Size sums the recorded entry sizes.
func (m *Memory) Size(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, e := range m.entries {
		total += e.Metadata.Size
	}
	return total, nil
}

// Type returns TypeMemory.
func (m *Memory) Type() Type { return TypeMemory }

// Close is a no-op.
func (m *Memory) Close() error { return nil }

var _ Adapter = (*Memory)(nil)
