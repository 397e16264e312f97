package sitecache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmgilman/go/sitecache/storage"
)

// metrics tracks counters for Stats.
type metrics struct {
	mu sync.RWMutex

	hits          int64
	staleHits     int64
	misses        int64
	errors        int64
	fetches       int64
	revalidations int64
	removals      int64

	startTime   time.Time
	lastHitTime time.Time
	lastErrTime time.Time
}

func newMetrics(now time.Time) *metrics {
	return &metrics{startTime: now}
}

func (m *metrics) recordHit(now time.Time, stale bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hits++
	if stale {
		m.staleHits++
	}
	m.lastHitTime = now
}

func (m *metrics) recordMiss() {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}

func (m *metrics) recordError(now time.Time) {
	m.mu.Lock()
	m.errors++
	m.lastErrTime = now
	m.mu.Unlock()
}

func (m *metrics) recordFetch() {
	m.mu.Lock()
	m.fetches++
	m.mu.Unlock()
}

func (m *metrics) recordRevalidation() {
	m.mu.Lock()
	m.revalidations++
	m.mu.Unlock()
}

func (m *metrics) recordRemoval(n int) {
	m.mu.Lock()
	m.removals += int64(n)
	m.mu.Unlock()
}

// calculateHitRate calculates the current hit rate. Callers hold m.mu.
func (m *metrics) calculateHitRate() float64 {
	total := m.hits + m.misses
	if total == 0 {
		return 0.0
	}
	return float64(m.hits) / float64(total)
}

// Stats is a snapshot of cache state for diagnostics.
type Stats struct {
	Entries       int          `json:"entries"`
	SizeBytes     int64        `json:"sizeBytes"`
	Backend       storage.Type `json:"backend"`
	Online        bool         `json:"online"`
	Hits          int64        `json:"hits"`
	StaleHits     int64        `json:"staleHits"`
	Misses        int64        `json:"misses"`
	HitRate       float64      `json:"hitRate"`
	Errors        int64        `json:"errors"`
	Fetches       int64        `json:"fetches"`
	Revalidations int64        `json:"revalidations"`
	Removals      int64        `json:"removals"`
	Uptime        string       `json:"uptime"`
	LastHit       *time.Time   `json:"lastHit,omitempty"`
	LastError     *time.Time   `json:"lastError,omitempty"`
}

func (m *metrics) snapshot(now time.Time) Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Hits:          m.hits,
		StaleHits:     m.staleHits,
		Misses:        m.misses,
		HitRate:       m.calculateHitRate(),
		Errors:        m.errors,
		Fetches:       m.fetches,
		Revalidations: m.revalidations,
		Removals:      m.removals,
		Uptime:        now.Sub(m.startTime).Round(time.Second).String(),
	}
	if !m.lastHitTime.IsZero() {
		t := m.lastHitTime
		s.LastHit = &t
	}
	if !m.lastErrTime.IsZero() {
		t := m.lastErrTime
		s.LastError = &t
	}
	return s
}

// Stats returns entry count, size, backend type and operation counters.
// Storage failures leave Entries and SizeBytes at zero.
func (m *Manager) Stats(ctx context.Context) Stats {
	s := m.metrics.snapshot(m.clock.Now())
	s.Backend = m.adapter.Type()
	s.Online = m.IsOnline()

	if keys, err := m.adapter.Keys(ctx); err != nil {
		m.storageError(ctx, "keys", "", "", err)
	} else {
		s.Entries = len(keys)
	}
	if size, err := m.adapter.Size(ctx); err != nil {
		m.storageError(ctx, "size", "", "", err)
	} else {
		s.SizeBytes = size
	}
	return s
}

// Keys lists the stored hashes in sorted order.
func (m *Manager) Keys(ctx context.Context) []string {
	keys, err := m.adapter.Keys(ctx)
	if err != nil {
		m.storageError(ctx, "keys", "", "", err)
		return nil
	}
	sort.Strings(keys)
	return keys
}
