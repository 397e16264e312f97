package storage

import (
	"encoding/json"
	"slices"
	"time"
)

// Metadata describes a stored entry. Times are epoch milliseconds so the
// persisted form is identical across backends.
type Metadata struct {
	// Key is the original logical key (for example a URL path).
	Key string `json:"key"`
	// Hash is the derived storage key.
	Hash string `json:"hash"`
	// Timestamp is the creation time in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	// ExpiresAt is when the entry goes stale, in epoch milliseconds.
	ExpiresAt int64 `json:"expiresAt"`
	// TTL is the lifetime the entry was written with, in milliseconds.
	// Extensions on access reuse it.
	TTL int64 `json:"ttl,omitempty"`
	// Version is the schema version the entry was written with.
	Version int `json:"version"`
	// Updating is set while a background revalidation is in flight.
	Updating bool `json:"updating"`
	// Size is an approximate byte size recorded by the backend.
	Size int64 `json:"size,omitempty"`
	// Tags are free-form labels used for group invalidation.
	Tags []string `json:"tags,omitempty"`
}

// CreatedAt returns Timestamp as a time.Time.
func (m Metadata) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// Expiry returns ExpiresAt as a time.Time.
func (m Metadata) Expiry() time.Time {
	return time.UnixMilli(m.ExpiresAt)
}

// Lifetime returns the TTL the entry was written with. Entries persisted
// without one fall back to ExpiresAt - Timestamp.
func (m Metadata) Lifetime() time.Duration {
	if m.TTL > 0 {
		return time.Duration(m.TTL) * time.Millisecond
	}
	return time.Duration(m.ExpiresAt-m.Timestamp) * time.Millisecond
}

// IsFresh reports whether the entry has not yet expired at now.
func (m Metadata) IsFresh(now time.Time) bool {
	return now.UnixMilli() < m.ExpiresAt
}

// HasAnyTag reports whether the entry carries at least one of tags.
func (m Metadata) HasAnyTag(tags []string) bool {
	for _, t := range m.Tags {
		if slices.Contains(tags, t) {
			return true
		}
	}
	return false
}

// Entry is a cached payload together with its metadata.
type Entry struct {
	// Data is the JSON-encoded payload. It is opaque to the storage layer.
	Data json.RawMessage `json:"data"`
	// Metadata describes the entry.
	Metadata Metadata `json:"metadata"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}

	c := &Entry{
		Data:     slices.Clone(e.Data),
		Metadata: e.Metadata,
	}
	c.Metadata.Tags = slices.Clone(e.Metadata.Tags)
	return c
}

func encodeEntry(e *Entry) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
