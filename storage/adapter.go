package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmgilman/go/fs/core"
)

// Type identifies a storage backend.
type Type string

// Supported backends.
const (
	// TypeMemory keeps entries in a process-local map.
	TypeMemory Type = "memory"
	// TypeKeyValue serializes each entry to a file on a core.FS.
	TypeKeyValue Type = "kv"
	// TypeObject keeps entries in a versioned SQLite table.
	TypeObject Type = "object"
)

// ParseType parses a backend name. Aliases from the browser world are
// accepted so configuration written for the web client keeps working.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory", "mem":
		return TypeMemory, nil
	case "kv", "keyvalue", "localstorage":
		return TypeKeyValue, nil
	case "object", "objectstore", "indexeddb", "sqlite":
		return TypeObject, nil
	default:
		return "", fmt.Errorf("unknown storage type: %q", s)
	}
}

// Adapter is the uniform contract implemented by every backend.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Get returns the entry stored under key, or nil if there is none.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under key, replacing any existing entry.
	Set(ctx context.Context, key string, entry *Entry) error

	// Remove deletes the entry stored under key.
	// Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// Clear removes every entry owned by the backend.
	Clear(ctx context.Context) error

	// Keys lists the keys of all stored entries.
	Keys(ctx context.Context) ([]string, error)

	// Has reports whether an entry is stored under key.
	Has(ctx context.Context, key string) (bool, error)

	// Size returns the sum of Metadata.Size over all entries.
	Size(ctx context.Context) (int64, error)

	// Type returns the backend type.
	Type() Type

	// Close releases the backend handle.
	Close() error
}

// Config configures backend construction.
type Config struct {
	// Prefix is prepended to every key by the key-value backend.
	Prefix string
	// Dir is the directory used by persistent backends.
	// An empty Dir selects in-memory filesystems and databases.
	Dir string
	// MaxBytes is the byte budget of the key-value backend. Zero disables
	// the budget check.
	MaxBytes int64
	// DBName is the SQLite file name of the object store inside Dir.
	DBName string
	// StoreVersion is the object store schema version.
	StoreVersion int
	// FS overrides the filesystem used by the key-value backend.
	FS core.FS
}

// SetDefaults applies default values to unset fields in the configuration.
func (c *Config) SetDefaults() {
	if c.DBName == "" {
		c.DBName = "sitecache.db"
	}
	if c.StoreVersion <= 0 {
		c.StoreVersion = 1
	}
}
