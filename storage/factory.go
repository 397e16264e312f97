package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"slices"

	"github.com/jmgilman/go/sitecache/logging"
)

// fallbackOrder is tried after the preferred backend.
var fallbackOrder = []Type{TypeObject, TypeKeyValue, TypeMemory}

// Create constructs the backend for typ. An unrecognized type logs a warning
// and returns the memory backend.
func Create(typ Type, cfg Config, logger *logging.Logger) (Adapter, error) {
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	switch typ {
	case TypeMemory:
		return NewMemory(), nil
	case TypeKeyValue:
		kv, err := NewKeyValue(cfg, logger)
		if err != nil {
			return nil, err
		}
		return kv, nil
	case TypeObject:
		return NewObjectStore(cfg, logger), nil
	default:
		logger.Warn(context.Background(), "unknown storage type, using memory", "type", string(typ))
		return NewMemory(), nil
	}
}

// IsAvailable performs a cheap capability probe for typ.
func IsAvailable(typ Type, cfg Config) bool {
	cfg.SetDefaults()

	switch typ {
	case TypeMemory:
		return true
	case TypeKeyValue:
		kv, err := NewKeyValue(cfg, nil)
		if err != nil {
			return false
		}
		return kv.probe() == nil
	case TypeObject:
		if !slices.Contains(sql.Drivers(), sqliteDriver) {
			return false
		}
		return cfg.Dir == "" || dirWritable(cfg.Dir)
	default:
		return false
	}
}

// Resolve picks the first available backend, trying preferred and then
// object, key-value and memory. Memory is always accepted. The skipped types
// are returned in the order they were tried.
func Resolve(preferred Type, available func(Type) bool) (Type, []Type) {
	order := make([]Type, 0, len(fallbackOrder)+1)
	if preferred != "" {
		order = append(order, preferred)
	}
	for _, t := range fallbackOrder {
		if !slices.Contains(order, t) {
			order = append(order, t)
		}
	}

	var skipped []Type
	for _, t := range order {
		if t == TypeMemory || available(t) {
			return t, skipped
		}
		skipped = append(skipped, t)
	}
	return TypeMemory, skipped
}

func dirWritable(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".sitecache-probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name)) == nil
}
