// Package storage provides the persistence backends used by the site cache.
//
// Every backend implements Adapter and stores Entry values, which pair an
// opaque JSON payload with Metadata describing freshness, version and tags.
// Three backends are available:
//
//   - Memory: a process-local map. Always available, never fails.
//   - KeyValue: one JSON file per entry on a core.FS (in-memory or local
//     disk). Writes are atomic and subject to a byte budget; when the budget
//     is exceeded the oldest 20% of entries are evicted and the write is
//     retried once.
//   - ObjectStore: a SQLite table keyed by hash, opened lazily and versioned
//     with PRAGMA user_version.
//
// # Selecting a backend
//
// Resolve implements the fallback order (preferred, object, key-value,
// memory) over an availability probe, and Create instantiates the chosen
// type:
//
//	typ, skipped := storage.Resolve(storage.TypeObject, func(t storage.Type) bool {
//	    return storage.IsAvailable(t, cfg)
//	})
//	adapter, err := storage.Create(typ, cfg, logger)
//
// All backends are safe for concurrent use.
package storage
