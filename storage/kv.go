package storage

import (
	"context"
	"encoding/base64"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"

	"github.com/jmgilman/go/sitecache/logging"
)

const (
	kvDirName   = "kv"
	kvTempDir   = ".temp"
	kvProbeFile = ".probe"
)

// KeyValue stores every entry as JSON text in its own file under a root
// directory of a core.FS. File names are the base64url encoding of
// prefix+key, so arbitrary keys are filesystem safe and Keys can recover them.
type KeyValue struct {
	fs       core.FS
	rootPath string
	tempDir  string
	prefix   string
	maxBytes int64
	logger   *logging.Logger

	// mu serializes writers so the budget check and the write it guards are
	// not interleaved with other writes.
	mu sync.RWMutex
}

// NewKeyValue creates a key-value backend. When cfg.FS is nil it uses an
// in-memory filesystem if cfg.Dir is empty, or the local filesystem rooted at
// cfg.Dir otherwise.
func NewKeyValue(cfg Config, logger *logging.Logger) (*KeyValue, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	fsys, root, err := kvFilesystem(cfg)
	if err != nil {
		return nil, err
	}

	if err := fsys.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create key-value root %q", root)
	}

	tempDir := filepath.Join(root, kvTempDir)
	if err := fsys.MkdirAll(tempDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create temp directory %q", tempDir)
	}

	return &KeyValue{
		fs:       fsys,
		rootPath: root,
		tempDir:  tempDir,
		prefix:   cfg.Prefix,
		maxBytes: cfg.MaxBytes,
		logger:   logger.WithBackend(string(TypeKeyValue)),
	}, nil
}

func kvFilesystem(cfg Config) (core.FS, string, error) {
	switch {
	case cfg.FS != nil:
		root := cfg.Dir
		if root == "" {
			root = "/sitecache"
		}
		return cfg.FS, filepath.Join(root, kvDirName), nil
	case cfg.Dir == "":
		return billy.NewMemory(), filepath.Join("/sitecache", kvDirName), nil
	default:
		abs, err := filepath.Abs(cfg.Dir)
		if err != nil {
			return nil, "", errors.Wrapf(err, errors.CodeInvalidConfig, "invalid storage directory %q", cfg.Dir)
		}
		return billy.NewLocal(), filepath.Join(abs, kvDirName), nil
	}
}

func (s *KeyValue) fileName(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s.prefix + key))
}

func (s *KeyValue) keyFromFile(name string) (string, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(name)
	if err != nil {
		return "", false
	}
	full := string(raw)
	if !strings.HasPrefix(full, s.prefix) {
		return "", false
	}
	return strings.TrimPrefix(full, s.prefix), true
}

func (s *KeyValue) path(key string) string {
	return filepath.Join(s.rootPath, s.fileName(key))
}

// Get reads and decodes the entry stored under key. A corrupted file is
// removed and reported as a miss.
func (s *KeyValue) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	data, err := s.fs.ReadFile(s.path(key))
	s.mu.RUnlock()
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to read entry %q", key)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		s.logger.Warn(ctx, "discarding corrupted entry", "key", key, "error", err)
		_ = s.Remove(ctx, key)
		return nil, nil
	}
	return entry, nil
}

// Set serializes entry, records its approximate size (text length * 2) and
// writes it. A write that exceeds the budget evicts the oldest 20% of entries
// and is retried once; if the retry fails too the write is dropped and only
// logged.
func (s *KeyValue) Set(ctx context.Context, key string, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	e := entry.Clone()
	e.Metadata.Size = 0
	text, err := encodeEntry(e)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "failed to encode entry %q", key)
	}
	e.Metadata.Size = int64(len(text)) * 2
	if text, err = encodeEntry(e); err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "failed to encode entry %q", key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for attempt := 0; attempt < 2; attempt++ {
		err = s.write(ctx, key, text, e.Metadata.Size)
		if err == nil {
			return nil
		}
		if !IsQuotaExceeded(err) {
			return err
		}
		if attempt == 0 {
			s.evictLocked(ctx)
		}
	}

	s.logger.Error(ctx, "dropping write after quota eviction", "key", key, "size", e.Metadata.Size, "error", err)
	return nil
}

// write performs one budget-checked atomic write. Callers hold s.mu.
func (s *KeyValue) write(ctx context.Context, key string, text []byte, size int64) error {
	if s.maxBytes > 0 {
		entries, err := s.scanLocked(ctx)
		if err != nil {
			return err
		}

		var used int64
		for k, e := range entries {
			if k == key {
				continue
			}
			used += e.Metadata.Size
		}
		if used+size > s.maxBytes {
			return errors.WithContextMap(ErrQuotaExceeded, map[string]interface{}{
				"used":   used,
				"size":   size,
				"budget": s.maxBytes,
			})
		}
	}

	return s.writeAtomically(key, text)
}

// writeAtomically writes to a temporary file and renames it into place so
// readers never observe a partial entry.
func (s *KeyValue) writeAtomically(key string, text []byte) error {
	final := s.path(key)
	temp := filepath.Join(s.tempDir, s.fileName(key)+".tmp")

	if err := s.fs.WriteFile(temp, text, 0o644); err != nil {
		_ = s.fs.Remove(temp)
		return s.classifyWriteError(err, key)
	}

	if err := s.fs.Rename(temp, final); err != nil {
		_ = s.fs.Remove(temp)
		return s.classifyWriteError(err, key)
	}
	return nil
}

func (s *KeyValue) classifyWriteError(err error, key string) error {
	if errors.Is(err, syscall.ENOSPC) {
		return errors.Wrap(ErrQuotaExceeded, CodeQuotaExceeded, err.Error())
	}
	return errors.Wrapf(err, errors.CodeInternal, "failed to write entry %q", key)
}

// evictLocked removes the oldest entries by timestamp. Callers hold s.mu.
func (s *KeyValue) evictLocked(ctx context.Context) {
	entries, err := s.scanLocked(ctx)
	if err != nil {
		s.logger.Warn(ctx, "failed to scan entries for eviction", "error", err)
		return
	}

	for _, key := range SelectOldest(entries, EvictionFraction) {
		if err := s.fs.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn(ctx, "failed to evict entry", "key", key, "error", err)
			continue
		}
		logging.LogEviction(ctx, s.logger, key, entries[key].Metadata.Size, "quota_exceeded")
	}
}

// scanLocked loads every entry owned by this backend.
func (s *KeyValue) scanLocked(ctx context.Context) (map[string]*Entry, error) {
	names, err := s.listLocked()
	if err != nil {
		return nil, err
	}

	entries := make(map[string]*Entry, len(names))
	for key, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := s.fs.ReadFile(filepath.Join(s.rootPath, name))
		if err != nil {
			continue
		}
		e, err := decodeEntry(data)
		if err != nil {
			continue
		}
		entries[key] = e
	}
	return entries, nil
}

// listLocked maps keys to file names for every file carrying our prefix.
func (s *KeyValue) listLocked() (map[string]string, error) {
	dirEntries, err := s.fs.ReadDir(s.rootPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrapf(err, errors.CodeInternal, "failed to read directory %q", s.rootPath)
	}

	names := make(map[string]string, len(dirEntries))
	for _, d := range dirEntries {
		if d.IsDir() {
			continue
		}
		if key, ok := s.keyFromFile(d.Name()); ok {
			names[key] = d.Name()
		}
	}
	return names, nil
}

// Remove deletes the file backing key.
func (s *KeyValue) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.path(key)); err != nil && !os.IsNotExist(err) && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, errors.CodeInternal, "failed to remove entry %q", key)
	}
	return nil
}

// Clear removes every entry carrying this backend's prefix. Files written by
// other prefixes under the same root are left alone.
func (s *KeyValue) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.listLocked()
	if err != nil {
		return err
	}
	for key, name := range names {
		if err := s.fs.Remove(filepath.Join(s.rootPath, name)); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, errors.CodeInternal, "failed to remove entry %q", key)
		}
	}
	return nil
}

// Keys lists the stored keys with the prefix stripped.
func (s *KeyValue) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	names, err := s.listLocked()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(names))
	for key := range names {
		keys = append(keys, key)
	}
	return keys, nil
}

// Has reports whether a file exists for key.
func (s *KeyValue) Has(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	exists, err := s.fs.Exists(s.path(key))
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeInternal, "failed to check entry %q", key)
	}
	return exists, nil
}

// Size sums Metadata.Size over all stored entries.
func (s *KeyValue) Size(ctx context.Context) (int64, error) {
	s.mu.RLock()
	entries, err := s.scanLocked(ctx)
	s.mu.RUnlock()
	if err != nil {
		return 0, err
	}

	var total int64
	for _, e := range entries {
		total += e.Metadata.Size
	}
	return total, nil
}

// Type returns TypeKeyValue.
func (s *KeyValue) Type() Type { return TypeKeyValue }

// Close is a no-op; the filesystem is not owned exclusively.
func (s *KeyValue) Close() error { return nil }

// probe performs a throwaway write/delete cycle.
func (s *KeyValue) probe() error {
	p := filepath.Join(s.rootPath, kvProbeFile)
	if err := s.fs.WriteFile(p, []byte("probe"), 0o644); err != nil {
		return err
	}
	return s.fs.Remove(p)
}

var _ Adapter = (*KeyValue)(nil)
