package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jmgilman/go/errors"
	// Register the pure-Go SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/jmgilman/go/sitecache/logging"
)

const (
	sqliteDriver = "sqlite"
	objectTable  = "cache_entries"
)

// ObjectStore keeps entries in a single SQLite table keyed by hash with a
// secondary timestamp index. The database is opened lazily on first use and
// the handle is shared by all later calls.
type ObjectStore struct {
	dsn     string
	version int
	logger  *logging.Logger

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// NewObjectStore creates an object store. No database is opened until the
// first operation.
func NewObjectStore(cfg Config, logger *logging.Logger) *ObjectStore {
	cfg.SetDefaults()
	if logger == nil {
		logger = logging.NewNop()
	}

	dsn := ":memory:"
	if cfg.Dir != "" {
		dsn = filepath.Join(cfg.Dir, cfg.DBName)
	}

	return &ObjectStore{
		dsn:     dsn,
		version: cfg.StoreVersion,
		logger:  logger.WithBackend(string(TypeObject)),
	}
}

// open returns the shared handle, opening and migrating the database on the
// first call. Concurrent callers wait for the same open.
func (s *ObjectStore) open(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open(sqliteDriver, s.dsn)
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to open database %q", s.dsn)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to ping database")
	}

	if err := s.migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.LogCacheOperation(ctx, s.logger, logging.OpOpenBackend, 0, true, nil)
	s.db = db
	return db, nil
}

// migrate creates the schema. A stored user_version that differs from the
// configured version drops the table and starts over.
func (s *ObjectStore) migrate(ctx context.Context, db *sql.DB) error {
	var current int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to read schema version")
	}

	if current != s.version {
		if current != 0 {
			s.logger.Info(ctx, "upgrading object store", "from", current, "to", s.version)
		}
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+objectTable); err != nil {
			return errors.Wrap(err, errors.CodeDatabase, "failed to drop object store")
		}
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + objectTable + ` (
			hash TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			size INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + objectTable + `_timestamp ON ` + objectTable + ` (timestamp)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.CodeDatabase, "failed to create object store")
		}
	}

	// PRAGMA does not accept bound parameters.
	if _, err := db.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(s.version)); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to write schema version")
	}
	return nil
}

// Get returns the entry stored under key.
func (s *ObjectStore) Get(ctx context.Context, key string) (*Entry, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	var value string
	err = db.QueryRowContext(ctx, "SELECT value FROM "+objectTable+" WHERE hash = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeDatabase, "failed to read entry %q", key)
	}

	entry, err := decodeEntry([]byte(value))
	if err != nil {
		s.logger.Warn(ctx, "discarding corrupted entry", "key", key, "error", err)
		_ = s.Remove(ctx, key)
		return nil, nil
	}
	return entry, nil
}

// Set upserts entry under key.
func (s *ObjectStore) Set(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return nil
	}

	e := entry.Clone()
	if e.Metadata.Size == 0 {
		e.Metadata.Size = int64(len(e.Data))
	}
	text, err := encodeEntry(e)
	if err != nil {
		return errors.Wrapf(err, errors.CodeInvalidInput, "failed to encode entry %q", key)
	}

	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO `+objectTable+` (hash, value, timestamp, size) VALUES (?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET value = excluded.value, timestamp = excluded.timestamp, size = excluded.size`,
		key, string(text), e.Metadata.Timestamp, e.Metadata.Size,
	)
	if err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to write entry %q", key)
	}
	return nil
}

// Remove deletes the row for key.
func (s *ObjectStore) Remove(ctx context.Context, key string) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM "+objectTable+" WHERE hash = ?", key); err != nil {
		return errors.Wrapf(err, errors.CodeDatabase, "failed to remove entry %q", key)
	}
	return nil
}

// Clear deletes every row.
func (s *ObjectStore) Clear(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM "+objectTable); err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to clear object store")
	}
	return nil
}

// Keys lists stored keys, oldest first.
func (s *ObjectStore) Keys(ctx context.Context) ([]string, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, "SELECT hash FROM "+objectTable+" ORDER BY timestamp, hash")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to list keys")
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, errors.Wrap(err, errors.CodeDatabase, "failed to scan key")
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDatabase, "failed to list keys")
	}
	return keys, nil
}

// Has reports whether a row exists for key.
func (s *ObjectStore) Has(ctx context.Context, key string) (bool, error) {
	db, err := s.open(ctx)
	if err != nil {
		return false, err
	}

	var exists bool
	err = db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM "+objectTable+" WHERE hash = ?)", key).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeDatabase, "failed to check entry %q", key)
	}
	return exists, nil
}

// Size sums the size column.
func (s *ObjectStore) Size(ctx context.Context) (int64, error) {
	db, err := s.open(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(SUM(size), 0) FROM "+objectTable).Scan(&total); err != nil {
		return 0, errors.Wrap(err, errors.CodeDatabase, "failed to compute size")
	}
	return total, nil
}

// Type returns TypeObject.
func (s *ObjectStore) Type() Type { return TypeObject }

// Close closes the database handle. Later calls return ErrClosed.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return errors.Wrap(err, errors.CodeDatabase, "failed to close database")
	}
	return nil
}

var _ Adapter = (*ObjectStore)(nil)
