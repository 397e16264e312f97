package sitecache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/jmgilman/go/sitecache/logging"
	"github.com/jmgilman/go/sitecache/netstatus"
	"github.com/jmgilman/go/sitecache/storage"
)

// Manager is the cache. It derives hashes, evaluates freshness, fetches on
// misses and keeps a single storage adapter for its lifetime.
//
// Storage failures never reach callers: they are logged, reported as
// EventError and treated as misses.
type Manager struct {
	cfg       Config
	adapter   storage.Adapter
	clock     Clock
	monitor   netstatus.Monitor
	available func(storage.Type) bool
	logger    *logging.Logger
	events    *emitter
	metrics   *metrics

	online      atomic.Bool
	unsubscribe func()

	// inflight shares one fetch per hash between concurrent callers.
	inflight singleflight.Group

	// mu guards closed and every background.Add so Close never waits
	// while new revalidations are being registered.
	mu         sync.Mutex
	closed     bool
	background sync.WaitGroup
	closeOnce  sync.Once
	closeErr   error
}

// Result is a cache read or fetch outcome.
type Result struct {
	// Data is the JSON payload.
	Data json.RawMessage
	// Metadata describes the entry the data came from.
	Metadata storage.Metadata
	// FromCache is true when Data was served from storage.
	FromCache bool
	// Stale is true when the entry had expired.
	Stale bool
}

// Decode unmarshals Data into v.
func (r *Result) Decode(v any) error {
	if r == nil {
		return errors.Wrap(ErrDecode, errors.CodeInvalidInput, "no result to decode")
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return errors.WithContext(errors.Wrap(err, errors.CodeInvalidInput, ErrDecode.Error()), "key", r.Metadata.Key)
	}
	return nil
}

// New validates cfg, selects a storage backend and subscribes to the network
// monitor. The preferred backend is tried first, then the object store, the
// key-value store and finally memory; every downgrade is logged.
func New(ctx context.Context, cfg Config, opts ...Option) (*Manager, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:    cfg,
		clock:  realClock{},
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.events = &emitter{logger: m.logger}
	m.metrics = newMetrics(m.clock.Now())

	if m.adapter == nil {
		m.adapter = m.selectAdapter(ctx)
	}

	if m.monitor == nil {
		m.monitor = netstatus.NewStatic(true)
	}
	m.online.Store(m.monitor.Online())
	m.unsubscribe = m.monitor.Subscribe(func(online bool) {
		m.handleNetworkChange(context.Background(), online)
	})

	m.logger.Info(ctx, "cache manager ready",
		"backend", string(m.adapter.Type()),
		"enabled", cfg.Enabled,
		"online", m.IsOnline(),
	)
	return m, nil
}

func (m *Manager) selectAdapter(ctx context.Context) storage.Adapter {
	sc := m.cfg.storageConfig()

	available := m.available
	if available == nil {
		available = func(t storage.Type) bool { return storage.IsAvailable(t, sc) }
	}

	typ, skipped := storage.Resolve(m.cfg.Storage, available)
	for _, s := range skipped {
		m.logger.Warn(ctx, "storage backend unavailable, falling back", "backend", string(s))
	}

	adapter, err := storage.Create(typ, sc, m.logger)
	if err != nil {
		m.logger.Warn(ctx, "failed to create storage backend, using memory",
			"backend", string(typ),
			"error", err,
		)
		return storage.NewMemory()
	}
	return adapter
}

func (m *Manager) handleNetworkChange(ctx context.Context, online bool) {
	if m.online.Swap(online) == online {
		return
	}
	m.logger.Info(ctx, "network status changed", "online", online)
	m.emit(ctx, EventNetworkChanged, "", "", nil)
}

// IsOnline reports the last known network state.
func (m *Manager) IsOnline() bool {
	return m.online.Load()
}

// Backend returns the type of the storage backend in use.
func (m *Manager) Backend() storage.Type {
	return m.adapter.Type()
}

// Get reads the entry for key.
//
// A miss, a version mismatch (the entry is deleted) and a stale entry read
// with AutoRemove (also deleted) return nil. A fresh entry read with
// ExtendOnAccess has its expiry pushed forward. Other stale entries are
// returned with Result.Stale set. The error is non-nil only when ctx is done.
func (m *Manager) Get(ctx context.Context, key string, opts ...CallOption) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o := m.callOptions(opts)
	res := m.get(ctx, key, CreateHash(key, o.params), o)
	if res != nil && res.Stale {
		m.recordStaleHit(ctx, key)
	}
	return res, nil
}

func (m *Manager) get(ctx context.Context, key, hash string, o callOptions) *Result {
	logger := m.logger.WithOperation(logging.OpGet).WithKey(key)

	if !m.cfg.Enabled {
		return nil
	}

	entry := m.load(ctx, key, hash)
	if entry == nil {
		m.metrics.recordMiss()
		logging.LogCacheMiss(ctx, logger, key, "not_found")
		return nil
	}

	if entry.Metadata.Version != o.version {
		m.metrics.recordMiss()
		logging.LogCacheMiss(ctx, logger, key, "version_mismatch")
		m.removeHash(ctx, key, hash)
		return nil
	}

	now := m.clock.Now()
	if entry.Metadata.IsFresh(now) {
		if o.extendOnAccess {
			ttl := o.ttl(entry.Metadata.Lifetime())
			entry.Metadata.ExpiresAt = now.Add(ttl).UnixMilli()
			m.store(ctx, key, hash, entry)
		}
		m.metrics.recordHit(now, false)
		logging.LogCacheHit(ctx, logger, key, false)
		return resultFrom(entry, true, false)
	}

	if o.autoRemove {
		m.metrics.recordMiss()
		logging.LogCacheMiss(ctx, logger, key, "expired")
		m.removeHash(ctx, key, hash)
		return nil
	}

	// Stale hits are counted by the caller, which decides whether the
	// entry is served or refetched.
	return resultFrom(entry, true, true)
}

func (m *Manager) recordStaleHit(ctx context.Context, key string) {
	m.metrics.recordHit(m.clock.Now(), true)
	logging.LogCacheHit(ctx, m.logger.WithOperation(logging.OpGet).WithKey(key), key, true)
}

// peek returns any version-matching entry for hash without side effects.
func (m *Manager) peek(ctx context.Context, key, hash string, version int) *Result {
	entry := m.load(ctx, key, hash)
	if entry == nil || entry.Metadata.Version != version {
		return nil
	}
	return resultFrom(entry, true, !entry.Metadata.IsFresh(m.clock.Now()))
}

func resultFrom(e *storage.Entry, fromCache, stale bool) *Result {
	return &Result{
		Data:      e.Data,
		Metadata:  e.Metadata,
		FromCache: fromCache,
		Stale:     stale,
	}
}

// Set stores data under key. It does nothing when caching is disabled or key
// matches a non-cacheable substring. The error is non-nil only when data
// cannot be encoded as JSON.
func (m *Manager) Set(ctx context.Context, key string, data any, opts ...CallOption) error {
	raw, err := encode(data)
	if err != nil {
		return err
	}

	o := m.callOptions(opts)
	m.put(ctx, key, CreateHash(key, o.params), raw, o)
	return nil
}

// put builds fresh metadata and writes the entry through. It reports whether
// the entry was stored.
func (m *Manager) put(ctx context.Context, key, hash string, raw json.RawMessage, o callOptions) (*storage.Entry, bool) {
	entry := m.newEntry(key, hash, raw, o)

	if !m.cfg.Enabled {
		return entry, false
	}
	if m.cfg.nonCacheable(key) {
		m.logger.Debug(ctx, "skipping non-cacheable key", "key", key)
		return entry, false
	}

	if !m.store(ctx, key, hash, entry) {
		return entry, false
	}
	m.emit(ctx, EventItemAdded, key, hash, nil)
	return entry, true
}

func (m *Manager) newEntry(key, hash string, raw json.RawMessage, o callOptions) *storage.Entry {
	now := m.clock.Now()
	ttl := o.ttl(m.cfg.DefaultTTL)
	return &storage.Entry{
		Data: raw,
		Metadata: storage.Metadata{
			Key:       key,
			Hash:      hash,
			Timestamp: now.UnixMilli(),
			ExpiresAt: now.Add(ttl).UnixMilli(),
			TTL:       ttl.Milliseconds(),
			Version:   o.version,
			Tags:      o.tags,
		},
	}
}

func encode(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errors.New(errors.CodeInvalidInput, "data is not valid JSON")
		}
		return raw, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "failed to encode data")
	}
	return raw, nil
}

// Has reports whether an entry is stored for key, fresh or not.
func (m *Manager) Has(ctx context.Context, key string, opts ...CallOption) bool {
	o := m.callOptions(opts)
	hash := CreateHash(key, o.params)

	ok, err := m.adapter.Has(ctx, hash)
	if err != nil {
		m.storageError(ctx, "has", key, hash, err)
		return false
	}
	return ok
}

// Remove deletes the entry for key.
func (m *Manager) Remove(ctx context.Context, key string, opts ...CallOption) {
	o := m.callOptions(opts)
	m.removeHash(ctx, key, CreateHash(key, o.params))
}

func (m *Manager) removeHash(ctx context.Context, key, hash string) bool {
	if err := m.adapter.Remove(ctx, hash); err != nil {
		m.storageError(ctx, "remove", key, hash, err)
		return false
	}
	m.metrics.recordRemoval(1)
	m.emit(ctx, EventItemRemoved, key, hash, nil)
	return true
}

// Clear removes every entry.
func (m *Manager) Clear(ctx context.Context) {
	start := m.clock.Now()
	err := m.adapter.Clear(ctx)
	logging.LogCacheOperation(ctx, m.logger, logging.OpClear, m.clock.Now().Sub(start), err == nil, err)
	if err != nil {
		m.storageError(ctx, "clear", "", "", err)
		return
	}
	m.emit(ctx, EventCacheCleared, "", "", nil)
}

// load reads an entry, degrading storage errors to a miss.
func (m *Manager) load(ctx context.Context, key, hash string) *storage.Entry {
	entry, err := m.adapter.Get(ctx, hash)
	if err != nil {
		m.storageError(ctx, "get", key, hash, err)
		return nil
	}
	return entry
}

// store writes an entry and reports success.
func (m *Manager) store(ctx context.Context, key, hash string, entry *storage.Entry) bool {
	if err := m.adapter.Set(ctx, hash, entry); err != nil {
		m.storageError(ctx, "set", key, hash, err)
		return false
	}
	return true
}

func (m *Manager) storageError(ctx context.Context, op, key, hash string, err error) {
	m.metrics.recordError(m.clock.Now())
	m.logger.Error(ctx, "storage operation failed",
		"operation", op,
		"key", key,
		"backend", string(m.adapter.Type()),
		"error", err,
		"error_code", string(errors.GetCode(err)),
	)
	m.emit(ctx, EventError, key, hash, err)
}

// Wait blocks until all background revalidations have finished. It must
// not race with calls that start new revalidations; use Close for shutdown.
func (m *Manager) Wait() {
	m.background.Wait()
}

// trackBackground registers one background task. It reports false once the
// manager is closed.
func (m *Manager) trackBackground() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return false
	}
	m.background.Add(1)
	return true
}

// Close stops new background revalidations, waits for running ones, drops
// the network subscription and closes the storage adapter. It is safe to
// call concurrently with other methods. Calling Close again returns the
// first result.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		m.background.Wait()
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		if err := m.adapter.Close(); err != nil {
			m.closeErr = errors.Wrap(err, errors.CodeInternal, "failed to close storage")
		}
	})
	return m.closeErr
}
