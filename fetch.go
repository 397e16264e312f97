package sitecache

import (
	"context"
	"slices"

	"github.com/jmgilman/go/errors"

	"github.com/jmgilman/go/sitecache/logging"
	"github.com/jmgilman/go/sitecache/storage"
)

// FetchFunc retrieves fresh data for a key. Its result is encoded as JSON.
// Any timeout must be applied by the function itself.
type FetchFunc func(ctx context.Context) (any, error)

// GetOrFetch returns cached data for key or calls fetch to obtain it.
//
//   - Offline without ForceRefresh: any version-matching cached copy is
//     served, even an expired one, and nothing is removed.
//   - ForceRefresh: the cache is bypassed; fetch runs and its result is
//     stored.
//   - Fresh hit: returned as is. With StaleWhileRevalidate a background
//     refresh is started and the cached value returned without waiting.
//   - Stale hit with StaleWhileRevalidate: served immediately while a
//     background refresh runs.
//   - Miss or stale hit: fetch runs and its result is stored.
//
// When fetch fails an EventError is emitted. If the network is offline and a
// cached copy exists it is returned with FromCache set and the event error
// carries CodeNetwork; otherwise the fetch error is returned unchanged.
// Concurrent calls for the same hash share one fetch.
func (m *Manager) GetOrFetch(ctx context.Context, key string, fetch FetchFunc, opts ...CallOption) (*Result, error) {
	if fetch == nil {
		return nil, ErrNilFetch
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o := m.callOptions(opts)
	hash := CreateHash(key, o.params)

	if m.cfg.Enabled && !m.IsOnline() && !o.forceRefresh {
		if res := m.peek(ctx, key, hash, o.version); res != nil {
			m.metrics.recordHit(m.clock.Now(), res.Stale)
			m.logger.Debug(ctx, "serving cached copy while offline", "key", key, "stale", res.Stale)
			return res, nil
		}
	}

	if !o.forceRefresh {
		if res := m.get(ctx, key, hash, o); res != nil {
			if !res.Stale {
				if o.staleWhileRevalidate {
					m.revalidate(ctx, key, hash, fetch, o)
				}
				return res, nil
			}
			if o.staleWhileRevalidate {
				m.recordStaleHit(ctx, key)
				m.revalidate(ctx, key, hash, fetch, o)
				return res, nil
			}
			m.metrics.recordMiss()
			logging.LogCacheMiss(ctx, m.logger.WithOperation(logging.OpGet).WithKey(key), key, "expired")
		}
	}

	res, err := m.fetch(ctx, key, hash, fetch, o)
	if err == nil {
		return res, nil
	}

	m.metrics.recordError(m.clock.Now())
	m.logger.Warn(ctx, "fetch failed", "key", key, "error", err)

	if !m.IsOnline() && m.cfg.Enabled {
		if res := m.peek(ctx, key, hash, o.version); res != nil {
			m.logger.Info(ctx, "serving cached copy after failed fetch while offline", "key", key)
			m.emit(ctx, EventError, key, hash, errors.Wrap(err, errors.CodeNetwork, "fetch failed while offline"))
			return res, nil
		}
	}
	m.emit(ctx, EventError, key, hash, err)
	return nil, err
}

// fetch runs fn once per hash across concurrent callers, stores the result
// and returns it with FromCache unset.
func (m *Manager) fetch(ctx context.Context, key, hash string, fn FetchFunc, o callOptions) (*Result, error) {
	start := m.clock.Now()
	v, err, shared := m.inflight.Do(hash, func() (any, error) {
		m.metrics.recordFetch()

		data, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := encode(data)
		if err != nil {
			return nil, err
		}

		entry, _ := m.put(ctx, key, hash, raw, o)
		return entry, nil
	})
	logging.LogCacheOperation(ctx, m.logger.WithKey(key), logging.OpFetch, m.clock.Now().Sub(start), err == nil, err)
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug(ctx, "shared in-flight fetch", "key", key)
	}

	entry := v.(*storage.Entry)
	return &Result{
		Data:      slices.Clone(entry.Data),
		Metadata:  cloneMetadata(entry.Metadata),
		FromCache: false,
	}, nil
}

// revalidate refreshes hash in the background. The stored entry is marked
// Updating while the fetch runs. The work is detached from ctx cancellation
// and tracked for Wait.
func (m *Manager) revalidate(ctx context.Context, key, hash string, fetch FetchFunc, o callOptions) {
	bg := context.WithoutCancel(ctx)
	logger := m.logger.WithOperation(logging.OpRevalidate).WithKey(key)

	if !m.trackBackground() {
		logger.Debug(ctx, "manager closed, skipping revalidation")
		return
	}
	go func() {
		defer m.background.Done()

		m.setUpdating(bg, key, hash, true)

		start := m.clock.Now()
		_, err := m.fetch(bg, key, hash, fetch, o)
		logging.LogCacheOperation(bg, logger, logging.OpRevalidate, m.clock.Now().Sub(start), err == nil, err)
		if err != nil {
			m.metrics.recordError(m.clock.Now())
			m.emit(bg, EventError, key, hash, err)
			m.setUpdating(bg, key, hash, false)
			return
		}

		m.metrics.recordRevalidation()
		m.emit(bg, EventItemUpdated, key, hash, nil)
	}()
}

func (m *Manager) setUpdating(ctx context.Context, key, hash string, updating bool) {
	entry := m.load(ctx, key, hash)
	if entry == nil || entry.Metadata.Updating == updating {
		return
	}
	entry.Metadata.Updating = updating
	m.store(ctx, key, hash, entry)
}

func cloneMetadata(md storage.Metadata) storage.Metadata {
	md.Tags = slices.Clone(md.Tags)
	return md
}

// GetAs reads key and decodes it into T. A miss returns the zero value and a
// nil Result.
func GetAs[T any](ctx context.Context, m *Manager, key string, opts ...CallOption) (T, *Result, error) {
	var zero T

	res, err := m.Get(ctx, key, opts...)
	if err != nil || res == nil {
		return zero, nil, err
	}

	var v T
	if err := res.Decode(&v); err != nil {
		return zero, res, err
	}
	return v, res, nil
}

// FetchAs is GetOrFetch for a typed fetch function.
//
// Example:
//
//	news, res, err := sitecache.FetchAs(ctx, m, "/news", loadNews,
//	    sitecache.ExpiresIn(time.Minute), sitecache.Tags("news"))
func FetchAs[T any](ctx context.Context, m *Manager, key string, fetch func(context.Context) (T, error), opts ...CallOption) (T, *Result, error) {
	var zero T
	if fetch == nil {
		return zero, nil, ErrNilFetch
	}

	res, err := m.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	}, opts...)
	if err != nil {
		return zero, nil, err
	}

	var v T
	if err := res.Decode(&v); err != nil {
		return zero, res, err
	}
	return v, res, nil
}
