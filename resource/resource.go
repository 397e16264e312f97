// Package resource binds a single cache key to view code. A Resource tracks
// the data, loading and error state of one fetch and notifies subscribers on
// every change, including background refreshes performed by the manager.
package resource

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jmgilman/go/sitecache"
)

// State is a snapshot of a Resource.
type State[T any] struct {
	// Data is the last value loaded. It survives failed reloads.
	Data T
	// Loading is true while a Load or Refresh is running.
	Loading bool
	// Err is the error of the last load, if it failed.
	Err error
	// FromCache is true when Data came from storage.
	FromCache bool
	// Stale is true when Data came from an expired entry.
	Stale bool
	// UpdatedAt is when the entry behind Data was written.
	UpdatedAt time.Time
}

// Resource loads one key through a Manager.
type Resource[T any] struct {
	manager *sitecache.Manager
	key     string
	fetch   func(context.Context) (T, error)
	opts    []sitecache.CallOption

	mu       sync.RWMutex
	state    State[T]
	subs     []subscriber[T]
	nextSub  uint64
	listener sitecache.ListenerID
}

type subscriber[T any] struct {
	id uint64
	fn func(State[T])
}

// New creates a Resource for key. opts apply to every load. The Resource
// follows background updates of its key until Close is called.
//
// Example:
//
//	news := resource.New(m, "/news", loadNews, sitecache.ExpiresIn(time.Minute))
//	defer news.Close()
//	state := news.Load(ctx)
func New[T any](m *sitecache.Manager, key string, fetch func(context.Context) (T, error), opts ...sitecache.CallOption) *Resource[T] {
	r := &Resource[T]{
		manager: m,
		key:     key,
		fetch:   fetch,
		opts:    slices.Clone(opts),
	}
	r.listener = m.AddEventListener(r.handleEvent)
	return r
}

// Load reads the key, fetching it when the cache cannot serve it, and
// returns the resulting state.
func (r *Resource[T]) Load(ctx context.Context) State[T] {
	return r.load(ctx, r.opts)
}

// Refresh bypasses the cache and fetches the key.
func (r *Resource[T]) Refresh(ctx context.Context) State[T] {
	return r.load(ctx, append(slices.Clone(r.opts), sitecache.ForceRefresh()))
}

func (r *Resource[T]) load(ctx context.Context, opts []sitecache.CallOption) State[T] {
	r.update(func(s *State[T]) {
		s.Loading = true
	})

	data, res, err := sitecache.FetchAs(ctx, r.manager, r.key, r.fetch, opts...)

	return r.update(func(s *State[T]) {
		s.Loading = false
		s.Err = err
		if err != nil {
			return
		}
		apply(s, data, res)
	})
}

// State returns the current state.
func (r *Resource[T]) State() State[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (r *Resource[T]) Subscribe(fn func(State[T])) func() {
	r.mu.Lock()
	r.nextSub++
	id := r.nextSub
	r.subs = append(r.subs, subscriber[T]{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.subs = slices.DeleteFunc(r.subs, func(s subscriber[T]) bool { return s.id == id })
		})
	}
}

// Close stops following background updates.
func (r *Resource[T]) Close() {
	r.manager.RemoveEventListener(r.listener)
}

// handleEvent picks up entries written by background revalidation and
// entries removed behind the Resource's back.
func (r *Resource[T]) handleEvent(ev sitecache.Event) {
	if ev.Key != r.key {
		return
	}

	switch ev.Type {
	case sitecache.EventItemUpdated:
		data, res, err := sitecache.GetAs[T](context.Background(), r.manager, r.key, r.opts...)
		if err != nil || res == nil {
			return
		}
		r.update(func(s *State[T]) {
			s.Err = nil
			apply(s, data, res)
		})
	case sitecache.EventItemRemoved:
		r.update(func(s *State[T]) {
			s.FromCache = false
		})
	}
}

func apply[T any](s *State[T], data T, res *sitecache.Result) {
	s.Data = data
	s.FromCache = res.FromCache
	s.Stale = res.Stale
	s.UpdatedAt = res.Metadata.CreatedAt()
}

// update mutates the state under the lock and notifies subscribers outside
// it.
func (r *Resource[T]) update(fn func(*State[T])) State[T] {
	r.mu.Lock()
	fn(&r.state)
	state := r.state
	subs := slices.Clone(r.subs)
	r.mu.Unlock()

	for _, s := range subs {
		s.fn(state)
	}
	return state
}
