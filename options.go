package sitecache

import (
	"time"

	"github.com/jmgilman/go/sitecache/logging"
	"github.com/jmgilman/go/sitecache/netstatus"
	"github.com/jmgilman/go/sitecache/storage"
)

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *logging.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces the time source, typically with a manual clock in tests.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithMonitor sets the network status monitor. Without one the manager
// assumes it is always online.
func WithMonitor(monitor netstatus.Monitor) Option {
	return func(m *Manager) {
		if monitor != nil {
			m.monitor = monitor
		}
	}
}

// WithAvailability replaces the backend availability probe used during
// backend selection.
func WithAvailability(available func(storage.Type) bool) Option {
	return func(m *Manager) {
		if available != nil {
			m.available = available
		}
	}
}

// WithAdapter skips backend selection and uses adapter directly.
func WithAdapter(adapter storage.Adapter) Option {
	return func(m *Manager) {
		if adapter != nil {
			m.adapter = adapter
		}
	}
}

// CallOption tunes a single Get, Set, Has, Remove or GetOrFetch call.
// Options that do not apply to an operation are ignored.
type CallOption func(*callOptions)

type callOptions struct {
	expiresIn            *time.Duration
	tags                 []string
	params               any
	version              int
	extendOnAccess       bool
	autoRemove           bool
	forceRefresh         bool
	staleWhileRevalidate bool
}

// ExpiresIn sets the TTL of stored entries. On Get with ExtendOnAccess it
// is the TTL the expiry is extended by. Negative values are treated as zero.
//
// Example:
//
//	m.Set(ctx, "/news", items, sitecache.ExpiresIn(time.Minute))
func ExpiresIn(d time.Duration) CallOption {
	return func(o *callOptions) {
		o.expiresIn = &d
	}
}

// Tags labels stored entries for InvalidateByTags.
func Tags(tags ...string) CallOption {
	return func(o *callOptions) {
		o.tags = append(o.tags, tags...)
	}
}

// Params mixes a parameter object into the derived hash.
//
// Example:
//
//	m.GetOrFetch(ctx, "/news", fetch, sitecache.Params(map[string]any{"page": 2}))
func Params(params any) CallOption {
	return func(o *callOptions) {
		o.params = params
	}
}

// Version overrides the expected schema version for this call.
func Version(v int) CallOption {
	return func(o *callOptions) {
		o.version = v
	}
}

// ExtendOnAccess pushes the expiry of a fresh entry forward on every read.
func ExtendOnAccess() CallOption {
	return func(o *callOptions) {
		o.extendOnAccess = true
	}
}

// AutoRemove deletes stale entries when they are read instead of returning
// them.
func AutoRemove() CallOption {
	return func(o *callOptions) {
		o.autoRemove = true
	}
}

// ForceRefresh bypasses the cache and always fetches.
func ForceRefresh() CallOption {
	return func(o *callOptions) {
		o.forceRefresh = true
	}
}

// StaleWhileRevalidate returns cached data immediately and refreshes it in
// the background.
func StaleWhileRevalidate() CallOption {
	return func(o *callOptions) {
		o.staleWhileRevalidate = true
	}
}

func (m *Manager) callOptions(opts []CallOption) callOptions {
	o := callOptions{version: m.cfg.Version}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// ttl resolves the TTL for a new entry.
func (o callOptions) ttl(def time.Duration) time.Duration {
	d := def
	if o.expiresIn != nil {
		d = *o.expiresIn
	}
	if d < 0 {
		return 0
	}
	return d
}
