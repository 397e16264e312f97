// Package sitecache is the data cache behind the site's content pages.
//
// A Manager sits between view code and the functions that fetch remote
// content such as news, pages and menus. It derives deterministic keys,
// stores entries in one of the backends of package storage and decides per
// read whether an entry is fresh, stale or gone.
//
// # Keys
//
// CreateHash lowercases and trims the key and, when parameters are given,
// appends their canonical JSON form with all object keys sorted:
//
//	sitecache.CreateHash("/News ", map[string]any{"page": 2, "lang": "en"})
//	// "/news|{"lang":"en","page":2}"
//
// # Entry lifecycle
//
// An entry is fresh until its ExpiresAt and stale afterwards. Stale entries
// are still returned by Get unless AutoRemove is requested. An entry written
// with a different schema version is never returned; reading it deletes it.
//
// # Fetching
//
// GetOrFetch is the main entry point:
//
//	res, err := m.GetOrFetch(ctx, "/news", fetchNews,
//	    sitecache.ExpiresIn(time.Minute),
//	    sitecache.Tags("news"),
//	    sitecache.StaleWhileRevalidate(),
//	)
//
// Concurrent calls for the same key share one fetch. With
// StaleWhileRevalidate the cached value is returned at once and refreshed in
// the background; Wait blocks until those refreshes are done. While the
// network monitor reports offline, cached copies are served even after they
// expire.
//
// # Failure semantics
//
// The cache fails open. Storage errors are logged, reported as EventError
// and treated as misses, so a broken backend never stops fresh data from
// being fetched. Only the fetch function's own error reaches the caller, and
// only when no offline fallback exists.
//
// # Events
//
// Listeners registered with AddEventListener receive ITEM_ADDED,
// ITEM_REMOVED, ITEM_UPDATED, CACHE_CLEARED, ERROR and NETWORK_CHANGED
// events. A panicking listener is recovered and does not affect others.
package sitecache
