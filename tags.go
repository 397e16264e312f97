package sitecache

import (
	"context"

	"github.com/jmgilman/go/sitecache/logging"
)

// InvalidateByTags removes every entry carrying at least one of tags and
// returns how many were removed. It scans the whole store, which is fine at
// the sizes a site cache reaches.
func (m *Manager) InvalidateByTags(ctx context.Context, tags ...string) int {
	if len(tags) == 0 {
		return 0
	}

	start := m.clock.Now()
	logger := m.logger.WithOperation(logging.OpInvalidate)

	hashes, err := m.adapter.Keys(ctx)
	if err != nil {
		m.storageError(ctx, "keys", "", "", err)
		return 0
	}

	removed := 0
	for _, hash := range hashes {
		if ctx.Err() != nil {
			break
		}

		entry, err := m.adapter.Get(ctx, hash)
		if err != nil {
			m.storageError(ctx, "get", "", hash, err)
			continue
		}
		if entry == nil || !entry.Metadata.HasAnyTag(tags) {
			continue
		}

		if m.removeHash(ctx, entry.Metadata.Key, hash) {
			removed++
		}
	}

	logging.LogCacheOperation(ctx, logger, logging.OpInvalidate, m.clock.Now().Sub(start), true, nil)
	logger.Info(ctx, "invalidated entries by tag", "tags", tags, "removed", removed)
	return removed
}
