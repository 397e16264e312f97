package storage

import (
	"math"
	"sort"
)

// EvictionFraction is the share of entries removed when the key-value
// backend runs out of space.
const EvictionFraction = 0.2

// SelectOldest chooses ceil(fraction * len(entries)) keys to evict, ordered
// by ascending Metadata.Timestamp. Ties are broken by key so the selection is
// deterministic.
func SelectOldest(entries map[string]*Entry, fraction float64) []string {
	if len(entries) == 0 || fraction <= 0 {
		return nil
	}

	type candidate struct {
		key       string
		timestamp int64
	}

	candidates := make([]candidate, 0, len(entries))
	for key, e := range entries {
		if e == nil {
			continue
		}
		candidates = append(candidates, candidate{key: key, timestamp: e.Metadata.Timestamp})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].timestamp != candidates[j].timestamp {
			return candidates[i].timestamp < candidates[j].timestamp
		}
		return candidates[i].key < candidates[j].key
	})

	// The epsilon keeps float error from turning 0.2*15 into 4.
	n := int(math.Ceil(fraction*float64(len(candidates)) - 1e-9))
	if n > len(candidates) {
		n = len(candidates)
	}

	keys := make([]string, n)
	for i := range n {
		keys[i] = candidates[i].key
	}
	return keys
}
