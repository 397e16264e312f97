package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"

	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKV(t *testing.T, cfg Config) *KeyValue {
	t.Helper()

	if cfg.FS == nil {
		cfg.FS = billy.NewMemory()
	}
	kv, err := NewKeyValue(cfg, nil)
	require.NoError(t, err)
	return kv
}

func TestKeyValue_RecordsDoubledTextSize(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t, Config{Prefix: "p_"})

	e := newEntry("/news", baseTimestamp)
	text, err := encodeEntry(e)
	require.NoError(t, err)

	require.NoError(t, kv.Set(ctx, "/news", e))

	got, err := kv.Get(ctx, "/news")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(len(text))*2, got.Metadata.Size)
	assert.Zero(t, e.Metadata.Size, "caller's entry must not be modified")
}

func TestKeyValue_FileLayout(t *testing.T) {
	ctx := context.Background()
	fsys := billy.NewMemory()
	kv := newTestKV(t, Config{Prefix: "sitecache_", Dir: "/data", FS: fsys})

	require.NoError(t, kv.Set(ctx, "/news?page=1", newEntry("/news?page=1", baseTimestamp)))

	dirEntries, err := fsys.ReadDir("/data/kv")
	require.NoError(t, err)

	var files []string
	for _, d := range dirEntries {
		if !d.IsDir() {
			files = append(files, d.Name())
		}
	}
	require.Len(t, files, 1)
	assert.Equal(t, kv.fileName("/news?page=1"), files[0])
	assert.NotContains(t, files[0], "/")

	raw, err := fsys.ReadFile(filepath.Join("/data/kv", files[0]))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"metadata"`)
	assert.Contains(t, string(raw), `"expiresAt"`)
}

func TestKeyValue_PrefixIsolation(t *testing.T) {
	ctx := context.Background()
	fsys := billy.NewMemory()

	a := newTestKV(t, Config{Prefix: "a_", FS: fsys})
	b := newTestKV(t, Config{Prefix: "b_", FS: fsys})

	require.NoError(t, a.Set(ctx, "k1", newEntry("k1", baseTimestamp)))
	require.NoError(t, b.Set(ctx, "k2", newEntry("k2", baseTimestamp)))

	keys, err := a.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1"}, keys)

	require.NoError(t, a.Clear(ctx))

	keys, err = b.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"k2"}, keys, "clear must only touch its own prefix")
}

func TestKeyValue_CorruptedEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	fsys := billy.NewMemory()
	kv := newTestKV(t, Config{Prefix: "p_", FS: fsys})

	require.NoError(t, fsys.WriteFile(kv.path("broken"), []byte("{not json"), 0o644))

	got, err := kv.Get(ctx, "broken")
	require.NoError(t, err)
	assert.Nil(t, got)

	has, err := kv.Has(ctx, "broken")
	require.NoError(t, err)
	assert.False(t, has, "corrupted entries are removed")
}

func TestKeyValue_QuotaEvictsOldestAndRetries(t *testing.T) {
	ctx := context.Background()

	// Entries of identical shape have identical recorded sizes.
	probe := newTestKV(t, Config{Prefix: "p_"})
	require.NoError(t, probe.Set(ctx, "k00", newEntry("k00", baseTimestamp)))
	sample, err := probe.Get(ctx, "k00")
	require.NoError(t, err)
	entrySize := sample.Metadata.Size
	require.Positive(t, entrySize)

	kv := newTestKV(t, Config{Prefix: "p_", MaxBytes: 10 * entrySize})
	for i := range 10 {
		key := fmt.Sprintf("k%02d", i)
		require.NoError(t, kv.Set(ctx, key, newEntry(key, baseTimestamp+int64(i))))
	}

	keys, err := kv.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 10, "budget fits exactly ten entries")

	require.NoError(t, kv.Set(ctx, "k10", newEntry("k10", baseTimestamp+10)))

	keys, err = kv.Keys(ctx)
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"k02", "k03", "k04", "k05", "k06", "k07", "k08", "k09", "k10"}, keys)

	size, err := kv.Size(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, size, 10*entrySize)
}

func TestKeyValue_QuotaRetryFailureDropsWrite(t *testing.T) {
	ctx := context.Background()
	kv := newTestKV(t, Config{Prefix: "p_", MaxBytes: 16})

	err := kv.Set(ctx, "big", newEntry("big", baseTimestamp))
	require.NoError(t, err, "a dropped write is logged, not returned")

	has, err := kv.Has(ctx, "big")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestKeyValue_OverwriteDoesNotCountTwice(t *testing.T) {
	ctx := context.Background()

	probe := newTestKV(t, Config{Prefix: "p_"})
	require.NoError(t, probe.Set(ctx, "k0", newEntry("k0", baseTimestamp)))
	sample, err := probe.Get(ctx, "k0")
	require.NoError(t, err)

	kv := newTestKV(t, Config{Prefix: "p_", MaxBytes: sample.Metadata.Size})
	require.NoError(t, kv.Set(ctx, "k0", newEntry("k0", baseTimestamp)))
	require.NoError(t, kv.Set(ctx, "k0", newEntry("k0", baseTimestamp+5)))

	got, err := kv.Get(ctx, "k0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, baseTimestamp+5, got.Metadata.Timestamp)
}

func TestKeyValue_LocalDirectory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	kv, err := NewKeyValue(Config{Prefix: "p_", Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, kv.Set(ctx, "k", newEntry("k", baseTimestamp)))

	reopened, err := NewKeyValue(Config{Prefix: "p_", Dir: dir}, nil)
	require.NoError(t, err)

	got, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got, "entries persist across instances")
	assert.Equal(t, "k", got.Metadata.Key)
}

func TestKeyValue_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	kv := newTestKV(t, Config{})
	assert.ErrorIs(t, kv.Set(ctx, "k", newEntry("k", baseTimestamp)), context.Canceled)

	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
