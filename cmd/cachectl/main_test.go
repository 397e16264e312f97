package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/sitecache"
	"github.com/jmgilman/go/sitecache/diag"
	"github.com/jmgilman/go/sitecache/storage"
)

// seed writes entries into a key-value store under dir and returns the path
// of a config file pointing at it.
func seed(t *testing.T) (dir, configPath string) {
	t.Helper()
	ctx := context.Background()

	dir = t.TempDir()
	cfg := sitecache.DefaultConfig()
	cfg.Storage = storage.TypeKeyValue
	cfg.Dir = dir

	m, err := sitecache.New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, m.Set(ctx, "/news", map[string]int{"id": 1}, sitecache.Tags("news")))
	require.NoError(t, m.Set(ctx, "/events", map[string]int{"id": 2}, sitecache.Tags("news", "events")))
	require.NoError(t, m.Set(ctx, "/about", map[string]int{"id": 3}))
	require.NoError(t, m.Close())

	configPath = filepath.Join(dir, "cache.cue")
	src := fmt.Sprintf("storage: \"kv\"\ndir: %q\n", dir)
	require.NoError(t, os.WriteFile(configPath, []byte(src), 0o644))
	return dir, configPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestKeys(t *testing.T) {
	_, cfg := seed(t)

	out, err := run(t, "--config", cfg, "keys")
	require.NoError(t, err)
	assert.Equal(t, "/about\n/events\n/news\n", out)
}

func TestGet(t *testing.T) {
	_, cfg := seed(t)

	out, err := run(t, "--config", cfg, "get", "/news")
	require.NoError(t, err)

	var entry diag.EntryResponse
	require.NoError(t, json.Unmarshal([]byte(out), &entry))
	assert.JSONEq(t, `{"id":1}`, string(entry.Data))
	assert.Equal(t, []string{"news"}, entry.Metadata.Tags)

	_, err = run(t, "--config", cfg, "get", "/missing")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))

	_, err = run(t, "--config", cfg, "get", "/news", "--params", "{")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestInvalidateAndRemove(t *testing.T) {
	_, cfg := seed(t)

	out, err := run(t, "--config", cfg, "invalidate", "--tag", "events", "--tag", "missing")
	require.NoError(t, err)
	assert.Equal(t, "removed 1 entries\n", out)

	_, err = run(t, "--config", cfg, "rm", "/about")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "keys")
	require.NoError(t, err)
	assert.Equal(t, "/news\n", out)

	_, err = run(t, "--config", cfg, "invalidate")
	assert.Error(t, err, "--tag is required")
}

func TestStatsAndClear(t *testing.T) {
	_, cfg := seed(t)

	out, err := run(t, "--config", cfg, "stats")
	require.NoError(t, err)

	var stats sitecache.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, storage.TypeKeyValue, stats.Backend)

	_, err = run(t, "--config", cfg, "clear")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "keys")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEnvironmentAndFlags(t *testing.T) {
	dir, _ := seed(t)

	t.Setenv("SITECACHE_DIR", dir)
	out, err := run(t, "--storage", "kv", "keys")
	require.NoError(t, err)
	assert.Equal(t, "/about\n/events\n/news\n", out)

	t.Setenv("SITECACHE_STORAGE", "memory")
	out, err = run(t, "keys")
	require.NoError(t, err)
	assert.Empty(t, out, "the memory backend starts empty")

	_, err = run(t, "--storage", "redis", "keys")
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))

	_, err = run(t, "--log-level", "loud", "keys")
	assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
}

func TestConfigErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`storage: "redis"`), 0o644))

	_, err := run(t, "--config", bad, "keys")
	require.Error(t, err)
	assert.Equal(t, errors.CodeCUEValidationFailed, errors.GetCode(err))

	_, err = run(t, "--config", filepath.Join(dir, "missing.cue"), "keys")
	assert.Equal(t, errors.CodeCUELoadFailed, errors.GetCode(err))
}
