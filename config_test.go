package sitecache

import (
	"context"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/sitecache/storage"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, storage.TypeObject, cfg.Storage)
	assert.Equal(t, DefaultTTL, cfg.DefaultTTL)
	assert.Equal(t, DefaultVersion, cfg.Version)
	assert.Equal(t, DefaultPrefix, cfg.Prefix)
	assert.EqualValues(t, DefaultMaxStorageBytes, cfg.MaxStorageBytes)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "unknown storage", mutate: func(c *Config) { c.Storage = "redis" }},
		{name: "negative ttl", mutate: func(c *Config) { c.DefaultTTL = -time.Second }},
		{name: "version below one", mutate: func(c *Config) { c.Version = -1 }},
		{name: "budget below unlimited", mutate: func(c *Config) { c.MaxStorageBytes = -2 }},
		{name: "blank non-cacheable", mutate: func(c *Config) { c.NonCacheable = []string{" "} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestConfig_StorageBudget(t *testing.T) {
	cfg := DefaultConfig()
	assert.EqualValues(t, DefaultMaxStorageBytes, cfg.storageConfig().MaxBytes)

	cfg.MaxStorageBytes = UnlimitedStorage
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	assert.EqualValues(t, UnlimitedStorage, cfg.MaxStorageBytes, "SetDefaults keeps the unlimited sentinel")
	assert.Zero(t, cfg.storageConfig().MaxBytes, "the backend sees no budget")

	cfg.MaxStorageBytes = 0
	cfg.SetDefaults()
	assert.EqualValues(t, DefaultMaxStorageBytes, cfg.MaxStorageBytes)
}

func TestConfig_NonCacheable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NonCacheable = []string{"/api/auth", "preview="}

	assert.True(t, cfg.nonCacheable("/api/auth/login"))
	assert.True(t, cfg.nonCacheable("/pages/about?preview=1"))
	assert.False(t, cfg.nonCacheable("/news"))
}

func TestParseConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("empty source yields defaults", func(t *testing.T) {
		cfg, err := ParseConfig(ctx, nil, "cache.cue")
		require.NoError(t, err)

		assert.True(t, cfg.Enabled)
		assert.Equal(t, storage.TypeObject, cfg.Storage)
		assert.Equal(t, 5*time.Minute, cfg.DefaultTTL)
		assert.Equal(t, 1, cfg.Version)
		assert.Equal(t, "sitecache_", cfg.Prefix)
		assert.EqualValues(t, 5242880, cfg.MaxStorageBytes)
		assert.Empty(t, cfg.NonCacheable)
		assert.Empty(t, cfg.Dir)
	})

	t.Run("overrides", func(t *testing.T) {
		src := []byte(`
enabled:         false
storage:         "kv"
defaultTTL:      "1h30m"
version:         3
prefix:          "ngo_"
maxStorageBytes: 1024
nonCacheable:    ["/api/auth", "/donate/checkout"]
dir:             "/var/cache/site"
`)
		cfg, err := ParseConfig(ctx, src, "cache.cue")
		require.NoError(t, err)

		assert.False(t, cfg.Enabled)
		assert.Equal(t, storage.TypeKeyValue, cfg.Storage)
		assert.Equal(t, 90*time.Minute, cfg.DefaultTTL)
		assert.Equal(t, 3, cfg.Version)
		assert.Equal(t, "ngo_", cfg.Prefix)
		assert.EqualValues(t, 1024, cfg.MaxStorageBytes)
		assert.Equal(t, []string{"/api/auth", "/donate/checkout"}, cfg.NonCacheable)
		assert.Equal(t, "/var/cache/site", cfg.Dir)
	})

	t.Run("unlimited budget", func(t *testing.T) {
		cfg, err := ParseConfig(ctx, []byte(`maxStorageBytes: -1`), "cache.cue")
		require.NoError(t, err)
		assert.EqualValues(t, UnlimitedStorage, cfg.MaxStorageBytes)
	})

	failures := []struct {
		name string
		src  string
		code errors.ErrorCode
	}{
		{name: "unknown field", src: `ttl: "5m"`, code: errors.CodeCUEValidationFailed},
		{name: "unknown storage", src: `storage: "redis"`, code: errors.CodeCUEValidationFailed},
		{name: "bad duration", src: `defaultTTL: "five minutes"`, code: errors.CodeCUEValidationFailed},
		{name: "version zero", src: `version: 0`, code: errors.CodeCUEValidationFailed},
		{name: "zero budget", src: `maxStorageBytes: 0`, code: errors.CodeCUEValidationFailed},
		{name: "negative budget", src: `maxStorageBytes: -5`, code: errors.CodeCUEValidationFailed},
		{name: "syntax error", src: `storage: {`, code: errors.CodeCUEBuildFailed},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(ctx, []byte(tt.src), "cache.cue")
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	ctx := context.Background()
	fsys := billy.NewMemory()
	require.NoError(t, fsys.MkdirAll("/etc/sitecache", 0o755))
	require.NoError(t, fsys.WriteFile("/etc/sitecache/cache.cue", []byte(`storage: "memory"`+"\n"+`defaultTTL: "30s"`), 0o644))

	cfg, err := LoadConfig(ctx, fsys, "/etc/sitecache/cache.cue")
	require.NoError(t, err)
	assert.Equal(t, storage.TypeMemory, cfg.Storage)
	assert.Equal(t, 30*time.Second, cfg.DefaultTTL)

	_, err = LoadConfig(ctx, fsys, "/etc/sitecache/missing.cue")
	require.Error(t, err)
	assert.Equal(t, errors.CodeCUELoadFailed, errors.GetCode(err))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = LoadConfig(canceled, fsys, "/etc/sitecache/cache.cue")
	assert.ErrorIs(t, err, context.Canceled)
}
