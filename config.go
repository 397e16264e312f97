package sitecache

import (
	"context"
	_ "embed"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"

	"github.com/jmgilman/go/sitecache/storage"
)

// Defaults applied by DefaultConfig and SetDefaults.
const (
	DefaultTTL             = 5 * time.Minute
	DefaultVersion         = 1
	DefaultPrefix          = "sitecache_"
	DefaultMaxStorageBytes = 5 << 20

	// UnlimitedStorage as MaxStorageBytes disables the key-value budget.
	UnlimitedStorage = -1
)

//go:embed schema.cue
var configSchema string

// Config holds process-wide cache settings.
type Config struct {
	// Enabled turns caching on. When false Set is a no-op and reads miss.
	Enabled bool
	// Storage is the preferred backend.
	Storage storage.Type
	// DefaultTTL applies to entries stored without ExpiresIn.
	DefaultTTL time.Duration
	// Version is the expected entry schema version.
	Version int
	// Prefix is prepended to keys by the key-value backend.
	Prefix string
	// MaxStorageBytes is the key-value backend budget. Zero selects
	// DefaultMaxStorageBytes and UnlimitedStorage disables the check.
	MaxStorageBytes int64
	// NonCacheable lists key substrings that are never stored.
	NonCacheable []string
	// Dir is where persistent backends keep their data. Empty keeps
	// everything in memory.
	Dir string
}

// DefaultConfig returns an enabled configuration with all defaults applied.
func DefaultConfig() Config {
	c := Config{Enabled: true}
	c.SetDefaults()
	return c
}

// SetDefaults applies default values to unset fields in the configuration.
// Enabled is left untouched; start from DefaultConfig to get an enabled cache.
func (c *Config) SetDefaults() {
	if c.Storage == "" {
		c.Storage = storage.TypeObject
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.Version == 0 {
		c.Version = DefaultVersion
	}
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.MaxStorageBytes == 0 {
		c.MaxStorageBytes = DefaultMaxStorageBytes
	}
}

// Validate checks that the cache configuration is valid.
func (c *Config) Validate() error {
	if _, err := storage.ParseType(string(c.Storage)); err != nil {
		return errors.Wrap(ErrInvalidConfig, errors.CodeInvalidConfig, err.Error())
	}
	if c.DefaultTTL < 0 {
		return errors.Wrap(ErrInvalidConfig, errors.CodeInvalidConfig, "default TTL must not be negative")
	}
	if c.Version < 1 {
		return errors.Wrap(ErrInvalidConfig, errors.CodeInvalidConfig, "version must be at least 1")
	}
	if c.MaxStorageBytes < UnlimitedStorage {
		return errors.Wrap(ErrInvalidConfig, errors.CodeInvalidConfig, "max storage bytes must be positive or -1 for no limit")
	}
	for _, s := range c.NonCacheable {
		if strings.TrimSpace(s) == "" {
			return errors.Wrap(ErrInvalidConfig, errors.CodeInvalidConfig, "non-cacheable entries must not be empty")
		}
	}
	return nil
}

// nonCacheable reports whether key contains one of the configured
// substrings.
func (c *Config) nonCacheable(key string) bool {
	for _, s := range c.NonCacheable {
		if strings.Contains(key, s) {
			return true
		}
	}
	return false
}

func (c *Config) storageConfig() storage.Config {
	sc := storage.Config{
		Prefix:       c.Prefix,
		Dir:          c.Dir,
		MaxBytes:     max(c.MaxStorageBytes, 0),
		StoreVersion: c.Version,
	}
	sc.SetDefaults()
	return sc
}

// fileConfig mirrors the CUE schema.
type fileConfig struct {
	Enabled         bool     `json:"enabled"`
	Storage         string   `json:"storage"`
	DefaultTTL      string   `json:"defaultTTL"`
	Version         int      `json:"version"`
	Prefix          string   `json:"prefix"`
	MaxStorageBytes int64    `json:"maxStorageBytes"`
	NonCacheable    []string `json:"nonCacheable"`
	Dir             string   `json:"dir"`
}

// LoadConfig reads a CUE file from fsys, unifies it with the embedded schema
// and decodes the result. Fields absent from the file take their schema
// defaults.
//
// Example file:
//
//	storage:      "kv"
//	defaultTTL:   "10m"
//	nonCacheable: ["/api/auth"]
func LoadConfig(ctx context.Context, fsys core.ReadFS, path string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeCUELoadFailed, "context cancelled")
	}

	source, err := fsys.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeCUELoadFailed, "failed to read config file %q", path)
	}
	return ParseConfig(ctx, source, path)
}

// ParseConfig is LoadConfig for in-memory CUE source. filename is used only
// in error messages.
func ParseConfig(ctx context.Context, source []byte, filename string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeCUEBuildFailed, "context cancelled")
	}
	if filename == "" {
		filename = "<input>"
	}

	cctx := cuecontext.New()

	schema := cctx.CompileString(configSchema, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInternal, "embedded config schema is invalid")
	}

	data := cctx.CompileBytes(source, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return Config{}, errors.WithContextMap(
			errors.Wrap(err, errors.CodeCUEBuildFailed, "failed to compile config"),
			map[string]interface{}{"filename": filename, "details": cueerrors.Details(err, nil)},
		)
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return Config{}, errors.WithContextMap(
			errors.Wrap(err, errors.CodeCUEValidationFailed, "config does not match schema"),
			map[string]interface{}{"filename": filename, "details": cueerrors.Details(err, nil)},
		)
	}

	var fc fileConfig
	if err := unified.Decode(&fc); err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeCUEDecodeFailed, "failed to decode config %q", filename)
	}

	ttl, err := time.ParseDuration(fc.DefaultTTL)
	if err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid defaultTTL %q", fc.DefaultTTL)
	}

	typ, err := storage.ParseType(fc.Storage)
	if err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "invalid storage")
	}

	cfg := Config{
		Enabled:         fc.Enabled,
		Storage:         typ,
		DefaultTTL:      ttl,
		Version:         fc.Version,
		Prefix:          fc.Prefix,
		MaxStorageBytes: fc.MaxStorageBytes,
		NonCacheable:    fc.NonCacheable,
		Dir:             fc.Dir,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
