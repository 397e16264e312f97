// Command cachectl inspects and manages a site cache store from the shell.
//
// Settings come from, in increasing priority, a CUE config file (--config),
// SITECACHE_* environment variables and flags.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmgilman/go/sitecache"
	"github.com/jmgilman/go/sitecache/logging"
	"github.com/jmgilman/go/sitecache/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries what every subcommand shares.
type app struct {
	v      *viper.Viper
	out    io.Writer
	logger *logging.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:           "cachectl",
		Short:         "Inspect and manage the site data cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := logging.ParseLevel(a.v.GetString("log-level"))
			if err != nil {
				return errors.Wrap(err, errors.CodeInvalidInput, "invalid --log-level")
			}
			a.logger = logging.New(logging.Config{
				Level:  level,
				JSON:   a.v.GetBool("log-json"),
				Output: errOut,
			})
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.String("config", "", "path to a CUE config file")
	flags.String("storage", "", "preferred backend: memory, kv or object")
	flags.String("dir", "", "directory of the persistent backends")
	flags.Int("version", 0, "expected entry schema version")
	flags.String("log-level", "warn", "log level: debug, info, warn or error")
	flags.Bool("log-json", false, "write logs as JSON")

	for _, name := range []string{"config", "storage", "dir", "version", "log-level", "log-json"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	a.v.SetEnvPrefix("sitecache")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root.AddCommand(
		a.statsCmd(),
		a.keysCmd(),
		a.getCmd(),
		a.rmCmd(),
		a.clearCmd(),
		a.invalidateCmd(),
		a.serveCmd(),
	)
	return root
}

// config resolves the cache configuration from file, environment and flags.
func (a *app) config(ctx context.Context) (sitecache.Config, error) {
	cfg := sitecache.DefaultConfig()

	if path := a.v.GetString("config"); path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return sitecache.Config{}, errors.Wrapf(err, errors.CodeInvalidInput, "invalid config path %q", path)
		}
		cfg, err = sitecache.LoadConfig(ctx, billy.NewLocal(), abs)
		if err != nil {
			return sitecache.Config{}, err
		}
	}

	if s := a.v.GetString("storage"); s != "" {
		typ, err := storage.ParseType(s)
		if err != nil {
			return sitecache.Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "invalid --storage")
		}
		cfg.Storage = typ
	}
	if dir := a.v.GetString("dir"); dir != "" {
		cfg.Dir = dir
	}
	if v := a.v.GetInt("version"); v != 0 {
		cfg.Version = v
	}

	return cfg, cfg.Validate()
}

// open builds a manager for one command run. The caller closes it.
func (a *app) open(ctx context.Context, opts ...sitecache.Option) (*sitecache.Manager, error) {
	cfg, err := a.config(ctx)
	if err != nil {
		return nil, err
	}

	m, err := sitecache.New(ctx, cfg, append([]sitecache.Option{sitecache.WithLogger(a.logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if cfg.Dir == "" && m.Backend() != storage.TypeMemory {
		a.logger.Warn(ctx, "no --dir given, the store is in memory and starts empty")
	}
	return m, nil
}

// withManager opens a manager, runs fn and closes the manager.
func (a *app) withManager(ctx context.Context, fn func(*sitecache.Manager) error) (err error) {
	m, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := m.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(m)
}
