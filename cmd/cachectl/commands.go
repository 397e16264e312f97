package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/spf13/cobra"

	"github.com/jmgilman/go/sitecache"
	"github.com/jmgilman/go/sitecache/diag"
	"github.com/jmgilman/go/sitecache/netstatus"
)

func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to encode output")
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry count, size and backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(m *sitecache.Manager) error {
				return a.printJSON(m.Stats(cmd.Context()))
			})
		},
	}
}

func (a *app) keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List stored hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(m *sitecache.Manager) error {
				for _, k := range m.Keys(cmd.Context()) {
					if _, err := fmt.Fprintln(a.out, k); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// paramsFlag adds --params to cmd and returns a function that turns it into
// call options.
func paramsFlag(cmd *cobra.Command) func() ([]sitecache.CallOption, error) {
	var raw string
	cmd.Flags().StringVar(&raw, "params", "", "JSON object mixed into the hash")

	return func() ([]sitecache.CallOption, error) {
		if raw == "" {
			return nil, nil
		}
		var params map[string]any
		if err := json.Unmarshal([]byte(raw), &params); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidInput, "invalid --params")
		}
		return []sitecache.CallOption{sitecache.Params(params)}, nil
	}
}

func (a *app) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print one entry",
		Args:  cobra.ExactArgs(1),
	}
	params := paramsFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := params()
		if err != nil {
			return err
		}
		return a.withManager(cmd.Context(), func(m *sitecache.Manager) error {
			res, err := m.Get(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			if res == nil {
				return errors.Newf(errors.CodeNotFound, "no entry for %q", args[0])
			}
			return a.printJSON(diag.EntryResponse{
				Data:     res.Data,
				Metadata: res.Metadata,
				Stale:    res.Stale,
			})
		})
	}
	return cmd
}

func (a *app) rmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <key>",
		Short: "Remove one entry",
		Args:  cobra.ExactArgs(1),
	}
	params := paramsFlag(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts, err := params()
		if err != nil {
			return err
		}
		return a.withManager(cmd.Context(), func(m *sitecache.Manager) error {
			m.Remove(cmd.Context(), args[0], opts...)
			return nil
		})
	}
	return cmd
}

func (a *app) clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(m *sitecache.Manager) error {
				m.Clear(cmd.Context())
				return nil
			})
		},
	}
}

func (a *app) invalidateCmd() *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "invalidate --tag <tag>...",
		Short: "Remove entries carrying any of the given tags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withManager(cmd.Context(), func(m *sitecache.Manager) error {
				removed := m.InvalidateByTags(cmd.Context(), tags...)
				_, err := fmt.Fprintf(a.out, "removed %d entries\n", removed)
				return err
			})
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tag to invalidate (repeatable)")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	var (
		addr          string
		probeAddr     string
		probeInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the diagnostics HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var opts []sitecache.Option
			if probeAddr != "" {
				prober := netstatus.NewProber(probeAddr,
					netstatus.WithInterval(probeInterval),
					netstatus.WithLogger(a.logger),
				)
				prober.Start(ctx)
				defer prober.Stop()
				opts = append(opts, sitecache.WithMonitor(prober))
			}

			m, err := a.open(ctx, opts...)
			if err != nil {
				return err
			}
			defer m.Close()

			return a.serve(ctx, diag.NewServer(m, a.logger), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8089", "listen address")
	cmd.Flags().StringVar(&probeAddr, "probe-addr", "", "host:port dialed to detect connectivity")
	cmd.Flags().DurationVar(&probeInterval, "probe-interval", 30*time.Second, "connectivity probe interval")
	return cmd
}

// serve runs h until ctx is canceled, then shuts it down gracefully.
func (a *app) serve(ctx context.Context, h interface {
	Start(string) error
	Shutdown(context.Context) error
}, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "diagnostics server listening", "addr", addr)
		errCh <- h.Start(addr)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, errors.CodeUnavailable, "diagnostics server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to shut down diagnostics server")
	}
	return nil
}
