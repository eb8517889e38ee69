package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/invsync/internal/api"
	"github.com/xtxerr/invsync/internal/loader"
	"github.com/xtxerr/invsync/internal/notify"
	"github.com/xtxerr/invsync/internal/scheduler"
)

type serveOptions struct {
	*rootOptions
	Listen string
	Watch  bool
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		Long: `Run the synchronization daemon.

Groups with an interval are synchronized on schedule. Jobs are inspected
and controlled through the admin API, which also serves /metrics.

Example:
  invsyncd serve -c /etc/invsync/invsync.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "admin API address (overrides config)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "reload groups when the config file changes")

	return cmd
}

func runServe(parent context.Context, opts *serveOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	log.Info("invsyncd starting", "version", Version, "config", opts.ConfigPath)

	rt, err := newRuntime(cfg, nil, notify.LogListener{})
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(rt.engine, cfg.SchedulerConfig())
	if cfg.Schedule.Enabled {
		sched.Sync(rt.catalog.Groups())
	}

	srv := api.New(api.Config{
		Listen:  cfg.Listen,
		Engine:  rt.engine,
		Catalog: rt.catalog,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Schedule.Enabled {
		g.Go(func() error { return sched.Run(gctx) })
	}
	if opts.Watch {
		w := loader.NewWatcher(opts.ConfigPath, rt.catalog, func(*loader.Config) {
			if cfg.Schedule.Enabled {
				sched.Sync(rt.catalog.Groups())
			}
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	err = g.Wait()
	log.Info("shutting down")

	// Stop accepting runs before the pool drains.
	sched.Stop()
	rt.shutdown(context.Background())

	if err != nil {
		return err
	}
	log.Info("invsyncd stopped", "scheduler", sched.Stats())
	return nil
}
