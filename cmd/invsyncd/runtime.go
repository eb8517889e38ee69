package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xtxerr/invsync/internal/archive"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/loader"
	"github.com/xtxerr/invsync/internal/notify"
	"github.com/xtxerr/invsync/internal/provider"
	"github.com/xtxerr/invsync/internal/provider/builtin"
	"github.com/xtxerr/invsync/internal/wire"
)

// runtime is the assembled job engine shared by the commands.
type runtime struct {
	cfg     *loader.Config
	catalog *loader.Catalog
	pool    *jobs.Pool
	hub     *notify.Hub
	engine  *jobs.Engine

	closers []func() error
}

// newRuntime opens the inventory, builds the catalog and starts the
// worker pool. registry may be nil for the built-in providers.
func newRuntime(cfg *loader.Config, registry *provider.Registry, listeners ...notify.Listener) (*runtime, error) {
	catalog, err := loader.NewCatalog(cfg)
	if err != nil {
		return nil, err
	}
	if registry == nil {
		registry = builtin.Default()
	}

	rt := &runtime{cfg: cfg, catalog: catalog}

	store, closeStore, err := cfg.OpenInventory()
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	rt.closers = append(rt.closers, closeStore)

	rt.hub = notify.NewHub()
	for _, l := range listeners {
		rt.hub.Register(l)
	}
	if err := rt.openSinks(); err != nil {
		rt.close()
		return nil, err
	}

	rt.pool = jobs.NewPool(cfg.PoolConfig())
	rt.pool.Start()

	rt.engine = jobs.NewEngine(rt.pool, rt.hub, cfg.EngineConfig())
	rt.engine.Register(jobs.TagSyncGroup, jobs.NewSyncRunnable(jobs.SyncConfig{
		Registry:  registry,
		Catalog:   catalog,
		Store:     store,
		CacheTTL:  cfg.Inventory.CacheTTL,
		Reconcile: cfg.ReconcileOptions(),
		Provider:  cfg.ProviderOptions(),
	}))
	return rt, nil
}

// openSinks registers the event stream and result archive listeners.
func (rt *runtime) openSinks() error {
	if path := rt.cfg.Events.Path; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create event directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open event stream: %w", err)
		}
		sub := rt.hub.Register(wire.NewWriter(f))
		rt.closers = append(rt.closers, func() error {
			sub.Close()
			return f.Close()
		})
		log.Info("event stream enabled", "path", path)
	}

	if dir := rt.cfg.Archive.Path; dir != "" {
		path := archive.FileName(dir, time.Now())
		w, err := archive.NewWriter(path, rt.cfg.ArchiveOptions())
		if err != nil {
			return fmt.Errorf("open result archive: %w", err)
		}
		sub := rt.hub.Register(w)
		rt.closers = append(rt.closers, func() error {
			sub.Close()
			return w.Close()
		})
		log.Info("result archive enabled", "path", path, "compression", rt.cfg.Archive.Compression)
	}
	return nil
}

// shutdown stops the pool, waiting up to the drain timeout for running
// jobs, then closes the sinks and the inventory.
func (rt *runtime) shutdown(ctx context.Context) {
	if rt.pool != nil {
		rt.pool.StopWithContext(ctx)
	}
	rt.close()
}

func (rt *runtime) close() {
	// Sinks drain before the hub closes.
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
	rt.closers = nil
	if rt.hub != nil {
		rt.hub.Close()
	}
}
