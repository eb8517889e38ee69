package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a Catalog when its configuration file changes. A
// configuration that fails to load or validate is logged and the catalog
// keeps its previous content.
type Watcher struct {
	path     string
	catalog  *Catalog
	onReload func(*Config)
	debounce time.Duration

	reloads  atomic.Int64
	failures atomic.Int64
}

// NewWatcher creates a watcher for the file at path. onReload, if not nil,
// is called after every successful reload.
func NewWatcher(path string, c *Catalog, onReload func(*Config)) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		catalog:  c,
		onReload: onReload,
		debounce: DefaultDebounce,
	}
}

// Run watches until ctx is done. The directory is watched rather than the
// file so that editors replacing the file by rename are seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	log.Info("watching configuration", "path", w.path)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("configuration watch error", "path", w.path, "error", err)

		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err == nil {
		err = w.catalog.Reload(cfg)
	}
	if err != nil {
		w.failures.Add(1)
		log.Warn("configuration reload failed, keeping previous", "path", w.path, "error", err)
		return
	}

	w.reloads.Add(1)
	log.Info("configuration reloaded", "path", w.path, "groups", len(cfg.Groups), "sources", len(cfg.Sources))
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int64 {
	return w.reloads.Load()
}

// Failures returns the number of rejected reloads.
func (w *Watcher) Failures() int64 {
	return w.failures.Load()
}
