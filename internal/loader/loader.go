// Package loader handles configuration file loading, validation, and
// conversion into the runtime types of the job engine.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Processing include directives
//   - Converting groups, sources and credentials into a Catalog
//   - Reloading the catalog when the file changes (Watcher)
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/invsync/internal/archive"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/inventory"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/provider"
	"github.com/xtxerr/invsync/internal/reconcile"
	"github.com/xtxerr/invsync/internal/scheduler"
	"github.com/xtxerr/invsync/internal/validation"
)

var log = logging.Component("loader")

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if err := processIncludes(cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses configuration data on top of the defaults. Includes are
// not processed.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", errors.Join(errors.ErrInvalidConfig, err))
	}
	return cfg, nil
}

// processIncludes loads and merges included configuration files.
func processIncludes(cfg *Config, baseDir string) error {
	for _, pattern := range cfg.Include {
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(baseDir, pattern)
		}

		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid include pattern %q: %w", pattern, err)
		}

		for _, match := range matches {
			if err := loadInclude(cfg, match); err != nil {
				return fmt.Errorf("load include %q: %w", match, err)
			}
		}
	}
	return nil
}

// loadInclude merges the credentials, sources and groups of one file.
func loadInclude(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &partial); err != nil {
		return fmt.Errorf("parse: %w", errors.Join(errors.ErrInvalidConfig, err))
	}

	if cfg.Credentials == nil {
		cfg.Credentials = make(map[string]map[string]string)
	}
	for name, c := range partial.Credentials {
		cfg.Credentials[name] = c
	}

	if cfg.Sources == nil {
		cfg.Sources = make(map[string]*SourceConfig)
	}
	for id, s := range partial.Sources {
		cfg.Sources[id] = s
	}

	if cfg.Groups == nil {
		cfg.Groups = make(map[string]*GroupConfig)
	}
	for name, g := range partial.Groups {
		cfg.Groups[name] = g
	}
	return nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration. Data source connection parameters
// are left to the providers, which check them at connect time.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Listen == "" {
		errs.AddField("listen", "cannot be empty")
	}
	if f := strings.ToLower(cfg.Log.Format); f != "" && f != "json" && f != "text" {
		errs.AddField("log.format", "must be json or text")
	}

	if cfg.Jobs.Workers <= 0 {
		errs.AddField("jobs.workers", "must be positive")
	}
	if cfg.Jobs.QueueSize <= 0 {
		errs.AddField("jobs.queue_size", "must be positive")
	}
	if cfg.Jobs.DrainTimeoutSec < 0 {
		errs.AddField("jobs.drain_timeout_sec", "must not be negative")
	}
	if cfg.Transport.ConnectTimeoutMs <= 0 {
		errs.AddField("transport.connect_timeout_ms", "must be positive")
	}
	if cfg.Transport.PollTimeoutMs <= 0 {
		errs.AddField("transport.poll_timeout_ms", "must be positive")
	}

	switch cfg.Inventory.Driver {
	case DriverMemory, DriverDuckDB:
	case DriverFixture:
		if cfg.Inventory.Path == "" {
			errs.AddField("inventory.path", "required for the fixture driver")
		}
	default:
		errs.AddField("inventory.driver", fmt.Sprintf("unknown driver %q", cfg.Inventory.Driver))
	}

	switch cfg.Archive.Compression {
	case "", "none", "snappy", "zstd", "gzip":
	default:
		errs.AddField("archive.compression", fmt.Sprintf("unknown compression %q", cfg.Archive.Compression))
	}

	for id, s := range cfg.Sources {
		field := fmt.Sprintf("sources.%s", id)
		if s == nil {
			errs.AddField(field, "cannot be empty")
			continue
		}
		if err := validation.ValidateSourceID(id); err != nil {
			errs.AddField(field, err.Error())
		}
		if s.Host != "" {
			if err := validation.ValidateHost(s.Host); err != nil {
				errs.AddField(field+".host", err.Error())
			}
		}
		if err := validation.ValidatePort(s.Port); err != nil {
			errs.AddField(field+".port", err.Error())
		}
		if s.Target != "" {
			if _, err := ParseObjectRef(s.Target); err != nil {
				errs.AddField(field+".target", err.Error())
			}
		}
		if s.Credentials != "" {
			if _, ok := cfg.Credentials[s.Credentials]; !ok {
				errs.AddField(field+".credentials", fmt.Sprintf("unknown credentials %q", s.Credentials))
			}
		}
	}

	for name, g := range cfg.Groups {
		field := fmt.Sprintf("groups.%s", name)
		if g == nil {
			errs.AddField(field, "cannot be empty")
			continue
		}
		if err := validation.ValidateGroupName(name); err != nil {
			errs.AddField(field, err.Error())
		}
		if g.Provider == "" {
			errs.AddField(field+".provider", "cannot be empty")
		}
		if len(g.Sources) == 0 {
			errs.AddField(field+".sources", "at least one source is required")
		}
		for _, id := range g.Sources {
			if _, ok := cfg.Sources[id]; !ok {
				errs.AddField(field+".sources", fmt.Sprintf("unknown source %q", id))
			}
		}
		if g.Target != "" {
			if _, err := ParseObjectRef(g.Target); err != nil {
				errs.AddField(field+".target", err.Error())
			}
		}
		if g.Interval < 0 {
			errs.AddField(field+".interval", "must not be negative")
		}
	}

	return errs.Err()
}

// ParseObjectRef parses "Class#ID".
func ParseObjectRef(s string) (group.ObjectRef, error) {
	class, id, ok := strings.Cut(strings.TrimSpace(s), "#")
	if !ok || class == "" {
		return group.ObjectRef{}, fmt.Errorf("%q: want Class#ID", s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return group.ObjectRef{}, fmt.Errorf("%q: id must be a positive integer", s)
	}
	return group.ObjectRef{Class: class, ID: n}, nil
}

// =============================================================================
// Conversion: Config → Domain Types
// =============================================================================

// ToSources converts the data sources. Credentials are merged into the
// options; options set on the source win.
func ToSources(cfg *Config) (map[string]*group.DataSource, error) {
	out := make(map[string]*group.DataSource, len(cfg.Sources))
	for id, s := range cfg.Sources {
		ds := &group.DataSource{
			ID:             id,
			Provider:       s.Provider,
			Host:           s.Host,
			Port:           s.Port,
			Credentials:    s.Credentials,
			Options:        make(map[string]string, len(s.Options)),
			ConnectTimeout: time.Duration(s.ConnectTimeoutMs) * time.Millisecond,
			PollTimeout:    time.Duration(s.PollTimeoutMs) * time.Millisecond,
		}
		if s.Target != "" {
			ref, err := ParseObjectRef(s.Target)
			if err != nil {
				return nil, errors.NewValidation("sources."+id+".target", err.Error())
			}
			ds.Target = ref
		}
		if s.Credentials != "" {
			creds, ok := cfg.Credentials[s.Credentials]
			if !ok {
				return nil, errors.NewValidation("sources."+id+".credentials", fmt.Sprintf("unknown credentials %q", s.Credentials))
			}
			for k, v := range creds {
				ds.Options[k] = v
			}
		}
		for k, v := range s.Options {
			ds.Options[k] = v
		}
		out[id] = ds
	}
	return out, nil
}

// ToGroups converts the groups, resolving their sources. Groups without
// an id are numbered after the highest configured id, in name order.
func ToGroups(cfg *Config, sources map[string]*group.DataSource) ([]*group.Group, error) {
	names := make([]string, 0, len(cfg.Groups))
	var maxID int64
	for name, g := range cfg.Groups {
		names = append(names, name)
		if g.ID > maxID {
			maxID = g.ID
		}
	}
	sort.Strings(names)

	out := make([]*group.Group, 0, len(names))
	for _, name := range names {
		gc := cfg.Groups[name]
		g := &group.Group{
			ID:       gc.ID,
			Name:     name,
			Provider: gc.Provider,
			Interval: gc.Interval,
		}
		if g.ID == 0 {
			maxID++
			g.ID = maxID
		}
		if gc.Target != "" {
			ref, err := ParseObjectRef(gc.Target)
			if err != nil {
				return nil, errors.NewValidation("groups."+name+".target", err.Error())
			}
			g.Target = ref
		}
		for _, id := range gc.Sources {
			ds, ok := sources[id]
			if !ok {
				return nil, fmt.Errorf("group %q: %s: %w", name, id, errors.ErrSourceNotFound)
			}
			g.Sources = append(g.Sources, ds)
		}
		if err := g.Validate(); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// PoolConfig returns the worker pool configuration.
func (c *Config) PoolConfig() jobs.PoolConfig {
	return jobs.PoolConfig{
		Workers:      c.Jobs.Workers,
		QueueSize:    c.Jobs.QueueSize,
		DrainTimeout: time.Duration(c.Jobs.DrainTimeoutSec) * time.Second,
	}
}

// EngineConfig returns the job engine configuration.
func (c *Config) EngineConfig() jobs.Config {
	return jobs.Config{Retention: c.Jobs.Retention}
}

// ProviderOptions returns the provider timeouts.
func (c *Config) ProviderOptions() provider.Options {
	return provider.Options{
		ConnectTimeout: time.Duration(c.Transport.ConnectTimeoutMs) * time.Millisecond,
		PollTimeout:    time.Duration(c.Transport.PollTimeoutMs) * time.Millisecond,
	}
}

// ReconcileOptions returns the reconciliation options.
func (c *Config) ReconcileOptions() reconcile.Options {
	return reconcile.Options{Tracked: c.Reconcile.Tracked}
}

// SchedulerConfig returns the scheduler configuration.
func (c *Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{TickInterval: c.Schedule.TickInterval}
}

// ArchiveOptions returns the result archive options.
func (c *Config) ArchiveOptions() archive.Options {
	return archive.Options{Compression: archive.ParseCompressionType(c.Archive.Compression)}
}

// OpenInventory opens the configured inventory store. The returned close
// function is never nil.
func (c *Config) OpenInventory() (inventory.Store, func() error, error) {
	noop := func() error { return nil }

	switch c.Inventory.Driver {
	case DriverMemory, "":
		return inventory.NewMemoryStore(), noop, nil
	case DriverFixture:
		s, err := inventory.LoadFixture(c.Inventory.Path)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil
	case DriverDuckDB:
		s, err := inventory.OpenDuckDB(inventory.DuckDBConfig{DSN: c.Inventory.Path})
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, errors.NewValidation("inventory.driver", fmt.Sprintf("unknown driver %q", c.Inventory.Driver))
	}
}
