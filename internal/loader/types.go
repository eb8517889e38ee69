// Package loader - Configuration Types
//
// Defines the YAML configuration structure for invsyncd.
//
//	listen:       admin API address
//	log:          level and format
//	jobs:         worker pool and job retention
//	transport:    connect and poll timeouts
//	inventory:    store driver (memory, fixture, duckdb)
//	reconcile:    tracked attributes per class
//	schedule:     periodic trigger
//	events/archive: notification sinks
//	credentials:  named option sets referenced by data sources
//	sources:      data sources by id
//	groups:       synchronization groups by name
//	include:      more files (sources, groups and credentials are merged)
package loader

import (
	"time"

	"github.com/xtxerr/invsync/config"
)

// =============================================================================
// Root Configuration
// =============================================================================

// Config is the root configuration structure for invsyncd.
type Config struct {
	// Listen is the admin API listen address.
	// Default: "127.0.0.1:9470"
	Listen string `yaml:"listen"`

	Log       LogConfig       `yaml:"log"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Transport TransportConfig `yaml:"transport"`
	Inventory InventoryConfig `yaml:"inventory"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Events    EventsConfig    `yaml:"events"`
	Archive   ArchiveConfig   `yaml:"archive"`

	// Credentials are option sets merged into the data sources that
	// reference them. Options set on the source win.
	Credentials map[string]map[string]string `yaml:"credentials"`

	// Sources defines data sources by id.
	Sources map[string]*SourceConfig `yaml:"sources"`

	// Groups defines synchronization groups by name.
	Groups map[string]*GroupConfig `yaml:"groups"`

	// Include lists additional config files to load.
	// Supports glob patterns. Relative to this file's directory.
	Include []string `yaml:"include"`
}

// =============================================================================
// Runtime Configuration
// =============================================================================

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level"`

	// Format is "json" or "text". Default: text
	Format string `yaml:"format"`
}

// JobsConfig configures the job engine.
type JobsConfig struct {
	// Workers is the number of concurrent job workers.
	// Default: 8
	Workers int `yaml:"workers"`

	// QueueSize is the pending job queue capacity.
	// Default: 256
	QueueSize int `yaml:"queue_size"`

	// DrainTimeoutSec is how long shutdown waits for running jobs.
	// Default: 30
	DrainTimeoutSec int `yaml:"drain_timeout_sec"`

	// Retention is how long terminal jobs stay queryable.
	// Default: 1h
	Retention time.Duration `yaml:"retention"`
}

// TransportConfig configures provider transports.
type TransportConfig struct {
	// ConnectTimeoutMs bounds establishing a session.
	// Default: 10000
	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`

	// PollTimeoutMs bounds polling one data source.
	// Default: 60000
	PollTimeoutMs int `yaml:"poll_timeout_ms"`
}

// Inventory drivers.
const (
	DriverMemory  = "memory"
	DriverFixture = "fixture"
	DriverDuckDB  = "duckdb"
)

// InventoryConfig selects the inventory store.
type InventoryConfig struct {
	// Driver is memory, fixture or duckdb. Default: memory
	Driver string `yaml:"driver"`

	// Path is the fixture file or DuckDB database. Empty DuckDB paths
	// open an in-memory database.
	Path string `yaml:"path"`

	// CacheTTL reuses inventory reads across runs. Default: 0
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// ReconcileConfig configures reconciliation.
type ReconcileConfig struct {
	// Tracked restricts the compared attributes per class. Classes not
	// listed compare every polled attribute.
	Tracked map[string][]string `yaml:"tracked"`
}

// ScheduleConfig configures the periodic trigger.
type ScheduleConfig struct {
	// Enabled runs groups with an interval in serve mode. Default: true
	Enabled bool `yaml:"enabled"`

	// TickInterval is how often due groups are checked.
	// Default: 250ms
	TickInterval time.Duration `yaml:"tick_interval"`
}

// EventsConfig configures the event stream file.
type EventsConfig struct {
	// Path receives length-delimited job events. Empty disables.
	Path string `yaml:"path"`
}

// ArchiveConfig configures the result archive.
type ArchiveConfig struct {
	// Path is the directory Parquet result files are written to, one file
	// per process start. Empty disables.
	Path string `yaml:"path"`

	// Compression is none, snappy, zstd or gzip. Default: zstd
	Compression string `yaml:"compression"`
}

// =============================================================================
// Groups and Sources
// =============================================================================

// SourceConfig defines a data source.
type SourceConfig struct {
	// Target is the inventory object as "Class#ID".
	Target string `yaml:"target"`

	// Provider overrides the group's provider; it must be of the same
	// family.
	Provider string `yaml:"provider"`

	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Credentials names an entry of the credentials section.
	Credentials string `yaml:"credentials"`

	Options map[string]string `yaml:"options"`

	ConnectTimeoutMs int `yaml:"connect_timeout_ms"`
	PollTimeoutMs    int `yaml:"poll_timeout_ms"`
}

// GroupConfig defines a synchronization group.
type GroupConfig struct {
	ID       int64    `yaml:"id"`
	Provider string   `yaml:"provider"`
	Target   string   `yaml:"target"`
	Sources  []string `yaml:"sources"`

	// Interval re-runs the group in serve mode. Zero runs it on demand
	// only.
	Interval time.Duration `yaml:"interval"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Listen: config.DefaultListenAddress,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Jobs: JobsConfig{
			Workers:         config.DefaultJobWorkers,
			QueueSize:       config.DefaultJobQueueSize,
			DrainTimeoutSec: config.DefaultDrainTimeoutSec,
			Retention:       config.DefaultJobRetention,
		},
		Transport: TransportConfig{
			ConnectTimeoutMs: config.DefaultConnectTimeoutMs,
			PollTimeoutMs:    config.DefaultPollTimeoutMs,
		},
		Inventory: InventoryConfig{
			Driver:   DriverMemory,
			CacheTTL: config.DefaultInventoryCacheTTL,
		},
		Schedule: ScheduleConfig{
			Enabled:      true,
			TickInterval: config.DefaultSchedulerTickInterval,
		},
		Archive: ArchiveConfig{
			Compression: "zstd",
		},
	}
}
