// Package config provides configuration defaults for invsync.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default admin API listen address.
	// Override via config: server.listen
	DefaultListenAddress = "127.0.0.1:9470"

	// DefaultMaxMessageSize limits a single event stream message.
	// Override via config: stream.max_message_size
	DefaultMaxMessageSize = 16 * 1024 * 1024
)

// =============================================================================
// Job Engine Defaults
// =============================================================================

const (
	// DefaultJobWorkers is the number of concurrent job workers.
	// Each worker runs one synchronization job at a time.
	// Override via config: jobs.workers
	DefaultJobWorkers = 8

	// DefaultJobQueueSize is the pending job queue capacity.
	// When full, Run fails with ErrQueueFull.
	// Override via config: jobs.queue_size
	DefaultJobQueueSize = 256

	// DefaultDrainTimeoutSec is how long to wait for running jobs during shutdown.
	// After this timeout, remaining jobs are abandoned.
	// Override via config: jobs.drain_timeout_sec
	DefaultDrainTimeoutSec = 30

	// DefaultJobRetention is how long terminal jobs stay queryable.
	// Override via config: jobs.retention
	DefaultJobRetention = time.Hour
)

// =============================================================================
// Scheduler Defaults
// =============================================================================

const (
	// DefaultSchedulerTickInterval is how often the scheduler checks for due groups.
	// Override via config: schedule.tick_interval
	DefaultSchedulerTickInterval = 250 * time.Millisecond

	// DefaultSyncInterval applies to scheduled groups without an interval.
	DefaultSyncInterval = 15 * time.Minute
)

// =============================================================================
// Transport Defaults
// =============================================================================

const (
	// DefaultConnectTimeoutMs bounds establishing a transport session.
	// Override via config: transport.connect_timeout_ms
	DefaultConnectTimeoutMs = 10000

	// DefaultPollTimeoutMs bounds polling a single data source.
	// Override via config: transport.poll_timeout_ms
	DefaultPollTimeoutMs = 60000

	// DefaultSSHPort is used when a data source has no port.
	DefaultSSHPort = 22

	// DefaultSNMPPort is used when a data source has no port.
	DefaultSNMPPort = 161

	// DefaultSNMPRetries is the number of retry attempts after timeout.
	// Override via config: transport.snmp_retries
	DefaultSNMPRetries = 2
)

// =============================================================================
// Reconciliation Defaults
// =============================================================================

const (
	// DefaultInventoryCacheTTL is how long a coalesced inventory read is reused.
	// Zero disables reuse beyond in-flight deduplication.
	// Override via config: inventory.cache_ttl
	DefaultInventoryCacheTTL = 0 * time.Second
)
