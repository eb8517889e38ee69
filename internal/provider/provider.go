// Package provider defines sync providers and the shared mapped-poll loop.
//
// A provider connects to the devices of a synchronization group, issues the
// polling commands of its family and maps the output into entities. Each
// provider id is registered explicitly in a Registry together with its
// family; groups may only mix providers of one family.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/invsync/config"
	"github.com/xtxerr/invsync/internal/entity"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/metrics"
)

var log = logging.Component("provider")

// =============================================================================
// Interfaces
// =============================================================================

// Session is an open connection to one device.
type Session interface {
	// Execute runs a command and returns its raw output.
	Execute(ctx context.Context, command string) (string, error)

	// Close releases the connection.
	Close() error
}

// Provider polls the devices of a group.
type Provider interface {
	// ID returns the registry id, e.g. "cisco-bridge-domain-ssh".
	ID() string

	// Connect opens a session to one data source. Connection parameters
	// are validated here, not when the source is configured.
	Connect(ctx context.Context, ds *group.DataSource) (Session, error)

	// MappedPoll polls every source of g in declaration order and returns
	// the combined entity forest. On failure the returned error is a
	// *PollError carrying the entities of the sources polled before it.
	MappedPoll(ctx context.Context, g *group.Group) ([]*entity.Entity, error)

	// Disconnect closes any session still open. It never fails; problems
	// are logged.
	Disconnect()
}

// =============================================================================
// Options
// =============================================================================

// Options are the per-run settings a provider is created with.
type Options struct {
	ConnectTimeout time.Duration
	PollTimeout    time.Duration

	// Checkpoint is called before each source. A non-nil error stops the
	// poll; it blocks while the run is paused.
	Checkpoint func(ctx context.Context) error

	// OnStep is called after each source completed.
	OnStep func(done, total int, ds *group.DataSource)
}

// withDefaults fills unset timeouts. Timeouts are mandatory and finite.
func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = time.Duration(config.DefaultConnectTimeoutMs) * time.Millisecond
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = time.Duration(config.DefaultPollTimeoutMs) * time.Millisecond
	}
	return o
}

// ConnectTimeoutFor returns the effective connect timeout for ds.
func (o Options) ConnectTimeoutFor(ds *group.DataSource) time.Duration {
	connect, _ := ds.Timeouts(o.withDefaults().ConnectTimeout, 0)
	return connect
}

// =============================================================================
// Poll Error
// =============================================================================

// PollError reports a failed mapped poll. Partial holds the entities of
// the sources that were polled successfully before the failure.
type PollError struct {
	Partial []*entity.Entity
	Source  string
	Err     error
}

// Error implements the error interface.
func (e *PollError) Error() string {
	return fmt.Sprintf("poll source %q: %v", e.Source, e.Err)
}

// Unwrap exposes ErrPoll and the cause to errors.Is/As.
func (e *PollError) Unwrap() []error {
	return []error{errors.ErrPoll, e.Err}
}

// =============================================================================
// Mapped Poll Loop
// =============================================================================

// SourceFunc polls one data source. ctx carries the poll timeout.
type SourceFunc func(ctx context.Context, ds *group.DataSource) ([]*entity.Entity, error)

// Poll is the mapped-poll loop shared by all providers. Sources are polled
// in declaration order; each is preceded by the checkpoint and bounded by
// its poll timeout. Entities are tagged with their source id.
func Poll(ctx context.Context, providerID string, g *group.Group, opts Options, fn SourceFunc) ([]*entity.Entity, error) {
	opts = opts.withDefaults()
	out := make([]*entity.Entity, 0)

	for i, ds := range g.Sources {
		if opts.Checkpoint != nil {
			if err := opts.Checkpoint(ctx); err != nil {
				return out, &PollError{Partial: out, Source: ds.ID, Err: err}
			}
		}
		if err := ctx.Err(); err != nil {
			return out, &PollError{Partial: out, Source: ds.ID, Err: err}
		}

		start := time.Now()
		_, pollTimeout := ds.Timeouts(opts.ConnectTimeout, opts.PollTimeout)
		entities, err := pollOne(ctx, ds, pollTimeout, fn)
		if err != nil {
			metrics.ObservePoll(providerID, metrics.OutcomeFailure, time.Since(start))
			log.Warn("source poll failed",
				"provider", providerID,
				"group", g.Name,
				"source", ds.ID,
				"host", ds.Host,
				"error", err)
			return out, &PollError{Partial: out, Source: ds.ID, Err: err}
		}
		metrics.ObservePoll(providerID, metrics.OutcomeSuccess, time.Since(start))

		for _, e := range entities {
			e.SetSource(ds.ID)
		}
		out = append(out, entities...)

		log.Debug("source polled",
			"provider", providerID,
			"group", g.Name,
			"source", ds.ID,
			"entities", len(entities),
			"duration", time.Since(start))

		if opts.OnStep != nil {
			opts.OnStep(i+1, len(g.Sources), ds)
		}
	}
	return out, nil
}

func pollOne(ctx context.Context, ds *group.DataSource, timeout time.Duration, fn SourceFunc) (entities []*entity.Entity, err error) {
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			entities = nil
			err = fmt.Errorf("source %q: panic: %v: %w", ds.ID, r, errors.ErrExecution)
		}
	}()
	return fn(pctx, ds)
}

// =============================================================================
// Session Tracking
// =============================================================================

// Sessions tracks open sessions so Disconnect can close leftovers.
type Sessions struct {
	mu   sync.Mutex
	open map[Session]string
}

// Track records an open session for the given source.
func (s *Sessions) Track(sess Session, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open == nil {
		s.open = make(map[Session]string)
	}
	s.open[sess] = source
}

// Release closes and forgets one session. Close errors are logged.
func (s *Sessions) Release(sess Session) {
	s.mu.Lock()
	source, ok := s.open[sess]
	delete(s.open, sess)
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := sess.Close(); err != nil {
		log.Debug("session close failed", "source", source, "error", err)
	}
}

// CloseAll closes every tracked session.
func (s *Sessions) CloseAll() {
	s.mu.Lock()
	open := s.open
	s.open = nil
	s.mu.Unlock()

	for sess, source := range open {
		if err := sess.Close(); err != nil {
			log.Warn("disconnect failed", "source", source, "error", err)
		}
	}
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open)
}
