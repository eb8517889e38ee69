package testing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/provider"
)

// =============================================================================
// Scripted Session
// =============================================================================

// Session is a scripted provider.Session. Execute answers from Outputs;
// unknown commands fail with ErrExecution.
type Session struct {
	Outputs map[string]string

	// Err fails every Execute.
	Err error

	// Hold blocks Execute until it is closed or ctx is done.
	Hold chan struct{}

	mu       sync.Mutex
	commands []string
	closed   int
}

// Execute implements provider.Session.
func (s *Session) Execute(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	if s.Hold != nil {
		select {
		case <-s.Hold:
		case <-ctx.Done():
			return "", errors.Execution(command, ctx.Err())
		}
	}
	if s.Err != nil {
		return "", s.Err
	}
	out, ok := s.Outputs[command]
	if !ok {
		return "", errors.Execution(command, fmt.Errorf("unknown command"))
	}
	return out, nil
}

// Close implements provider.Session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Commands returns the commands executed so far.
func (s *Session) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Closed returns how often Close was called.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// =============================================================================
// Scripted Dialer
// =============================================================================

// Dialer hands out scripted sessions by data source host.
type Dialer struct {
	Sessions map[string]*Session

	// Errs fails dialing the given hosts.
	Errs map[string]error

	// Delay is applied to every dial, bounded by ctx.
	Delay time.Duration

	mu     sync.Mutex
	dialed []string
}

// Dial implements cli.Dialer.
func (d *Dialer) Dial(ctx context.Context, ds *group.DataSource, _ time.Duration) (provider.Session, error) {
	d.mu.Lock()
	d.dialed = append(d.dialed, ds.Host)
	d.mu.Unlock()

	if d.Delay > 0 {
		select {
		case <-time.After(d.Delay):
		case <-ctx.Done():
			return nil, errors.Connection(ds.Host, ctx.Err())
		}
	}
	if err, ok := d.Errs[ds.Host]; ok {
		return nil, errors.Connection(ds.Host, err)
	}
	s, ok := d.Sessions[ds.Host]
	if !ok {
		return nil, errors.Connection(ds.Host, fmt.Errorf("no route to host"))
	}
	return s, nil
}

// Dialed returns the hosts dialed so far, in order.
func (d *Dialer) Dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.dialed...)
}
