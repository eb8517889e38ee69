// Package testing provides test utilities for invsync packages: a fake
// device dialer for the CLI providers and helpers for tests that start
// goroutines.
//
// t.Fatal from a goroutine other than the test's own does not stop the
// test, so goroutines report through Goroutines instead.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// Goroutines collects the errors of goroutines started by a test.
//
//	g := itesting.NewGoroutines(t, 10*time.Second)
//	g.Go(func(ctx context.Context) error {
//	    return engine.Wait(ctx, job)
//	})
//	g.Wait()
type Goroutines struct {
	t      *testing.T
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewGoroutines returns a collector whose context expires after timeout.
// Zero means no timeout. The context is cancelled when the test ends.
func NewGoroutines(t *testing.T, timeout time.Duration) *Goroutines {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	t.Cleanup(cancel)
	return &Goroutines{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn in a goroutine with the collector's context.
func (g *Goroutines) Go(fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		if err := fn(g.ctx); err != nil {
			g.mu.Lock()
			g.errs = append(g.errs, err)
			g.mu.Unlock()
		}
	}()
}

// Wait blocks until every goroutine returned and fails the test if any
// of them returned an error. It must be called from the test goroutine.
func (g *Goroutines) Wait() {
	g.t.Helper()
	g.wg.Wait()
	g.cancel()

	g.mu.Lock()
	defer g.mu.Unlock()
	for i, err := range g.errs {
		g.t.Errorf("goroutine error %d/%d: %v", i+1, len(g.errs), err)
	}
	if len(g.errs) > 0 {
		g.t.FailNow()
	}
}

// Eventually polls condition every interval until it holds or timeout
// expires.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}
