package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/invsync/internal/errors"
	itesting "github.com/xtxerr/invsync/internal/testing"
)

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 2, QueueSize: 8})
	p.Start()
	defer p.Stop()

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if _, err := p.Submit(func(context.Context) { ran.Add(1) }); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}

	err := itesting.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return ran.Load() == 5
	})
	if err != nil {
		t.Errorf("ran %d tasks: %v", ran.Load(), err)
	}
}

func TestPool_QueueFull(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 1})

	h, err := p.Submit(func(context.Context) {})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if p.Status(h) != TaskQueued {
		t.Errorf("Status() = %s, want queued", p.Status(h))
	}

	if _, err := p.Submit(func(context.Context) {}); !errors.Is(err, errors.ErrQueueFull) {
		t.Errorf("Submit() on full queue error = %v", err)
	}
	if p.Stats().Rejected != 1 {
		t.Errorf("Stats().Rejected = %d", p.Stats().Rejected)
	}
}

func TestPool_Stopped(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1})
	p.Start()
	p.Stop()
	p.Stop()

	if _, err := p.Submit(func(context.Context) {}); !errors.Is(err, errors.ErrSubstrateStopped) {
		t.Errorf("Submit() after Stop error = %v", err)
	}
}

func TestPool_PanicRecovered(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1})
	p.Start()
	defer p.Stop()

	if _, err := p.Submit(func(context.Context) { panic("boom") }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	done := make(chan struct{})
	if _, err := p.Submit(func(context.Context) { close(done) }); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive the panic")
	}
	if p.Stats().Panics != 1 {
		t.Errorf("Stats().Panics = %d", p.Stats().Panics)
	}
}

func TestPool_Cancel(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1})
	p.Start()
	defer p.Stop()

	started := make(chan struct{})
	h, err := p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	if p.Status(h) != TaskRunning {
		t.Errorf("Status() = %s, want running", p.Status(h))
	}
	p.Cancel(h)
	p.Cancel(Handle(999)) // unknown: ignored

	err = itesting.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return p.Status(h) == TaskDone
	})
	if err != nil {
		t.Errorf("Status() = %s: %v", p.Status(h), err)
	}
	if p.Status(Handle(999)) != TaskUnknown {
		t.Errorf("Status(999) = %s", p.Status(Handle(999)))
	}
}

func TestPool_StopCancelsQueued(t *testing.T) {
	p := NewPool(PoolConfig{Workers: 1, QueueSize: 4, DrainTimeout: time.Second})
	p.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	if _, err := p.Submit(func(context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	var cancelled atomic.Bool
	if _, err := p.Submit(func(ctx context.Context) {
		cancelled.Store(ctx.Err() != nil)
	}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	p.Stop()

	if !cancelled.Load() {
		t.Error("queued task did not observe cancellation")
	}
}
