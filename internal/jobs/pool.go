package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/invsync/config"
	"github.com/xtxerr/invsync/internal/errors"
)

// =============================================================================
// Execution Substrate
// =============================================================================

// Task is one unit of work run by a substrate. ctx is cancelled by Cancel
// and when the substrate stops.
type Task func(ctx context.Context)

// Handle identifies a submitted task. Handles are positive.
type Handle int64

// TaskStatus is the substrate's view of a task.
type TaskStatus int

const (
	TaskUnknown TaskStatus = iota
	TaskQueued
	TaskRunning
	TaskDone
)

// String returns the task status name.
func (s TaskStatus) String() string {
	switch s {
	case TaskQueued:
		return "queued"
	case TaskRunning:
		return "running"
	case TaskDone:
		return "done"
	default:
		return "unknown"
	}
}

// Substrate runs tasks asynchronously.
type Substrate interface {
	// Submit queues t and returns its handle without waiting for it to run.
	// t must not run on the calling goroutine.
	Submit(t Task) (Handle, error)

	// Cancel requests cooperative cancellation. Unknown handles are ignored.
	Cancel(h Handle)

	// Status reports the task's state.
	Status(h Handle) TaskStatus
}

// =============================================================================
// Worker Pool
// =============================================================================

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	// Workers is the number of concurrent job workers.
	Workers int

	// QueueSize is the task queue capacity. Submit fails with ErrQueueFull
	// when it is exhausted.
	QueueSize int

	// DrainTimeout is how long Stop waits for running tasks.
	DrainTimeout time.Duration
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:      config.DefaultJobWorkers,
		QueueSize:    config.DefaultJobQueueSize,
		DrainTimeout: time.Duration(config.DefaultDrainTimeoutSec) * time.Second,
	}
}

type poolTask struct {
	handle Handle
	run    Task
	ctx    context.Context
	cancel context.CancelFunc
	status TaskStatus
}

// Pool is a bounded worker pool implementing Substrate.
//
// Pool is safe for concurrent use.
type Pool struct {
	mu    sync.Mutex
	tasks map[Handle]*poolTask

	queue    chan *poolTask
	shutdown chan struct{}
	wg       sync.WaitGroup
	stopped  bool
	started  bool

	ctx    context.Context
	cancel context.CancelFunc

	workers      int
	drainTimeout time.Duration

	nextHandle    atomic.Int64
	activeWorkers atomic.Int32
	rejected      atomic.Int64
	panics        atomic.Int64
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(cfg PoolConfig) *Pool {
	def := DefaultPoolConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		tasks:        make(map[Handle]*poolTask),
		queue:        make(chan *poolTask, cfg.QueueSize),
		shutdown:     make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
		workers:      cfg.Workers,
		drainTimeout: cfg.DrainTimeout,
	}
}

// Start starts the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	log.Info("job pool started", "workers", p.workers, "queue", cap(p.queue))
}

// Stop stops the pool gracefully, waiting for running tasks.
func (p *Pool) Stop() {
	p.StopWithContext(context.Background())
}

// StopWithContext stops accepting tasks, cancels queued ones and waits for
// running tasks up to the drain timeout. Tasks still running afterwards
// are cancelled.
func (p *Pool) StopWithContext(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.shutdown)
	p.mu.Unlock()

	log.Info("job pool stopping")

	drainCtx, cancel := context.WithTimeout(ctx, p.drainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("job pool stopped gracefully")
	case <-drainCtx.Done():
		log.Warn("job pool drain timeout", "active_workers", p.activeWorkers.Load())
	}

	p.cancel()
}

// Submit implements Substrate.
func (p *Pool) Submit(t Task) (Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return 0, errors.ErrSubstrateStopped
	}

	ctx, cancel := context.WithCancel(p.ctx)
	task := &poolTask{
		handle: Handle(p.nextHandle.Add(1)),
		run:    t,
		ctx:    ctx,
		cancel: cancel,
		status: TaskQueued,
	}

	select {
	case p.queue <- task:
		p.tasks[task.handle] = task
		return task.handle, nil
	default:
		cancel()
		p.rejected.Add(1)
		return 0, errors.ErrQueueFull
	}
}

// Cancel implements Substrate.
func (p *Pool) Cancel(h Handle) {
	p.mu.Lock()
	task, ok := p.tasks[h]
	p.mu.Unlock()

	if ok {
		task.cancel()
	}
}

// Status implements Substrate. Tasks are forgotten once done, so any
// handle the pool issued that it no longer tracks is done.
func (p *Pool) Status(h Handle) TaskStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	if task, ok := p.tasks[h]; ok {
		return task.status
	}
	if h > 0 && int64(h) <= p.nextHandle.Load() {
		return TaskDone
	}
	return TaskUnknown
}

// =============================================================================
// Worker
// =============================================================================

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		// Shutdown wins over queued work.
		select {
		case <-p.shutdown:
			p.drainQueue()
			return
		default:
		}

		select {
		case task := <-p.queue:
			p.execute(task)
		case <-p.shutdown:
			p.drainQueue()
			return
		}
	}
}

// drainQueue cancels tasks that never started. They still run so their
// owners observe the cancellation.
func (p *Pool) drainQueue() {
	for {
		select {
		case task := <-p.queue:
			task.cancel()
			p.execute(task)
		default:
			return
		}
	}
}

func (p *Pool) execute(task *poolTask) {
	p.mu.Lock()
	task.status = TaskRunning
	p.mu.Unlock()

	p.executeWithRecovery(task)

	p.mu.Lock()
	task.status = TaskDone
	delete(p.tasks, task.handle)
	p.mu.Unlock()
	task.cancel()
}

// executeWithRecovery runs a task with counter management and panic recovery.
func (p *Pool) executeWithRecovery(task *poolTask) {
	p.activeWorkers.Add(1)

	defer func() {
		p.activeWorkers.Add(-1)

		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Error("panic in task execution",
				"handle", int64(task.handle),
				"panic", r)
		}
	}()

	task.run(task.ctx)
}

// =============================================================================
// Utility Methods
// =============================================================================

// PoolStats is a point-in-time view of the pool.
type PoolStats struct {
	Workers  int   `json:"workers"`
	Active   int   `json:"active"`
	Queued   int   `json:"queued"`
	Rejected int64 `json:"rejected"`
	Panics   int64 `json:"panics"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:  p.workers,
		Active:   int(p.activeWorkers.Load()),
		Queued:   len(p.queue),
		Rejected: p.rejected.Load(),
		Panics:   p.panics.Load(),
	}
}
