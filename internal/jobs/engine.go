// Package jobs runs reconciliation work as background jobs.
//
// A Job moves through NOT_STARTED, RUNNING (optionally PAUSED) and ends
// FINISHED or ABORTED. The Engine admits runs, submits them to a
// Substrate and records their outcome as data on the job: a failure is
// captured, never propagated, and a killed job is aborted without one.
package jobs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/invsync/config"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/metrics"
	"github.com/xtxerr/invsync/internal/notify"
	"github.com/xtxerr/invsync/internal/reconcile"
)

var log = logging.Component("jobs")

// =============================================================================
// Runnables
// =============================================================================

// RunContext is what a runnable sees of its job.
type RunContext struct {
	JobID  int64
	RunID  string
	Target string
	Params Params

	// Checkpoint blocks while the job is paused and returns an error once
	// the job was killed. Runnables call it between discrete steps.
	Checkpoint func(ctx context.Context) error

	// Progress reports progress to the notification channel.
	Progress func(percent int, message string)
}

// Runnable is the logic behind a job tag.
type Runnable interface {
	Run(ctx context.Context, rc *RunContext) ([]reconcile.SyncResult, error)
}

// Pausable is implemented by runnables that honor pause at checkpoints.
type Pausable interface {
	Pausable() bool
}

// RunnableFunc adapts a function to Runnable.
type RunnableFunc func(ctx context.Context, rc *RunContext) ([]reconcile.SyncResult, error)

// Run implements Runnable.
func (f RunnableFunc) Run(ctx context.Context, rc *RunContext) ([]reconcile.SyncResult, error) {
	return f(ctx, rc)
}

// =============================================================================
// Engine
// =============================================================================

// Config holds engine configuration.
type Config struct {
	// Retention is how long terminal jobs stay listed. Zero keeps them.
	Retention time.Duration
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{Retention: config.DefaultJobRetention}
}

// Engine admits, runs and tracks jobs.
//
// Engine is safe for concurrent use. Its own mutex guards only the
// runnable table, the job index and the admission table; each job has its
// own lock. Lock order is job before engine.
type Engine struct {
	mu        sync.Mutex
	runnables map[string]Runnable
	jobs      map[int64]*Job
	active    map[string]int
	running   int

	substrate Substrate
	listener  notify.Listener
	retention time.Duration
	stats     *durationStats
}

// NewEngine creates an engine on the given substrate. A nil listener
// discards reports.
func NewEngine(s Substrate, l notify.Listener, cfg Config) *Engine {
	if l == nil {
		l = notify.Funcs{}
	}
	return &Engine{
		runnables: make(map[string]Runnable),
		jobs:      make(map[int64]*Job),
		active:    make(map[string]int),
		substrate: s,
		listener:  l,
		retention: cfg.Retention,
		stats:     newDurationStats(),
	}
}

// Register binds a runnable to a tag, replacing any previous one.
func (e *Engine) Register(tag string, r Runnable) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runnables[tag] = r
}

// Tags returns the registered tags, sorted.
func (e *Engine) Tags() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	tags := make([]string, 0, len(e.runnables))
	for t := range e.runnables {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// admissionKeys returns one admission key per scope of j. A target lists
// its scopes separated by TargetSeparator, so runs whose scope sets
// overlap exclude each other.
func admissionKeys(j *Job) []string {
	var keys []string
	for _, scope := range strings.Split(j.Target, TargetSeparator) {
		keys = append(keys, j.Tag+"\x00"+strings.TrimSpace(scope))
	}
	return keys
}

// Run starts j and returns without waiting for it.
//
// If another run with the same tag and an overlapping target is active
// and j does not allow concurrence, Run fails with ErrConcurrentJobRejected
// and j stays NOT_STARTED. Substrate failures also leave j NOT_STARTED.
func (e *Engine) Run(j *Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.initLocked()
	if j.status != StatusNotStarted {
		return fmt.Errorf("run job %d (%s): %w", j.id, j.status, errors.ErrInvalidTransition)
	}

	keys := admissionKeys(j)

	e.mu.Lock()
	r, ok := e.runnables[j.Tag]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%q: %w", j.Tag, errors.ErrUnknownJobTag)
	}
	if !j.AllowConcurrence && e.busyLocked(keys) {
		e.mu.Unlock()
		metrics.JobsRejected.WithLabelValues(j.Tag).Inc()
		log.Info("job rejected", "tag", j.Tag, "target", j.Target)
		return fmt.Errorf("%s for %q: %w", j.Tag, j.Target, errors.ErrConcurrentJobRejected)
	}
	for _, key := range keys {
		e.active[key]++
	}
	e.running++
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	g := newGate()

	// The task locks j.mu first, so it cannot observe the job before Run
	// has finished recording it.
	h, err := e.substrate.Submit(func(taskCtx context.Context) {
		stop := context.AfterFunc(taskCtx, cancel)
		defer stop()
		e.execute(ctx, j, r)
	})
	if err != nil {
		cancel()
		e.release(keys)
		return fmt.Errorf("submit %s for %q: %w", j.Tag, j.Target, err)
	}

	j.id = int64(h)
	j.handle = h
	j.runID = uuid.NewString()
	j.cancel = cancel
	j.gate = g
	j.admission = keys
	if p, ok := r.(Pausable); ok {
		j.pausable = p.Pausable()
	}
	j.startedAt = time.Now()
	_ = j.transition(StatusRunning)

	e.mu.Lock()
	e.jobs[j.id] = j
	e.mu.Unlock()

	metrics.JobsStarted.WithLabelValues(j.Tag).Inc()
	metrics.JobsRunning.Inc()
	log.Info("job started", "job_id", j.id, "run_id", j.runID, "tag", j.Tag, "target", j.Target)
	return nil
}

// execute runs r for j on a substrate worker.
func (e *Engine) execute(ctx context.Context, j *Job, r Runnable) {
	j.mu.Lock()
	rc := &RunContext{
		JobID:      j.id,
		RunID:      j.runID,
		Target:     j.Target,
		Params:     j.Params.Clone(),
		Checkpoint: j.gate.wait,
	}
	terminal := j.status.IsTerminal()
	j.mu.Unlock()

	if terminal {
		return // killed before it started
	}

	rc.Progress = func(percent int, message string) {
		e.progress(j, percent, message)
	}

	ctx = logging.ContextWithJobID(ctx, rc.JobID)
	ctx = logging.ContextWithRunID(ctx, rc.RunID)

	results, err := e.runWithRecovery(ctx, r, rc)
	if err == nil {
		// A paused job completes only once resumed.
		err = rc.Checkpoint(ctx)
	}
	e.finish(ctx, j, results, err)
}

// runWithRecovery converts a panic into an internal failure.
func (e *Engine) runWithRecovery(ctx context.Context, r Runnable, rc *RunContext) (results []reconcile.SyncResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.WithContext(ctx).Error("panic in job", "panic", rec)
			results = nil
			err = &errors.Captured{Kind: errors.KindInternal, Message: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	return r.Run(ctx, rc)
}

// finish records the outcome of a run. Results of a killed run are
// discarded.
func (e *Engine) finish(ctx context.Context, j *Job, results []reconcile.SyncResult, err error) {
	j.mu.Lock()
	for err == nil && j.status == StatusPaused {
		g := j.gate
		j.mu.Unlock()
		err = g.wait(ctx)
		j.mu.Lock()
	}
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return
	}

	if err != nil {
		_ = j.transition(StatusAborted)
		j.captured = errors.Capture(err)
	} else {
		_ = j.transition(StatusFinished)
		j.result = results
		if j.result == nil {
			j.result = []reconcile.SyncResult{}
		}
		j.percent = 100
	}
	snap := e.closeLocked(j)
	j.mu.Unlock()

	if err != nil {
		log.Warn("job aborted", "job_id", snap.ID, "run_id", snap.RunID, "kind", string(snap.Captured.Kind), "error", snap.Captured.Message)
		e.listener.ReportProgress(snap.ID, snap.Percent, "aborted: "+snap.Captured.Error())
		close(j.done)
		return
	}

	log.Info("job finished", "job_id", snap.ID, "run_id", snap.RunID, "results", len(results), "duration", snap.Duration())
	e.listener.ReportResult(snap.ID, append([]reconcile.SyncResult(nil), results...))
	close(j.done)
}

// closeLocked finalizes a job that just became terminal. The caller holds
// j.mu and closes j.done once the listener was told.
func (e *Engine) closeLocked(j *Job) Snapshot {
	j.endedAt = time.Now()
	j.gate.open()
	j.cancel()
	e.release(j.admission)

	d := j.endedAt.Sub(j.startedAt)
	e.stats.record(j.status, d)
	metrics.JobsRunning.Dec()
	metrics.JobsFinished.WithLabelValues(j.Tag, j.status.String()).Inc()
	metrics.JobDuration.WithLabelValues(j.Tag).Observe(d.Seconds())

	s := Snapshot{
		ID:        j.id,
		RunID:     j.runID,
		Status:    j.status,
		Percent:   j.percent,
		StartedAt: j.startedAt,
		EndedAt:   j.endedAt,
	}
	if j.captured != nil {
		c := *j.captured
		s.Captured = &c
	}
	return s
}

// busyLocked reports whether any key is held by an active run. The caller
// holds e.mu.
func (e *Engine) busyLocked(keys []string) bool {
	for _, key := range keys {
		if e.active[key] > 0 {
			return true
		}
	}
	return false
}

func (e *Engine) release(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running--
	for _, key := range keys {
		if e.active[key] <= 1 {
			delete(e.active, key)
			continue
		}
		e.active[key]--
	}
}

func (e *Engine) progress(j *Job, percent int, message string) {
	j.mu.Lock()
	if j.status.IsTerminal() {
		j.mu.Unlock()
		return
	}
	if percent > j.percent {
		j.percent = percent
	}
	j.message = message
	id := j.id
	j.mu.Unlock()

	e.listener.ReportProgress(id, percent, message)
}

// Kill aborts j without a captured failure. The run's context is cancelled
// and its results, if any, are discarded. Killing a job that is not active
// is a no-op.
func (e *Engine) Kill(j *Job) {
	j.mu.Lock()
	if !j.status.IsActive() {
		j.mu.Unlock()
		return
	}

	_ = j.transition(StatusAborted)
	e.substrate.Cancel(j.handle)
	snap := e.closeLocked(j)
	j.mu.Unlock()

	log.Info("job killed", "job_id", snap.ID, "run_id", snap.RunID)
	e.listener.ReportProgress(snap.ID, snap.Percent, "killed")
	close(j.done)
}

// Pause suspends j at its next checkpoint.
func (e *Engine) Pause(j *Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status == StatusRunning && !j.pausable {
		return fmt.Errorf("job %d (%s): %w", j.id, j.Tag, errors.ErrNotPausable)
	}
	if err := j.transition(StatusPaused); err != nil {
		return err
	}
	j.gate.pause()
	log.Info("job paused", "job_id", j.id)
	return nil
}

// Resume continues a paused job.
func (e *Engine) Resume(j *Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusPaused {
		return fmt.Errorf("resume job %d (%s): %w", j.id, j.status, errors.ErrInvalidTransition)
	}
	_ = j.transition(StatusRunning)
	j.gate.open()
	log.Info("job resumed", "job_id", j.id)
	return nil
}

// Wait blocks until j is terminal or ctx is done.
func (e *Engine) Wait(ctx context.Context, j *Job) error {
	select {
	case <-j.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a job by id.
func (e *Engine) Get(id int64) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %d: %w", id, errors.ErrJobNotFound)
	}
	return j, nil
}

// List returns the known jobs ordered by id.
func (e *Engine) List() []*Job {
	e.prune()

	e.mu.Lock()
	ids := make([]int64, 0, len(e.jobs))
	for id := range e.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	out := make([]*Job, len(ids))
	for i, id := range ids {
		out[i] = e.jobs[id]
	}
	e.mu.Unlock()
	return out
}

// Active returns the number of admitted runs that have not ended.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// Stats returns job duration statistics.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// prune drops terminal jobs older than the retention. Jobs are locked
// only after e.mu was released.
func (e *Engine) prune() {
	if e.retention <= 0 {
		return
	}

	e.mu.Lock()
	jobs := make([]*Job, 0, len(e.jobs))
	for _, j := range e.jobs {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	cutoff := time.Now().Add(-e.retention)
	var expired []int64
	for _, j := range jobs {
		s := j.Snapshot()
		if s.Status.IsTerminal() && s.EndedAt.Before(cutoff) {
			expired = append(expired, s.ID)
		}
	}
	if len(expired) == 0 {
		return
	}

	e.mu.Lock()
	for _, id := range expired {
		delete(e.jobs, id)
	}
	e.mu.Unlock()
	log.Debug("pruned jobs", "count", len(expired))
}
