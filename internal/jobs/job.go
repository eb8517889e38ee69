package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/reconcile"
)

// UnassignedID is the id of a job the substrate has not accepted yet.
const UnassignedID int64 = -1

// TargetSeparator separates the scopes of a multi-scope job target.
const TargetSeparator = ","

// =============================================================================
// Parameters
// =============================================================================

// Params is the opaque parameter bag handed to a runnable.
type Params map[string]string

// Get returns a parameter value.
func (p Params) Get(key string) (string, bool) {
	v, ok := p[key]
	return v, ok
}

// Default returns a parameter value or def when unset or empty.
func (p Params) Default(key, def string) string {
	if v := p[key]; v != "" {
		return v
	}
	return def
}

// Clone returns a copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String renders the parameters sorted by key.
func (p Params) String() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := ""
	for i, k := range keys {
		if i > 0 {
			s += " "
		}
		s += k + "=" + p[k]
	}
	return s
}

// =============================================================================
// Job
// =============================================================================

// Job is one schedulable unit of work.
//
// The engine is the only writer of a job's lifecycle fields; accessors are
// safe for concurrent use.
type Job struct {
	// Tag selects the runnable.
	Tag string

	// Target is the admission scope. Several scopes are joined with
	// TargetSeparator; see SyncTarget.
	Target string

	// AllowConcurrence lets the job run next to another run with the same
	// tag and target.
	AllowConcurrence bool

	Params Params

	mu        sync.Mutex
	id        int64
	runID     string
	status    Status
	captured  *errors.Captured
	result    []reconcile.SyncResult
	percent   int
	message   string
	createdAt time.Time
	startedAt time.Time
	endedAt   time.Time

	// Run state, set while active
	cancel    context.CancelFunc
	handle    Handle
	gate      *gate
	admission []string
	pausable  bool
	done      chan struct{}
}

// New creates a NOT_STARTED job.
func New(tag, target string, params Params) *Job {
	return &Job{
		Tag:       tag,
		Target:    target,
		Params:    params.Clone(),
		id:        UnassignedID,
		status:    StatusNotStarted,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// ID returns the substrate id, or UnassignedID before the job was run.
func (j *Job) ID() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.id
}

// RunID returns the run correlation id, empty before the job was run.
func (j *Job) RunID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runID
}

// Status returns the current status.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Captured returns the failure that aborted the job. It is nil unless the
// job was aborted by an error; a killed job has none.
func (j *Job) Captured() *errors.Captured {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.captured == nil {
		return nil
	}
	c := *j.captured
	return &c
}

// Result returns the reconciliation results of a FINISHED job.
func (j *Job) Result() []reconcile.SyncResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil {
		return nil
	}
	return append([]reconcile.SyncResult(nil), j.result...)
}

// Done is closed once the job reached a terminal state.
func (j *Job) Done() <-chan struct{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.initLocked()
	return j.done
}

// initLocked completes a job declared as a struct literal instead of
// through New. The caller holds j.mu.
func (j *Job) initLocked() {
	if j.done != nil {
		return
	}
	j.done = make(chan struct{})
	j.Params = j.Params.Clone()
	if j.status == StatusNotStarted {
		j.id = UnassignedID
	}
	if j.createdAt.IsZero() {
		j.createdAt = time.Now()
	}
}

// Equal reports whether j and other are the same job: equal ids once both
// are assigned, pointer identity before.
func (j *Job) Equal(other *Job) bool {
	if j == nil || other == nil {
		return j == other
	}
	if j == other {
		return true
	}
	a, b := j.ID(), other.ID()
	return a != UnassignedID && a == b
}

// String returns a one-line summary.
func (j *Job) String() string {
	s := j.Snapshot()
	return fmt.Sprintf("job %d %s %s/%s", s.ID, s.Status, s.Tag, s.Target)
}

// transition moves the job to next. The caller holds j.mu.
func (j *Job) transition(next Status) error {
	if !j.status.CanTransition(next) {
		return fmt.Errorf("job %d: %s -> %s: %w", j.id, j.status, next, errors.ErrInvalidTransition)
	}
	j.status = next
	return nil
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is a point-in-time copy of a job for display and the API.
type Snapshot struct {
	ID               int64                  `json:"id"`
	RunID            string                 `json:"runId,omitempty"`
	Tag              string                 `json:"tag"`
	Target           string                 `json:"target"`
	AllowConcurrence bool                   `json:"allowConcurrence"`
	Params           Params                 `json:"params,omitempty"`
	Status           Status                 `json:"status"`
	Percent          int                    `json:"percent"`
	Message          string                 `json:"message,omitempty"`
	Captured         *errors.Captured       `json:"captured,omitempty"`
	Stats            *reconcile.Stats       `json:"stats,omitempty"`
	CreatedAt        time.Time              `json:"createdAt"`
	StartedAt        time.Time              `json:"startedAt,omitempty"`
	EndedAt          time.Time              `json:"endedAt,omitempty"`
	Results          []reconcile.SyncResult `json:"results,omitempty"`
}

// Snapshot returns a copy of the job state without results.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	s := Snapshot{
		ID:               j.id,
		RunID:            j.runID,
		Tag:              j.Tag,
		Target:           j.Target,
		AllowConcurrence: j.AllowConcurrence,
		Params:           j.Params.Clone(),
		Status:           j.status,
		Percent:          j.percent,
		Message:          j.message,
		CreatedAt:        j.createdAt,
		StartedAt:        j.startedAt,
		EndedAt:          j.endedAt,
	}
	if j.captured != nil {
		c := *j.captured
		s.Captured = &c
	}
	if j.status == StatusFinished {
		stats := countResults(j.result)
		s.Stats = &stats
	}
	return s
}

// Duration returns the run time of a terminal job, or the time since start
// of an active one.
func (s Snapshot) Duration() time.Duration {
	switch {
	case s.StartedAt.IsZero():
		return 0
	case s.EndedAt.IsZero():
		return time.Since(s.StartedAt)
	default:
		return s.EndedAt.Sub(s.StartedAt)
	}
}

// countResults tallies results without touching the result counters.
func countResults(results []reconcile.SyncResult) reconcile.Stats {
	s := reconcile.Stats{Total: len(results)}
	for _, r := range results {
		switch r.Type {
		case reconcile.TypeCreate:
			s.Creates++
		case reconcile.TypeUpdate:
			s.Updates++
		case reconcile.TypeDelete:
			s.Deletes++
		case reconcile.TypeNoChange:
			s.Unchanged++
		case reconcile.TypeError:
			s.Errors++
		}
	}
	return s
}

// =============================================================================
// Pause Gate
// =============================================================================

// gate blocks checkpoints while a job is paused.
type gate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newGate() *gate {
	return &gate{}
}

func (g *gate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resume = make(chan struct{})
	}
}

func (g *gate) open() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

// wait blocks while the gate is paused and returns ctx's error, if any.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	paused, resume := g.paused, g.resume
	g.mu.Unlock()

	if paused {
		select {
		case <-resume:
		case <-ctx.Done():
		}
	}
	return ctx.Err()
}
