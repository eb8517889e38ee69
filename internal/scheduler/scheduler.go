// Package scheduler re-runs synchronization groups periodically.
//
// The scheduler keeps a min-heap of groups ordered by their next due time.
// A due group is handed to the job engine as a sync job; the engine runs it
// on its own pool, so the scheduler never blocks on a run. A group whose
// previous run is still active is rejected by the engine's admission
// control; the scheduler counts the skip and tries again one interval later.
//
// Key features:
//   - O(log n) add/remove/update operations
//   - Jitter on the first run to spread load
//   - Backoff when the engine queue is full
package scheduler

import (
	"container/heap"
	"context"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/invsync/config"
	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/jobs"
	"github.com/xtxerr/invsync/internal/logging"
)

var log = logging.Component("scheduler")

// =============================================================================
// Types
// =============================================================================

// Runner starts jobs. *jobs.Engine implements it.
type Runner interface {
	Run(j *jobs.Job) error
}

// Item is a scheduled group in the heap.
type Item struct {
	Group     string
	group     *group.Group
	NextRunMs int64 // Unix ms when the next run is due
	Interval  time.Duration
	deleted   bool
	index     int
}

// =============================================================================
// Heap Implementation
// =============================================================================

type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	return h[i].NextRunMs < h[j].NextRunMs
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x interface{}) {
	item := x.(*Item)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

func (h itemHeap) Peek() *Item {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}

// =============================================================================
// Configuration
// =============================================================================

// BackpressureDelay postpones a group when the engine queue is full.
const BackpressureDelay = time.Second

// Config holds scheduler configuration.
type Config struct {
	// TickInterval is how often the scheduler checks for due groups.
	TickInterval time.Duration

	// NoJitter schedules the first run one interval after Add instead of
	// at a random point within the first interval.
	NoJitter bool
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{TickInterval: config.DefaultSchedulerTickInterval}
}

// =============================================================================
// Scheduler
// =============================================================================

// Scheduler triggers sync jobs for groups on their interval.
//
// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	heap    itemHeap
	heapIdx map[string]*Item

	runner Runner

	shutdown chan struct{}
	wakeup   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	tickInterval time.Duration
	jitter       bool

	// Metrics
	triggered    atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
	backpressure atomic.Int64
}

// New creates a scheduler that starts jobs through r.
func New(r Runner, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = config.DefaultSchedulerTickInterval
	}
	return &Scheduler{
		heap:         make(itemHeap, 0),
		heapIdx:      make(map[string]*Item),
		runner:       r,
		shutdown:     make(chan struct{}),
		wakeup:       make(chan struct{}, 1),
		tickInterval: cfg.TickInterval,
		jitter:       !cfg.NoJitter,
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the schedule loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.scheduleLoop()
	log.Info("scheduler started", "groups", s.Count())
}

// Stop stops the schedule loop. Jobs already started keep running on the
// engine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		s.wg.Wait()
		log.Info("scheduler stopped")
	})
}

// Run starts the scheduler and stops it when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start()
	select {
	case <-ctx.Done():
	case <-s.shutdown:
	}
	s.Stop()
	return nil
}

// =============================================================================
// Group Management
// =============================================================================

// Add schedules a group by name only. Its runs are admitted on the group
// name; use AddGroup to admit them on the group's source scopes.
func (s *Scheduler) Add(name string, interval time.Duration) {
	s.AddGroup(&group.Group{Name: name, Interval: interval})
}

// AddGroup schedules g. Non-positive intervals fall back to
// DefaultSyncInterval. Adding a scheduled group updates its definition and
// interval.
func (s *Scheduler) AddGroup(g *group.Group) {
	name, interval := g.Name, g.Interval
	if interval <= 0 {
		interval = config.DefaultSyncInterval
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item, ok := s.heapIdx[name]; ok && !item.deleted {
		item.group = g
		item.Interval = interval
		return
	}

	delay := interval
	if s.jitter {
		delay = time.Duration(rand.Int63n(int64(interval)))
	}
	item := &Item{
		Group:     name,
		group:     g,
		NextRunMs: time.Now().Add(delay).UnixMilli(),
		Interval:  interval,
	}
	heap.Push(&s.heap, item)
	s.heapIdx[name] = item
	s.signalWakeup()

	log.Debug("group scheduled", "group", name, "interval", interval)
}

// Remove unschedules a group.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.heapIdx[name]
	if !ok {
		return
	}
	item.deleted = true
	if item.index >= 0 {
		heap.Remove(&s.heap, item.index)
	}
	delete(s.heapIdx, name)

	log.Debug("group unscheduled", "group", name)
}

// Sync makes the schedule match groups: groups with an interval are added
// or updated, all others are removed.
func (s *Scheduler) Sync(groups []*group.Group) {
	want := make(map[string]bool, len(groups))
	for _, g := range groups {
		if g.Interval > 0 {
			want[g.Name] = true
			s.AddGroup(g)
		}
	}
	for _, name := range s.Groups() {
		if !want[name] {
			s.Remove(name)
		}
	}
}

// Contains returns true if the group is scheduled.
func (s *Scheduler) Contains(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.heapIdx[name]
	return ok
}

// =============================================================================
// Schedule Loop
// =============================================================================

func (s *Scheduler) scheduleLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processDueItems()
		case <-s.wakeup:
			s.processDueItems()
		case <-s.shutdown:
			return
		}
	}
}

// processDueItems pops due groups, reschedules them and then starts their
// jobs outside the lock.
func (s *Scheduler) processDueItems() {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	var due []*group.Group
	for s.heap.Len() > 0 {
		next := s.heap.Peek()
		if next.NextRunMs > now {
			break
		}
		item := heap.Pop(&s.heap).(*Item)
		item.NextRunMs = now + item.Interval.Milliseconds()
		heap.Push(&s.heap, item)
		due = append(due, item.group)
	}
	s.mu.Unlock()

	for _, g := range due {
		s.trigger(g, now)
	}
}

func (s *Scheduler) trigger(g *group.Group, now int64) {
	name := g.Name
	err := s.runner.Run(jobs.NewSyncJob(g))
	switch {
	case err == nil:
		s.triggered.Add(1)
		log.Debug("scheduled run started", "group", name)

	case errors.Is(err, errors.ErrConcurrentJobRejected):
		s.skipped.Add(1)
		log.Info("scheduled run skipped, previous run still active", "group", name)

	case errors.Is(err, errors.ErrQueueFull):
		s.backpressure.Add(1)
		s.postpone(name, now+BackpressureDelay.Milliseconds())
		log.Warn("scheduled run postponed, job queue full", "group", name)

	default:
		s.failed.Add(1)
		log.Warn("scheduled run not started", "group", name, "error", err)
	}
}

// postpone moves a group's next run earlier than its regular interval.
func (s *Scheduler) postpone(name string, at int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.heapIdx[name]
	if !ok || item.index < 0 || item.NextRunMs <= at {
		return
	}
	item.NextRunMs = at
	heap.Fix(&s.heap, item.index)
}

// =============================================================================
// Utility Methods
// =============================================================================

func (s *Scheduler) signalWakeup() {
	select {
	case s.wakeup <- struct{}{}:
	default:
		// Already signaled
	}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Scheduled    int   `json:"scheduled"`
	Triggered    int64 `json:"triggered"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	Backpressure int64 `json:"backpressure"`
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled:    s.Count(),
		Triggered:    s.triggered.Load(),
		Skipped:      s.skipped.Load(),
		Failed:       s.failed.Load(),
		Backpressure: s.backpressure.Load(),
	}
}

// Groups returns the scheduled group names, sorted.
func (s *Scheduler) Groups() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.heapIdx))
	for name := range s.heapIdx {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextRun returns when a group is due next.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.heapIdx[name]
	if !ok {
		return time.Time{}, false
	}
	return time.UnixMilli(item.NextRunMs), true
}

// Count returns the number of scheduled groups.
func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.heapIdx)
}
