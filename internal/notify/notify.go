// Package notify delivers job progress and results to listeners.
//
// The job engine reports to a single Listener, normally a Hub. The Hub
// fans every report out to its subscriptions without blocking: each
// subscription has its own buffer and goroutine, a full buffer drops the
// event, and a panicking listener is recovered and counted. Nothing a
// listener does can affect job status.
//
//	hub := notify.NewHub()
//	sub := hub.Register(notify.LogListener{})
//	defer sub.Close()
package notify

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/invsync/internal/logging"
	"github.com/xtxerr/invsync/internal/metrics"
	"github.com/xtxerr/invsync/internal/reconcile"
)

var log = logging.Component("notify")

// Listener receives job reports. Implementations must be safe for
// concurrent use when registered with more than one hub.
type Listener interface {
	ReportProgress(jobID int64, percent int, message string)
	ReportResult(jobID int64, results []reconcile.SyncResult)
}

// EventType distinguishes progress from result reports.
type EventType string

const (
	EventProgress EventType = "job.progress"
	EventResult   EventType = "job.result"
)

// Event is one report as queued for delivery.
type Event struct {
	Type      EventType
	JobID     int64
	Timestamp time.Time
	Percent   int
	Message   string
	Results   []reconcile.SyncResult
}

// Deliver calls the listener method matching e.
func (e Event) Deliver(l Listener) {
	switch e.Type {
	case EventProgress:
		l.ReportProgress(e.JobID, e.Percent, e.Message)
	case EventResult:
		l.ReportResult(e.JobID, e.Results)
	}
}

// =============================================================================
// Hub
// =============================================================================

// DefaultBufferSize is the per-subscription event buffer.
const DefaultBufferSize = 64

// Hub fans reports out to registered listeners. The zero value is not
// usable; call NewHub.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]bool
	buffer int
	closed bool
}

// NewHub creates a hub.
func NewHub() *Hub {
	return NewHubWithBuffer(DefaultBufferSize)
}

// NewHubWithBuffer creates a hub with the given per-subscription buffer.
func NewHubWithBuffer(size int) *Hub {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Hub{
		subs:   make(map[*Subscription]bool),
		buffer: size,
	}
}

// Register subscribes l. The caller owns the returned subscription and
// must Close it.
func (h *Hub) Register(l Listener) *Subscription {
	sub := &Subscription{
		hub:      h,
		listener: l,
		events:   make(chan Event, h.buffer),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(sub.events)
		close(sub.done)
		sub.closed.Store(true)
		return sub
	}
	h.subs[sub] = true
	h.mu.Unlock()

	go sub.run()
	return sub
}

// ReportProgress implements Listener.
func (h *Hub) ReportProgress(jobID int64, percent int, message string) {
	h.publish(Event{
		Type:    EventProgress,
		JobID:   jobID,
		Percent: percent,
		Message: message,
	})
}

// ReportResult implements Listener.
func (h *Hub) ReportResult(jobID int64, results []reconcile.SyncResult) {
	h.publish(Event{
		Type:    EventResult,
		JobID:   jobID,
		Results: results,
	})
}

func (h *Hub) publish(e Event) {
	e.Timestamp = time.Now()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs {
		select {
		case sub.events <- e:
		default:
			// Subscriber buffer full, skip
			sub.dropped.Add(1)
		}
	}
}

// Len returns the number of open subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription and rejects new ones. Queued events are
// delivered first.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) remove(sub *Subscription) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.subs[sub] {
		return false
	}
	delete(h.subs, sub)
	close(sub.events)
	return true
}

// =============================================================================
// Subscription
// =============================================================================

// Subscription is one registered listener.
type Subscription struct {
	hub      *Hub
	listener Listener
	events   chan Event
	done     chan struct{}
	dropped  atomic.Int64
	closed   atomic.Bool
}

// Close unregisters the listener and waits until queued events have been
// delivered. It is idempotent.
func (s *Subscription) Close() {
	if s.closed.Swap(true) {
		<-s.done
		return
	}
	s.hub.remove(s)
	<-s.done
}

// Dropped returns how many events were skipped because the buffer was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

func (s *Subscription) run() {
	defer close(s.done)
	for e := range s.events {
		s.deliver(e)
	}
}

func (s *Subscription) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ListenerFailures.Inc()
			log.Error("panic in listener",
				"job_id", e.JobID,
				"event", string(e.Type),
				"panic", fmt.Sprint(r))
		}
	}()
	e.Deliver(s.listener)
}
