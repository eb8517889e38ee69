package jobs

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Stats summarizes terminal jobs.
type Stats struct {
	Finished int64 `json:"finished"`
	Aborted  int64 `json:"aborted"`

	// Duration percentiles over all terminal jobs, zero until one ended.
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
}

// durationStats tracks job durations in a DDSketch.
type durationStats struct {
	mu       sync.Mutex
	sketch   *ddsketch.DDSketch
	finished int64
	aborted  int64
	max      float64
}

func newDurationStats() *durationStats {
	s := &durationStats{}

	// DDSketch with relative accuracy of 1%
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err == nil {
		s.sketch = sketch
	}
	return s
}

func (s *durationStats) record(status Status, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case StatusFinished:
		s.finished++
	case StatusAborted:
		s.aborted++
	}

	secs := d.Seconds()
	if secs < 0 {
		secs = 0
	}
	if secs > s.max {
		s.max = secs
	}
	if s.sketch != nil {
		_ = s.sketch.Add(secs)
	}
}

func (s *durationStats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		Finished: s.finished,
		Aborted:  s.aborted,
		Max:      seconds(s.max),
	}
	if s.sketch == nil || s.sketch.IsEmpty() {
		return out
	}

	if v, err := s.sketch.GetValueAtQuantile(0.50); err == nil {
		out.P50 = seconds(v)
	}
	if v, err := s.sketch.GetValueAtQuantile(0.95); err == nil {
		out.P95 = seconds(v)
	}
	if v, err := s.sketch.GetValueAtQuantile(0.99); err == nil {
		out.P99 = seconds(v)
	}
	return out
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
