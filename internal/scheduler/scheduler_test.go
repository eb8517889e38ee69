package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/invsync/internal/errors"
	"github.com/xtxerr/invsync/internal/group"
	"github.com/xtxerr/invsync/internal/jobs"
	itesting "github.com/xtxerr/invsync/internal/testing"
)

// fakeRunner records started jobs and answers with err.
type fakeRunner struct {
	mu      sync.Mutex
	runs    map[string]int
	targets map[string]string
	err     error
}

func (r *fakeRunner) Run(j *jobs.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs == nil {
		r.runs = make(map[string]int)
		r.targets = make(map[string]string)
	}
	r.runs[j.Params["group"]]++
	r.targets[j.Params["group"]] = j.Target
	return r.err
}

func (r *fakeRunner) Runs(group string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[group]
}

func (r *fakeRunner) Target(group string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targets[group]
}

func fast() Config {
	return Config{TickInterval: 5 * time.Millisecond, NoJitter: true}
}

func TestSchedulerBasic(t *testing.T) {
	r := &fakeRunner{}
	sched := New(r, fast())
	sched.Start()
	defer sched.Stop()

	sched.Add("access", 30*time.Millisecond)

	err := itesting.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return r.Runs("access") >= 2
	})
	if err != nil {
		t.Errorf("runs = %d: %v", r.Runs("access"), err)
	}
	if st := sched.Stats(); st.Scheduled != 1 || st.Triggered < 2 {
		t.Errorf("Stats() = %+v", st)
	}

	sched.Remove("access")
	if sched.Count() != 0 {
		t.Errorf("Count() after Remove = %d", sched.Count())
	}
}

func TestSchedulerRejectedRunIsSkipped(t *testing.T) {
	r := &fakeRunner{err: errors.ErrConcurrentJobRejected}
	sched := New(r, fast())
	sched.Start()
	defer sched.Stop()

	sched.Add("core", 20*time.Millisecond)

	err := itesting.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return sched.Stats().Skipped >= 2
	})
	if err != nil {
		t.Errorf("Stats() = %+v: %v", sched.Stats(), err)
	}
	if !sched.Contains("core") {
		t.Error("rejected group was unscheduled")
	}
	if st := sched.Stats(); st.Triggered != 0 {
		t.Errorf("Triggered = %d, want 0", st.Triggered)
	}
}

func TestSchedulerQueueFullPostpones(t *testing.T) {
	r := &fakeRunner{err: errors.ErrQueueFull}
	sched := New(r, fast())
	sched.Start()
	defer sched.Stop()

	sched.Add("edge", 10*time.Millisecond)

	err := itesting.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return sched.Stats().Backpressure >= 1
	})
	if err != nil {
		t.Fatalf("Stats() = %+v: %v", sched.Stats(), err)
	}

	// Interval is shorter than the backpressure delay, so the regular
	// schedule stays in force.
	next, ok := sched.NextRun("edge")
	if !ok || time.Until(next) > BackpressureDelay {
		t.Errorf("NextRun() = %v, %v", next, ok)
	}
}

func TestSchedulerUpdateInterval(t *testing.T) {
	r := &fakeRunner{}
	sched := New(r, fast())
	sched.Start()
	defer sched.Stop()

	sched.Add("access", time.Hour)
	sched.Add("access", 20*time.Millisecond) // interval applies after the next run

	next, ok := sched.NextRun("access")
	if !ok || time.Until(next) < 30*time.Minute {
		t.Errorf("NextRun() = %v, want about an hour out", next)
	}
	if r.Runs("access") != 0 {
		t.Errorf("runs = %d before due", r.Runs("access"))
	}
}

func TestSchedulerSync(t *testing.T) {
	sched := New(&fakeRunner{}, fast())

	sched.Add("stale", time.Minute)
	sched.Sync([]*group.Group{
		{Name: "access", Interval: time.Minute},
		{Name: "core", Interval: 5 * time.Minute},
		{Name: "manual"},
	})

	got := sched.Groups()
	if len(got) != 2 || got[0] != "access" || got[1] != "core" {
		t.Errorf("Groups() = %v, want [access core]", got)
	}
}

func TestSchedulerRunsUseSourceScopes(t *testing.T) {
	r := &fakeRunner{}
	sched := New(r, fast())
	sched.Start()
	defer sched.Stop()

	sched.Sync([]*group.Group{{
		Name:     "access",
		Interval: 10 * time.Millisecond,
		Sources: []*group.DataSource{
			{ID: "sw2", Target: group.ObjectRef{Class: "Router", ID: 2}},
			{ID: "sw1", Target: group.ObjectRef{Class: "Router", ID: 1}},
		},
	}})
	sched.Add("manual", 10*time.Millisecond)

	err := itesting.Eventually(time.Second, 5*time.Millisecond, func() bool {
		return r.Runs("access") > 0 && r.Runs("manual") > 0
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := r.Target("access"); got != "Router#1,Router#2" {
		t.Errorf("access target = %q", got)
	}
	if got := r.Target("manual"); got != "group:manual" {
		t.Errorf("manual target = %q", got)
	}
}

func TestSchedulerContains(t *testing.T) {
	sched := New(&fakeRunner{}, DefaultConfig())

	if sched.Contains("g") {
		t.Error("Contains() returned true before Add()")
	}
	sched.Add("g", time.Second)
	if !sched.Contains("g") {
		t.Error("Contains() returned false after Add()")
	}
	sched.Remove("g")
	sched.Remove("g")
	if sched.Contains("g") {
		t.Error("Contains() returned true after Remove()")
	}
}

func TestSchedulerDefaultInterval(t *testing.T) {
	sched := New(&fakeRunner{}, Config{NoJitter: true})
	sched.Add("g", 0)

	next, ok := sched.NextRun("g")
	if !ok || time.Until(next) < time.Minute {
		t.Errorf("NextRun() = %v, %v", next, ok)
	}
}

func TestSchedulerRunStopsWithContext(t *testing.T) {
	sched := New(&fakeRunner{}, fast())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	sched.Stop()
}
