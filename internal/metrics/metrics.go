// Package metrics exposes Prometheus collectors for jobs, polls and
// reconciliation results.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Poll outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// Job metrics
	JobsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invsync_jobs_started_total",
			Help: "Jobs admitted and submitted, by tag",
		},
		[]string{"tag"},
	)

	JobsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invsync_jobs_finished_total",
			Help: "Jobs that reached a terminal state, by tag and status",
		},
		[]string{"tag", "status"},
	)

	JobsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invsync_jobs_rejected_total",
			Help: "Jobs rejected by admission control, by tag",
		},
		[]string{"tag"},
	)

	JobsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "invsync_jobs_running",
			Help: "Jobs currently running or paused",
		},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invsync_job_duration_seconds",
			Help:    "Wall time from job start to terminal state",
			Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"tag"},
	)

	// Provider metrics
	SourcePolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invsync_source_polls_total",
			Help: "Data source polls, by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	SourcePollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invsync_source_poll_duration_seconds",
			Help:    "Time spent polling one data source",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// Reconciliation metrics
	SyncResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invsync_sync_results_total",
			Help: "Reconciliation results, by result type",
		},
		[]string{"type"},
	)

	// Listener metrics
	ListenerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invsync_listener_failures_total",
			Help: "Notification listener calls that panicked",
		},
	)
)

func init() {
	prometheus.MustRegister(JobsStarted)
	prometheus.MustRegister(JobsFinished)
	prometheus.MustRegister(JobsRejected)
	prometheus.MustRegister(JobsRunning)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(SourcePolls)
	prometheus.MustRegister(SourcePollDuration)
	prometheus.MustRegister(SyncResults)
	prometheus.MustRegister(ListenerFailures)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePoll records one data source poll.
func ObservePoll(provider, outcome string, d time.Duration) {
	SourcePolls.WithLabelValues(provider, outcome).Inc()
	SourcePollDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// CountResults records reconciliation results by type.
func CountResults(counts map[string]int) {
	for typ, n := range counts {
		if n > 0 {
			SyncResults.WithLabelValues(typ).Add(float64(n))
		}
	}
}

// Timer measures an operation's duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on h.
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}
