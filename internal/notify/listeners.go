package notify

import (
	"log/slog"

	"github.com/xtxerr/invsync/internal/reconcile"
)

// Funcs adapts plain functions to Listener. Nil fields are skipped.
type Funcs struct {
	Progress func(jobID int64, percent int, message string)
	Result   func(jobID int64, results []reconcile.SyncResult)
}

// ReportProgress implements Listener.
func (f Funcs) ReportProgress(jobID int64, percent int, message string) {
	if f.Progress != nil {
		f.Progress(jobID, percent, message)
	}
}

// ReportResult implements Listener.
func (f Funcs) ReportResult(jobID int64, results []reconcile.SyncResult) {
	if f.Result != nil {
		f.Result(jobID, results)
	}
}

// LogListener writes reports to a structured logger.
type LogListener struct {
	// Logger defaults to the notify component logger.
	Logger *slog.Logger
}

func (l LogListener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return log
}

// ReportProgress implements Listener.
func (l LogListener) ReportProgress(jobID int64, percent int, message string) {
	l.logger().Info("job progress", "job_id", jobID, "percent", percent, "message", message)
}

// ReportResult implements Listener.
func (l LogListener) ReportResult(jobID int64, results []reconcile.SyncResult) {
	counts := make(map[reconcile.Type]int, len(reconcile.Types))
	for _, r := range results {
		counts[r.Type]++
	}

	l.logger().Info("job result",
		"job_id", jobID,
		"total", len(results),
		"creates", counts[reconcile.TypeCreate],
		"updates", counts[reconcile.TypeUpdate],
		"deletes", counts[reconcile.TypeDelete],
		"unchanged", counts[reconcile.TypeNoChange],
		"errors", counts[reconcile.TypeError])

	for _, r := range results {
		if r.Type == reconcile.TypeError {
			l.logger().Warn("entity not reconciled",
				"job_id", jobID,
				"class", r.Class,
				"name", r.Name,
				"source", r.Source,
				"message", r.Message)
		}
	}
}
