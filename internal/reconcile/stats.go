package reconcile

import "github.com/xtxerr/invsync/internal/metrics"

// =============================================================================
// Result Statistics
// =============================================================================

// Stats counts results by type.
type Stats struct {
	Creates   int `json:"creates"`
	Updates   int `json:"updates"`
	Deletes   int `json:"deletes"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
	Total     int `json:"total"`
}

// Summarize returns statistics for a set of results and records them on
// the result counters.
func Summarize(results []SyncResult) Stats {
	stats := Stats{Total: len(results)}

	for _, r := range results {
		switch r.Type {
		case TypeCreate:
			stats.Creates++
		case TypeUpdate:
			stats.Updates++
		case TypeDelete:
			stats.Deletes++
		case TypeNoChange:
			stats.Unchanged++
		case TypeError:
			stats.Errors++
		}
	}

	metrics.CountResults(stats.ByType())
	return stats
}

// ByType returns the counts keyed by result type.
func (s Stats) ByType() map[string]int {
	return map[string]int{
		string(TypeCreate):   s.Creates,
		string(TypeUpdate):   s.Updates,
		string(TypeDelete):   s.Deletes,
		string(TypeNoChange): s.Unchanged,
		string(TypeError):    s.Errors,
	}
}

// HasChanges returns true if any result would modify the inventory.
func (s Stats) HasChanges() bool {
	return s.Creates > 0 || s.Updates > 0 || s.Deletes > 0
}

// FilterByType returns only results of the given type.
func FilterByType(results []SyncResult, t Type) []SyncResult {
	var filtered []SyncResult
	for _, r := range results {
		if r.Type == t {
			filtered = append(filtered, r)
		}
	}
	return filtered
}
