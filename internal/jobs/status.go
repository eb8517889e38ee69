package jobs

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a job.
//
//	NOT_STARTED ──run──▶ RUNNING ──▶ FINISHED
//	                      │  ▲  └───▶ ABORTED
//	                pause ▼  │ resume    ▲
//	                      PAUSED ───kill─┘
//
// FINISHED and ABORTED are terminal.
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusPaused
	StatusFinished
	StatusAborted
)

var statusNames = map[Status]string{
	StatusNotStarted: "NOT_STARTED",
	StatusRunning:    "RUNNING",
	StatusPaused:     "PAUSED",
	StatusFinished:   "FINISHED",
	StatusAborted:    "ABORTED",
}

// transitions lists the legal successor states.
var transitions = map[Status][]Status{
	StatusNotStarted: {StatusRunning},
	StatusRunning:    {StatusPaused, StatusFinished, StatusAborted},
	StatusPaused:     {StatusRunning, StatusAborted},
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusAborted
}

// IsActive reports whether a run holds an admission slot.
func (s Status) IsActive() bool {
	return s == StatusRunning || s == StatusPaused
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus parses a status name, case insensitively.
func ParseStatus(name string) (Status, error) {
	for s, n := range statusNames {
		if strings.EqualFold(n, name) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown job status %q", name)
}
