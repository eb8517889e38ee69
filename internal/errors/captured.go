package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a captured job failure.
type Kind string

const (
	KindConnection Kind = "connection"
	KindExecution  Kind = "execution"
	KindPoll       Kind = "poll"
	KindInventory  Kind = "inventory"
	KindConfig     Kind = "config"
	KindCancelled  Kind = "cancelled"
	KindInternal   Kind = "internal"
)

// Captured is the serializable record of the failure that aborted a job.
// Jobs never hold raw error values; the engine converts through Capture.
type Captured struct {
	Kind    Kind   `json:"kind" yaml:"kind"`
	Message string `json:"message" yaml:"message"`
}

// Error implements the error interface so a Captured can be surfaced
// wherever an error is expected.
func (c *Captured) Error() string {
	return fmt.Sprintf("%s: %s", c.Kind, c.Message)
}

// Capture converts err into its captured form. Poll failures are checked
// first because they wrap the underlying transport cause.
func Capture(err error) *Captured {
	if err == nil {
		return nil
	}

	var captured *Captured
	if errors.As(err, &captured) {
		return &Captured{Kind: captured.Kind, Message: captured.Message}
	}

	return &Captured{Kind: KindOf(err), Message: err.Error()}
}

// KindOf returns the failure kind for err.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrPoll):
		return KindPoll
	case errors.Is(err, ErrConnection), errors.Is(err, ErrTimeout):
		return KindConnection
	case errors.Is(err, ErrExecution):
		return KindExecution
	case errors.Is(err, ErrInventory):
		return KindInventory
	case IsValidation(err),
		errors.Is(err, ErrUnknownProvider),
		errors.Is(err, ErrIncompatibleProvider),
		errors.Is(err, ErrGroupNotFound),
		errors.Is(err, ErrSourceNotFound),
		errors.Is(err, ErrEmptyGroup):
		return KindConfig
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}
