package container

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is matched by a *TimeoutError.
	ErrTimeout = errors.New("container did not become healthy in time")

	// ErrCancelled is matched by a *CancelledError.
	ErrCancelled = errors.New("container startup cancelled")
)

// TimeoutError is returned when the container did not become healthy within the startup budget.
// It is fatal to the calling test run and never retried.
type TimeoutError struct {
	Container string
	Timeout   time.Duration
	Elapsed   time.Duration
	// LastErr is the last error seen while starting, if any.
	LastErr error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("container %s did not become healthy within %s (elapsed %s)",
		e.Container, e.Timeout, e.Elapsed.Round(time.Millisecond))
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// CancelledError is returned when the caller's context ends while waiting for the container.
type CancelledError struct {
	Container string
	Elapsed   time.Duration
	Err       error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("waiting for container %s cancelled after %s: %v",
		e.Container, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *CancelledError) Unwrap() []error { return []error{ErrCancelled, e.Err} }
