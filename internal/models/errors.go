package models

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChannelLost is returned once the worker transport has exited.
	// Recovery requires an explicit relaunch.
	ErrChannelLost = errors.New("result channel lost")

	// ErrAckTimeout is returned when the worker does not acknowledge a command
	// in time. Whether it applied the command is unknown, so the channel is
	// treated as lost as well.
	ErrAckTimeout = fmt.Errorf("worker did not acknowledge: %w", context.DeadlineExceeded)

	// ErrSessionClosed is returned by session operations after Close
	ErrSessionClosed = errors.New("browser session closed")

	// ErrTargetNotFound is returned when querying an untracked target
	ErrTargetNotFound = errors.New("target not found")
)

// NavigationError means the target page could not be loaded
type NavigationError struct {
	Locator string
	Err     error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation to %s failed: %v", e.Locator, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// InteractionError means the trigger control never appeared or could not be clicked
type InteractionError struct {
	Control string
	Err     error
}

func (e *InteractionError) Error() string {
	return fmt.Sprintf("interaction with %s failed: %v", e.Control, e.Err)
}

func (e *InteractionError) Unwrap() error { return e.Err }

// ExtractionTimeout means the result table never materialized
type ExtractionTimeout struct {
	Selector string
	Timeout  time.Duration
	Err      error
}

func (e *ExtractionTimeout) Error() string {
	return fmt.Sprintf("result %s did not load within %s: %v", e.Selector, e.Timeout, e.Err)
}

func (e *ExtractionTimeout) Unwrap() error { return e.Err }

// SessionCrash means the browser process died or could not be launched
type SessionCrash struct {
	Err error
}

func (e *SessionCrash) Error() string {
	return fmt.Sprintf("browser session crashed: %v", e.Err)
}

func (e *SessionCrash) Unwrap() error { return e.Err }

// ReconfigurationFailure means a new target set was rejected.
// The previous set stays active.
type ReconfigurationFailure struct {
	Reason string
	Err    error
}

func (e *ReconfigurationFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconfiguration failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("reconfiguration failed: %s", e.Reason)
}

func (e *ReconfigurationFailure) Unwrap() error { return e.Err }

// IsReconfigurationFailure reports whether err is, or wraps, a ReconfigurationFailure
func IsReconfigurationFailure(err error) bool {
	var rf *ReconfigurationFailure
	return errors.As(err, &rf)
}
