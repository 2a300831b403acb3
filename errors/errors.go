// Package errors centralizes error definitions for the automation service.
// It defines the error taxonomy used across the orchestrator and its
// collaborators, together with classification helpers that decide whether a
// failure aborts a run or is absorbed at the step that produced it.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// Re-export standard library functions so callers can import only this
// package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinel errors for the hard dependency boundary.
var (
	// ErrCompositorUnavailable indicates the compositor never reached liveness.
	ErrCompositorUnavailable = New("compositor unavailable")
	// ErrSessionUnavailable indicates the container session never reached liveness.
	ErrSessionUnavailable = New("container session unavailable")
	// ErrTransportUnavailable indicates the device-command transport is unreachable.
	ErrTransportUnavailable = New("device transport unavailable")
)

// DependencyError wraps a hard dependency failure. These are fatal: the
// orchestrator aborts the run instead of retrying.
type DependencyError struct {
	Dependency string // "compositor", "session", "transport"
	Err        error
}

func (e *DependencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dependency %s: %v", e.Dependency, e.Err)
	}
	return fmt.Sprintf("dependency %s unavailable", e.Dependency)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// NewDependencyError creates a fatal dependency error.
func NewDependencyError(dependency string, err error) *DependencyError {
	return &DependencyError{Dependency: dependency, Err: err}
}

// InconclusiveError reports a classification that produced no usable signal,
// typically because every sample offset fell outside the frame. It is never
// fatal; callers proceed on a best-effort branch.
type InconclusiveError struct {
	Check  string // which detection rule produced no signal
	Reason string
}

func (e *InconclusiveError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("classification inconclusive (%s): %s", e.Check, e.Reason)
	}
	return fmt.Sprintf("classification inconclusive (%s)", e.Check)
}

// NewInconclusiveError creates a non-fatal inconclusive-classification error.
func NewInconclusiveError(check, reason string) *InconclusiveError {
	return &InconclusiveError{Check: check, Reason: reason}
}

// ActionError reports a failed input/command dispatch. Actions are retried up
// to the owning step's bounded policy before surfacing as a step failure.
type ActionError struct {
	Action string // e.g. "tap", "keyevent", "x11-click", "start-app"
	Err    error
}

func (e *ActionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("action %s failed: %v", e.Action, e.Err)
	}
	return fmt.Sprintf("action %s failed", e.Action)
}

func (e *ActionError) Unwrap() error { return e.Err }

// NewActionError creates a retryable action error.
func NewActionError(action string, err error) *ActionError {
	return &ActionError{Action: action, Err: err}
}

// TimeoutError reports a bounded wait that exhausted its budget without
// reaching the expected state. LastState carries the final observation for
// diagnosis.
type TimeoutError struct {
	Operation string
	Budget    time.Duration
	LastState string
}

func (e *TimeoutError) Error() string {
	if e.LastState != "" {
		return fmt.Sprintf("%s timed out after %s (last state: %s)", e.Operation, e.Budget, e.LastState)
	}
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Budget)
}

// NewTimeoutError creates a timeout error with the last observed state attached.
func NewTimeoutError(operation string, budget time.Duration, lastState string) *TimeoutError {
	return &TimeoutError{Operation: operation, Budget: budget, LastState: lastState}
}

// IsFatal reports whether err must abort an orchestration run. Only hard
// dependency failures qualify; everything else is absorbed and retried by the
// step that produced it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var dep *DependencyError
	if As(err, &dep) {
		return true
	}
	return Is(err, ErrCompositorUnavailable) ||
		Is(err, ErrSessionUnavailable) ||
		Is(err, ErrTransportUnavailable)
}

// IsRetryable reports whether err is transient: worth repeating within the
// owning step's bounded retry policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var act *ActionError
	var inc *InconclusiveError
	return As(err, &act) || As(err, &inc)
}
