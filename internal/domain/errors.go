package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Concrete errors below carry context and unwrap to one of these,
// so callers classify failures with errors.Is.
var (
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrOptimizationInProgress = errors.New("optimization in progress")
	ErrGeocodeUnavailable     = errors.New("geocode unavailable")
	ErrMatrixUnavailable      = errors.New("distance matrix unavailable")
	ErrRunNotFound            = errors.New("run not found")
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrUnknownDriver          = errors.New("unknown driver")

	// Degenerate but valid optimization inputs. They are reported as notices
	// on a successful result, never returned as failures.
	ErrEmptyStopSet      = errors.New("empty stop set")
	ErrNoDriversSelected = errors.New("no drivers selected")
)

// InvalidTransitionError is returned when an action is not permitted from the
// run's current status, or its precondition does not hold.
type InvalidTransitionError struct {
	RunID  string
	From   RunStatus
	Action Action
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("run %s: cannot %s while %s", e.RunID, e.Action, e.From)
	if target, ok := e.Action.Target(); ok {
		msg = fmt.Sprintf("run %s: cannot %s from %s to %s", e.RunID, e.Action, e.From, target)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type RunNotFoundError struct {
	RunID string
}

func (e *RunNotFoundError) Error() string { return fmt.Sprintf("run %s not found", e.RunID) }

func (e *RunNotFoundError) Unwrap() error { return ErrRunNotFound }

type OptimizationInProgressError struct {
	RunID  string
	Action Action
}

func (e *OptimizationInProgressError) Error() string {
	return fmt.Sprintf("run %s: cannot %s: an optimization is already running", e.RunID, e.Action)
}

func (e *OptimizationInProgressError) Unwrap() error { return ErrOptimizationInProgress }

// GeocodeError reports an address the upstream provider could not resolve.
type GeocodeError struct {
	Address string
	Cause   error
}

func (e *GeocodeError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("geocode %q: no result", e.Address)
	}
	return fmt.Sprintf("geocode %q: %v", e.Address, e.Cause)
}

func (e *GeocodeError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrGeocodeUnavailable}
	}
	return []error{ErrGeocodeUnavailable, e.Cause}
}

// MatrixError reports a distance matrix that could not be fully computed.
// From and To are point indexes, or -1 when the whole request failed.
type MatrixError struct {
	From  int
	To    int
	Cause error
}

func (e *MatrixError) Error() string {
	if e.From < 0 {
		return fmt.Sprintf("distance matrix: %v", e.Cause)
	}
	if e.Cause == nil {
		return fmt.Sprintf("distance matrix: no leg from point %d to point %d", e.From, e.To)
	}
	return fmt.Sprintf("distance matrix: leg %d -> %d: %v", e.From, e.To, e.Cause)
}

func (e *MatrixError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrMatrixUnavailable}
	}
	return []error{ErrMatrixUnavailable, e.Cause}
}

type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }

type UnknownDriverError struct {
	DriverID string
}

func (e *UnknownDriverError) Error() string {
	return fmt.Sprintf("driver %q is not in the driver directory", e.DriverID)
}

func (e *UnknownDriverError) Unwrap() error { return ErrUnknownDriver }

// StatusConflictError is returned by a compare-and-set status write when the
// stored status moved on since the run was read.
type StatusConflictError struct {
	RunID    string
	Expected RunStatus
	Actual   RunStatus
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("run %s: status changed concurrently (expected %s, found %s)", e.RunID, e.Expected, e.Actual)
}

func (e *StatusConflictError) Unwrap() error { return ErrInvalidTransition }

// MembershipConflictError is returned when a run's orders changed between
// planning and commit.
type MembershipConflictError struct {
	RunID   string
	Added   int
	Removed int
}

func (e *MembershipConflictError) Error() string {
	return fmt.Sprintf("run %s: orders changed concurrently (%d added, %d removed)", e.RunID, e.Added, e.Removed)
}

func (e *MembershipConflictError) Unwrap() error { return ErrInvalidTransition }
