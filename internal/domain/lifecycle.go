package domain

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle state of a DeliveryRun.
//
//	draft    ──lock──────> locked
//	locked   ──unlock────> draft
//	draft, locked, routed ──optimize──> routed
//	routed   ──unlock────> draft
//	routed   ──dispatch──> dispatched ──complete──> completed
type RunStatus string

const (
	StatusDraft      RunStatus = "draft"
	StatusLocked     RunStatus = "locked"
	StatusRouted     RunStatus = "routed"
	StatusDispatched RunStatus = "dispatched"
	StatusCompleted  RunStatus = "completed"
)

// Action is a requested lifecycle operation.
type Action string

const (
	ActionLock     Action = "lock"
	ActionUnlock   Action = "unlock"
	ActionOptimize Action = "optimize"
	ActionDispatch Action = "dispatch"
	ActionComplete Action = "complete"
	ActionAddOrder Action = "add orders"
)

// Target is the status the action moves a run to when it is permitted.
func (a Action) Target() (RunStatus, bool) {
	switch a {
	case ActionLock:
		return StatusLocked, true
	case ActionUnlock:
		return StatusDraft, true
	case ActionOptimize:
		return StatusRouted, true
	case ActionDispatch:
		return StatusDispatched, true
	case ActionComplete:
		return StatusCompleted, true
	}
	return "", false
}

var transitions = map[RunStatus]map[Action]RunStatus{
	StatusDraft: {
		ActionLock:     StatusLocked,
		ActionOptimize: StatusRouted,
	},
	StatusLocked: {
		ActionUnlock:   StatusDraft,
		ActionOptimize: StatusRouted,
	},
	StatusRouted: {
		ActionUnlock:   StatusDraft,
		ActionOptimize: StatusRouted,
		ActionDispatch: StatusDispatched,
	},
	StatusDispatched: {
		ActionComplete: StatusCompleted,
	},
}

// ParseRunStatus validates a persisted status string.
func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(s); st {
	case StatusDraft, StatusLocked, StatusRouted, StatusDispatched, StatusCompleted:
		return st, nil
	}
	return "", fmt.Errorf("run status %q is not valid", s)
}

func (s RunStatus) next(a Action) (RunStatus, bool) {
	to, ok := transitions[s][a]
	return to, ok
}

// Allows reports whether action has a transition rule from s.
func (s RunStatus) Allows(a Action) bool {
	_, ok := s.next(a)
	return ok
}

func (s RunStatus) IsTerminal() bool { return len(transitions[s]) == 0 }

// StatusUpdate is a compare-and-set of a run's status and derived fields.
// Expect is the status the caller read; repositories reject the write if the
// stored status differs.
type StatusUpdate struct {
	Expect RunStatus
	// When non-nil, the order ids the caller planned for. Repositories
	// reject the write if the run's membership is no longer exactly this set.
	ExpectOrders        []string
	Status              RunStatus
	Metrics             RunMetrics
	LastOptimizedAt     *time.Time
	DeliveryWindowStart *TimeOfDay
}

// CheckMembership compares the stored membership of runID with ExpectOrders.
func (u StatusUpdate) CheckMembership(runID string, current []string) error {
	if u.ExpectOrders == nil {
		return nil
	}

	want := make(map[string]struct{}, len(u.ExpectOrders))
	for _, id := range u.ExpectOrders {
		want[id] = struct{}{}
	}

	added := 0
	for _, id := range current {
		if _, ok := want[id]; ok {
			delete(want, id)
			continue
		}
		added++
	}
	if added == 0 && len(want) == 0 {
		return nil
	}
	return &MembershipConflictError{RunID: runID, Added: added, Removed: len(want)}
}

// UpdateFrom builds the StatusUpdate that persists r's current state given
// the status it was loaded with.
func (r *DeliveryRun) UpdateFrom(expect RunStatus) StatusUpdate {
	return StatusUpdate{
		Expect:              expect,
		Status:              r.Status,
		Metrics:             r.Metrics,
		LastOptimizedAt:     r.LastOptimizedAt,
		DeliveryWindowStart: r.DeliveryWindowStart,
	}
}

func (r *DeliveryRun) reject(a Action, reason string) error {
	return &InvalidTransitionError{RunID: r.RunID, From: r.Status, Action: a, Reason: reason}
}

func (r *DeliveryRun) transition(a Action) (RunStatus, error) {
	to, ok := r.Status.next(a)
	if !ok {
		return "", r.reject(a, "")
	}
	return to, nil
}

// Lock freezes order membership. The run must have at least one order.
func (r *DeliveryRun) Lock() error {
	to, err := r.transition(ActionLock)
	if err != nil {
		return err
	}
	if len(r.Orders) == 0 {
		return r.reject(ActionLock, "run has no orders")
	}
	r.Status = to
	return nil
}

// Unlock returns the run to draft. Routes are kept but become stale, so the
// optimization metrics are cleared.
func (r *DeliveryRun) Unlock() error {
	to, err := r.transition(ActionUnlock)
	if err != nil {
		return err
	}
	r.Status = to
	r.Metrics = RunMetrics{}
	r.LastOptimizedAt = nil
	return nil
}

// CheckOptimize validates that an optimization may start. It performs no
// mutation so callers can fail fast before any external call.
func (r *DeliveryRun) CheckOptimize(start *TimeOfDay) error {
	if _, err := r.transition(ActionOptimize); err != nil {
		return err
	}
	if start == nil {
		return r.reject(ActionOptimize, "delivery window start is required")
	}
	return nil
}

// ApplyOptimization replaces routes and unassigned stops with a new plan and
// moves the run to routed. Metrics are recomputed from the routes alone.
func (r *DeliveryRun) ApplyOptimization(routes []Route, unassigned []Stop, start TimeOfDay, at time.Time) error {
	to, err := r.transition(ActionOptimize)
	if err != nil {
		return err
	}

	var m RunMetrics
	for _, rt := range routes {
		m.DistanceMeters += rt.DistanceMeters
		m.DurationSeconds += rt.DurationSeconds
	}

	optimizedAt := at
	r.Status = to
	r.Routes = routes
	r.Unassigned = unassigned
	r.Metrics = m
	r.LastOptimizedAt = &optimizedAt
	r.DeliveryWindowStart = &start
	return nil
}

// Dispatch finalizes a routed run for execution.
func (r *DeliveryRun) Dispatch() error {
	to, err := r.transition(ActionDispatch)
	if err != nil {
		return err
	}
	if r.LastOptimizedAt == nil {
		return r.reject(ActionDispatch, "run has not been optimized")
	}
	r.Status = to
	return nil
}

// Complete marks a dispatched run as delivered. Completed is terminal.
func (r *DeliveryRun) Complete() error {
	to, err := r.transition(ActionComplete)
	if err != nil {
		return err
	}
	r.Status = to
	return nil
}

// CheckAddOrders reports whether order membership may change.
func (r *DeliveryRun) CheckAddOrders() error {
	if r.Status != StatusDraft {
		return r.reject(ActionAddOrder, "order membership is frozen")
	}
	return nil
}
