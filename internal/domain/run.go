package domain

import "time"

// RunMetrics are the aggregate totals across all routes of a run.
type RunMetrics struct {
	DistanceMeters  int
	DurationSeconds int
}

func (m RunMetrics) DistanceKm() float64 { return float64(m.DistanceMeters) / 1000 }

func (m RunMetrics) DurationMin() float64 { return float64(m.DurationSeconds) / 60 }

// DeliveryRun is the set of deliveries for one calendar date.
//
// The run owns its order memberships, routes and unassigned stops; they
// reference the run by RunID and are deleted with it. Metrics and
// LastOptimizedAt only carry meaning while the run is routed, dispatched or
// completed.
type DeliveryRun struct {
	RunID               string
	DeliveryDate        Date
	Status              RunStatus
	DeliveryWindowStart *TimeOfDay
	Metrics             RunMetrics
	LastOptimizedAt     *time.Time
	CreatedAt           time.Time

	Orders     []Order
	Routes     []Route
	Unassigned []Stop
}

// NewDeliveryRun creates an empty draft run for date.
func NewDeliveryRun(id string, date Date, now time.Time) *DeliveryRun {
	return &DeliveryRun{
		RunID:        id,
		DeliveryDate: date,
		Status:       StatusDraft,
		CreatedAt:    now,
	}
}

// HasOptimizedMetrics reports whether Metrics and LastOptimizedAt are meaningful.
func (r *DeliveryRun) HasOptimizedMetrics() bool {
	switch r.Status {
	case StatusRouted, StatusDispatched, StatusCompleted:
		return r.LastOptimizedAt != nil
	}
	return false
}

// StopCount counts routed stops, excluding unassigned ones.
func (r *DeliveryRun) StopCount() int {
	n := 0
	for _, rt := range r.Routes {
		n += len(rt.Stops)
	}
	return n
}

// RunSummary is the listing view of a run.
type RunSummary struct {
	RunID           string
	DeliveryDate    Date
	Status          RunStatus
	OrderCount      int
	RouteCount      int
	StopCount       int
	UnassignedCount int
	DistanceKm      float64
	DurationMin     float64
	LastOptimizedAt *time.Time
}

func (r *DeliveryRun) Summary() RunSummary {
	s := RunSummary{
		RunID:           r.RunID,
		DeliveryDate:    r.DeliveryDate,
		Status:          r.Status,
		OrderCount:      len(r.Orders),
		RouteCount:      len(r.Routes),
		StopCount:       r.StopCount(),
		UnassignedCount: len(r.Unassigned),
	}
	if r.HasOptimizedMetrics() {
		s.DistanceKm = r.Metrics.DistanceKm()
		s.DurationMin = r.Metrics.DurationMin()
		s.LastOptimizedAt = r.LastOptimizedAt
	}
	return s
}
