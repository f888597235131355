package services

import (
	"context"
	"delivery-run-service/internal/domain"
	"fmt"
	"time"
)

// StopInput is one order to be routed, with its resolved location.
type StopInput struct {
	OrderID     string
	Coordinates domain.Coordinates
	// Zero means the optimizer's default service duration.
	Service time.Duration
}

// OptimizeRequest is the complete input of one optimization. Matrix point 0
// is the depot and point i+1 is Stops[i].
type OptimizeRequest struct {
	Depot     domain.Coordinates
	DepartAt  time.Time
	DriverIDs []string
	Stops     []StopInput
	Matrix    domain.Matrix
}

type OptimizerOptions struct {
	// Per-driver stop limit; 0 means unlimited.
	MaxStopsPerDriver    int
	MaxImprovementPasses int
	ReturnToDepot        bool
	DefaultService       time.Duration
}

type PlannedStop struct {
	// Index into OptimizeRequest.Stops.
	StopIndex     int
	SequenceIndex int
	ETA           time.Time
}

type PlannedRoute struct {
	DriverID        string
	Stops           []PlannedStop
	DistanceMeters  int
	DurationSeconds int
}

// OptimizeResult accounts for every input stop exactly once, either in a
// route or in Unassigned.
type OptimizeResult struct {
	// One route per driver, in DriverIDs order, possibly empty.
	Routes []PlannedRoute
	// Indexes into OptimizeRequest.Stops, in input order.
	Unassigned      []int
	DistanceMeters  int
	DurationSeconds int
	// domain.ErrEmptyStopSet or domain.ErrNoDriversSelected for degenerate
	// inputs; nil otherwise.
	Notice error
}

// RouteOptimizer assigns stops to drivers and sequences each route.
//
// The heuristic is deterministic and bounded: greedy clustering
// (AssignStopsToDrivers), nearest-neighbor construction
// (NearestNeighborSequence), then bounded 2-opt (TwoOptImprove). Swapping
// in a stronger solver only needs to honor OptimizeRequest/OptimizeResult.
type RouteOptimizer struct {
	opts OptimizerOptions
}

func NewRouteOptimizer(opts OptimizerOptions) *RouteOptimizer {
	if opts.DefaultService <= 0 {
		opts.DefaultService = domain.DefaultServiceDuration
	}
	if opts.MaxImprovementPasses <= 0 {
		opts.MaxImprovementPasses = DefaultImprovementPasses
	}
	return &RouteOptimizer{opts: opts}
}

func (o *RouteOptimizer) Optimize(ctx context.Context, req OptimizeRequest) (*OptimizeResult, error) {
	if len(req.Stops) == 0 {
		return &OptimizeResult{
			Routes:     []PlannedRoute{},
			Unassigned: []int{},
			Notice:     domain.ErrEmptyStopSet,
		}, nil
	}

	if req.Matrix.Size() != len(req.Stops)+1 {
		return nil, fmt.Errorf(
			"optimize: matrix has %d points, want %d stops plus depot",
			req.Matrix.Size(), len(req.Stops),
		)
	}
	if err := req.Matrix.Validate(); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	clusters, unassigned, err := AssignStopsToDrivers(
		req.Matrix, len(req.Stops), len(req.DriverIDs), o.opts.MaxStopsPerDriver,
	)
	if err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	result := &OptimizeResult{
		Routes:     make([]PlannedRoute, 0, len(req.DriverIDs)),
		Unassigned: unassigned,
	}
	if result.Unassigned == nil {
		result.Unassigned = []int{}
	}
	if len(req.DriverIDs) == 0 {
		result.Notice = domain.ErrNoDriversSelected
	}

	for d, driverID := range req.DriverIDs {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("optimize: %w", err)
		}

		sequence := NearestNeighborSequence(req.Matrix, clusters[d])
		sequence, _ = TwoOptImprove(req.Matrix, sequence, o.opts.ReturnToDepot, o.opts.MaxImprovementPasses)

		route := o.timeRoute(req, driverID, sequence)
		result.DistanceMeters += route.DistanceMeters
		result.DurationSeconds += route.DurationSeconds
		result.Routes = append(result.Routes, route)
	}

	if err := checkAccounting(len(req.Stops), result); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}

	return result, nil
}

// timeRoute computes ETAs and totals for a sequenced route.
//
// ETA(i) = DepartAt + travel of legs 0..i + service of stops 0..i-1.
// Route duration runs from departure until service at the last stop ends,
// plus the return leg when configured.
func (o *RouteOptimizer) timeRoute(req OptimizeRequest, driverID string, sequence []int) PlannedRoute {
	route := PlannedRoute{
		DriverID: driverID,
		Stops:    make([]PlannedStop, 0, len(sequence)),
	}

	clock := req.DepartAt
	current := 0
	for i, s := range sequence {
		leg := req.Matrix.At(current, s+1)
		clock = clock.Add(time.Duration(leg.DurationSeconds) * time.Second)
		route.DistanceMeters += leg.DistanceMeters

		route.Stops = append(route.Stops, PlannedStop{
			StopIndex:     s,
			SequenceIndex: i,
			ETA:           clock,
		})

		clock = clock.Add(o.serviceFor(req.Stops[s]))
		current = s + 1
	}

	// Optionally includes return leg to depot for total route metrics.
	if o.opts.ReturnToDepot && len(sequence) > 0 {
		back := req.Matrix.At(current, 0)
		clock = clock.Add(time.Duration(back.DurationSeconds) * time.Second)
		route.DistanceMeters += back.DistanceMeters
	}

	route.DurationSeconds = int(clock.Sub(req.DepartAt) / time.Second)
	return route
}

func (o *RouteOptimizer) serviceFor(s StopInput) time.Duration {
	if s.Service > 0 {
		return s.Service
	}
	return o.opts.DefaultService
}

func checkAccounting(total int, result *OptimizeResult) error {
	seen := make([]bool, total)
	mark := func(i int) error {
		if i < 0 || i >= total {
			return fmt.Errorf("stop index %d out of range", i)
		}
		if seen[i] {
			return fmt.Errorf("stop %d placed twice", i)
		}
		seen[i] = true
		return nil
	}

	for _, r := range result.Routes {
		for _, s := range r.Stops {
			if err := mark(s.StopIndex); err != nil {
				return err
			}
		}
	}
	for _, i := range result.Unassigned {
		if err := mark(i); err != nil {
			return err
		}
	}
	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("stop %d lost by optimizer", i)
		}
	}
	return nil
}
