package services

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"delivery-run-service/internal/ports"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultOptimizeTimeout bounds one optimization job end to end.
const DefaultOptimizeTimeout = 2 * time.Minute

type CoordinatorConfig struct {
	// Fixed depot location. When nil, DepotAddress is geocoded.
	Depot        *domain.Coordinates
	DepotAddress string
	// Zone in which delivery window start times are interpreted.
	Location *time.Location
	Timeout  time.Duration
	Clock    func() time.Time
}

// OptimizeCommand requests an optimization of one run.
type OptimizeCommand struct {
	RunID     string
	DriverIDs []string
	StartTime *domain.TimeOfDay
}

type JobState string

const (
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// OptimizationOutcome is the result of a successful job.
type OptimizationOutcome struct {
	Run *domain.DeliveryRun
	// domain.ErrEmptyStopSet or domain.ErrNoDriversSelected, or nil.
	Notice error
}

// JobStatus is a point-in-time view of a Job.
type JobStatus struct {
	RunID      string
	State      JobState
	StartedAt  time.Time
	FinishedAt *time.Time
	Err        error
	Outcome    *OptimizationOutcome
}

// Job is one optimization running on its own goroutine.
type Job struct {
	runID     string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}

	mu         sync.Mutex
	finishedAt *time.Time
	outcome    *OptimizationOutcome
	err        error
}

// Wait blocks until the job finishes or ctx is done. A ctx that ends first
// cancels the job, which then fails without persisting anything.
func (j *Job) Wait(ctx context.Context) (*OptimizationOutcome, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		j.cancel()
		<-j.done
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.outcome, j.err
}

// Cancel asks the job to stop. It is a no-op once the job finished.
func (j *Job) Cancel() { j.cancel() }

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := JobStatus{
		RunID:      j.runID,
		State:      JobRunning,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Err:        j.err,
		Outcome:    j.outcome,
	}
	if j.finishedAt != nil {
		st.State = JobSucceeded
		if j.err != nil {
			st.State = JobFailed
		}
	}
	return st
}

func (j *Job) finish(outcome *OptimizationOutcome, err error, at time.Time) {
	j.mu.Lock()
	j.outcome = outcome
	j.err = err
	j.finishedAt = &at
	j.mu.Unlock()
	close(j.done)
}

// RunOptimizationCoordinator drives one optimization per run: geocode, build
// the matrix, optimize, then persist routes and status in one transaction.
// At most one optimization per run is in flight; a second request fails with
// domain.ErrOptimizationInProgress. A failed or cancelled job leaves the
// stored run untouched.
type RunOptimizationCoordinator struct {
	repo      ports.RunRepository
	drivers   ports.DriverDirectory
	resolver  *GeocodeResolver
	matrix    ports.DistanceMatrixProvider
	optimizer *RouteOptimizer
	locks     *RunLocks
	cfg       CoordinatorConfig

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRunOptimizationCoordinator(
	repo ports.RunRepository,
	drivers ports.DriverDirectory,
	resolver *GeocodeResolver,
	matrix ports.DistanceMatrixProvider,
	optimizer *RouteOptimizer,
	locks *RunLocks,
	cfg CoordinatorConfig,
) *RunOptimizationCoordinator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOptimizeTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RunOptimizationCoordinator{
		repo:      repo,
		drivers:   drivers,
		resolver:  resolver,
		matrix:    matrix,
		optimizer: optimizer,
		locks:     locks,
		cfg:       cfg,
		jobs:      make(map[string]*Job),
	}
}

// Optimize runs an optimization and waits for it.
func (c *RunOptimizationCoordinator) Optimize(ctx context.Context, cmd OptimizeCommand) (*OptimizationOutcome, error) {
	job, err := c.Start(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx)
}

// Start validates the request, takes the run lock and launches the job.
// Lifecycle and argument errors are returned here, before any external call.
// The job inherits cancellation from ctx; callers that want the job to
// outlive ctx should pass context.WithoutCancel(ctx).
func (c *RunOptimizationCoordinator) Start(ctx context.Context, cmd OptimizeCommand) (*Job, error) {
	if !c.locks.TryAcquire(cmd.RunID) {
		return nil, &domain.OptimizationInProgressError{RunID: cmd.RunID, Action: domain.ActionOptimize}
	}

	run, driverIDs, err := c.prepare(ctx, cmd)
	if err != nil {
		c.locks.Release(cmd.RunID)
		return nil, err
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	job := &Job{
		runID:     cmd.RunID,
		startedAt: c.cfg.Clock(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.jobs[cmd.RunID] = job
	c.mu.Unlock()

	go func() {
		defer c.locks.Release(cmd.RunID)
		defer cancel()

		outcome, err := c.execute(jobCtx, run, driverIDs, *cmd.StartTime)
		if err != nil {
			log.Printf("run=%s optimize failed err=%v", cmd.RunID, err)
		}
		job.finish(outcome, err, c.cfg.Clock())
	}()

	return job, nil
}

// Forget drops the job history of runID, typically once the run is deleted.
// A job still running for it finishes normally but is no longer reported.
func (c *RunOptimizationCoordinator) Forget(runID string) {
	c.mu.Lock()
	delete(c.jobs, runID)
	c.mu.Unlock()
}

// LastJob returns the status of the most recent job started for runID.
func (c *RunOptimizationCoordinator) LastJob(runID string) (JobStatus, bool) {
	c.mu.Lock()
	job, ok := c.jobs[runID]
	c.mu.Unlock()
	if !ok {
		return JobStatus{}, false
	}
	return job.Status(), true
}

func (c *RunOptimizationCoordinator) prepare(ctx context.Context, cmd OptimizeCommand) (*domain.DeliveryRun, []string, error) {
	run, err := c.repo.LoadRun(ctx, cmd.RunID)
	if err != nil {
		return nil, nil, fmt.Errorf("optimize run: %w", err)
	}
	if err := run.CheckOptimize(cmd.StartTime); err != nil {
		return nil, nil, err
	}

	driverIDs, err := c.validateDrivers(ctx, cmd.DriverIDs)
	if err != nil {
		return nil, nil, err
	}
	return run, driverIDs, nil
}

// validateDrivers checks ids against the directory and drops duplicates,
// keeping the first occurrence so driver order stays stable.
func (c *RunOptimizationCoordinator) validateDrivers(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return []string{}, nil
	}

	known, err := c.drivers.ListDrivers(ctx)
	if err != nil {
		return nil, fmt.Errorf("optimize run: list drivers: %w", err)
	}
	byID := make(map[string]domain.Driver, len(known))
	for _, d := range known {
		byID[d.DriverID] = d
	}

	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		d, ok := byID[id]
		if !ok {
			return nil, &domain.UnknownDriverError{DriverID: id}
		}
		if !d.Active {
			return nil, &domain.InvalidArgumentError{Field: "driver_ids", Reason: fmt.Sprintf("driver %q is inactive", id)}
		}
		out = append(out, id)
	}
	return out, nil
}

func (c *RunOptimizationCoordinator) execute(
	ctx context.Context,
	run *domain.DeliveryRun,
	driverIDs []string,
	start domain.TimeOfDay,
) (_ *OptimizationOutcome, err error) {
	defer obs.Time(ctx, "optimize.run")(&err)

	depot, stops, geocodes, err := c.locate(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("optimize run %s: %w", run.RunID, err)
	}

	var m domain.Matrix
	if len(stops) > 0 {
		points := make([]domain.Coordinates, 0, len(stops)+1)
		points = append(points, depot)
		for _, s := range stops {
			points = append(points, s.Coordinates)
		}
		if m, err = c.buildMatrix(ctx, points); err != nil {
			return nil, fmt.Errorf("optimize run %s: %w", run.RunID, err)
		}
	}

	result, err := c.optimizer.Optimize(ctx, OptimizeRequest{
		Depot:     depot,
		DepartAt:  start.On(run.DeliveryDate, c.cfg.Location),
		DriverIDs: driverIDs,
		Stops:     stops,
		Matrix:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("optimize run %s: %w", run.RunID, err)
	}

	routes, unassigned := c.materialize(run.RunID, stops, result)

	from := run.Status
	if err := run.ApplyOptimization(routes, unassigned, start, c.cfg.Clock().UTC()); err != nil {
		return nil, err
	}

	// Nothing is written once the caller has given up.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("optimize run %s: %w", run.RunID, err)
	}

	if err := c.commit(ctx, run, from, geocodes); err != nil {
		return nil, fmt.Errorf("optimize run %s: %w", run.RunID, err)
	}

	log.Printf(
		"run=%s optimized drivers=%d stops=%d unassigned=%d distance_km=%.1f duration_min=%.1f",
		run.RunID, len(driverIDs), run.StopCount(), len(run.Unassigned),
		run.Metrics.DistanceKm(), run.Metrics.DurationMin(),
	)
	return &OptimizationOutcome{Run: run, Notice: result.Notice}, nil
}

// locate resolves the depot and every order lacking trusted coordinates.
func (c *RunOptimizationCoordinator) locate(
	ctx context.Context,
	run *domain.DeliveryRun,
) (domain.Coordinates, []StopInput, []domain.GeocodeUpdate, error) {
	var pending []string
	if c.cfg.Depot == nil && len(run.Orders) > 0 {
		pending = append(pending, c.cfg.DepotAddress)
	}
	for _, o := range run.Orders {
		if _, ok := o.ResolvedCoordinates(); !ok {
			pending = append(pending, o.Address)
		}
	}

	var resolved map[string]domain.Coordinates
	if len(pending) > 0 {
		var err error
		if resolved, err = c.resolver.ResolveAll(ctx, pending); err != nil {
			return domain.Coordinates{}, nil, nil, err
		}
	}

	var depot domain.Coordinates
	if c.cfg.Depot != nil {
		depot = *c.cfg.Depot
	} else {
		depot = resolved[c.cfg.DepotAddress]
	}

	stops := make([]StopInput, 0, len(run.Orders))
	var updates []domain.GeocodeUpdate
	for _, o := range run.Orders {
		coords, ok := o.ResolvedCoordinates()
		if !ok {
			coords = resolved[o.Address]
			updates = append(updates, domain.GeocodeUpdate{OrderID: o.OrderID, Address: o.Address, Coordinates: coords})
		}
		stops = append(stops, StopInput{
			OrderID:     o.OrderID,
			Coordinates: coords,
			Service:     o.ServiceDuration(0),
		})
	}
	return depot, stops, updates, nil
}

func (c *RunOptimizationCoordinator) buildMatrix(ctx context.Context, points []domain.Coordinates) (_ domain.Matrix, err error) {
	defer obs.Time(ctx, "optimize.matrix")(&err)

	m, err := c.matrix.Matrix(ctx, points)
	if err != nil {
		if errors.Is(err, domain.ErrMatrixUnavailable) || ctx.Err() != nil {
			return nil, err
		}
		return nil, &domain.MatrixError{From: -1, To: -1, Cause: err}
	}
	if m.Size() != len(points) {
		return nil, &domain.MatrixError{From: -1, To: -1, Cause: fmt.Errorf("got %d points, want %d", m.Size(), len(points))}
	}
	if err := m.Validate(); err != nil {
		return nil, &domain.MatrixError{From: -1, To: -1, Cause: err}
	}
	return m, nil
}

// materialize turns the optimizer's index-based plan into routes and stops
// with fresh identifiers.
func (c *RunOptimizationCoordinator) materialize(
	runID string,
	stops []StopInput,
	result *OptimizeResult,
) ([]domain.Route, []domain.Stop) {
	routes := make([]domain.Route, 0, len(result.Routes))
	for _, pr := range result.Routes {
		route := domain.Route{
			RouteID:         uuid.NewString(),
			RunID:           runID,
			DriverID:        pr.DriverID,
			Stops:           make([]domain.Stop, 0, len(pr.Stops)),
			DistanceMeters:  pr.DistanceMeters,
			DurationSeconds: pr.DurationSeconds,
		}
		for _, ps := range pr.Stops {
			eta := ps.ETA.UTC()
			in := stops[ps.StopIndex]
			route.Stops = append(route.Stops, domain.Stop{
				StopID:        uuid.NewString(),
				RunID:         runID,
				RouteID:       route.RouteID,
				SequenceIndex: ps.SequenceIndex,
				OrderID:       in.OrderID,
				Coordinates:   in.Coordinates,
				ETA:           &eta,
			})
		}
		routes = append(routes, route)
	}

	unassigned := make([]domain.Stop, 0, len(result.Unassigned))
	for i, idx := range result.Unassigned {
		in := stops[idx]
		unassigned = append(unassigned, domain.Stop{
			StopID:        uuid.NewString(),
			RunID:         runID,
			SequenceIndex: i,
			OrderID:       in.OrderID,
			Coordinates:   in.Coordinates,
			Unassigned:    true,
		})
	}
	return routes, unassigned
}

func (c *RunOptimizationCoordinator) commit(
	ctx context.Context,
	run *domain.DeliveryRun,
	from domain.RunStatus,
	geocodes []domain.GeocodeUpdate,
) (err error) {
	defer obs.Time(ctx, "optimize.persist")(&err)

	return c.repo.Atomically(ctx, func(tx ports.RunTx) error {
		if len(geocodes) > 0 {
			if err := tx.SaveGeocodes(ctx, geocodes); err != nil {
				return err
			}
		}
		if err := tx.SaveRoutes(ctx, run.RunID, run.Routes, run.Unassigned); err != nil {
			return err
		}
		update := run.UpdateFrom(from)
		update.ExpectOrders = make([]string, 0, len(run.Orders))
		for _, o := range run.Orders {
			update.ExpectOrders = append(update.ExpectOrders, o.OrderID)
		}
		return tx.UpdateStatus(ctx, run.RunID, update)
	})
}
