package services

import (
	"context"
	"delivery-run-service/internal/domain"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runDate = domain.NewDate(2026, time.March, 9)

func TestOptimizeRoutesAndPersistsRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, orders := f.seedRun(t, runDate, 5)

	outcome, err := f.coord.Optimize(ctx, OptimizeCommand{
		RunID:     run.RunID,
		DriverIDs: []string{"drv-a", "drv-b"},
		StartTime: nineAM(),
	})
	require.NoError(t, err)
	require.NoError(t, outcome.Notice)
	assert.Equal(t, domain.StatusRouted, outcome.Run.Status)

	stored, err := f.runs.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRouted, stored.Status)
	require.NotNil(t, stored.LastOptimizedAt)
	assert.True(t, f.now.Equal(*stored.LastOptimizedAt))
	assert.Equal(t, nineAM(), stored.DeliveryWindowStart)

	require.Len(t, stored.Routes, 2)
	assert.Equal(t, "drv-a", stored.Routes[0].DriverID)
	assert.Equal(t, "drv-b", stored.Routes[1].DriverID)
	assert.Empty(t, stored.Unassigned)
	assert.Equal(t, 5, stored.StopCount())

	depart := nineAM().On(runDate, time.UTC)
	seen := map[string]bool{}
	var metrics domain.RunMetrics
	for _, r := range stored.Routes {
		metrics.DistanceMeters += r.DistanceMeters
		metrics.DurationSeconds += r.DurationSeconds

		var prev time.Time
		for i, s := range r.Stops {
			assert.Equal(t, i, s.SequenceIndex)
			require.NotNil(t, s.ETA)
			assert.True(t, s.ETA.After(depart))
			assert.True(t, s.ETA.After(prev), "ETAs increase along a route")
			prev = *s.ETA
			seen[s.OrderID] = true
		}
	}
	assert.Len(t, seen, 5)
	assert.Equal(t, metrics, stored.Metrics)

	// Geocodes are written back with the routes and cached.
	for _, o := range stored.Orders {
		_, ok := o.ResolvedCoordinates()
		assert.True(t, ok, "order %s has stored coordinates", o.OrderID)
	}
	assert.Equal(t, len(orders), f.cache.Len())

	status, ok := f.coord.LastJob(run.RunID)
	require.True(t, ok)
	assert.Equal(t, JobSucceeded, status.State)
	assert.False(t, f.locks.Busy(run.RunID))
}

func TestReoptimizeReplacesRoutesWithoutGeocoding(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 4)
	cmd := OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()}

	first, err := f.coord.Optimize(ctx, cmd)
	require.NoError(t, err)
	calls := f.geocoder.totalCalls()
	assert.Equal(t, 4, calls)

	f.now = f.now.Add(time.Hour)
	cmd.StartTime = &domain.TimeOfDay{Hour: 10, Minute: 30}
	second, err := f.coord.Optimize(ctx, cmd)
	require.NoError(t, err)

	assert.Equal(t, calls, f.geocoder.totalCalls())
	assert.NotEqual(t, first.Run.Routes[0].RouteID, second.Run.Routes[0].RouteID)

	stored, err := f.runs.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, stored.Routes, 1)
	assert.Equal(t, second.Run.Routes[0].RouteID, stored.Routes[0].RouteID)
	assert.True(t, f.now.Equal(*stored.LastOptimizedAt))
	assert.Equal(t, "10:30", stored.DeliveryWindowStart.String())
	assert.Equal(t, 10, stored.Routes[0].Stops[0].ETA.Hour())
}

func TestOptimizeAllowsOneJobPerRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 3)
	release := f.geocoder.hold(t)

	cmd := OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()}
	job, err := f.coord.Start(ctx, cmd)
	require.NoError(t, err)
	f.geocoder.waitEntered(t)

	status, ok := f.coord.LastJob(run.RunID)
	require.True(t, ok)
	assert.Equal(t, JobRunning, status.State)

	_, err = f.coord.Start(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrOptimizationInProgress)

	_, err = f.runs.Lock(ctx, run.RunID)
	require.ErrorIs(t, err, domain.ErrOptimizationInProgress)

	// A different run is not blocked.
	other, _ := f.seedRun(t, domain.NewDate(2026, time.March, 10), 0)
	_, err = f.coord.Optimize(ctx, OptimizeCommand{RunID: other.RunID, StartTime: nineAM()})
	require.NoError(t, err)

	release()
	outcome, err := job.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRouted, outcome.Run.Status)

	_, err = f.runs.Unlock(ctx, run.RunID)
	require.NoError(t, err)
}

func TestGeocodeFailureLeavesRunUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, orders := f.seedRun(t, runDate, 5)
	f.geocoder.fail(orders[2].Address, errors.New("upstream 503"))

	cmd := OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a", "drv-b"}, StartTime: nineAM()}
	_, err := f.coord.Optimize(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrGeocodeUnavailable)

	var ge *domain.GeocodeError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, orders[2].Address, ge.Address)

	stored, err := f.runs.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Empty(t, stored.Routes)
	assert.Nil(t, stored.LastOptimizedAt)
	for _, o := range stored.Orders {
		assert.Nil(t, o.Coordinates)
	}

	status, ok := f.coord.LastJob(run.RunID)
	require.True(t, ok)
	assert.Equal(t, JobFailed, status.State)
	assert.ErrorIs(t, status.Err, domain.ErrGeocodeUnavailable)

	// The lock was released; a retry after the provider recovers succeeds.
	f.geocoder.heal(orders[2].Address)
	_, err = f.coord.Optimize(ctx, cmd)
	require.NoError(t, err)
}

func TestMatrixFailureLeavesRunUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 2)
	f.coord.matrix = failingMatrix{}

	_, err := f.coord.Optimize(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.ErrorIs(t, err, domain.ErrMatrixUnavailable)

	stored, err := f.runs.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Empty(t, stored.Routes)
}

func TestCancelledOptimizationPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 3)
	f.geocoder.hold(t)

	job, err := f.coord.Start(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.NoError(t, err)
	f.geocoder.waitEntered(t)

	job.Cancel()
	_, err = job.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.runs.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Empty(t, stored.Routes)
	assert.False(t, f.locks.Busy(run.RunID))
}

func TestCallerDeadlineCancelsJob(t *testing.T) {
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 3)
	f.geocoder.hold(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := f.coord.Optimize(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled), "got %v", err)

	stored, err := f.runs.GetRun(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
}

func TestDeleteDuringOptimizationFailsCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 3)
	release := f.geocoder.hold(t)

	job, err := f.coord.Start(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.NoError(t, err)
	f.geocoder.waitEntered(t)

	require.NoError(t, f.runs.DeleteRun(ctx, run.RunID))
	release()

	_, err = job.Wait(ctx)
	require.ErrorIs(t, err, domain.ErrRunNotFound)

	_, err = f.runs.GetRun(ctx, run.RunID)
	require.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestOrdersAddedDuringOptimizationFailCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 2)
	release := f.geocoder.hold(t)

	job, err := f.coord.Start(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.NoError(t, err)
	f.geocoder.waitEntered(t)

	late := domain.Order{OrderID: "late-1", Address: "9 Late St", DeliveryDate: runDate}
	require.NoError(t, f.repo.AddOrders(ctx, run.RunID, []domain.Order{late}))
	release()

	_, err = job.Wait(ctx)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	var conflict *domain.MembershipConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Added)
	assert.Zero(t, conflict.Removed)

	stored, err := f.runs.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, stored.Status)
	assert.Len(t, stored.Orders, 3)
	assert.Empty(t, stored.Routes)
	assert.Empty(t, stored.Unassigned)
}

func TestForgetDropsJobStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 1)

	_, err := f.coord.Optimize(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.NoError(t, err)
	_, ok := f.coord.LastJob(run.RunID)
	require.True(t, ok)

	f.coord.Forget(run.RunID)
	_, ok = f.coord.LastJob(run.RunID)
	assert.False(t, ok)
}

func TestOptimizeWithoutDriversLeavesStopsUnassigned(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 4)

	outcome, err := f.coord.Optimize(ctx, OptimizeCommand{RunID: run.RunID, StartTime: nineAM()})
	require.NoError(t, err)
	assert.ErrorIs(t, outcome.Notice, domain.ErrNoDriversSelected)

	stored, err := f.runs.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRouted, stored.Status)
	assert.Empty(t, stored.Routes)
	require.Len(t, stored.Unassigned, 4)
	for i, s := range stored.Unassigned {
		assert.Equal(t, i, s.SequenceIndex)
		assert.Nil(t, s.ETA)
	}
	assert.Equal(t, domain.RunMetrics{}, stored.Metrics)
}

func TestOptimizeEmptyRunSkipsDepotLookup(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *CoordinatorConfig) {
		c.Depot = nil
		c.DepotAddress = "1 Depot Way"
	})
	run, _ := f.seedRun(t, runDate, 0)

	outcome, err := f.coord.Optimize(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.NoError(t, err)
	assert.ErrorIs(t, outcome.Notice, domain.ErrEmptyStopSet)
	assert.Equal(t, domain.StatusRouted, outcome.Run.Status)
	assert.Zero(t, f.geocoder.totalCalls())
}

func TestOptimizeGeocodesDepotAddress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *CoordinatorConfig) {
		c.Depot = nil
		c.DepotAddress = "1 Depot Way"
	})
	f.geocoder.set("1 Depot Way", depot)
	run, _ := f.seedRun(t, runDate, 2)

	_, err := f.coord.Optimize(ctx, OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()})
	require.NoError(t, err)
	assert.Equal(t, 1, f.geocoder.callCount("1 depot way"))
}

func TestOptimizeRejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 2)

	tests := []struct {
		name string
		cmd  OptimizeCommand
		want error
	}{
		{
			name: "unknown run",
			cmd:  OptimizeCommand{RunID: "missing", StartTime: nineAM()},
			want: domain.ErrRunNotFound,
		},
		{
			name: "missing start time",
			cmd:  OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}},
			want: domain.ErrInvalidTransition,
		},
		{
			name: "unknown driver",
			cmd:  OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a", "drv-zz"}, StartTime: nineAM()},
			want: domain.ErrUnknownDriver,
		},
		{
			name: "inactive driver",
			cmd:  OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-off"}, StartTime: nineAM()},
			want: domain.ErrInvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.Start(ctx, tt.cmd)
			require.ErrorIs(t, err, tt.want)
			assert.False(t, f.locks.Busy(tt.cmd.RunID))
		})
	}

	assert.Zero(t, f.geocoder.totalCalls())
}

func TestOptimizeRejectsDispatchedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 2)
	cmd := OptimizeCommand{RunID: run.RunID, DriverIDs: []string{"drv-a"}, StartTime: nineAM()}

	_, err := f.coord.Optimize(ctx, cmd)
	require.NoError(t, err)
	_, err = f.runs.Dispatch(ctx, run.RunID)
	require.NoError(t, err)

	_, err = f.coord.Optimize(ctx, cmd)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestOptimizeCollapsesDuplicateDrivers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	run, _ := f.seedRun(t, runDate, 3)

	outcome, err := f.coord.Optimize(ctx, OptimizeCommand{
		RunID:     run.RunID,
		DriverIDs: []string{"drv-b", "drv-a", "drv-b"},
		StartTime: nineAM(),
	})
	require.NoError(t, err)
	require.Len(t, outcome.Run.Routes, 2)
	assert.Equal(t, "drv-b", outcome.Run.Routes[0].DriverID)
	assert.Equal(t, "drv-a", outcome.Run.Routes[1].DriverID)
}

type failingMatrix struct{}

func (failingMatrix) Matrix(context.Context, []domain.Coordinates) (domain.Matrix, error) {
	return nil, errors.New("provider unreachable")
}
