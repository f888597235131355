package jobs

import (
	"context"
	"delivery-run-service/internal/adapters/repositories"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/services"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingGrouper struct {
	calls atomic.Int32
	err   error
}

func (g *countingGrouper) GroupPendingOrders(context.Context) (*services.GroupingReport, error) {
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return &services.GroupingReport{}, nil
}

func TestRunOnceGroupsPendingOrders(t *testing.T) {
	ctx := context.Background()
	repo := repositories.NewMemoryRunRepository()
	runs := services.NewRunService(repo, services.NewRunLocks(), nil)

	monday := domain.NewDate(2026, time.March, 9)
	tuesday := domain.NewDate(2026, time.March, 10)
	repo.PutOrders(
		domain.Order{OrderID: "ord-1", Address: "1 Main St", DeliveryDate: monday},
		domain.Order{OrderID: "ord-2", Address: "2 Main St", DeliveryDate: monday},
		domain.Order{OrderID: "ord-3", Address: "3 Main St", DeliveryDate: tuesday},
	)

	job := NewOrderGroupingJob(runs, "@every 1h", time.Second)

	report, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Added)
	assert.Len(t, report.CreatedRuns, 2)
	assert.Empty(t, report.Skipped)

	summaries, err := runs.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	again, err := job.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Added, "grouped orders are not picked up twice")
	assert.Empty(t, again.CreatedRuns)
}

func TestRunOnceReturnsGrouperError(t *testing.T) {
	boom := errors.New("store unavailable")
	g := &countingGrouper{err: boom}

	_, err := NewOrderGroupingJob(g, "@every 1h", 0).RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 1, g.calls.Load())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	job := NewOrderGroupingJob(&countingGrouper{}, "every now and then", time.Second)
	err := job.Start()
	require.Error(t, err)
	assert.ErrorContains(t, err, "every now and then")
}

func TestStartRunsOnSchedule(t *testing.T) {
	g := &countingGrouper{}
	job := NewOrderGroupingJob(g, "@every 1s", time.Second)
	require.NoError(t, job.Start())
	t.Cleanup(job.Stop)

	require.Eventually(t, func() bool { return g.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}
