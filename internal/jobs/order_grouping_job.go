package jobs

import (
	"context"
	"delivery-run-service/internal/platform/obs"
	"delivery-run-service/internal/services"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Grouper places pending orders into the run for their delivery date.
type Grouper interface {
	GroupPendingOrders(ctx context.Context) (*services.GroupingReport, error)
}

// OrderGroupingJob periodically moves ungrouped orders into draft runs.
type OrderGroupingJob struct {
	grouper  Grouper
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
}

func NewOrderGroupingJob(grouper Grouper, schedule string, timeout time.Duration) *OrderGroupingJob {
	return &OrderGroupingJob{
		grouper:  grouper,
		schedule: schedule,
		timeout:  timeout,
		// A slow pass is never overlapped by the next tick.
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Start registers the pass on the schedule and starts the scheduler.
func (j *OrderGroupingJob) Start() error {
	if _, err := j.cron.AddFunc(j.schedule, func() { _, _ = j.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("order grouping job: schedule %q: %w", j.schedule, err)
	}

	j.cron.Start()
	log.Printf("job=order_grouping started schedule=%q", j.schedule)
	return nil
}

// Stop halts the scheduler and waits for a running pass to finish.
func (j *OrderGroupingJob) Stop() {
	<-j.cron.Stop().Done()
	log.Printf("job=order_grouping stopped")
}

// RunOnce performs a single grouping pass.
func (j *OrderGroupingJob) RunOnce(ctx context.Context) (_ *services.GroupingReport, err error) {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	ctx = obs.WithRequestID(ctx, "job-"+uuid.NewString())
	defer obs.Time(ctx, "job.order_grouping")(&err)

	report, err := j.grouper.GroupPendingOrders(ctx)
	if err != nil {
		return report, err
	}

	if report.Added > 0 || len(report.CreatedRuns) > 0 || len(report.Skipped) > 0 {
		log.Printf("req_id=%s job=order_grouping added=%d created_runs=%d skipped=%d",
			obs.RequestID(ctx), report.Added, len(report.CreatedRuns), len(report.Skipped))
	}
	return report, nil
}
