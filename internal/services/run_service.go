package services

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/ports"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
)

// RunService implements every lifecycle operation except optimize, plus order
// grouping. Each mutation loads the run, applies the domain rule and writes
// the result back as a compare-and-set on the status it loaded.
type RunService struct {
	repo  ports.RunRepository
	locks *RunLocks
	now   func() time.Time
}

// NewRunService returns a RunService. locks must be the registry shared with
// the RunOptimizationCoordinator; clock may be nil.
func NewRunService(repo ports.RunRepository, locks *RunLocks, clock func() time.Time) *RunService {
	if clock == nil {
		clock = time.Now
	}
	return &RunService{repo: repo, locks: locks, now: clock}
}

func (s *RunService) CreateRun(ctx context.Context, date domain.Date) (*domain.DeliveryRun, error) {
	if date.IsZero() {
		return nil, &domain.InvalidArgumentError{Field: "delivery_date", Reason: "is required"}
	}

	existing, err := s.repo.FindRunByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if existing != nil {
		return nil, &domain.InvalidArgumentError{
			Field:  "delivery_date",
			Reason: fmt.Sprintf("run %s already exists for %s", existing.RunID, date),
		}
	}

	run := domain.NewDeliveryRun(uuid.NewString(), date, s.now().UTC())
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	log.Printf("run=%s created delivery_date=%s", run.RunID, date)
	return run, nil
}

func (s *RunService) GetRun(ctx context.Context, runID string) (*domain.DeliveryRun, error) {
	run, err := s.repo.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *RunService) ListRuns(ctx context.Context) ([]domain.RunSummary, error) {
	runs, err := s.repo.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunService) Lock(ctx context.Context, runID string) (*domain.DeliveryRun, error) {
	return s.mutate(ctx, runID, domain.ActionLock, (*domain.DeliveryRun).Lock)
}

func (s *RunService) Unlock(ctx context.Context, runID string) (*domain.DeliveryRun, error) {
	return s.mutate(ctx, runID, domain.ActionUnlock, (*domain.DeliveryRun).Unlock)
}

func (s *RunService) Dispatch(ctx context.Context, runID string) (*domain.DeliveryRun, error) {
	return s.mutate(ctx, runID, domain.ActionDispatch, (*domain.DeliveryRun).Dispatch)
}

func (s *RunService) Complete(ctx context.Context, runID string) (*domain.DeliveryRun, error) {
	return s.mutate(ctx, runID, domain.ActionComplete, (*domain.DeliveryRun).Complete)
}

// DeleteRun removes a run and everything it owns. It is allowed in any state;
// an optimization still in flight for the run will fail when it commits.
func (s *RunService) DeleteRun(ctx context.Context, runID string) error {
	if err := s.repo.DeleteRun(ctx, runID); err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	log.Printf("run=%s deleted", runID)
	return nil
}

func (s *RunService) mutate(
	ctx context.Context,
	runID string,
	action domain.Action,
	apply func(*domain.DeliveryRun) error,
) (*domain.DeliveryRun, error) {
	if s.locks.Busy(runID) {
		return nil, &domain.OptimizationInProgressError{RunID: runID, Action: action}
	}

	run, err := s.repo.LoadRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("%s run: %w", action, err)
	}

	from := run.Status
	if err := apply(run); err != nil {
		return nil, err
	}

	err = s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		return tx.UpdateStatus(ctx, runID, run.UpdateFrom(from))
	})
	if err != nil {
		return nil, fmt.Errorf("%s run: %w", action, err)
	}

	log.Printf("run=%s action=%s from=%s to=%s", runID, action, from, run.Status)
	return run, nil
}

// SkippedOrder is an order grouping could not place.
type SkippedOrder struct {
	OrderID string
	RunID   string
	Reason  string
}

// GroupingReport summarizes one grouping pass.
type GroupingReport struct {
	CreatedRuns []string
	Added       int
	Skipped     []SkippedOrder
}

// GroupOrders adds each order to the run for its delivery date, creating a
// draft run when the date has none. Orders whose run is no longer draft, or
// is busy optimizing, are reported as skipped rather than failing the pass.
func (s *RunService) GroupOrders(ctx context.Context, orders []domain.Order) (*GroupingReport, error) {
	report := &GroupingReport{}

	byDate := make(map[domain.Date][]domain.Order)
	for _, o := range orders {
		if o.DeliveryDate.IsZero() {
			report.Skipped = append(report.Skipped, SkippedOrder{OrderID: o.OrderID, Reason: "order has no delivery date"})
			continue
		}
		byDate[o.DeliveryDate] = append(byDate[o.DeliveryDate], o)
	}

	dates := make([]domain.Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	for _, date := range dates {
		batch := byDate[date]

		run, created, err := s.runForDate(ctx, date)
		if err != nil {
			return report, fmt.Errorf("group orders: %w", err)
		}
		if created {
			report.CreatedRuns = append(report.CreatedRuns, run.RunID)
		}

		reason, err := s.addBatch(ctx, run, batch)
		if err != nil {
			return report, fmt.Errorf("group orders: add to run %s: %w", run.RunID, err)
		}

		if reason != "" {
			for _, o := range batch {
				report.Skipped = append(report.Skipped, SkippedOrder{OrderID: o.OrderID, RunID: run.RunID, Reason: reason})
			}
			continue
		}

		report.Added += len(batch)
		log.Printf("run=%s grouped orders=%d delivery_date=%s", run.RunID, len(batch), date)
	}

	return report, nil
}

// addBatch adds orders while holding the run's lock, so no optimization can
// start planning a membership that is about to change. A non-empty reason
// means the batch was skipped.
func (s *RunService) addBatch(ctx context.Context, run *domain.DeliveryRun, batch []domain.Order) (string, error) {
	if !s.locks.TryAcquire(run.RunID) {
		return "run is being optimized", nil
	}
	defer s.locks.Release(run.RunID)

	if err := run.CheckAddOrders(); err != nil {
		return err.Error(), nil
	}
	if err := s.repo.AddOrders(ctx, run.RunID, batch); err != nil {
		if !errors.Is(err, domain.ErrInvalidTransition) {
			return "", err
		}
		return err.Error(), nil
	}
	return "", nil
}

// GroupPendingOrders groups every order that does not belong to a run yet.
func (s *RunService) GroupPendingOrders(ctx context.Context) (*GroupingReport, error) {
	orders, err := s.repo.ListUngroupedOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("group pending orders: %w", err)
	}
	if len(orders) == 0 {
		return &GroupingReport{}, nil
	}
	return s.GroupOrders(ctx, orders)
}

// runForDate finds the run for date or creates it. A concurrent creation of
// the same date is resolved by reading the winner back.
func (s *RunService) runForDate(ctx context.Context, date domain.Date) (*domain.DeliveryRun, bool, error) {
	run, err := s.repo.FindRunByDate(ctx, date)
	if err != nil {
		return nil, false, err
	}
	if run != nil {
		return run, false, nil
	}

	run, err = s.CreateRun(ctx, date)
	if err == nil {
		return run, true, nil
	}
	if !errors.Is(err, domain.ErrInvalidArgument) {
		return nil, false, err
	}

	run, err = s.repo.FindRunByDate(ctx, date)
	if err != nil {
		return nil, false, err
	}
	if run == nil {
		return nil, false, fmt.Errorf("run for %s vanished after a conflicting create", date)
	}
	return run, false, nil
}
