package ports

import (
	"context"
	"delivery-run-service/internal/domain"
)

// Port: persistence boundary for delivery runs and everything they own.
//
// Implementations enforce referential integrity only; lifecycle rules live in
// the domain and services. Missing runs are reported with an error wrapping
// domain.ErrRunNotFound.
type RunRepository interface {
	// Insert a new run. A second run for the same delivery date fails with a
	// *domain.InvalidArgumentError.
	CreateRun(ctx context.Context, run *domain.DeliveryRun) error
	// Load a run with its orders, routes (stops in sequence order) and
	// unassigned stops.
	LoadRun(ctx context.Context, runID string) (*domain.DeliveryRun, error)
	// Return the run for a delivery date, or (nil, nil) if none exists.
	FindRunByDate(ctx context.Context, date domain.Date) (*domain.DeliveryRun, error)
	ListRuns(ctx context.Context) ([]domain.RunSummary, error)
	// Delete a run with its memberships, routes and stops.
	DeleteRun(ctx context.Context, runID string) error

	// Add order memberships to a draft run. The orders are upserted. Fails
	// with a *domain.StatusConflictError if the stored status is not draft,
	// so membership never changes after a concurrent lock.
	AddOrders(ctx context.Context, runID string, orders []domain.Order) error
	// Return orders that are not a member of any run.
	ListUngroupedOrders(ctx context.Context) ([]domain.Order, error)

	// Run fn inside one transaction. Every write made through tx commits
	// together or not at all.
	Atomically(ctx context.Context, fn func(tx RunTx) error) error
}

// Writes that must commit together.
type RunTx interface {
	// Replace all routes and unassigned stops of a run.
	SaveRoutes(ctx context.Context, runID string, routes []domain.Route, unassigned []domain.Stop) error
	// Compare-and-set the run's status and derived fields. Fails with
	// a *domain.StatusConflictError if the stored status is not update.Expect.
	UpdateStatus(ctx context.Context, runID string, update domain.StatusUpdate) error
	// Store freshly resolved coordinates on orders.
	SaveGeocodes(ctx context.Context, updates []domain.GeocodeUpdate) error
}

// Port: the external driver directory.
type DriverDirectory interface {
	ListDrivers(ctx context.Context) ([]domain.Driver, error)
}
