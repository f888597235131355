package repositories

import (
	"cmp"
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/ports"
	"fmt"
	"slices"
	"sync"
	"time"
)

type runRow struct {
	runID               string
	deliveryDate        domain.Date
	status              domain.RunStatus
	deliveryWindowStart *domain.TimeOfDay
	metrics             domain.RunMetrics
	lastOptimizedAt     *time.Time
	createdAt           time.Time
}

type routeRow struct {
	routeID         string
	runID           string
	driverID        string
	position        int
	distanceMeters  int
	durationSeconds int
}

// MemoryRunRepository keeps one table per entity, linked by ids the same way
// the Postgres schema is. It backs tests and the STORE=memory mode.
type MemoryRunRepository struct {
	mu sync.RWMutex

	runs        map[string]runRow
	orders      map[string]domain.Order
	memberships map[string]string // order id -> run id
	routes      map[string]routeRow
	stops       map[string]domain.Stop
	drivers     map[string]domain.Driver
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		runs:        make(map[string]runRow),
		orders:      make(map[string]domain.Order),
		memberships: make(map[string]string),
		routes:      make(map[string]routeRow),
		stops:       make(map[string]domain.Stop),
		drivers:     make(map[string]domain.Driver),
	}
}

// PutOrders inserts or replaces orders without assigning them to a run.
func (m *MemoryRunRepository) PutOrders(orders ...domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range orders {
		m.orders[o.OrderID] = upsertOrder(m.orders[o.OrderID], o)
	}
}

// PutDrivers inserts or replaces directory entries.
func (m *MemoryRunRepository) PutDrivers(drivers ...domain.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range drivers {
		m.drivers[d.DriverID] = d
	}
}

func (m *MemoryRunRepository) ListDrivers(_ context.Context) ([]domain.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Driver, 0, len(m.drivers))
	for _, d := range m.drivers {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Driver) int { return cmp.Compare(a.DriverID, b.DriverID) })
	return out, nil
}

func (m *MemoryRunRepository) CreateRun(_ context.Context, run *domain.DeliveryRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.RunID]; ok {
		return fmt.Errorf("create run: run %s already exists", run.RunID)
	}
	for _, r := range m.runs {
		if r.deliveryDate == run.DeliveryDate {
			return &domain.InvalidArgumentError{
				Field:  "delivery_date",
				Reason: fmt.Sprintf("run %s already exists for %s", r.runID, r.deliveryDate),
			}
		}
	}

	m.runs[run.RunID] = runRow{
		runID:               run.RunID,
		deliveryDate:        run.DeliveryDate,
		status:              run.Status,
		deliveryWindowStart: run.DeliveryWindowStart,
		metrics:             run.Metrics,
		lastOptimizedAt:     run.LastOptimizedAt,
		createdAt:           run.CreatedAt,
	}
	return nil
}

func (m *MemoryRunRepository) LoadRun(_ context.Context, runID string) (*domain.DeliveryRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.runs[runID]
	if !ok {
		return nil, &domain.RunNotFoundError{RunID: runID}
	}
	return m.assemble(row), nil
}

func (m *MemoryRunRepository) FindRunByDate(_ context.Context, date domain.Date) (*domain.DeliveryRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, row := range m.runs {
		if row.deliveryDate == date {
			return m.assemble(row), nil
		}
	}
	return nil, nil
}

func (m *MemoryRunRepository) ListRuns(_ context.Context) ([]domain.RunSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.RunSummary, 0, len(m.runs))
	for _, row := range m.runs {
		out = append(out, m.assemble(row).Summary())
	}
	slices.SortFunc(out, func(a, b domain.RunSummary) int {
		if a.DeliveryDate.Before(b.DeliveryDate) {
			return -1
		}
		if b.DeliveryDate.Before(a.DeliveryDate) {
			return 1
		}
		return 0
	})
	return out, nil
}

func (m *MemoryRunRepository) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return &domain.RunNotFoundError{RunID: runID}
	}

	m.deleteRoutes(runID)
	for orderID, owner := range m.memberships {
		if owner == runID {
			delete(m.memberships, orderID)
		}
	}
	delete(m.runs, runID)
	return nil
}

func (m *MemoryRunRepository) AddOrders(_ context.Context, runID string, orders []domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.runs[runID]
	if !ok {
		return &domain.RunNotFoundError{RunID: runID}
	}
	if row.status != domain.StatusDraft {
		return &domain.StatusConflictError{RunID: runID, Expected: domain.StatusDraft, Actual: row.status}
	}

	for _, o := range orders {
		m.orders[o.OrderID] = upsertOrder(m.orders[o.OrderID], o)
		if _, member := m.memberships[o.OrderID]; !member {
			m.memberships[o.OrderID] = runID
		}
	}
	return nil
}

func (m *MemoryRunRepository) ListUngroupedOrders(_ context.Context) ([]domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Order
	for id, o := range m.orders {
		if _, member := m.memberships[id]; !member {
			out = append(out, cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b domain.Order) int { return cmp.Compare(a.OrderID, b.OrderID) })
	return out, nil
}

// Atomically holds the write lock while fn runs. Writes are validated as
// they are made but only applied after fn returns nil.
func (m *MemoryRunRepository) Atomically(ctx context.Context, fn func(tx ports.RunTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryRunTx{repo: m}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, apply := range tx.pending {
		apply()
	}
	return nil
}

type memoryRunTx struct {
	repo    *MemoryRunRepository
	pending []func()
}

func (tx *memoryRunTx) SaveRoutes(_ context.Context, runID string, routes []domain.Route, unassigned []domain.Stop) error {
	m := tx.repo
	if _, ok := m.runs[runID]; !ok {
		return &domain.RunNotFoundError{RunID: runID}
	}

	routes = cloneRoutes(routes)
	unassigned = slices.Clone(unassigned)
	tx.pending = append(tx.pending, func() {
		m.deleteRoutes(runID)
		for i, r := range routes {
			m.routes[r.RouteID] = routeRow{
				routeID:         r.RouteID,
				runID:           runID,
				driverID:        r.DriverID,
				position:        i,
				distanceMeters:  r.DistanceMeters,
				durationSeconds: r.DurationSeconds,
			}
			for _, s := range r.Stops {
				s.RunID, s.RouteID, s.Unassigned = runID, r.RouteID, false
				m.stops[s.StopID] = s
			}
		}
		for _, s := range unassigned {
			s.RunID, s.RouteID, s.Unassigned, s.ETA = runID, "", true, nil
			m.stops[s.StopID] = s
		}
	})
	return nil
}

func (tx *memoryRunTx) UpdateStatus(_ context.Context, runID string, update domain.StatusUpdate) error {
	m := tx.repo
	row, ok := m.runs[runID]
	if !ok {
		return &domain.RunNotFoundError{RunID: runID}
	}
	if row.status != update.Expect {
		return &domain.StatusConflictError{RunID: runID, Expected: update.Expect, Actual: row.status}
	}
	if update.ExpectOrders != nil {
		var members []string
		for orderID, owner := range m.memberships {
			if owner == runID {
				members = append(members, orderID)
			}
		}
		if err := update.CheckMembership(runID, members); err != nil {
			return err
		}
	}

	tx.pending = append(tx.pending, func() {
		row.status = update.Status
		row.metrics = update.Metrics
		row.lastOptimizedAt = update.LastOptimizedAt
		row.deliveryWindowStart = update.DeliveryWindowStart
		m.runs[runID] = row
	})
	return nil
}

func (tx *memoryRunTx) SaveGeocodes(_ context.Context, updates []domain.GeocodeUpdate) error {
	m := tx.repo
	for _, u := range updates {
		if _, ok := m.orders[u.OrderID]; !ok {
			return fmt.Errorf("save geocodes: order %s not found", u.OrderID)
		}
	}

	updates = slices.Clone(updates)
	tx.pending = append(tx.pending, func() {
		for _, u := range updates {
			o := m.orders[u.OrderID]
			c := u.Coordinates
			o.Coordinates = &c
			o.GeocodedAddress = u.Address
			m.orders[u.OrderID] = o
		}
	})
	return nil
}

// deleteRoutes drops every route and stop of a run. Callers hold the write lock.
func (m *MemoryRunRepository) deleteRoutes(runID string) {
	for id, s := range m.stops {
		if s.RunID == runID {
			delete(m.stops, id)
		}
	}
	for id, r := range m.routes {
		if r.runID == runID {
			delete(m.routes, id)
		}
	}
}

// assemble builds a detached DeliveryRun from the tables. Callers hold at
// least the read lock.
func (m *MemoryRunRepository) assemble(row runRow) *domain.DeliveryRun {
	run := &domain.DeliveryRun{
		RunID:               row.runID,
		DeliveryDate:        row.deliveryDate,
		Status:              row.status,
		DeliveryWindowStart: row.deliveryWindowStart,
		Metrics:             row.metrics,
		LastOptimizedAt:     row.lastOptimizedAt,
		CreatedAt:           row.createdAt,
	}

	for orderID, owner := range m.memberships {
		if owner == row.runID {
			run.Orders = append(run.Orders, cloneOrder(m.orders[orderID]))
		}
	}
	slices.SortFunc(run.Orders, func(a, b domain.Order) int { return cmp.Compare(a.OrderID, b.OrderID) })

	var routeRows []routeRow
	for _, r := range m.routes {
		if r.runID == row.runID {
			routeRows = append(routeRows, r)
		}
	}
	slices.SortFunc(routeRows, func(a, b routeRow) int { return cmp.Compare(a.position, b.position) })

	index := make(map[string]int, len(routeRows))
	for i, r := range routeRows {
		index[r.routeID] = i
		run.Routes = append(run.Routes, domain.Route{
			RouteID:         r.routeID,
			RunID:           r.runID,
			DriverID:        r.driverID,
			Stops:           []domain.Stop{},
			DistanceMeters:  r.distanceMeters,
			DurationSeconds: r.durationSeconds,
		})
	}

	for _, s := range m.stops {
		if s.RunID != row.runID {
			continue
		}
		if s.Unassigned {
			run.Unassigned = append(run.Unassigned, s)
			continue
		}
		i := index[s.RouteID]
		run.Routes[i].Stops = append(run.Routes[i].Stops, s)
	}
	for i := range run.Routes {
		slices.SortFunc(run.Routes[i].Stops, func(a, b domain.Stop) int { return cmp.Compare(a.SequenceIndex, b.SequenceIndex) })
	}
	slices.SortFunc(run.Unassigned, func(a, b domain.Stop) int { return cmp.Compare(a.SequenceIndex, b.SequenceIndex) })

	return run
}

// upsertOrder replaces the mutable fields of an order and keeps any stored
// geocode; a changed address invalidates it through GeocodedAddress.
func upsertOrder(existing, in domain.Order) domain.Order {
	out := cloneOrder(in)
	if out.Coordinates == nil && existing.Coordinates != nil {
		c := *existing.Coordinates
		out.Coordinates = &c
		out.GeocodedAddress = existing.GeocodedAddress
	}
	return out
}

func cloneOrder(o domain.Order) domain.Order {
	if o.Coordinates != nil {
		c := *o.Coordinates
		o.Coordinates = &c
	}
	return o
}

func cloneRoutes(routes []domain.Route) []domain.Route {
	out := make([]domain.Route, len(routes))
	for i, r := range routes {
		r.Stops = slices.Clone(r.Stops)
		out[i] = r
	}
	return out
}
