package services

import (
	"context"
	"delivery-run-service/internal/adapters/cache"
	"delivery-run-service/internal/adapters/distance"
	"delivery-run-service/internal/adapters/repositories"
	"delivery-run-service/internal/domain"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGeocoder answers from a fixed table keyed by normalized address.
// Lookups block while gate is open (non-nil and not closed).
type fakeGeocoder struct {
	mu      sync.Mutex
	coords  map[string]domain.Coordinates
	failing map[string]error
	calls   map[string]int
	gate    chan struct{}
	entered chan string
}

func newFakeGeocoder() *fakeGeocoder {
	return &fakeGeocoder{
		coords:  make(map[string]domain.Coordinates),
		failing: make(map[string]error),
		calls:   make(map[string]int),
		entered: make(chan string, 64),
	}
}

func (f *fakeGeocoder) set(address string, c domain.Coordinates) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coords[domain.NormalizeAddress(address)] = c
}

func (f *fakeGeocoder) fail(address string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[domain.NormalizeAddress(address)] = err
}

func (f *fakeGeocoder) heal(address string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failing, domain.NormalizeAddress(address))
}

// hold makes lookups block until the returned release func is called.
func (f *fakeGeocoder) hold(t *testing.T) func() {
	t.Helper()
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()

	var once sync.Once
	release := func() { once.Do(func() { close(gate) }) }
	t.Cleanup(release)
	return release
}

func (f *fakeGeocoder) waitEntered(t *testing.T) string {
	t.Helper()
	select {
	case addr := <-f.entered:
		return addr
	case <-time.After(5 * time.Second):
		t.Fatal("geocoder was never called")
		return ""
	}
}

func (f *fakeGeocoder) callCount(address string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[domain.NormalizeAddress(address)]
}

func (f *fakeGeocoder) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeGeocoder) Geocode(ctx context.Context, address string) (domain.Coordinates, error) {
	key := domain.NormalizeAddress(address)

	f.mu.Lock()
	f.calls[key]++
	gate := f.gate
	f.mu.Unlock()

	select {
	case f.entered <- address:
	default:
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.Coordinates{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failing[key]; ok {
		return domain.Coordinates{}, err
	}
	c, ok := f.coords[key]
	if !ok {
		return domain.Coordinates{}, &domain.GeocodeError{Address: address}
	}
	return c, nil
}

// brokenCache fails every call.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (domain.Coordinates, bool, error) {
	return domain.Coordinates{}, false, errors.New("cache down")
}

func (brokenCache) Put(context.Context, string, domain.Coordinates) error {
	return errors.New("cache down")
}

func (brokenCache) Delete(context.Context, string) error { return errors.New("cache down") }

var depot = domain.Coordinates{Lat: 33.4484, Lon: -112.0740}

// fixture wires the services over in-memory adapters.
type fixture struct {
	repo     *repositories.MemoryRunRepository
	geocoder *fakeGeocoder
	cache    *cache.MemoryGeocodeCache
	locks    *RunLocks
	runs     *RunService
	coord    *RunOptimizationCoordinator
	now      time.Time
}

func newFixture(t *testing.T, configure ...func(*CoordinatorConfig)) *fixture {
	t.Helper()

	f := &fixture{
		repo:     repositories.NewMemoryRunRepository(),
		geocoder: newFakeGeocoder(),
		cache:    cache.NewMemoryGeocodeCache(),
		locks:    NewRunLocks(),
		now:      time.Date(2026, 3, 8, 17, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.repo.PutDrivers(
		domain.Driver{DriverID: "drv-a", Name: "A", Active: true},
		domain.Driver{DriverID: "drv-b", Name: "B", Active: true},
		domain.Driver{DriverID: "drv-off", Name: "Off"},
	)

	cfg := CoordinatorConfig{
		Depot:    &depot,
		Location: time.UTC,
		Timeout:  10 * time.Second,
		Clock:    clock,
	}
	for _, c := range configure {
		c(&cfg)
	}

	f.runs = NewRunService(f.repo, f.locks, clock)
	f.coord = NewRunOptimizationCoordinator(
		f.repo,
		f.repo,
		NewGeocodeResolver(f.geocoder, f.cache, 2),
		distance.NewHaversineMatrixProvider(),
		NewRouteOptimizer(OptimizerOptions{}),
		f.locks,
		cfg,
	)
	return f
}

// seedRun creates a draft run with n geocodable orders.
func (f *fixture) seedRun(t *testing.T, date domain.Date, n int) (*domain.DeliveryRun, []domain.Order) {
	t.Helper()
	ctx := context.Background()

	run, err := f.runs.CreateRun(ctx, date)
	require.NoError(t, err)

	orders := make([]domain.Order, 0, n)
	for i := range n {
		addr := fmt.Sprintf("%d N Central Ave %s", 100*(i+1), date)
		f.geocoder.set(addr, domain.Coordinates{
			Lat: depot.Lat + 0.01*float64(i+1),
			Lon: depot.Lon + 0.005*float64((i%3)-1),
		})
		orders = append(orders, domain.Order{
			OrderID:        fmt.Sprintf("%s-o%d", date, i+1),
			Address:        addr,
			DeliveryDate:   date,
			ServiceMinutes: 5,
		})
	}
	if n > 0 {
		require.NoError(t, f.repo.AddOrders(ctx, run.RunID, orders))
	}
	return run, orders
}

func nineAM() *domain.TimeOfDay { return &domain.TimeOfDay{Hour: 9} }
