package repositories

import (
	"context"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/ports"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
)

// runRepositorySuite holds the behaviour every RunRepository must share.
// Concrete suites embed it and provide repo and putOrders.
type runRepositorySuite struct {
	suite.Suite
	repo      ports.RunRepository
	putOrders func(orders ...domain.Order)
}

var deliveryDay = domain.NewDate(2026, time.March, 9)

func (s *runRepositorySuite) newRun(date domain.Date) *domain.DeliveryRun {
	run := domain.NewDeliveryRun(uuid.NewString(), date, time.Now().UTC().Truncate(time.Second))
	s.Require().NoError(s.repo.CreateRun(context.Background(), run))
	return run
}

func (s *runRepositorySuite) orders(ids ...string) []domain.Order {
	out := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Order{
			OrderID:        id,
			Address:        id + " Main St",
			DeliveryDate:   deliveryDay,
			ServiceMinutes: 5,
		})
	}
	return out
}

func (s *runRepositorySuite) setStatus(runID string, from, to domain.RunStatus) {
	err := s.repo.Atomically(context.Background(), func(tx ports.RunTx) error {
		return tx.UpdateStatus(context.Background(), runID, domain.StatusUpdate{Expect: from, Status: to})
	})
	s.Require().NoError(err)
}

func (s *runRepositorySuite) plan(runID string, orderIDs ...string) ([]domain.Route, []domain.Stop) {
	eta := time.Date(2026, 3, 9, 9, 10, 0, 0, time.UTC)
	route := domain.Route{
		RouteID:         uuid.NewString(),
		RunID:           runID,
		DriverID:        "drv-1",
		DistanceMeters:  12_000,
		DurationSeconds: 1_800,
	}
	routed, rest := orderIDs, []string(nil)
	if len(orderIDs) > 1 {
		routed, rest = orderIDs[:len(orderIDs)-1], orderIDs[len(orderIDs)-1:]
	}
	for i, id := range routed {
		at := eta.Add(time.Duration(i) * 20 * time.Minute)
		route.Stops = append(route.Stops, domain.Stop{
			StopID:        uuid.NewString(),
			RunID:         runID,
			RouteID:       route.RouteID,
			SequenceIndex: i,
			OrderID:       id,
			Coordinates:   domain.Coordinates{Lat: 40 + float64(i), Lon: -74},
			ETA:           &at,
		})
	}
	empty := domain.Route{RouteID: uuid.NewString(), RunID: runID, DriverID: "drv-2"}

	var unassigned []domain.Stop
	for i, id := range rest {
		unassigned = append(unassigned, domain.Stop{
			StopID:        uuid.NewString(),
			RunID:         runID,
			SequenceIndex: i,
			OrderID:       id,
			Coordinates:   domain.Coordinates{Lat: 1, Lon: 2},
			Unassigned:    true,
		})
	}
	return []domain.Route{route, empty}, unassigned
}

func (s *runRepositorySuite) TestCreateLoadAndFind() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Equal(run.RunID, loaded.RunID)
	s.Equal(deliveryDay, loaded.DeliveryDate)
	s.Equal(domain.StatusDraft, loaded.Status)
	s.Empty(loaded.Orders)
	s.Empty(loaded.Routes)
	s.Nil(loaded.LastOptimizedAt)

	found, err := s.repo.FindRunByDate(ctx, deliveryDay)
	s.Require().NoError(err)
	s.Require().NotNil(found)
	s.Equal(run.RunID, found.RunID)

	none, err := s.repo.FindRunByDate(ctx, domain.NewDate(2030, time.January, 1))
	s.Require().NoError(err)
	s.Nil(none)
}

func (s *runRepositorySuite) TestOneRunPerDate() {
	s.newRun(deliveryDay)

	dup := domain.NewDeliveryRun(uuid.NewString(), deliveryDay, time.Now())
	err := s.repo.CreateRun(context.Background(), dup)
	s.Require().ErrorIs(err, domain.ErrInvalidArgument)
}

func (s *runRepositorySuite) TestLoadMissingRun() {
	_, err := s.repo.LoadRun(context.Background(), "missing")
	s.Require().ErrorIs(err, domain.ErrRunNotFound)
}

func (s *runRepositorySuite) TestAddOrdersAndListUngrouped() {
	ctx := context.Background()
	s.putOrders(s.orders("o-1", "o-2", "o-3")...)

	pending, err := s.repo.ListUngroupedOrders(ctx)
	s.Require().NoError(err)
	s.Len(pending, 3)

	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-2", "o-1")))

	pending, err = s.repo.ListUngroupedOrders(ctx)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("o-3", pending[0].OrderID)

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Require().Len(loaded.Orders, 2)
	s.Equal("o-1", loaded.Orders[0].OrderID)
	s.Equal("o-2", loaded.Orders[1].OrderID)
	s.Equal(5, loaded.Orders[0].ServiceMinutes)
}

func (s *runRepositorySuite) TestAddOrdersRequiresDraft() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-1")))
	s.setStatus(run.RunID, domain.StatusDraft, domain.StatusLocked)

	err := s.repo.AddOrders(ctx, run.RunID, s.orders("o-2"))
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Len(loaded.Orders, 1)
}

func (s *runRepositorySuite) TestAtomicallyPersistsRoutesAndStatus() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-1", "o-2", "o-3")))

	routes, unassigned := s.plan(run.RunID, "o-1", "o-2", "o-3")
	at := time.Date(2026, 3, 8, 18, 0, 0, 0, time.UTC)
	start := domain.TimeOfDay{Hour: 9}

	err := s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		if err := tx.SaveRoutes(ctx, run.RunID, routes, unassigned); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, run.RunID, domain.StatusUpdate{
			Expect:              domain.StatusDraft,
			Status:              domain.StatusRouted,
			Metrics:             domain.RunMetrics{DistanceMeters: 12_000, DurationSeconds: 1_800},
			LastOptimizedAt:     &at,
			DeliveryWindowStart: &start,
		})
	})
	s.Require().NoError(err)

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Equal(domain.StatusRouted, loaded.Status)
	s.Require().NotNil(loaded.LastOptimizedAt)
	s.True(at.Equal(*loaded.LastOptimizedAt))
	s.Equal(&start, loaded.DeliveryWindowStart)

	s.Require().Len(loaded.Routes, 2)
	s.Equal("drv-1", loaded.Routes[0].DriverID)
	s.Equal("drv-2", loaded.Routes[1].DriverID)
	s.Empty(loaded.Routes[1].Stops)

	stops := loaded.Routes[0].Stops
	s.Require().Len(stops, 2)
	for i, st := range stops {
		s.Equal(i, st.SequenceIndex)
		s.Equal(routes[0].Stops[i].OrderID, st.OrderID)
		s.Require().NotNil(st.ETA)
		s.True(routes[0].Stops[i].ETA.Equal(*st.ETA))
	}

	s.Require().Len(loaded.Unassigned, 1)
	s.Equal("o-3", loaded.Unassigned[0].OrderID)
	s.True(loaded.Unassigned[0].Unassigned)
	s.Nil(loaded.Unassigned[0].ETA)

	summaries, err := s.repo.ListRuns(ctx)
	s.Require().NoError(err)
	s.Require().Len(summaries, 1)
	sum := summaries[0]
	s.Equal(3, sum.OrderCount)
	s.Equal(2, sum.RouteCount)
	s.Equal(2, sum.StopCount)
	s.Equal(1, sum.UnassignedCount)
	s.InDelta(12.0, sum.DistanceKm, 1e-9)
	s.InDelta(30.0, sum.DurationMin, 1e-9)
}

func (s *runRepositorySuite) TestAtomicallyRollsBackOnError() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-1")))

	boom := errors.New("boom")
	routes, unassigned := s.plan(run.RunID, "o-1")
	err := s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		if err := tx.SaveRoutes(ctx, run.RunID, routes, unassigned); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Empty(loaded.Routes)
	s.Equal(domain.StatusDraft, loaded.Status)
}

func (s *runRepositorySuite) TestUpdateStatusIsCompareAndSet() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)

	err := s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		return tx.UpdateStatus(ctx, run.RunID, domain.StatusUpdate{Expect: domain.StatusLocked, Status: domain.StatusDraft})
	})
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)

	var conflict *domain.StatusConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal(domain.StatusDraft, conflict.Actual)
}

func (s *runRepositorySuite) TestUpdateStatusChecksExpectedOrders() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-1", "o-2")))

	route := func(expect ...string) error {
		return s.repo.Atomically(ctx, func(tx ports.RunTx) error {
			return tx.UpdateStatus(ctx, run.RunID, domain.StatusUpdate{
				Expect:       domain.StatusDraft,
				Status:       domain.StatusRouted,
				ExpectOrders: expect,
			})
		})
	}

	err := route("o-1")
	s.Require().ErrorIs(err, domain.ErrInvalidTransition)
	var conflict *domain.MembershipConflictError
	s.Require().ErrorAs(err, &conflict)
	s.Equal(1, conflict.Added)
	s.Zero(conflict.Removed)

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Equal(domain.StatusDraft, loaded.Status)

	s.Require().NoError(route("o-2", "o-1"))
	loaded, err = s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Equal(domain.StatusRouted, loaded.Status)
}

func (s *runRepositorySuite) TestSaveRoutesReplacesPreviousPlan() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-1", "o-2")))

	save := func(routes []domain.Route, unassigned []domain.Stop) {
		err := s.repo.Atomically(ctx, func(tx ports.RunTx) error {
			return tx.SaveRoutes(ctx, run.RunID, routes, unassigned)
		})
		s.Require().NoError(err)
	}

	first, firstUnassigned := s.plan(run.RunID, "o-1", "o-2")
	save(first, firstUnassigned)
	second, secondUnassigned := s.plan(run.RunID, "o-2", "o-1")
	save(second, secondUnassigned)

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	s.Require().Len(loaded.Routes, 2)
	for i, r := range loaded.Routes {
		s.Equal(second[i].RouteID, r.RouteID)
		s.NotEqual(first[i].RouteID, r.RouteID)
	}
	s.Equal("o-2", loaded.Routes[0].Stops[0].OrderID)
	s.Equal("o-1", loaded.Unassigned[0].OrderID)
}

func (s *runRepositorySuite) TestDeleteRunCascades() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-1", "o-2")))

	routes, unassigned := s.plan(run.RunID, "o-1", "o-2")
	s.Require().NoError(s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		return tx.SaveRoutes(ctx, run.RunID, routes, unassigned)
	}))

	s.Require().NoError(s.repo.DeleteRun(ctx, run.RunID))

	_, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().ErrorIs(err, domain.ErrRunNotFound)
	s.Require().ErrorIs(s.repo.DeleteRun(ctx, run.RunID), domain.ErrRunNotFound)

	pending, err := s.repo.ListUngroupedOrders(ctx)
	s.Require().NoError(err)
	s.Len(pending, 2)

	// A late commit must not resurrect the run.
	err = s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		return tx.SaveRoutes(ctx, run.RunID, routes, unassigned)
	})
	s.Require().ErrorIs(err, domain.ErrRunNotFound)

	err = s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		return tx.UpdateStatus(ctx, run.RunID, domain.StatusUpdate{Expect: domain.StatusDraft, Status: domain.StatusRouted})
	})
	s.Require().ErrorIs(err, domain.ErrRunNotFound)
}

func (s *runRepositorySuite) TestSaveGeocodes() {
	ctx := context.Background()
	run := s.newRun(deliveryDay)
	s.Require().NoError(s.repo.AddOrders(ctx, run.RunID, s.orders("o-1")))

	coords := domain.Coordinates{Lat: 33.45, Lon: -112.07}
	s.Require().NoError(s.repo.Atomically(ctx, func(tx ports.RunTx) error {
		return tx.SaveGeocodes(ctx, []domain.GeocodeUpdate{{OrderID: "o-1", Address: "o-1 Main St", Coordinates: coords}})
	}))

	loaded, err := s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	got, ok := loaded.Orders[0].ResolvedCoordinates()
	s.Require().True(ok)
	s.Equal(coords, got)

	// Re-adding the order with a new address keeps the old geocode but no
	// longer trusts it.
	moved := s.orders("o-1")
	moved[0].Address = "99 Elm St"
	s.putOrders(moved...)

	loaded, err = s.repo.LoadRun(ctx, run.RunID)
	s.Require().NoError(err)
	_, ok = loaded.Orders[0].ResolvedCoordinates()
	s.False(ok)
}
