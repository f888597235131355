package repositories

import (
	"context"
	"database/sql"
	"delivery-run-service/internal/adapters/cache"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/db"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type PostgresRunRepositorySuite struct {
	runRepositorySuite
	container *postgres.PostgresContainer
	db        *sql.DB
}

func TestPostgresRunRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	suite.Run(t, new(PostgresRunRepositorySuite))
}

func (s *PostgresRunRepositorySuite) SetupSuite() {
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("runs"),
		postgres.WithUsername("runs"),
		postgres.WithPassword("runs"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.db, err = db.Open(ctx, dsn)
	s.Require().NoError(err)
	s.Require().NoError(InitSchema(ctx, s.db))
	// Idempotent.
	s.Require().NoError(InitSchema(ctx, s.db))

	s.repo = NewPostgresRunRepository(s.db)
	s.putOrders = func(orders ...domain.Order) {
		tx, err := s.db.BeginTx(ctx, nil)
		s.Require().NoError(err)
		defer func() { _ = tx.Rollback() }()
		s.Require().NoError(upsertOrders(ctx, tx, orders))
		s.Require().NoError(tx.Commit())
	}
}

func (s *PostgresRunRepositorySuite) SetupTest() {
	_, err := s.db.ExecContext(context.Background(), `
	TRUNCATE stops, routes, run_orders, delivery_runs, orders, drivers, geocode_cache CASCADE;
	`)
	s.Require().NoError(err)
}

func (s *PostgresRunRepositorySuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresRunRepositorySuite) TestSeedFilesAndDriverDirectory() {
	ctx := context.Background()
	seeds := filepath.Join("..", "..", "..", "data", "seeds")

	n, err := SeedDriversFromJSON(ctx, s.db, filepath.Join(seeds, "drivers.json"))
	s.Require().NoError(err)
	s.Positive(n)

	drivers, err := NewPostgresDriverDirectory(s.db).ListDrivers(ctx)
	s.Require().NoError(err)
	s.Len(drivers, n)
	for i := 1; i < len(drivers); i++ {
		s.Less(drivers[i-1].DriverID, drivers[i].DriverID)
	}

	n, err = SeedOrdersFromJSON(ctx, s.db, filepath.Join(seeds, "orders.json"))
	s.Require().NoError(err)

	pending, err := s.repo.ListUngroupedOrders(ctx)
	s.Require().NoError(err)
	s.Len(pending, n)

	// Re-seeding is an upsert.
	again, err := SeedOrdersFromJSON(ctx, s.db, filepath.Join(seeds, "orders.json"))
	s.Require().NoError(err)
	s.Equal(n, again)
	pending, err = s.repo.ListUngroupedOrders(ctx)
	s.Require().NoError(err)
	s.Len(pending, n)
}

func (s *PostgresRunRepositorySuite) TestSQLGeocodeCache() {
	ctx := context.Background()
	c := cache.NewSQLGeocodeCache(s.db)

	_, ok, err := c.Get(ctx, "1 main st")
	s.Require().NoError(err)
	s.False(ok)

	want := domain.Coordinates{Lat: 33.4484, Lon: -112.074}
	s.Require().NoError(c.Put(ctx, "1 main st", want))
	s.Require().NoError(c.Put(ctx, "1 main st", want))

	got, ok, err := c.Get(ctx, "1 main st")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(want, got)

	s.Require().NoError(c.Delete(ctx, "1 main st"))
	_, ok, err = c.Get(ctx, "1 main st")
	s.Require().NoError(err)
	s.False(ok)
}
