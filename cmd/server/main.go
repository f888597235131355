package main

import (
	"context"
	"database/sql"
	"delivery-run-service/internal/adapters/cache"
	"delivery-run-service/internal/adapters/distance"
	"delivery-run-service/internal/adapters/repositories"
	"delivery-run-service/internal/api"
	"delivery-run-service/internal/config"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/jobs"
	"delivery-run-service/internal/platform/db"
	"delivery-run-service/internal/ports"
	"delivery-run-service/internal/services"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"
)

// store is the persistence side of the composition root.
type store struct {
	runs    ports.RunRepository
	drivers ports.DriverDirectory
	// Durable geocode tier, nil when the store keeps none.
	geocodes ports.GeocodeCache
	ping     func(ctx context.Context) error
	close    func() error
}

// main is the application composition root.
// It wires concrete adapters (Postgres or memory, Redis, ORS) behind ports and starts the HTTP server.
func main() {
	config.LoadDotEnv()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer st.close()

	geocodes, err := geocodeCache(ctx, cfg, st)
	if err != nil {
		log.Fatal(err)
	}

	geocoder, matrix, err := providers(cfg)
	if err != nil {
		log.Fatal(err)
	}

	locks := services.NewRunLocks()
	runs := services.NewRunService(st.runs, locks, nil)
	optimizer := services.NewRouteOptimizer(services.OptimizerOptions{
		MaxStopsPerDriver:    cfg.MaxStopsPerDriver,
		MaxImprovementPasses: cfg.Max2OptPasses,
		ReturnToDepot:        cfg.ReturnToDepot,
		DefaultService:       cfg.ServiceDuration(),
	})

	coordCfg := services.CoordinatorConfig{
		DepotAddress: cfg.DepotAddress,
		Location:     cfg.Location,
		Timeout:      cfg.OptimizeTimeout,
	}
	if lat, lon, ok := cfg.FixedDepot(); ok {
		depot := domain.Coordinates{Lat: lat, Lon: lon}
		if err := depot.Validate(); err != nil {
			log.Fatalf("depot: %v", err)
		}
		coordCfg.Depot = &depot
	}

	coordinator := services.NewRunOptimizationCoordinator(
		st.runs,
		st.drivers,
		services.NewGeocodeResolver(geocoder, geocodes, cfg.GeocodeWorkers),
		matrix,
		optimizer,
		locks,
		coordCfg,
	)

	if cfg.GroupingSchedule != "" {
		grouping := jobs.NewOrderGroupingJob(runs, cfg.GroupingSchedule, time.Minute)
		if err := grouping.Start(); err != nil {
			log.Fatal(err)
		}
		defer grouping.Stop()
	}

	router := api.NewRouter(api.Deps{
		Runs:      runs,
		Optimizer: coordinator,
		Drivers:   st.drivers,
		Ping:      st.ping,
	})

	// Timeouts are tuned for cold-cache route planning (external API latency).
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.OptimizeTimeout + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server listening addr=:%s store=%s", cfg.Port, cfg.Store)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server failed: %v", err)
		}
	case <-ctx.Done():
		log.Printf("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.Store == "memory" {
		return openMemoryStore(cfg)
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	// Initialize schema and seed demo data on startup for local runs.
	if err := initAndSeed(ctx, conn, cfg); err != nil {
		conn.Close()
		return nil, err
	}

	return &store{
		runs:     repositories.NewPostgresRunRepository(conn),
		drivers:  repositories.NewPostgresDriverDirectory(conn),
		geocodes: cache.NewSQLGeocodeCache(conn),
		ping:     conn.PingContext,
		close:    conn.Close,
	}, nil
}

func openMemoryStore(cfg *config.Config) (*store, error) {
	repo := repositories.NewMemoryRunRepository()

	if cfg.SeedPath != "" {
		orders, err := repositories.LoadOrderSeeds(cfg.SeedPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		repo.PutOrders(orders...)
	}
	if cfg.DriversSeedPath != "" {
		drivers, err := repositories.LoadDriverSeeds(cfg.DriversSeedPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("memory store: %w", err)
		}
		repo.PutDrivers(drivers...)
	}

	return &store{
		runs:    repo,
		drivers: repo,
		ping:    func(context.Context) error { return nil },
		close:   func() error { return nil },
	}, nil
}

func initAndSeed(ctx context.Context, conn *sql.DB, cfg *config.Config) error {
	if err := repositories.InitSchema(ctx, conn); err != nil {
		return fmt.Errorf("init and seed: %w", err)
	}

	if cfg.SeedPath != "" {
		n, err := repositories.SeedOrdersFromJSON(ctx, conn, cfg.SeedPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("init and seed: %w", err)
		}
		log.Printf("seeded orders=%d path=%s", n, cfg.SeedPath)
	}
	if cfg.DriversSeedPath != "" {
		n, err := repositories.SeedDriversFromJSON(ctx, conn, cfg.DriversSeedPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("init and seed: %w", err)
		}
		log.Printf("seeded drivers=%d path=%s", n, cfg.DriversSeedPath)
	}

	return nil
}

// geocodeCache puts a process-local tier in front of whatever durable tiers
// are configured: Redis when REDIS_URL is set, then the store's own table.
func geocodeCache(ctx context.Context, cfg *config.Config, st *store) (ports.GeocodeCache, error) {
	durable := st.geocodes

	if cfg.RedisURL != "" {
		client, err := cache.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		shared := cache.NewRedisGeocodeCache(client)
		if durable == nil {
			durable = shared
		} else {
			durable = cache.NewTieredGeocodeCache(shared, durable)
		}
	}

	if durable == nil {
		return cache.NewMemoryGeocodeCache(), nil
	}
	return cache.NewTieredGeocodeCache(cache.NewMemoryGeocodeCache(), durable), nil
}

// providers returns the ORS client for both roles when a key is configured.
// Without one, legs are estimated locally and only orders that already carry
// coordinates can be planned.
func providers(cfg *config.Config) (ports.Geocoder, ports.DistanceMatrixProvider, error) {
	if cfg.ORSAPIKey == "" {
		log.Printf("ORS_API_KEY not set: using haversine matrix, geocoding disabled")
		return distance.UnconfiguredGeocoder{}, distance.NewHaversineMatrixProvider(), nil
	}

	client, err := distance.NewORSClient(cfg.ORSAPIKey)
	if err != nil {
		return nil, nil, err
	}
	return client, client, nil
}
