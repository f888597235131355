package repositories

import (
	"context"
	"database/sql"
	"delivery-run-service/internal/domain"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

var schemaStatements = []string{
	`
	CREATE TABLE IF NOT EXISTS drivers (
		driver_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		delivery_date DATE NOT NULL,
		service_minutes INTEGER NOT NULL DEFAULT 0,
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		geocoded_address TEXT
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS delivery_runs (
		run_id TEXT PRIMARY KEY,
		delivery_date DATE NOT NULL UNIQUE,
		status TEXT NOT NULL,
		window_start TEXT,
		distance_meters INTEGER NOT NULL DEFAULT 0,
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		last_optimized_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS run_orders (
		run_id TEXT NOT NULL REFERENCES delivery_runs(run_id) ON DELETE CASCADE,
		order_id TEXT NOT NULL UNIQUE REFERENCES orders(order_id),
		PRIMARY KEY (run_id, order_id)
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS routes (
		route_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES delivery_runs(run_id) ON DELETE CASCADE,
		driver_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		distance_meters INTEGER NOT NULL,
		duration_seconds INTEGER NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS stops (
		stop_id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL REFERENCES delivery_runs(run_id) ON DELETE CASCADE,
		route_id TEXT REFERENCES routes(route_id) ON DELETE CASCADE,
		sequence_index INTEGER NOT NULL,
		order_id TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL,
		eta TIMESTAMPTZ,
		unassigned BOOLEAN NOT NULL
	);
	`,
	`
	CREATE TABLE IF NOT EXISTS geocode_cache (
		address TEXT PRIMARY KEY,
		lat DOUBLE PRECISION NOT NULL,
		lon DOUBLE PRECISION NOT NULL
	);
	`,
	`
	CREATE UNIQUE INDEX IF NOT EXISTS idx_stops_route_sequence
	ON stops(route_id, sequence_index)
	WHERE route_id IS NOT NULL;
	`,
	`
	CREATE INDEX IF NOT EXISTS idx_stops_run ON stops(run_id);
	`,
	`
	CREATE INDEX IF NOT EXISTS idx_routes_run ON routes(run_id);
	`,
}

// Initialize the Postgres database schema.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("init schema: DB is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init schema: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: exec statement #%d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init schema: commit tx: %w", err)
	}

	return nil
}

type OrderSeed struct {
	OrderID        string `json:"order_id"`
	Address        string `json:"address"`
	DeliveryDate   string `json:"delivery_date"`
	ServiceMinutes int    `json:"service_minutes"`
}

type DriverSeed struct {
	DriverID string `json:"driver_id"`
	Name     string `json:"name"`
	Active   *bool  `json:"active"`
}

// LoadOrderSeeds reads and validates an orders JSON file.
func LoadOrderSeeds(jsonPath string) ([]domain.Order, error) {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("seed orders: read %q: %w", jsonPath, err)
	}

	var data []OrderSeed
	if err := json.Unmarshal(bytes, &data); err != nil {
		return nil, fmt.Errorf("seed orders: parse json: %w", err)
	}

	orders := make([]domain.Order, 0, len(data))
	for i, item := range data {
		id := strings.TrimSpace(item.OrderID)
		if id == "" {
			return nil, fmt.Errorf("seed orders: item at index %d: order_id cannot be empty", i+1)
		}

		addr := strings.TrimSpace(item.Address)
		if addr == "" {
			return nil, fmt.Errorf("seed orders: order_id=%s: address cannot be empty", id)
		}

		date, err := domain.ParseDate(item.DeliveryDate)
		if err != nil {
			return nil, fmt.Errorf("seed orders: order_id=%s: %w", id, err)
		}

		if item.ServiceMinutes < 0 {
			return nil, fmt.Errorf("seed orders: order_id=%s: service_minutes cannot be negative", id)
		}

		orders = append(orders, domain.Order{
			OrderID:        id,
			Address:        addr,
			DeliveryDate:   date,
			ServiceMinutes: item.ServiceMinutes,
		})
	}

	return orders, nil
}

// LoadDriverSeeds reads and validates a drivers JSON file. Drivers are
// active unless the file says otherwise.
func LoadDriverSeeds(jsonPath string) ([]domain.Driver, error) {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, fmt.Errorf("seed drivers: read %q: %w", jsonPath, err)
	}

	var data []DriverSeed
	if err := json.Unmarshal(bytes, &data); err != nil {
		return nil, fmt.Errorf("seed drivers: parse json: %w", err)
	}

	drivers := make([]domain.Driver, 0, len(data))
	for i, item := range data {
		id := strings.TrimSpace(item.DriverID)
		if id == "" {
			return nil, fmt.Errorf("seed drivers: item at index %d: driver_id cannot be empty", i+1)
		}

		active := true
		if item.Active != nil {
			active = *item.Active
		}
		drivers = append(drivers, domain.Driver{DriverID: id, Name: strings.TrimSpace(item.Name), Active: active})
	}

	return drivers, nil
}

// Populate the orders table from a JSON file. Existing orders keep their
// stored geocode unless the address changed.
func SeedOrdersFromJSON(ctx context.Context, db *sql.DB, jsonPath string) (int, error) {
	orders, err := LoadOrderSeeds(jsonPath)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("seed orders: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := upsertOrders(ctx, tx, orders); err != nil {
		return 0, fmt.Errorf("seed orders: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("seed orders: commit tx: %w", err)
	}

	return len(orders), nil
}

// Populate the drivers table from a JSON file.
func SeedDriversFromJSON(ctx context.Context, db *sql.DB, jsonPath string) (int, error) {
	drivers, err := LoadDriverSeeds(jsonPath)
	if err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("seed drivers: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO drivers (driver_id, name, active)
	VALUES ($1, $2, $3)
	ON CONFLICT (driver_id) DO UPDATE
	SET name = EXCLUDED.name,
		active = EXCLUDED.active;
	`)
	if err != nil {
		return 0, fmt.Errorf("seed drivers: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range drivers {
		if _, err := stmt.ExecContext(ctx, d.DriverID, d.Name, d.Active); err != nil {
			return 0, fmt.Errorf("seed drivers: insert driver_id=%s: %w", d.DriverID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("seed drivers: commit tx: %w", err)
	}

	return len(drivers), nil
}
