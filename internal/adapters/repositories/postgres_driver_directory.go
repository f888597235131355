package repositories

import (
	"context"
	"database/sql"
	"delivery-run-service/internal/domain"
	"errors"
	"fmt"
)

// Postgres-backed implementation of the DriverDirectory port.
type PostgresDriverDirectory struct{ DB *sql.DB }

func NewPostgresDriverDirectory(db *sql.DB) *PostgresDriverDirectory {
	return &PostgresDriverDirectory{DB: db}
}

// Return every driver, active or not, ordered by id.
func (p *PostgresDriverDirectory) ListDrivers(ctx context.Context) ([]domain.Driver, error) {
	if p.DB == nil {
		return nil, errors.New("postgres driver directory: DB is nil")
	}

	rows, err := p.DB.QueryContext(ctx, `
	SELECT
		driver_id,
		name,
		active
	FROM drivers
	ORDER BY driver_id;
	`)
	if err != nil {
		return nil, fmt.Errorf("list drivers: query drivers table: %w", err)
	}
	defer rows.Close()

	drivers := make([]domain.Driver, 0, 16)
	for rows.Next() {
		var d domain.Driver
		if err := rows.Scan(&d.DriverID, &d.Name, &d.Active); err != nil {
			return nil, fmt.Errorf("list drivers: scan row: %w", err)
		}
		drivers = append(drivers, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list drivers: row iteration: %w", err)
	}

	return drivers, nil
}
