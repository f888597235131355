package cache

import (
	"context"
	"database/sql"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/platform/obs"
	"errors"
	"fmt"
	"strings"
)

// SQLGeocodeCache is a Postgres table mapping normalized addresses to
// coordinates. Keys are expected to be normalized by the caller.
type SQLGeocodeCache struct {
	DB *sql.DB
}

func NewSQLGeocodeCache(db *sql.DB) *SQLGeocodeCache {
	return &SQLGeocodeCache{DB: db}
}

// Fetch cached coordinates for one address.
func (s *SQLGeocodeCache) Get(ctx context.Context, key string) (_ domain.Coordinates, _ bool, err error) {
	defer obs.Time(ctx, "geocode.cache.sql.get")(&err)

	if s.DB == nil {
		return domain.Coordinates{}, false, errors.New("geocode cache: db is nil")
	}

	var c domain.Coordinates
	err = s.DB.QueryRowContext(ctx, `
	SELECT lat, lon
	FROM geocode_cache
	WHERE address = $1;
	`, key).Scan(&c.Lat, &c.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Coordinates{}, false, nil
	}
	if err != nil {
		return domain.Coordinates{}, false, fmt.Errorf("get geocode cache %q: %w", key, err)
	}

	return c, true, nil
}

// Store an address -> coordinates mapping, replacing any previous one.
func (s *SQLGeocodeCache) Put(ctx context.Context, key string, c domain.Coordinates) error {
	if s.DB == nil {
		return errors.New("geocode cache: db is nil")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("insert geocode cache: empty address key")
	}

	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO geocode_cache (address, lat, lon)
	VALUES ($1, $2, $3)
	ON CONFLICT (address) DO UPDATE
	SET lat = EXCLUDED.lat,
		lon = EXCLUDED.lon;
	`, key, c.Lat, c.Lon)
	if err != nil {
		return fmt.Errorf("insert geocode cache %q: %w", key, err)
	}

	return nil
}

func (s *SQLGeocodeCache) Delete(ctx context.Context, key string) error {
	if s.DB == nil {
		return errors.New("geocode cache: db is nil")
	}

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM geocode_cache WHERE address = $1;`, key); err != nil {
		return fmt.Errorf("delete geocode cache %q: %w", key, err)
	}
	return nil
}
