package ports

import (
	"context"
	"delivery-run-service/internal/domain"
)

// Contract for the upstream geocoding provider.
type Geocoder interface {
	// Resolve free-form address text to coordinates. Implementations apply
	// their own retry policy and return an error when no result is found.
	Geocode(ctx context.Context, address string) (domain.Coordinates, error)
}

// Cache of resolved addresses, keyed by normalized address text.
// Entries never expire; Delete invalidates an address explicitly.
type GeocodeCache interface {
	Get(ctx context.Context, key string) (domain.Coordinates, bool, error)
	Put(ctx context.Context, key string, c domain.Coordinates) error
	Delete(ctx context.Context, key string) error
}
