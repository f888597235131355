package distance

import (
	"context"
	"delivery-run-service/internal/domain"
	"errors"
)

var errNoGeocoder = errors.New("no geocoding provider configured")

// UnconfiguredGeocoder stands in when no ORS key is set. Orders that already
// carry coordinates still plan; anything needing a lookup fails as a
// geocode error.
type UnconfiguredGeocoder struct{}

func (UnconfiguredGeocoder) Geocode(_ context.Context, address string) (domain.Coordinates, error) {
	return domain.Coordinates{}, &domain.GeocodeError{Address: address, Cause: errNoGeocoder}
}
