package domain

import "time"

// DefaultServiceDuration is the on-site time assumed for an order that does
// not carry its own estimate.
const DefaultServiceDuration = 10 * time.Minute

// Represents a single customer order that needs to be delivered.
// An Order has an opaque identifier owned by the ordering system and a single
// delivery address. Coordinates are populated once the address has been
// geocoded; GeocodedAddress records which address text they belong to.
type Order struct {
	OrderID         string
	Address         string
	DeliveryDate    Date
	ServiceMinutes  int
	Coordinates     *Coordinates
	GeocodedAddress string
}

// ResolvedCoordinates returns the stored coordinates if they still describe
// the current address text.
func (o *Order) ResolvedCoordinates() (Coordinates, bool) {
	if o.Coordinates == nil {
		return Coordinates{}, false
	}
	if NormalizeAddress(o.GeocodedAddress) != NormalizeAddress(o.Address) {
		return Coordinates{}, false
	}
	return *o.Coordinates, true
}

// ServiceDuration returns the expected on-site time, falling back to the
// supplied default when the order has none.
func (o *Order) ServiceDuration(fallback time.Duration) time.Duration {
	if o.ServiceMinutes > 0 {
		return time.Duration(o.ServiceMinutes) * time.Minute
	}
	return fallback
}

// GeocodeUpdate is a freshly resolved coordinate for an order, written back
// together with the routes that used it.
type GeocodeUpdate struct {
	OrderID     string
	Address     string
	Coordinates Coordinates
}
