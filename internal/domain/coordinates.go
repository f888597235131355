package domain

import (
	"fmt"
	"strings"
)

// Immutable geographic coordinates.
type Coordinates struct {
	Lat float64
	Lon float64
}

// Return coordinates as [lon, lat] for external API compatibility.
func (c Coordinates) CoordsToList() []float64 { return []float64{c.Lon, c.Lat} }

// Validate reports whether the coordinates lie within WGS84 bounds.
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return fmt.Errorf("coordinates: latitude %f out of range", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("coordinates: longitude %f out of range", c.Lon)
	}
	return nil
}

func (c Coordinates) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// NormalizeAddress produces the cache key for an address: whitespace is
// collapsed and letters are lower-cased.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
