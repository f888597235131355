package domain

import "time"

// Represents a single stop in a delivery route.
// A Stop corresponds to delivering one order at its resolved location at a
// computed time. Stops that could not be placed on any route are kept with
// Unassigned set, an empty RouteID and no ETA.
type Stop struct {
	StopID        string
	RunID         string
	RouteID       string
	SequenceIndex int
	OrderID       string
	Coordinates   Coordinates
	ETA           *time.Time
	Unassigned    bool
}

// Represents the planned delivery route for a single driver.
// A Route is the output of an optimization and describes the ordered
// sequence of stops along with route-level distance and duration.
// Routes are replaced wholesale by each optimization, never patched.
type Route struct {
	RouteID         string
	RunID           string
	DriverID        string
	Stops           []Stop
	DistanceMeters  int
	DurationSeconds int
}

func (r Route) DistanceKm() float64 { return float64(r.DistanceMeters) / 1000 }

func (r Route) DurationMin() float64 { return float64(r.DurationSeconds) / 60 }
