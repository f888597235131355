package domain

// Driver operating one vehicle. Vehicles have no capacity limit unless the
// optimizer is configured with one.
type Driver struct {
	DriverID string
	Name     string
	Active   bool
}
