package dto

type DriverResponse struct {
	DriverID string `json:"driver_id"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

type ListDriversResponse struct {
	Drivers []DriverResponse `json:"drivers"`
}

type SkippedOrderResponse struct {
	OrderID string `json:"order_id"`
	RunID   string `json:"run_id,omitempty"`
	Reason  string `json:"reason"`
}

type GroupOrdersResponse struct {
	CreatedRuns []string               `json:"created_runs"`
	Added       int                    `json:"added"`
	Skipped     []SkippedOrderResponse `json:"skipped"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
