package dto

import "time"

type CreateRunRequest struct {
	DeliveryDate string `json:"delivery_date" validate:"required,datetime=2006-01-02"`
}

type RunSummaryResponse struct {
	RunID           string     `json:"run_id"`
	DeliveryDate    string     `json:"delivery_date"`
	Status          string     `json:"status"`
	OrderCount      int        `json:"order_count"`
	RouteCount      int        `json:"route_count"`
	StopCount       int        `json:"stop_count"`
	UnassignedCount int        `json:"unassigned_count"`
	DistanceKm      float64    `json:"distance_km"`
	DurationMin     float64    `json:"duration_min"`
	LastOptimizedAt *time.Time `json:"last_optimized_at"`
}

type ListRunsResponse struct {
	Runs []RunSummaryResponse `json:"runs"`
}

type OrderResponse struct {
	OrderID        string   `json:"order_id"`
	Address        string   `json:"address"`
	ServiceMinutes int      `json:"service_minutes"`
	Lat            *float64 `json:"lat"`
	Lon            *float64 `json:"lon"`
}

type StopResponse struct {
	StopID        string     `json:"stop_id"`
	OrderID       string     `json:"order_id"`
	SequenceIndex int        `json:"sequence_index"`
	Lat           float64    `json:"lat"`
	Lon           float64    `json:"lon"`
	ETA           *time.Time `json:"eta"`
}

type RouteResponse struct {
	RouteID     string         `json:"route_id"`
	DriverID    string         `json:"driver_id"`
	DistanceKm  float64        `json:"distance_km"`
	DurationMin float64        `json:"duration_min"`
	Stops       []StopResponse `json:"stops"`
}

type RunResponse struct {
	RunSummaryResponse
	DeliveryWindowStart *string         `json:"delivery_window_start"`
	CreatedAt           time.Time       `json:"created_at"`
	Orders              []OrderResponse `json:"orders"`
	Routes              []RouteResponse `json:"routes"`
	Unassigned          []StopResponse  `json:"unassigned"`
}
