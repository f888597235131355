package api

import (
	"context"
	"delivery-run-service/internal/api/handlers"
	"delivery-run-service/internal/ports"
	"delivery-run-service/internal/services"
	"net/http"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Runs      *services.RunService
	Optimizer *services.RunOptimizationCoordinator
	Drivers   ports.DriverDirectory
	// Optional readiness check for /health.
	Ping func(ctx context.Context) error
}

// NewRouter wires HTTP handlers with their dependencies and returns an http.Handler.
// This is the API composition root (handlers stay unaware of concrete adapters).
func NewRouter(deps Deps) http.Handler {
	mux := http.NewServeMux()

	health := &handlers.HealthHandler{Ping: deps.Ping}
	runs := &handlers.RunHandler{Runs: deps.Runs, Optimizer: deps.Optimizer}
	drivers := &handlers.DriverHandler{Drivers: deps.Drivers}
	orders := &handlers.OrderHandler{Runs: deps.Runs}

	mux.HandleFunc("GET /health", health.Get)

	mux.HandleFunc("GET /runs", runs.List)
	mux.HandleFunc("POST /runs", runs.Create)
	mux.HandleFunc("GET /runs/{id}", runs.Get)
	mux.HandleFunc("DELETE /runs/{id}", runs.Delete)
	mux.HandleFunc("POST /runs/{id}/lock", runs.Lock)
	mux.HandleFunc("POST /runs/{id}/unlock", runs.Unlock)
	mux.HandleFunc("POST /runs/{id}/dispatch", runs.Dispatch)
	mux.HandleFunc("POST /runs/{id}/complete", runs.Complete)
	mux.HandleFunc("POST /runs/{id}/optimize", runs.Optimize)
	mux.HandleFunc("GET /runs/{id}/optimization", runs.OptimizationStatus)

	mux.HandleFunc("GET /drivers", drivers.List)
	mux.HandleFunc("POST /orders/group", orders.Group)

	return requestIDMiddleware(loggingMiddleware(mux))
}
