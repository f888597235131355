package handlers

import (
	"context"
	"delivery-run-service/internal/api/dto"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/services"
	"net/http"
)

// RunHandler exposes delivery runs and their lifecycle.
type RunHandler struct {
	Runs      *services.RunService
	Optimizer *services.RunOptimizationCoordinator
}

func (h *RunHandler) List(w http.ResponseWriter, r *http.Request) {
	runs, err := h.Runs.ListRuns(r.Context())
	if err != nil {
		writeServiceError(w, r, "list runs", err)
		return
	}

	res := dto.ListRunsResponse{
		Runs: make([]dto.RunSummaryResponse, 0, len(runs)),
	}
	for _, s := range runs {
		res.Runs = append(res.Runs, summaryResponse(s))
	}

	writeJSON(w, r, http.StatusOK, res)
}

func (h *RunHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateRunRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	date, err := domain.ParseDate(req.DeliveryDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	run, err := h.Runs.CreateRun(r.Context(), date)
	if err != nil {
		writeServiceError(w, r, "create run", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, runResponse(run))
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	run, err := h.Runs.GetRun(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "get run", err)
		return
	}

	writeJSON(w, r, http.StatusOK, runResponse(run))
}

func (h *RunHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Runs.DeleteRun(r.Context(), id); err != nil {
		writeServiceError(w, r, "delete run", err)
		return
	}
	h.Optimizer.Forget(id)

	w.WriteHeader(http.StatusNoContent)
}

func (h *RunHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.ActionLock, h.Runs.Lock)
}

func (h *RunHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.ActionUnlock, h.Runs.Unlock)
}

func (h *RunHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.ActionDispatch, h.Runs.Dispatch)
}

func (h *RunHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.ActionComplete, h.Runs.Complete)
}

func (h *RunHandler) transition(
	w http.ResponseWriter,
	r *http.Request,
	action domain.Action,
	apply func(ctx context.Context, runID string) (*domain.DeliveryRun, error),
) {
	run, err := apply(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, string(action)+" run", err)
		return
	}

	writeJSON(w, r, http.StatusOK, summaryResponse(run.Summary()))
}

func summaryResponse(s domain.RunSummary) dto.RunSummaryResponse {
	return dto.RunSummaryResponse{
		RunID:           s.RunID,
		DeliveryDate:    s.DeliveryDate.String(),
		Status:          string(s.Status),
		OrderCount:      s.OrderCount,
		RouteCount:      s.RouteCount,
		StopCount:       s.StopCount,
		UnassignedCount: s.UnassignedCount,
		DistanceKm:      s.DistanceKm,
		DurationMin:     s.DurationMin,
		LastOptimizedAt: s.LastOptimizedAt,
	}
}

func stopResponse(s domain.Stop) dto.StopResponse {
	return dto.StopResponse{
		StopID:        s.StopID,
		OrderID:       s.OrderID,
		SequenceIndex: s.SequenceIndex,
		Lat:           s.Coordinates.Lat,
		Lon:           s.Coordinates.Lon,
		ETA:           s.ETA,
	}
}

func runResponse(run *domain.DeliveryRun) dto.RunResponse {
	res := dto.RunResponse{
		RunSummaryResponse: summaryResponse(run.Summary()),
		CreatedAt:          run.CreatedAt,
		Orders:             make([]dto.OrderResponse, 0, len(run.Orders)),
		Routes:             make([]dto.RouteResponse, 0, len(run.Routes)),
		Unassigned:         make([]dto.StopResponse, 0, len(run.Unassigned)),
	}
	if run.DeliveryWindowStart != nil {
		start := run.DeliveryWindowStart.String()
		res.DeliveryWindowStart = &start
	}

	for _, o := range run.Orders {
		or := dto.OrderResponse{
			OrderID:        o.OrderID,
			Address:        o.Address,
			ServiceMinutes: o.ServiceMinutes,
		}
		if c, ok := o.ResolvedCoordinates(); ok {
			or.Lat, or.Lon = &c.Lat, &c.Lon
		}
		res.Orders = append(res.Orders, or)
	}

	for _, rt := range run.Routes {
		route := dto.RouteResponse{
			RouteID:     rt.RouteID,
			DriverID:    rt.DriverID,
			DistanceKm:  rt.DistanceKm(),
			DurationMin: rt.DurationMin(),
			Stops:       make([]dto.StopResponse, 0, len(rt.Stops)),
		}
		for _, s := range rt.Stops {
			route.Stops = append(route.Stops, stopResponse(s))
		}
		res.Routes = append(res.Routes, route)
	}

	for _, s := range run.Unassigned {
		res.Unassigned = append(res.Unassigned, stopResponse(s))
	}

	return res
}
