package handlers

import (
	"delivery-run-service/internal/api/dto"
	"delivery-run-service/internal/services"
	"net/http"
)

type OrderHandler struct {
	Runs *services.RunService
}

// Group assigns every ungrouped order to the run for its delivery date now,
// rather than waiting for the scheduled job.
func (h *OrderHandler) Group(w http.ResponseWriter, r *http.Request) {
	report, err := h.Runs.GroupPendingOrders(r.Context())
	if err != nil {
		writeServiceError(w, r, "group orders", err)
		return
	}

	res := dto.GroupOrdersResponse{
		CreatedRuns: report.CreatedRuns,
		Added:       report.Added,
		Skipped:     make([]dto.SkippedOrderResponse, 0, len(report.Skipped)),
	}
	if res.CreatedRuns == nil {
		res.CreatedRuns = []string{}
	}
	for _, s := range report.Skipped {
		res.Skipped = append(res.Skipped, dto.SkippedOrderResponse{
			OrderID: s.OrderID,
			RunID:   s.RunID,
			Reason:  s.Reason,
		})
	}

	writeJSON(w, r, http.StatusOK, res)
}
