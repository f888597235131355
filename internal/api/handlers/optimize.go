package handlers

import (
	"context"
	"delivery-run-service/internal/api/dto"
	"delivery-run-service/internal/domain"
	"delivery-run-service/internal/services"
	"net/http"
)

// Optimize plans routes for a run. By default it waits for the result; with
// "async": true it returns 202 and the job can be polled through
// OptimizationStatus.
func (h *RunHandler) Optimize(w http.ResponseWriter, r *http.Request) {
	var req dto.OptimizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start, err := domain.ParseTimeOfDay(req.StartTime)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_argument", err.Error())
		return
	}

	cmd := services.OptimizeCommand{
		RunID:     r.PathValue("id"),
		DriverIDs: req.DriverIDs,
		StartTime: &start,
	}

	if req.Async {
		// The job must outlive this request.
		job, err := h.Optimizer.Start(context.WithoutCancel(r.Context()), cmd)
		if err != nil {
			writeServiceError(w, r, "optimize run", err)
			return
		}
		writeJSON(w, r, http.StatusAccepted, jobResponse(job.Status()))
		return
	}

	outcome, err := h.Optimizer.Optimize(r.Context(), cmd)
	if err != nil {
		writeServiceError(w, r, "optimize run", err)
		return
	}

	res := dto.OptimizeResponse{Run: summaryResponse(outcome.Run.Summary())}
	if outcome.Notice != nil {
		res.Notice = outcome.Notice.Error()
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *RunHandler) OptimizationStatus(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	status, ok := h.Optimizer.LastJob(runID)
	if !ok {
		writeError(w, r, http.StatusNotFound, "job_not_found", "no optimization has been started for run "+runID)
		return
	}

	writeJSON(w, r, http.StatusOK, jobResponse(status))
}

func jobResponse(st services.JobStatus) dto.JobResponse {
	res := dto.JobResponse{
		RunID:      st.RunID,
		State:      string(st.State),
		StartedAt:  st.StartedAt,
		FinishedAt: st.FinishedAt,
	}
	if st.Err != nil {
		_, kind := errorKind(st.Err)
		res.Error = st.Err.Error()
		res.ErrorKind = kind
	}
	if st.Outcome != nil {
		summary := summaryResponse(st.Outcome.Run.Summary())
		res.Run = &summary
		if st.Outcome.Notice != nil {
			res.Notice = st.Outcome.Notice.Error()
		}
	}
	return res
}
