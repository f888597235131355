package dto

import "time"

type OptimizeRequest struct {
	DriverIDs []string `json:"driver_ids" validate:"max=100,dive,required"`
	StartTime string   `json:"start_time" validate:"required,datetime=15:04"`
	// Return 202 with the job instead of waiting for the result.
	Async bool `json:"async"`
}

type OptimizeResponse struct {
	Run    RunSummaryResponse `json:"run"`
	Notice string             `json:"notice,omitempty"`
}

type JobResponse struct {
	RunID      string              `json:"run_id"`
	State      string              `json:"state"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt *time.Time          `json:"finished_at"`
	Error      string              `json:"error,omitempty"`
	ErrorKind  string              `json:"error_kind,omitempty"`
	Notice     string              `json:"notice,omitempty"`
	Run        *RunSummaryResponse `json:"run,omitempty"`
}
