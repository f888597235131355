package handlers

import (
	"delivery-run-service/internal/api/dto"
	"delivery-run-service/internal/ports"
	"net/http"
)

// DriverHandler exposes the read-only driver directory.
type DriverHandler struct {
	Drivers ports.DriverDirectory
}

func (h *DriverHandler) List(w http.ResponseWriter, r *http.Request) {
	drivers, err := h.Drivers.ListDrivers(r.Context())
	if err != nil {
		writeServiceError(w, r, "list drivers", err)
		return
	}

	res := dto.ListDriversResponse{
		Drivers: make([]dto.DriverResponse, 0, len(drivers)),
	}
	for _, d := range drivers {
		res.Drivers = append(res.Drivers, dto.DriverResponse{
			DriverID: d.DriverID,
			Name:     d.Name,
			Active:   d.Active,
		})
	}

	writeJSON(w, r, http.StatusOK, res)
}
