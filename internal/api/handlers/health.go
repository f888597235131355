package handlers

import (
	"context"
	"log"
	"net/http"
	"time"
)

// HealthHandler provides a liveness check. When Ping is set, the check also
// verifies the backing store is reachable.
type HealthHandler struct {
	Ping func(ctx context.Context) error
}

func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.Ping(ctx); err != nil {
			log.Printf("health check failed: %v", err)
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
