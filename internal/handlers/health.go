package handlers

import (
	"net/http"
	"time"

	"github.com/parsegate/parsegate/internal/api"
)

// HealthHandler answers liveness probes for one service surface.
type HealthHandler struct {
	service string
}

func NewHealthHandler(service string) *HealthHandler {
	return &HealthHandler{service: service}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteError(w, http.StatusMethodNotAllowed, api.CodeMethodNotAllowed, "use GET", nil)
		return
	}

	api.WriteJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": h.service,
		"ts":      time.Now().Unix(),
	})
}
