package handlers

import (
	"net/http"
	"time"

	"github.com/parsegate/parsegate/internal/api"
	"github.com/parsegate/parsegate/internal/config"
	"github.com/parsegate/parsegate/internal/router"
)

// PoolStatusHandler reports provider readiness. It doubles as the
// self-check: every call recomputes the snapshot from live config and
// rewrites the cached copy the routers consult.
type PoolStatusHandler struct {
	config *config.Manager
	router *router.Router
}

func NewPoolStatusHandler(cfg *config.Manager, rt *router.Router) *PoolStatusHandler {
	return &PoolStatusHandler{config: cfg, router: rt}
}

func (h *PoolStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.WriteError(w, http.StatusMethodNotAllowed, api.CodeMethodNotAllowed, "use GET", nil)
		return
	}

	status := h.router.Refresh(r.Context())
	premiumReady := h.config.Get().Premium.Configured()

	api.WriteJSON(w, http.StatusOK, api.Envelope{
		OK: true,
		TS: time.Now().Unix(),
		Data: map[string]any{
			"free_pool_ready":  status.ProviderAReady || status.ProviderBReady,
			"provider_a_ready": status.ProviderAReady,
			"provider_b_ready": status.ProviderBReady,
			"premium_ready":    premiumReady,
		},
	})
}
