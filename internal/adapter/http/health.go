package http

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"
)

const healthTimeout = 3 * time.Second

type healthStatus struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthHandler reports ok when every check passes and 503 otherwise.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := healthStatus{Status: "ok", Components: make(map[string]string, len(h.Health))}
	code := http.StatusOK
	for _, name := range slices.Sorted(maps.Keys(h.Health)) {
		if err := h.Health[name](ctx); err != nil {
			status.Components[name] = err.Error()
			status.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status.Components[name] = "ok"
	}
	writeJSON(w, code, status)
}
