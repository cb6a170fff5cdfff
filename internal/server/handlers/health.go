package handlers

import "net/http"

// Health reports liveness and whether the report store is reachable.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("store ping failed", "error", err)
		status = "degraded"
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
