package server

import (
	"encoding/json"
	"net/http"
)

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with the connector
// state and open channel count.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	st := h.conn.Status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":        "ready",
		"upstream":      st.State,
		"open_channels": h.hub.Len(),
	})
}
