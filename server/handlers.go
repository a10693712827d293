package server

import (
	"encoding/json"
	"net/http"

	"github.com/ventelive/livebridge/broadcast"
	"github.com/ventelive/livebridge/connector"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	conn *connector.Connector
	hub  *broadcast.Broadcaster
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(conn *connector.Connector, hub *broadcast.Broadcaster) *Handlers {
	return &Handlers{conn: conn, hub: hub}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
