package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ventelive/livebridge/connector"
)

// HandleStart binds the connector to a broadcaster identity. The response
// means "request accepted"; connection success or failure arrives later
// as connection events on the push channel.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.conn.Start(body.Identity); err != nil {
		if errors.Is(err, connector.ErrIdentityMissing) {
			writeMessage(w, http.StatusBadRequest, "identity is required")
			return
		}
		writeMessage(w, http.StatusBadGateway, err.Error())
		return
	}
	slog.Info("start accepted", slog.String("identity", body.Identity), slog.String("component", "http"))
	writeMessage(w, http.StatusAccepted, fmt.Sprintf("connecting to %s", body.Identity))
}

// HandleStop tears down the active session. Always succeeds.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.conn.Stop()
	writeMessage(w, http.StatusOK, "stopped")
}

// HandleActive lists currently active broadcaster identities. The process
// is single-tenant today, so the array carries zero or one entry.
func (h *Handlers) HandleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := h.conn.Status()
	identities := []string{}
	if st.Active && st.Identity != "" {
		identities = append(identities, st.Identity)
	}
	writeJSON(w, http.StatusOK, identities)
}
