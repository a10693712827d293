package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ventelive/livebridge/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin checks are handled by the CORS layer; the push channel
	// carries no client-authored data.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request to the push channel and attaches it to
// the broadcaster. The new channel immediately receives a connection
// status snapshot so it never starts in an unknown state.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err), slog.String("component", "http"))
		return
	}
	var ch *broadcast.WSChannel
	ch = broadcast.NewWSChannel(conn, func() {
		h.hub.Detach(ch)
	})
	h.hub.Attach(ch)
}
