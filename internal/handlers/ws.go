package handlers

import (
	"net/http"

	"nhooyr.io/websocket"

	"github.com/atelierhq/atelier/internal/api/middleware"
	"github.com/atelierhq/atelier/internal/ws"
)

// WebSocket upgrades the connection and serves a live session. The auth
// middleware has already verified the ?token= query parameter, so the
// actor is in the context like any other request.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActorFromContext(r.Context())
	if actor == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{})
	if err != nil {
		// Accept has already written the error response.
		return
	}

	session := ws.NewSession(actor, conn, ws.Deps{
		Store:    h.store,
		Bus:      h.bus,
		Channels: h.channels,
		Tracker:  h.tracker,
		Calls:    h.calls,
		Logger:   h.logger,
	})
	session.Run(r.Context())
}
