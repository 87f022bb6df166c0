package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/tablechat-io/tablechat/internal/api/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the fronting layer together with
	// the identity headers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket upgrades the connection and runs a hub session for the
// resolved user. Blocks until the client disconnects.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromRequest(r)
	if !ok {
		h.Error(w, http.StatusUnauthorized, "missing or invalid user identity")
		return
	}

	if err := h.data.UpsertUser(r.Context(), user); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store user")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	h.hub.NewSession(conn, user).Run()
}
