package api

import (
	"net/http"
)

// WebSocket endpoints

// HandleRoomWebSocket upgrades to a room session connection.
// Authentication happens inside the handshake, not in RequireAuth, so a
// rejected client gets its 401 from the collaboration package.
func (h *Handler) HandleRoomWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleRoomConnection(w, r)
}
