package collaboration

import (
	"context"
	"log"
	"net/http"

	"coderoom/internal/middleware"
	"coderoom/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// Authenticator is the Identity Verifier consumed at handshake
type Authenticator interface {
	VerifyCredential(ctx context.Context, token string) (*models.Identity, error)
}

// WebSocketHandler upgrades authenticated requests into room connections
type WebSocketHandler struct {
	sessionManager *SessionManager
	authenticator  Authenticator
	upgrader       websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler.
// allowedOrigin "" or "*" accepts any origin.
func NewWebSocketHandler(sessionManager *SessionManager, authenticator Authenticator, allowedOrigin string) *WebSocketHandler {
	return &WebSocketHandler{
		sessionManager: sessionManager,
		authenticator:  authenticator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" || allowedOrigin == "*" {
					return true
				}
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

// HandleRoomConnection authenticates, upgrades, and starts the pumps.
// A bad credential fails the handshake with 401: the socket is never opened.
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect")
	defer span.End()

	identity, err := h.authenticator.VerifyCredential(ctx, middleware.BearerToken(r))
	if err != nil {
		middleware.AddSpanError(ctx, err)
		log.Printf("[%s] WebSocket handshake rejected: %v", middleware.GetRequestID(ctx), err)
		http.Error(w, "Authentication error", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	c := h.sessionManager.NewConnection(*identity, conn)
	span.SetAttributes(
		attribute.String("connection.id", c.ID),
		attribute.String("user.id", identity.UserID),
	)

	// The request context ends when this handler returns; the connection
	// outlives it but keeps the trace as parent.
	connCtx := context.WithoutCancel(ctx)

	go c.WritePump()
	go c.ReadPump(connCtx, h.sessionManager)

	log.Printf("✓ WebSocket connection %s established (user: %s)", c.ID, identity.DisplayName)
}
