package api

import (
	"net/http"

	"coderoom/internal/middleware"

	"github.com/gorilla/mux"
)

func SetupRoutes(h *Handler) *mux.Router {
	r := mux.NewRouter()

	// Apply global middleware
	// Learning: Middleware runs in order - tracing first, then recovery, then CORS
	r.Use(middleware.TracingMiddleware)       // Add tracing spans to all requests
	r.Use(middleware.ErrorRecoveryMiddleware) // Catch panics
	r.Use(middleware.CORSMiddleware)          // Handle CORS

	// API routes
	api := r.PathPrefix("/api").Subrouter()

	// Public endpoints
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/auth/register", h.Register).Methods("POST")
	api.HandleFunc("/auth/login", h.Login).Methods("POST")

	// Everything else needs a bearer token
	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.RequireAuth(h.tokens))

	// Room endpoints
	protected.HandleFunc("/rooms", h.CreateRoom).Methods("POST")
	protected.HandleFunc("/rooms/{roomId}", h.GetRoom).Methods("GET")
	protected.HandleFunc("/rooms/{roomId}", h.UpdateRoomFlags).Methods("PATCH")
	protected.HandleFunc("/rooms/{roomId}/save", h.SaveRoom).Methods("POST")
	protected.HandleFunc("/users/me/rooms", h.ListMyRooms).Methods("GET")

	// WebSocket route
	r.HandleFunc("/ws/rooms", h.HandleRoomWebSocket).Methods("GET")

	// Preflight requests never match a method-restricted route, so give
	// them one; CORSMiddleware answers them before this handler runs
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return r
}
