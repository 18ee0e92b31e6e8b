package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"coderoom/internal/auth"
	"coderoom/internal/middleware"
	"coderoom/internal/models"
	"coderoom/internal/services/collaboration"

	"github.com/gorilla/mux"
)

const (
	minPasswordLength = 6
	defaultRoomLimit  = 50
	maxRoomLimit      = 200
)

// Handler handles HTTP requests
// Learning: Uses INTERFACES defined in this package (consumer-driven)
type Handler struct {
	rooms     RoomDirectory
	users     UserStore
	tokens    TokenIssuer
	live      LiveRooms
	wsHandler *collaboration.WebSocketHandler
	clientURL string
}

func NewHandler(
	rooms RoomDirectory,
	users UserStore,
	tokens TokenIssuer,
	live LiveRooms,
	wsHandler *collaboration.WebSocketHandler,
	clientURL string,
) *Handler {
	return &Handler{
		rooms:     rooms,
		users:     users,
		tokens:    tokens,
		live:      live,
		wsHandler: wsHandler,
		clientURL: strings.TrimRight(clientURL, "/"),
	}
}

// Request/response bodies

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type createdRoom struct {
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	RoomURL   string    `json:"roomURL"`
}

type saveRequest struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("⚠️  Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Message: message})
}

// serverError logs the cause with the request id and hides it from the client
func serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	middleware.AddSpanError(r.Context(), err)
	log.Printf("[%s] ❌ %s: %v", middleware.GetRequestID(r.Context()), op, err)
	writeError(w, http.StatusInternalServerError, "Server error")
}

func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// Auth handlers

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "Valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		serverError(w, r, "hash password", err)
		return
	}

	user, err := h.users.CreateUser(r.Context(), req.Name, req.Email, hash)
	if errors.Is(err, models.ErrEmailTaken) {
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	}
	if err != nil {
		serverError(w, r, "create user", err)
		return
	}

	h.respondWithToken(w, r, http.StatusCreated, user)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.users.GetByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if errors.Is(err, models.ErrUserNotFound) {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}
	if err != nil {
		serverError(w, r, "find user", err)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusBadRequest, "Invalid credentials")
		return
	}

	h.respondWithToken(w, r, http.StatusOK, user)
}

func (h *Handler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, err := h.tokens.IssueToken(user)
	if err != nil {
		serverError(w, r, "issue token", err)
		return
	}
	writeJSON(w, status, authResponse{Token: token, User: user})
}

// Room handlers

func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	room, err := h.rooms.CreateRoom(r.Context(), identity.UserID)
	if err != nil {
		serverError(w, r, "create room", err)
		return
	}

	log.Printf("[%s] ✓ Room %s created by %s", middleware.GetRequestID(r.Context()), room.RoomID, identity.UserID)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Room created successfully",
		"room": createdRoom{
			RoomID:    room.RoomID,
			CreatedAt: room.CreatedAt,
			RoomURL:   fmt.Sprintf("%s/room/%s", h.clientURL, room.RoomID),
		},
	})
}

func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.findRoom(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"room": room})
}

// SaveRoom stores code explicitly. An empty code keeps what is stored.
func (h *Handler) SaveRoom(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var req saveRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, ok := h.findRoom(w, r)
	if !ok {
		return
	}
	if !room.CanEdit(identity.UserID) {
		writeError(w, http.StatusForbidden, "Room is read-only")
		return
	}

	// A live room resolves empty code against its own unflushed text
	live, err := h.live.SaveRoom(r.Context(), room.RoomID, req.Code, req.Language)
	if err == nil && !live {
		code := req.Code
		if code == "" {
			code = room.Code
		}
		err = h.rooms.SaveRoom(r.Context(), room.RoomID, code, req.Language)
	}
	if err != nil {
		serverError(w, r, "save room", err)
		return
	}

	saved, err := h.rooms.GetRoom(r.Context(), room.RoomID)
	if err != nil {
		serverError(w, r, "reload room", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   "Room saved successfully",
		"updatedAt": saved.UpdatedAt,
	})
}

// UpdateRoomFlags lets the owner toggle isReadOnly and isLocked
func (h *Handler) UpdateRoomFlags(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	var update models.RoomFlagsUpdate
	if err := decodeBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	room, ok := h.findRoom(w, r)
	if !ok {
		return
	}
	if room.OwnerID != identity.UserID {
		writeError(w, http.StatusForbidden, "Only the room owner can change its settings")
		return
	}

	updated, err := h.rooms.UpdateFlags(r.Context(), room.RoomID, &update)
	if err != nil {
		serverError(w, r, "update room flags", err)
		return
	}
	h.live.UpdateRoomFlags(updated)

	writeJSON(w, http.StatusOK, map[string]interface{}{"room": updated})
}

func (h *Handler) ListMyRooms(w http.ResponseWriter, r *http.Request) {
	identity, _ := middleware.IdentityFromContext(r.Context())

	limit := defaultRoomLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = min(parsed, maxRoomLimit)
		}
	}

	rooms, err := h.rooms.ListByOwner(r.Context(), identity.UserID, limit)
	if err != nil {
		serverError(w, r, "list rooms", err)
		return
	}
	if rooms == nil {
		rooms = []*models.Room{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

func (h *Handler) findRoom(w http.ResponseWriter, r *http.Request) (*models.Room, bool) {
	roomID := mux.Vars(r)["roomId"]

	room, err := h.rooms.GetRoom(r.Context(), roomID)
	if errors.Is(err, models.ErrRoomNotFound) {
		writeError(w, http.StatusNotFound, "Room not found")
		return nil, false
	}
	if err != nil {
		serverError(w, r, "get room", err)
		return nil, false
	}
	return room, true
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
