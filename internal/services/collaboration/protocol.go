package collaboration

import (
	"encoding/json"
	"fmt"

	"coderoom/internal/models"
)

/*
LEARNING: A CLOSED PROTOCOL

Every frame is a JSON envelope {"type": ..., "data": ...}. The set of
event types is fixed below and the connection's dispatcher switches over
all inbound kinds, so adding an event means touching exactly one switch.
*/

// EventType names a protocol event
type EventType string

const (
	// client → server
	EventJoin           EventType = "join"
	EventLeave          EventType = "leave"
	EventCodeChange     EventType = "code_change"
	EventLanguageChange EventType = "language_change"
	EventCursorMove     EventType = "cursor_move"

	// server → client
	EventSnapshot       EventType = "snapshot"
	EventCodeUpdate     EventType = "code_update"
	EventLanguageUpdate EventType = "language_update"
	EventCursorUpdate   EventType = "cursor_update"
	EventUsersUpdate    EventType = "users_update"
	EventError          EventType = "error"
)

// Inbound reports whether clients may send this event type
func (t EventType) Inbound() bool {
	switch t {
	case EventJoin, EventLeave, EventCodeChange, EventLanguageChange, EventCursorMove:
		return true
	}
	return false
}

// Envelope is the wire frame
type Envelope struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client → server payloads

type RoomRef struct {
	RoomID string `json:"roomId"`
}

type CodeChange struct {
	RoomID   string  `json:"roomId"`
	Code     string  `json:"code"`
	Language *string `json:"language,omitempty"`
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type CursorMove struct {
	RoomID    string                `json:"roomId"`
	CursorPos models.CursorPosition `json:"cursorPos"`
}

// Server → client payloads

type Snapshot struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language"`
}

type CodeUpdate struct {
	RoomID   string `json:"roomId"`
	Code     string `json:"code"`
	Language string `json:"language,omitempty"`
}

type LanguageUpdate struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type CursorUpdate struct {
	RoomID      string                `json:"roomId"`
	UserID      string                `json:"userId"`
	DisplayName string                `json:"displayName"`
	CursorPos   models.CursorPosition `json:"cursorPos"`
}

type UsersUpdate struct {
	RoomID string            `json:"roomId"`
	Users  []models.Presence `json:"users"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
}

// encodeEvent builds a wire frame. Payloads are plain structs, so a marshal
// failure is a programming error.
func encodeEvent(t EventType, payload any) []byte {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("encode %s: %v", t, err))
	}
	frame, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		panic(fmt.Sprintf("encode %s envelope: %v", t, err))
	}
	return frame
}

// decodeEnvelope parses a frame and checks that it is a known inbound type
func decodeEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if !env.Type.Inbound() {
		return nil, fmt.Errorf("%w: %q", errUnknownEvent, env.Type)
	}
	return &env, nil
}

// decodePayload unmarshals the envelope data and requires a room id
func decodePayload[T any](env *Envelope, roomID func(*T) string) (*T, error) {
	var payload T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", errInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if roomID(&payload) == "" {
		return nil, fmt.Errorf("%w: %s requires roomId", errInvalidPayload, env.Type)
	}
	return &payload, nil
}
