package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// LiveSession is one connection's membership in one room
// Memory only: it is created on join and dropped on leave/disconnect
type LiveSession struct {
	ConnectionID  string          `json:"connectionId"`
	RoomID        string          `json:"roomId"`
	UserID        string          `json:"userId"`
	DisplayName   string          `json:"displayName"`
	JoinedAt      time.Time       `json:"joinedAt"`
	LastCursorPos *CursorPosition `json:"lastCursorPos,omitempty"`
}

// Presence is the public projection of a LiveSession sent in users_update
type Presence struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	DisplayName  string `json:"displayName"`
}

// CursorPosition represents where a user's cursor is in the document
type CursorPosition struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// PendingEdit is the newest unflushed code for a room
type PendingEdit struct {
	Code       string
	Language   string // empty when the edit did not carry a language
	ReceivedAt time.Time
}

// NewConnectionID returns a fresh, time-ordered connection id
func NewConnectionID() string {
	return ksuid.New().String()
}

func NewLiveSession(connectionID, roomID string, identity Identity) *LiveSession {
	return &LiveSession{
		ConnectionID: connectionID,
		RoomID:       roomID,
		UserID:       identity.UserID,
		DisplayName:  identity.DisplayName,
		JoinedAt:     time.Now(),
	}
}

// Presence projects the session to its public fields
func (s *LiveSession) Presence() Presence {
	return Presence{
		ConnectionID: s.ConnectionID,
		UserID:       s.UserID,
		DisplayName:  s.DisplayName,
	}
}
