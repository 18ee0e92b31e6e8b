package api

import (
	"context"

	"coderoom/internal/models"
)

/*
LEARNING: CONSUMER-DRIVEN INTERFACES (Go Idiom)

This package (api/handlers) is the CONSUMER of storage, auth and the session
engine, so the interfaces it depends on live HERE.

Both storage backends (GORM/Postgres and embedded SQLite) satisfy these
without knowing this package exists, and tests swap in in-memory fakes.
*/

// RoomDirectory is the durable room store
type RoomDirectory interface {
	CreateRoom(ctx context.Context, ownerID string) (*models.Room, error)
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	SaveRoom(ctx context.Context, roomID, code, language string) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Room, error)
	UpdateFlags(ctx context.Context, roomID string, update *models.RoomFlagsUpdate) (*models.Room, error)
}

// UserStore holds registered accounts
type UserStore interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// TokenIssuer signs credentials at login and verifies them on every request
type TokenIssuer interface {
	IssueToken(user *models.User) (string, error)
	VerifyCredential(ctx context.Context, token string) (*models.Identity, error)
}

// LiveRooms is what handlers need from the session engine
type LiveRooms interface {
	// SaveRoom routes an explicit save through a live room; live is false
	// when nobody is connected and the caller must write directly. Empty
	// code keeps the room's live text.
	SaveRoom(ctx context.Context, roomID, code, language string) (live bool, err error)
	UpdateRoomFlags(rec *models.Room)
}
