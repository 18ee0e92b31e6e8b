package models

import "errors"

// Error taxonomy shared by the session engine, the stores and the HTTP layer.
// Callers wrap these with fmt.Errorf("...: %w") and test with errors.Is.
var (
	ErrAuthentication = errors.New("authentication error")
	ErrRoomNotFound   = errors.New("room not found")
	ErrReadOnly       = errors.New("room is read-only")
	ErrNotJoined      = errors.New("not joined to room")

	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)
