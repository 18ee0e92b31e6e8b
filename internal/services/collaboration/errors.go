package collaboration

import (
	"errors"
	"fmt"

	"coderoom/internal/models"
)

var (
	errInvalidPayload = errors.New("invalid payload")
	errUnknownEvent   = errors.New("unknown event type")
)

// PersistenceError wraps a failed Room Directory write.
// It is logged and traced, never sent to a connection.
type PersistenceError struct {
	RoomID string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist room %s: %v", e.RoomID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// clientMessage maps an operation error to the text of an error event
func clientMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, models.ErrReadOnly):
		return "Room is read-only"
	case errors.Is(err, models.ErrNotJoined):
		return "Not joined to room"
	case errors.Is(err, errUnknownEvent):
		return "Unknown event type"
	case errors.Is(err, errInvalidPayload):
		return "Invalid payload"
	default:
		return "Internal error"
	}
}
