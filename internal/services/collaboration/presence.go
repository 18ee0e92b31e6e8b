package collaboration

import (
	"context"
	"fmt"

	"coderoom/internal/models"
)

// presenceLocked projects the members in join order
func (rm *room) presenceLocked() []models.Presence {
	users := make([]models.Presence, 0, len(rm.members))
	for _, m := range rm.members {
		users = append(users, m.session.Presence())
	}
	return users
}

// announceLocked sends the full member list to every member.
// Always called after the membership mutation, under the same hold of rm.mu,
// so nobody ever sees a list that still contains a departed connection.
func (rm *room) announceLocked() {
	if len(rm.members) == 0 {
		return
	}
	rm.broadcastLocked(encodeEvent(EventUsersUpdate, UsersUpdate{
		RoomID: rm.id,
		Users:  rm.presenceLocked(),
	}), nil)
}

// Announce re-sends the member list of a live room
func (sm *SessionManager) Announce(roomID string) {
	rm := sm.registry.lookup(roomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.announceLocked()
}

// MoveCursor relays a cursor position to the sender's peers.
// The position is kept on the session only until it leaves.
func (sm *SessionManager) MoveCursor(ctx context.Context, c *Connection, roomID string, pos models.CursorPosition) error {
	rm := sm.registry.lookup(roomID)
	if rm == nil {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	m := rm.memberOf(c)
	if m == nil {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}
	p := pos
	m.session.LastCursorPos = &p

	rm.broadcastLocked(encodeEvent(EventCursorUpdate, CursorUpdate{
		RoomID:      roomID,
		UserID:      c.Identity.UserID,
		DisplayName: c.Identity.DisplayName,
		CursorPos:   pos,
	}), c)

	return nil
}
