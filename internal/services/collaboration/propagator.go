package collaboration

import (
	"context"
	"fmt"
	"log"
	"time"

	"coderoom/internal/middleware"
	"coderoom/internal/models"

	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: BROADCAST NOW, PERSIST LATER

An accepted edit is fanned out to peers immediately while the room lock is
held (so peers see edits in acceptance order). Persistence is debounced
per room: each edit replaces the room's PendingEdit and restarts a single
timer, so a burst of keystrokes becomes one write of the final text.

Consistency model: last writer wins. Two people typing at once overwrite
each other's buffers; there is no merge.
*/

// OnCodeChange accepts an edit from c and propagates it
func (sm *SessionManager) OnCodeChange(ctx context.Context, c *Connection, roomID, code string, language *string) error {
	rm := sm.registry.lookup(roomID)
	if rm == nil {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.indexOf(c) < 0 {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}
	if !rm.canEdit(c.Identity.UserID) {
		return fmt.Errorf("room %s: %w", roomID, models.ErrReadOnly)
	}

	update := CodeUpdate{RoomID: roomID, Code: code}
	edit := &models.PendingEdit{Code: code, ReceivedAt: time.Now()}
	if language != nil && *language != "" {
		update.Language = *language
		edit.Language = *language
		rm.language = *language
	}

	peers := rm.broadcastLocked(encodeEvent(EventCodeUpdate, update), c)
	middleware.AddSpanEvent(ctx, "code_update broadcast", attribute.Int("peers", peers))

	rm.pending = edit
	sm.scheduleFlushLocked(rm)

	return nil
}

// OnLanguageChange sets the room language, tells everyone (sender included)
// and persists right away
func (sm *SessionManager) OnLanguageChange(ctx context.Context, c *Connection, roomID, language string) error {
	if language == "" {
		return fmt.Errorf("%w: language is required", errInvalidPayload)
	}

	rm := sm.registry.lookup(roomID)
	if rm == nil {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}

	rm.mu.Lock()
	if rm.indexOf(c) < 0 {
		rm.mu.Unlock()
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}
	if !rm.canEdit(c.Identity.UserID) {
		rm.mu.Unlock()
		return fmt.Errorf("room %s: %w", roomID, models.ErrReadOnly)
	}

	rm.language = language
	rm.broadcastLocked(encodeEvent(EventLanguageUpdate, LanguageUpdate{RoomID: roomID, Language: language}), nil)
	rm.mu.Unlock()

	// Failures stay inside the engine; the next trigger retries
	_ = sm.writeRoom(ctx, rm)
	return nil
}

// SaveRoom is an explicit save of a live room (REST). It supersedes any
// pending edit, broadcasts the saved code to every member and writes
// synchronously. live is false when nobody is in the room, in which case
// the caller writes to the Room Directory itself. An empty code keeps the
// room's current live code.
func (sm *SessionManager) SaveRoom(ctx context.Context, roomID, code, language string) (live bool, err error) {
	rm := sm.registry.lookup(roomID)
	if rm == nil {
		return false, nil
	}

	rm.mu.Lock()
	if rm.closed || !rm.loaded {
		rm.mu.Unlock()
		return false, nil
	}
	if code == "" {
		code = rm.flushed.code
		if rm.pending != nil {
			code = rm.pending.Code
		}
	}
	update := CodeUpdate{RoomID: roomID, Code: code}
	edit := &models.PendingEdit{Code: code, ReceivedAt: time.Now()}
	if language != "" {
		update.Language = language
		edit.Language = language
		rm.language = language
	}
	rm.pending = edit
	rm.broadcastLocked(encodeEvent(EventCodeUpdate, update), nil)
	rm.mu.Unlock()

	return true, sm.writeRoom(ctx, rm)
}

// UpdateRoomFlags refreshes the cached read-only flag of a live room
func (sm *SessionManager) UpdateRoomFlags(rec *models.Room) {
	rm := sm.registry.lookup(rec.RoomID)
	if rm == nil {
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.ownerID = rec.OwnerID
	rm.readOnly = rec.IsReadOnly
}

// scheduleFlushLocked restarts the room's debounce timer
func (sm *SessionManager) scheduleFlushLocked(rm *room) {
	rm.stopTimerLocked()
	gen := rm.timerGen
	rm.timer = time.AfterFunc(sm.debounce, func() {
		sm.flushDue(rm, gen)
	})
}

// flushDue runs when a debounce window closes. A timer that was superseded
// after it fired (generation mismatch) writes nothing.
func (sm *SessionManager) flushDue(rm *room, gen uint64) {
	_ = sm.persist(context.Background(), rm, func() bool {
		return rm.timerGen == gen && rm.pending != nil
	})
}

// Flush forces the pending edit of a live room to the Room Directory
func (sm *SessionManager) Flush(ctx context.Context, roomID string) error {
	rm := sm.registry.lookup(roomID)
	if rm == nil {
		return nil
	}
	return sm.writeRoom(ctx, rm)
}

// writeRoom writes the room if it is dirty. A language-only write reuses
// the last flushed code.
func (sm *SessionManager) writeRoom(ctx context.Context, rm *room) error {
	return sm.persist(ctx, rm, rm.dirtyLocked)
}

// persist performs one Room Directory write for rm if due() holds.
// due is evaluated under rm.mu together with taking the pending edit.
// Writes for one room are serialized by persistMu and each one carries
// the newest code and language at the time it starts, so a language write
// and a debounced code write can never undo each other.
func (sm *SessionManager) persist(ctx context.Context, rm *room, due func() bool) error {
	rm.persistMu.Lock()
	defer rm.persistMu.Unlock()

	rm.mu.Lock()
	if rm.closed || !due() {
		rm.mu.Unlock()
		return nil
	}
	edit := rm.pending
	rm.pending = nil
	rm.stopTimerLocked()

	code := rm.flushed.code
	if edit != nil {
		code = edit.Code
	}
	language := rm.language
	rm.mu.Unlock()

	ctx, span := middleware.StartSpan(ctx, "Room.Flush",
		attribute.String("room.id", rm.id),
		attribute.Int("code.size", len(code)),
	)
	defer span.End()

	err := sm.store.SaveRoom(ctx, rm.id, code, language)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if err != nil {
		perr := &PersistenceError{RoomID: rm.id, Err: err}
		middleware.AddSpanError(ctx, perr)
		log.Printf("⚠️  Failed to persist room %s: %v (will retry on next trigger)", rm.id, err)

		// Keep the edit for the next trigger unless a newer one already replaced it.
		// A language that failed to write stays ahead of flushed.language.
		if edit != nil && rm.pending == nil {
			rm.pending = edit
		}
		return perr
	}

	rm.flushed = flushedState{code: code, language: language}
	sm.writes.Add(1)
	return nil
}
