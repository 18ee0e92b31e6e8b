package collaboration

import (
	"sort"
	"sync"
	"time"

	"coderoom/internal/models"
)

/*
LEARNING: PER-ROOM LOCKING

The registry's own mutex guards only the roomID -> *room map and is held
for a map lookup/insert/delete. Everything about a room (members, pending
edit, debounce timer, last flushed state) lives behind that room's mutex,
so busy rooms never contend with each other.

Lock order: room.persistMu -> room.mu -> Registry.mu. No I/O happens while
room.mu or Registry.mu is held; persistMu is the one lock held across a
Room Directory write, and it only serializes writes for a single room.
*/

// Registry is the process-wide table of live rooms
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// acquire returns the live room, creating an empty one on first use.
// The caller must lock it and check closed before adding members.
func (r *Registry) acquire(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		rm = &room{id: roomID}
		r.rooms[roomID] = rm
	}
	return rm
}

// lookup returns the live room or nil
func (r *Registry) lookup(roomID string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// release drops the map entry if it still points at rm
func (r *Registry) release(rm *room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
}

// all returns the live rooms in id order
func (r *Registry) all() []*room {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].id < rooms[j].id })
	return rooms
}

// RoomIDs lists rooms with at least one member
func (r *Registry) RoomIDs() []string {
	rooms := r.all()
	ids := make([]string, 0, len(rooms))
	for _, rm := range rooms {
		ids = append(ids, rm.id)
	}
	return ids
}

// Members returns a copy of the room's live sessions in join order
func (r *Registry) Members(roomID string) []models.LiveSession {
	rm := r.lookup(roomID)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	sessions := make([]models.LiveSession, 0, len(rm.members))
	for _, m := range rm.members {
		sessions = append(sessions, *m.session)
	}
	return sessions
}

// Len reports the number of live rooms
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

type member struct {
	conn    *Connection
	session *models.LiveSession
}

// flushedState is what the Room Directory is known to hold
type flushedState struct {
	code     string
	language string
}

type room struct {
	id string

	// persistMu serializes Room Directory writes for this room
	persistMu sync.Mutex

	mu       sync.Mutex // protects the fields below
	members  []*member
	loaded   bool // ownerID/readOnly/flushed/language initialized from the directory
	ownerID  string
	readOnly bool
	flushed  flushedState
	language string // live language, may be ahead of flushed.language
	pending  *models.PendingEdit
	timer    *time.Timer
	timerGen uint64
	closed   bool // removed from the registry; acquire again
}

func (rm *room) indexOf(c *Connection) int {
	for i, m := range rm.members {
		if m.conn == c {
			return i
		}
	}
	return -1
}

func (rm *room) memberOf(c *Connection) *member {
	if i := rm.indexOf(c); i >= 0 {
		return rm.members[i]
	}
	return nil
}

// add registers c unless it is already a member. Reports whether it was added.
func (rm *room) add(c *Connection) bool {
	if rm.indexOf(c) >= 0 {
		return false
	}
	rm.members = append(rm.members, &member{
		conn:    c,
		session: models.NewLiveSession(c.ID, rm.id, c.Identity),
	})
	return true
}

// remove deletes c's session. Reports whether c was a member.
func (rm *room) remove(c *Connection) bool {
	i := rm.indexOf(c)
	if i < 0 {
		return false
	}
	rm.members = append(rm.members[:i], rm.members[i+1:]...)
	return true
}

// refresh copies the directory's view of ownership and flags.
// Content is taken only the first time: afterwards the room's own
// flushed state is at least as new as anything a concurrent read returned.
func (rm *room) refresh(rec *models.Room) {
	rm.ownerID = rec.OwnerID
	rm.readOnly = rec.IsReadOnly
	if !rm.loaded {
		rm.flushed = flushedState{code: rec.Code, language: rec.Language}
		rm.language = rec.Language
		rm.loaded = true
	}
}

// dirtyLocked reports whether the Room Directory is behind the live room
func (rm *room) dirtyLocked() bool {
	return rm.pending != nil || rm.language != rm.flushed.language
}

func (rm *room) canEdit(userID string) bool {
	return !rm.readOnly || rm.ownerID == userID
}

// broadcastLocked enqueues frame to every member except skip (nil = everyone).
// Called with rm.mu held so per-room delivery order equals acceptance order.
func (rm *room) broadcastLocked(frame []byte, skip *Connection) int {
	sent := 0
	for _, m := range rm.members {
		if m.conn == skip {
			continue
		}
		if m.conn.enqueue(frame) {
			sent++
		}
	}
	return sent
}

// stopTimerLocked cancels the debounce timer, if any
func (rm *room) stopTimerLocked() {
	if rm.timer != nil {
		rm.timer.Stop()
		rm.timer = nil
	}
	rm.timerGen++
}
