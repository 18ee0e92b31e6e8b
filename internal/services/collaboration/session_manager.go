package collaboration

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"coderoom/internal/models"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

/*
LEARNING: WEBSOCKET SESSION MANAGER

The session manager is the in-memory authority for who is in which room
and what each room's live document is.

Key Concepts:
1. **Per-room mutexes**: rooms are independent, so they never share a lock
2. **Broadcast under lock**: fan-out order matches the order edits were accepted
3. **Debounced persistence**: one durable write per burst of edits
4. **Flush on empty**: the last leaver's edits are written before the room goes away

Goroutines owned by the manager:
- saveLoop: periodic forced flush of all live rooms (SAVE_INTERVAL)
- one time.AfterFunc per room with a pending edit (the debounce timer)
*/

// RoomStore is what the session engine needs from the Room Directory
type RoomStore interface {
	GetRoom(ctx context.Context, roomID string) (*models.Room, error)
	SaveRoom(ctx context.Context, roomID, code, language string) error
}

// Options tune the session engine
type Options struct {
	SaveDebounce   time.Duration
	SaveInterval   time.Duration // 0 disables the periodic save loop
	SendBufferSize int
}

// DefaultOptions match the production defaults
func DefaultOptions() Options {
	return Options{
		SaveDebounce:   300 * time.Millisecond,
		SaveInterval:   30 * time.Second,
		SendBufferSize: 256,
	}
}

// SessionManager manages all live rooms and connections
type SessionManager struct {
	store    RoomStore
	registry *Registry

	debounce     time.Duration
	saveInterval time.Duration
	bufferSize   int

	connsMu sync.Mutex
	conns   map[*Connection]struct{}

	writes atomic.Int64 // successful Room Directory writes

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewSessionManager creates a new session manager
func NewSessionManager(store RoomStore, opts Options) *SessionManager {
	defaults := DefaultOptions()
	if opts.SaveDebounce <= 0 {
		opts.SaveDebounce = defaults.SaveDebounce
	}
	if opts.SendBufferSize <= 0 {
		opts.SendBufferSize = defaults.SendBufferSize
	}

	return &SessionManager{
		store:        store,
		registry:     NewRegistry(),
		debounce:     opts.SaveDebounce,
		saveInterval: opts.SaveInterval,
		bufferSize:   opts.SendBufferSize,
		conns:        make(map[*Connection]struct{}),
		done:         make(chan struct{}),
	}
}

// Registry exposes the live session table (read-only use)
func (sm *SessionManager) Registry() *Registry {
	return sm.registry
}

// Writes reports how many Room Directory writes succeeded
func (sm *SessionManager) Writes() int64 {
	return sm.writes.Load()
}

// Start begins background work
func (sm *SessionManager) Start() {
	log.Println("🔄 Starting room session manager...")

	if sm.saveInterval > 0 {
		sm.wg.Add(1)
		go sm.saveLoop()
	}

	log.Printf("✓ Room session manager started (debounce %s, save interval %s)", sm.debounce, sm.saveInterval)
}

// saveLoop periodically flushes every dirty live room.
// This is also what retries writes that failed with no further edits.
func (sm *SessionManager) saveLoop() {
	defer sm.wg.Done()

	ticker := time.NewTicker(sm.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sm.done:
			return
		case <-ticker.C:
			if err := sm.FlushAll(context.Background()); err != nil {
				log.Printf("⚠️  Periodic save incomplete: %v", err)
			}
		}
	}
}

// FlushAll writes every dirty live room, rooms in parallel.
// One room failing does not cancel the others.
func (sm *SessionManager) FlushAll(ctx context.Context) error {
	var g errgroup.Group
	for _, rm := range sm.registry.all() {
		g.Go(func() error {
			return sm.writeRoom(ctx, rm)
		})
	}
	return g.Wait()
}

// NewConnection creates a connection for an authenticated identity.
// conn may be nil for in-process clients (tests, tools).
func (sm *SessionManager) NewConnection(identity models.Identity, conn *websocket.Conn) *Connection {
	c := newConnection(identity, conn, sm.bufferSize)

	sm.connsMu.Lock()
	sm.conns[c] = struct{}{}
	sm.connsMu.Unlock()

	return c
}

// Join adds c to roomID, sends it the room snapshot and announces presence.
// The record is read after the registry entry is held, so a retire of an
// earlier entry for the same room has already written its last edit.
func (sm *SessionManager) Join(ctx context.Context, c *Connection, roomID string) error {
	for {
		rm := sm.registry.acquire(roomID)

		rec, err := sm.store.GetRoom(ctx, roomID)
		if err != nil {
			sm.discardUnloaded(rm)
			if errors.Is(err, models.ErrRoomNotFound) {
				return err
			}
			return fmt.Errorf("failed to load room %s: %w", roomID, err)
		}

		rm.mu.Lock()
		if rm.closed {
			// Lost a race with the last leaver; the entry is already gone
			rm.mu.Unlock()
			continue
		}

		rm.refresh(rec)
		added := rm.add(c)
		if added {
			c.track(roomID)
		}

		// The snapshot is what the Room Directory holds, never unflushed live edits
		c.enqueue(encodeEvent(EventSnapshot, Snapshot{
			RoomID:   roomID,
			Code:     rm.flushed.code,
			Language: rm.flushed.language,
		}))
		if added {
			rm.announceLocked()
		}
		members := len(rm.members)
		rm.mu.Unlock()

		if added {
			log.Printf("  Connection %s (%s) joined room %s (total: %d users)",
				c.ID, c.Identity.DisplayName, roomID, members)
		}
		return nil
	}
}

// discardUnloaded drops an entry that a failed Join created and nobody uses
func (sm *SessionManager) discardUnloaded(rm *room) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed || rm.loaded || len(rm.members) > 0 {
		return
	}
	rm.closed = true
	sm.registry.release(rm)
}

// Leave removes c from roomID. When c was the last member, the pending
// edit is flushed before the room is dropped from the registry.
func (sm *SessionManager) Leave(ctx context.Context, c *Connection, roomID string) error {
	rm := sm.registry.lookup(roomID)
	if rm == nil {
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}

	rm.mu.Lock()
	if !rm.remove(c) {
		rm.mu.Unlock()
		return fmt.Errorf("room %s: %w", roomID, models.ErrNotJoined)
	}
	c.untrack(roomID)
	rm.announceLocked()
	remaining := len(rm.members)
	rm.mu.Unlock()

	log.Printf("  Connection %s left room %s (remaining: %d users)", c.ID, roomID, remaining)

	if remaining == 0 {
		sm.retire(ctx, rm)
	}
	return nil
}

// retire flushes an empty room and removes it from the registry.
// If someone joined during the flush the room stays.
func (sm *SessionManager) retire(ctx context.Context, rm *room) {
	_ = sm.writeRoom(ctx, rm)

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed || len(rm.members) > 0 {
		return
	}
	if rm.dirtyLocked() {
		log.Printf("❌ Room %s closed with unsaved changes after a failed write", rm.id)
	}
	rm.stopTimerLocked()
	rm.pending = nil
	rm.closed = true
	sm.registry.release(rm)
}

// Disconnect leaves every room c joined and forgets the connection.
// Safe to call more than once and concurrently with Leave.
func (sm *SessionManager) Disconnect(ctx context.Context, c *Connection) {
	for _, roomID := range c.Rooms() {
		if err := sm.Leave(ctx, c, roomID); err != nil && !errors.Is(err, models.ErrNotJoined) {
			log.Printf("⚠️  Connection %s: leave %s on disconnect: %v", c.ID, roomID, err)
		}
	}

	sm.connsMu.Lock()
	delete(sm.conns, c)
	sm.connsMu.Unlock()

	c.Close()
}

// Shutdown flushes every live room and closes all connections
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	log.Println("🛑 Shutting down room session manager...")

	sm.closeOnce.Do(func() { close(sm.done) })
	sm.wg.Wait()

	err := sm.FlushAll(ctx)
	if err != nil {
		log.Printf("⚠️  Final flush incomplete: %v", err)
	}

	sm.connsMu.Lock()
	conns := make([]*Connection, 0, len(sm.conns))
	for c := range sm.conns {
		conns = append(conns, c)
	}
	sm.connsMu.Unlock()

	// Read pumps observe the closed sockets and run Disconnect themselves
	for _, c := range conns {
		c.Close()
	}

	log.Println("✓ Room session manager shutdown complete")
	return err
}
