package collaboration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"coderoom/internal/models"

	"github.com/stretchr/testify/require"
)

type savedRoom struct {
	RoomID   string
	Code     string
	Language string
}

// memoryStore is an in-memory Room Directory that records every write
type memoryStore struct {
	mu       sync.Mutex
	rooms    map[string]models.Room
	saves    []savedRoom
	failures int // number of upcoming saves that fail

	// One-shot hooks run outside the lock. afterGet runs once the record
	// has been read, so it can hold back a stale copy.
	afterGet   func()
	beforeSave func()
}

func newMemoryStore(rooms ...models.Room) *memoryStore {
	s := &memoryStore{rooms: make(map[string]models.Room)}
	for _, r := range rooms {
		if r.Language == "" {
			r.Language = models.DefaultLanguage
		}
		s.rooms[r.RoomID] = r
	}
	return s
}

func (s *memoryStore) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	s.mu.Lock()

	r, ok := s.rooms[roomID]
	hook := s.afterGet
	s.afterGet = nil
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if !ok {
		return nil, fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}
	return &r, nil
}

func (s *memoryStore) SaveRoom(_ context.Context, roomID, code, language string) error {
	s.mu.Lock()
	hook := s.beforeSave
	s.beforeSave = nil
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("storage unavailable")
	}

	r, ok := s.rooms[roomID]
	if !ok {
		return fmt.Errorf("room %s: %w", roomID, models.ErrRoomNotFound)
	}
	r.Code = code
	if language != "" {
		r.Language = language
	}
	r.UpdatedAt = time.Now()
	s.rooms[roomID] = r
	s.saves = append(s.saves, savedRoom{RoomID: roomID, Code: code, Language: language})
	return nil
}

func (s *memoryStore) failNext(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

// gateGet makes the next GetRoom block after reading until release is closed
func (s *memoryStore) gateGet() (entered, release chan struct{}) {
	entered, release = make(chan struct{}), make(chan struct{})
	s.mu.Lock()
	s.afterGet = func() {
		close(entered)
		<-release
	}
	s.mu.Unlock()
	return entered, release
}

// gateSave makes the next SaveRoom block before writing until release is closed
func (s *memoryStore) gateSave() (entered, release chan struct{}) {
	entered, release = make(chan struct{}), make(chan struct{})
	s.mu.Lock()
	s.beforeSave = func() {
		close(entered)
		<-release
	}
	s.mu.Unlock()
	return entered, release
}

func (s *memoryStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func (s *memoryStore) history() []savedRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedRoom(nil), s.saves...)
}

func (s *memoryStore) lastSave() savedRoom {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return savedRoom{}
	}
	return s.saves[len(s.saves)-1]
}

func (s *memoryStore) room(roomID string) models.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rooms[roomID]
}

func newTestManager(t *testing.T, store RoomStore, debounce time.Duration) *SessionManager {
	t.Helper()
	sm := NewSessionManager(store, Options{SaveDebounce: debounce, SendBufferSize: 64})
	t.Cleanup(func() { sm.Shutdown(context.Background()) })
	return sm
}

func connect(sm *SessionManager, userID, name string) *Connection {
	return sm.NewConnection(models.Identity{UserID: userID, DisplayName: name}, nil)
}

// mustJoin joins and consumes the snapshot and the users_update it triggers
func mustJoin(t *testing.T, sm *SessionManager, c *Connection, roomID string) Snapshot {
	t.Helper()
	require.NoError(t, sm.Join(context.Background(), c, roomID))
	snap := expectEvent[Snapshot](t, c, EventSnapshot)
	expectEvent[UsersUpdate](t, c, EventUsersUpdate)
	return snap
}

const eventTimeout = time.Second

func nextEvent(t *testing.T, c *Connection) Envelope {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env
	case <-time.After(eventTimeout):
		t.Fatalf("timed out waiting for an event on connection %s", c.ID)
		return Envelope{}
	}
}

func expectEvent[T any](t *testing.T, c *Connection, want EventType) T {
	t.Helper()
	env := nextEvent(t, c)
	require.Equal(t, want, env.Type, "unexpected event %s: %s", env.Type, env.Data)

	var payload T
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	return payload
}

func assertNoEvent(t *testing.T, c *Connection) {
	t.Helper()
	select {
	case frame := <-c.Outbound():
		t.Fatalf("unexpected event on connection %s: %s", c.ID, frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func drain(c *Connection) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

func connectionIDs(users []models.Presence) []string {
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ConnectionID)
	}
	return ids
}

func strPtr(s string) *string { return &s }
