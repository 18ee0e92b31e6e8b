package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"coderoom/internal/auth"
	"coderoom/internal/models"
	"coderoom/internal/repository"
	"coderoom/internal/services/collaboration"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	router *mux.Router
	store  *repository.SQLiteStore
	sm     *collaboration.SessionManager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sm := collaboration.NewSessionManager(store, collaboration.Options{SaveDebounce: time.Hour})
	t.Cleanup(func() { sm.Shutdown(context.Background()) })

	tokens := auth.NewJWTAuthenticator("test-secret", time.Hour, store)
	ws := collaboration.NewWebSocketHandler(sm, tokens, "")
	h := NewHandler(store, store, tokens, sm, ws, "http://localhost:3000/")

	return &testAPI{router: SetupRoutes(h), store: store, sm: sm}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

// register creates an account and returns its token and user id
func (a *testAPI) register(t *testing.T, name, email string) (string, string) {
	t.Helper()
	rec := a.do(t, "POST", "/api/auth/register", "", registerRequest{Name: name, Email: email, Password: "secret123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp authResponse
	decode(t, rec, &resp)
	return resp.Token, resp.User.ID
}

func (a *testAPI) createRoom(t *testing.T, token string) string {
	t.Helper()
	rec := a.do(t, "POST", "/api/rooms", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Room createdRoom `json:"room"`
	}
	decode(t, rec, &resp)
	return resp.Room.RoomID
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func TestHealth(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "GET", "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestPreflightIsAnsweredWithCORSHeaders(t *testing.T) {
	a := newTestAPI(t)
	rec := a.do(t, "OPTIONS", "/api/rooms", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRegisterAndLogin(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, "POST", "/api/auth/register", "", registerRequest{Name: "Alice", Email: "Alice@Example.com", Password: "secret123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "password")

	var registered authResponse
	decode(t, rec, &registered)
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "alice@example.com", registered.User.Email)

	rec = a.do(t, "POST", "/api/auth/register", "", registerRequest{Name: "Alice 2", Email: "alice@example.com", Password: "secret123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, "POST", "/api/auth/login", "", loginRequest{Email: "alice@example.com", Password: "secret123"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var loggedIn authResponse
	decode(t, rec, &loggedIn)
	assert.Equal(t, registered.User.ID, loggedIn.User.ID)

	rec = a.do(t, "POST", "/api/auth/login", "", loginRequest{Email: "alice@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, "POST", "/api/auth/login", "", loginRequest{Email: "nobody@example.com", Password: "secret123"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	a := newTestAPI(t)

	for _, req := range []registerRequest{
		{Name: "", Email: "a@example.com", Password: "secret123"},
		{Name: "A", Email: "not-an-email", Password: "secret123"},
		{Name: "A", Email: "a@example.com", Password: "short"},
	} {
		rec := a.do(t, "POST", "/api/auth/register", "", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%+v", req)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	a := newTestAPI(t)

	for _, tc := range []struct{ method, path string }{
		{"POST", "/api/rooms"},
		{"GET", "/api/rooms/r1"},
		{"PATCH", "/api/rooms/r1"},
		{"POST", "/api/rooms/r1/save"},
		{"GET", "/api/users/me/rooms"},
	} {
		rec := a.do(t, tc.method, tc.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)

		rec = a.do(t, tc.method, tc.path, "garbage", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}

func TestCreateAndGetRoom(t *testing.T) {
	a := newTestAPI(t)
	token, userID := a.register(t, "Alice", "alice@example.com")

	rec := a.do(t, "POST", "/api/rooms", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Room createdRoom `json:"room"`
	}
	decode(t, rec, &created)
	assert.NotEmpty(t, created.Room.RoomID)
	assert.Equal(t, "http://localhost:3000/room/"+created.Room.RoomID, created.Room.RoomURL)

	rec = a.do(t, "GET", "/api/rooms/"+created.Room.RoomID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Room models.Room `json:"room"`
	}
	decode(t, rec, &got)
	assert.Equal(t, userID, got.Room.OwnerID)
	assert.Equal(t, "", got.Room.Code)
	assert.Equal(t, models.DefaultLanguage, got.Room.Language)

	rec = a.do(t, "GET", "/api/rooms/does-not-exist", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveRoom(t *testing.T) {
	a := newTestAPI(t)
	token, _ := a.register(t, "Alice", "alice@example.com")
	roomID := a.createRoom(t, token)

	rec := a.do(t, "POST", "/api/rooms/"+roomID+"/save", token, saveRequest{Code: "print('hi')", Language: "python"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	room, err := a.store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", room.Code)
	assert.Equal(t, "python", room.Language)

	// Empty code keeps what is stored
	rec = a.do(t, "POST", "/api/rooms/"+roomID+"/save", token, saveRequest{Language: "ruby"})
	require.Equal(t, http.StatusOK, rec.Code)
	room, err = a.store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", room.Code)
	assert.Equal(t, "ruby", room.Language)

	rec = a.do(t, "POST", "/api/rooms/missing/save", token, saveRequest{Code: "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReadOnlyRoomFlags(t *testing.T) {
	a := newTestAPI(t)
	owner, _ := a.register(t, "Olivia", "olivia@example.com")
	guest, _ := a.register(t, "Gus", "gus@example.com")
	roomID := a.createRoom(t, owner)

	readOnly := true
	rec := a.do(t, "PATCH", "/api/rooms/"+roomID, guest, models.RoomFlagsUpdate{IsReadOnly: &readOnly})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "PATCH", "/api/rooms/"+roomID, owner, models.RoomFlagsUpdate{IsReadOnly: &readOnly})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated struct {
		Room models.Room `json:"room"`
	}
	decode(t, rec, &updated)
	assert.True(t, updated.Room.IsReadOnly)
	assert.False(t, updated.Room.IsLocked)

	rec = a.do(t, "POST", "/api/rooms/"+roomID+"/save", guest, saveRequest{Code: "vandalism"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, "POST", "/api/rooms/"+roomID+"/save", owner, saveRequest{Code: "owner code"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFlagUpdateReachesLiveRoom(t *testing.T) {
	a := newTestAPI(t)
	owner, _ := a.register(t, "Olivia", "olivia@example.com")
	_, guestID := a.register(t, "Gus", "gus@example.com")
	roomID := a.createRoom(t, owner)
	ctx := context.Background()

	c := a.sm.NewConnection(models.Identity{UserID: guestID, DisplayName: "Gus"}, nil)
	require.NoError(t, a.sm.Join(ctx, c, roomID))
	require.NoError(t, a.sm.OnCodeChange(ctx, c, roomID, "before", nil))

	readOnly := true
	rec := a.do(t, "PATCH", "/api/rooms/"+roomID, owner, models.RoomFlagsUpdate{IsReadOnly: &readOnly})
	require.Equal(t, http.StatusOK, rec.Code)

	err := a.sm.OnCodeChange(ctx, c, roomID, "after", nil)
	require.ErrorIs(t, err, models.ErrReadOnly)
}

func TestSaveOnLiveRoomBroadcasts(t *testing.T) {
	a := newTestAPI(t)
	token, userID := a.register(t, "Alice", "alice@example.com")
	roomID := a.createRoom(t, token)

	c := a.sm.NewConnection(models.Identity{UserID: userID, DisplayName: "Alice"}, nil)
	require.NoError(t, a.sm.Join(context.Background(), c, roomID))
	for range 2 { // snapshot, users_update
		<-c.Outbound()
	}

	rec := a.do(t, "POST", "/api/rooms/"+roomID+"/save", token, saveRequest{Code: "live save", Language: "go"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case frame := <-c.Outbound():
		var env collaboration.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, collaboration.EventCodeUpdate, env.Type)
		assert.JSONEq(t, `{"roomId":"`+roomID+`","code":"live save","language":"go"}`, string(env.Data))
	case <-time.After(time.Second):
		t.Fatal("expected a code_update for the live room")
	}

	room, err := a.store.GetRoom(context.Background(), roomID)
	require.NoError(t, err)
	assert.Equal(t, "live save", room.Code)
}

func TestEmptySaveOnLiveRoomKeepsUnflushedText(t *testing.T) {
	a := newTestAPI(t)
	token, userID := a.register(t, "Alice", "alice@example.com")
	roomID := a.createRoom(t, token)
	ctx := context.Background()

	c := a.sm.NewConnection(models.Identity{UserID: userID, DisplayName: "Alice"}, nil)
	require.NoError(t, a.sm.Join(ctx, c, roomID))
	for range 2 { // snapshot, users_update
		<-c.Outbound()
	}
	require.NoError(t, a.sm.OnCodeChange(ctx, c, roomID, "typed but not flushed", nil))

	rec := a.do(t, "POST", "/api/rooms/"+roomID+"/save", token, saveRequest{Language: "go"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case frame := <-c.Outbound():
		var env collaboration.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		assert.Equal(t, collaboration.EventCodeUpdate, env.Type)
		assert.JSONEq(t, `{"roomId":"`+roomID+`","code":"typed but not flushed","language":"go"}`, string(env.Data))
	case <-time.After(time.Second):
		t.Fatal("expected a code_update for the live room")
	}

	room, err := a.store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, "typed but not flushed", room.Code)
	assert.Equal(t, "go", room.Language)
}

func TestListMyRooms(t *testing.T) {
	a := newTestAPI(t)
	alice, _ := a.register(t, "Alice", "alice@example.com")
	bob, _ := a.register(t, "Bob", "bob@example.com")

	first := a.createRoom(t, alice)
	second := a.createRoom(t, alice)
	a.createRoom(t, bob)

	// Touch the first room so it becomes the most recently updated
	time.Sleep(10 * time.Millisecond)
	rec := a.do(t, "POST", "/api/rooms/"+first+"/save", alice, saveRequest{Code: "touched"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, "GET", "/api/users/me/rooms", alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Rooms []models.Room `json:"rooms"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Rooms, 2)
	assert.Equal(t, first, resp.Rooms[0].RoomID)
	assert.Equal(t, second, resp.Rooms[1].RoomID)
}
