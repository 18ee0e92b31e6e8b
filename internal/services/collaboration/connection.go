package collaboration

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"coderoom/internal/middleware"
	"coderoom/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	maxMessageSize = 1 << 20          // a whole document travels in each code_change
)

// Connection is one authenticated client. Identity is fixed at handshake.
type Connection struct {
	ID       string
	Identity models.Identity

	conn *websocket.Conn // nil for in-process clients
	send chan []byte     // buffered outbound frames

	mu    sync.Mutex
	rooms map[string]struct{} // rooms this connection has joined

	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(identity models.Identity, conn *websocket.Conn, bufferSize int) *Connection {
	return &Connection{
		ID:       models.NewConnectionID(),
		Identity: identity,
		conn:     conn,
		send:     make(chan []byte, bufferSize),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Outbound exposes queued frames to in-process clients
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Rooms lists the rooms the connection is joined to
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Connection) track(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) untrack(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// Close abandons pending sends and closes the socket. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

// enqueue queues a frame without blocking. A full buffer means the client
// is too slow to keep up; it is closed rather than stalling its room.
func (c *Connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		log.Printf("⚠️  Connection %s send buffer full, closing connection", c.ID)
		c.Close()
		return false
	}
}

func (c *Connection) sendError(err error, roomID string) {
	c.enqueue(encodeEvent(EventError, ErrorPayload{Message: clientMessage(err), RoomID: roomID}))
}

// ReadPump reads frames until the socket fails, then disconnects.
// Each connection has its own goroutine, so inbound events from one
// client are handled in order.
func (c *Connection) ReadPump(ctx context.Context, sm *SessionManager) {
	defer sm.Disconnect(ctx, c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on connection %s: %v", c.ID, err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		sm.Dispatch(ctx, c, frame)
	}
}

// WritePump delivers queued frames and keeps the socket alive with pings
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			// Queued frames are abandoned once the connection is closed
			return

		case frame := <-c.send:
			// One JSON event per text frame; frames are never batched
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Dispatch decodes and handles one inbound frame. Validation failures are
// answered with an error event; a panic is contained to this event.
func (sm *SessionManager) Dispatch(ctx context.Context, c *Connection, frame []byte) {
	env, err := decodeEnvelope(frame)
	if err != nil {
		c.sendError(err, "")
		return
	}

	ctx, span := middleware.StartSpan(ctx, "WebSocket.Event",
		attribute.String("event.type", string(env.Type)),
		attribute.String("connection.id", c.ID),
		attribute.Int("message.size", len(frame)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			middleware.RecordPanic(ctx, r)
			c.sendError(errors.New("internal"), "")
		}
	}()

	roomID, err := sm.handle(ctx, c, env)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		if !errors.Is(err, errInvalidPayload) {
			log.Printf("  Connection %s %s %s: %v", c.ID, env.Type, roomID, err)
		}
		c.sendError(err, roomID)
	}
}

// handle routes an inbound event. Returns the room the event targeted.
func (sm *SessionManager) handle(ctx context.Context, c *Connection, env *Envelope) (string, error) {
	switch env.Type {
	case EventJoin:
		p, err := decodePayload(env, func(p *RoomRef) string { return p.RoomID })
		if err != nil {
			return "", err
		}
		return p.RoomID, sm.Join(ctx, c, p.RoomID)

	case EventLeave:
		p, err := decodePayload(env, func(p *RoomRef) string { return p.RoomID })
		if err != nil {
			return "", err
		}
		return p.RoomID, sm.Leave(ctx, c, p.RoomID)

	case EventCodeChange:
		p, err := decodePayload(env, func(p *CodeChange) string { return p.RoomID })
		if err != nil {
			return "", err
		}
		return p.RoomID, sm.OnCodeChange(ctx, c, p.RoomID, p.Code, p.Language)

	case EventLanguageChange:
		p, err := decodePayload(env, func(p *LanguageChange) string { return p.RoomID })
		if err != nil {
			return "", err
		}
		return p.RoomID, sm.OnLanguageChange(ctx, c, p.RoomID, p.Language)

	case EventCursorMove:
		p, err := decodePayload(env, func(p *CursorMove) string { return p.RoomID })
		if err != nil {
			return "", err
		}
		return p.RoomID, sm.MoveCursor(ctx, c, p.RoomID, p.CursorPos)

	case EventSnapshot, EventCodeUpdate, EventLanguageUpdate, EventCursorUpdate, EventUsersUpdate, EventError:
		return "", errUnknownEvent
	}
	return "", errUnknownEvent
}
