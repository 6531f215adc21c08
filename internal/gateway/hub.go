// Package gateway owns the WebSocket surface: the hub with its rooms and
// connection registry, per-connection send queues, and the frame router.
// The hub is the only outbound path to sockets; handlers publish to rooms
// or users, never to a socket directly.
package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"towerlords/internal/wire"
)

// GlobalRoom is joined by every connection at accept time; HELLO names it.
const GlobalRoom = "lobby"

// Conn is one socket. A single writer goroutine drains send; enqueue
// never blocks — a reader too slow to keep up overflows and is cut off.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	closeOnce sync.Once

	mu        sync.Mutex
	userID    uint64
	username  string
	rooms     map[string]struct{}
	closed    bool
	authTimer *time.Timer
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) user() (uint64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.username
}

func (c *Conn) authed() bool {
	uid, _ := c.user()
	return uid != 0
}

func (c *Conn) enqueue(data []byte) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.shutdown(websocket.ClosePolicyViolation, wire.CodeOverflow)
	}
}

// shutdown cuts the socket. The close frame is best effort; closing the
// underlying conn unblocks both pumps. Safe to call more than once.
func (c *Conn) shutdown(closeCode int, reason string) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.authTimer != nil {
			c.authTimer.Stop()
		}
		c.mu.Unlock()
		msg := websocket.FormatCloseMessage(closeCode, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

func (c *Conn) stopAuthTimer() {
	c.mu.Lock()
	if c.authTimer != nil {
		c.authTimer.Stop()
		c.authTimer = nil
	}
	c.mu.Unlock()
}

func (c *Conn) roomList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		out = append(out, room)
	}
	return out
}

// Hub is the room bus plus connection registry. Lock order is always
// hub then conn.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	users  map[uint64]*Conn
	rooms  map[string]map[string]*Conn
	nextID uint64
	log    *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns: make(map[string]*Conn),
		users: make(map[uint64]*Conn),
		rooms: make(map[string]map[string]*Conn),
		log:   log,
	}
}

func (h *Hub) register(ws *websocket.Conn, sendQueue int) *Conn {
	h.mu.Lock()
	h.nextID++
	c := &Conn{
		id:    fmt.Sprintf("conn_%d", h.nextID),
		ws:    ws,
		send:  make(chan []byte, sendQueue),
		rooms: make(map[string]struct{}),
	}
	h.conns[c.id] = c
	h.joinLocked(c, GlobalRoom)
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *Conn) {
	rooms := c.roomList()
	uid, _ := c.user()

	h.mu.Lock()
	delete(h.conns, c.id)
	if uid != 0 && h.users[uid] == c {
		delete(h.users, uid)
	}
	for _, room := range rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
}

// bindUser points the user index at this connection and joins the user
// room. A newer socket replaces an older one, which is closed.
func (h *Hub) bindUser(c *Conn, userID uint64, username string) {
	h.mu.Lock()
	old := h.users[userID]
	h.users[userID] = c
	c.mu.Lock()
	c.userID = userID
	c.username = username
	c.mu.Unlock()
	h.joinLocked(c, wire.UserRoom(userID))
	h.mu.Unlock()

	if old != nil && old != c {
		old.shutdown(websocket.CloseNormalClosure, "session moved to a newer connection")
		h.log.Info("socket replaced",
			zap.Uint64("userId", userID),
			zap.String("old", old.id),
			zap.String("new", c.id))
	}
}

// Subscribe joins the connection to a room. Re-subscribing is a no-op.
func (h *Hub) Subscribe(c *Conn, room string) {
	h.mu.Lock()
	h.joinLocked(c, room)
	h.mu.Unlock()
}

func (h *Hub) Unsubscribe(c *Conn, room string) {
	h.mu.Lock()
	h.leaveLocked(c, room)
	h.mu.Unlock()
}

func (h *Hub) joinLocked(c *Conn, room string) {
	set := h.rooms[room]
	if set == nil {
		set = make(map[string]*Conn)
		h.rooms[room] = set
	}
	set[c.id] = c
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Conn, room string) {
	if set := h.rooms[room]; set != nil {
		delete(set, c.id)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}

// Publish fans a frame out to a room. Enqueueing never blocks, so
// holding the read lock keeps frames in publish order per connection.
func (h *Hub) Publish(room string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		c.enqueue(data)
	}
}

// ToUser targets the user's live socket, if any.
func (h *Hub) ToUser(userID uint64, data []byte) {
	h.mu.RLock()
	c := h.users[userID]
	h.mu.RUnlock()
	if c != nil {
		c.enqueue(data)
	}
}

func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) UserOnline(userID uint64) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

// CloseAll disconnects every socket. Shutdown path.
func (h *Hub) CloseAll(reason string) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, reason)
	}
}
