package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nojoin/healthwatch/internal/alerts"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the hub sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The hub binds to loopback for the desktop UI; no cross-origin callers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Notice is one visible alert held open by the hub.
type Notice struct {
	ID         uint64    `json:"id"`
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Persistent bool      `json:"persistent"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Message is the JSON envelope pushed to clients on every alert transition.
type Message struct {
	Event string `json:"event"` // "alert_open" | "alert_close"
	Data  Notice `json:"data"`
}

// Hub is the notification sink: it assigns a handle to each opened alert,
// pushes open/close events to connected WebSocket clients, and replays the
// currently open notices to clients as they connect.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	open    map[uint64]Notice
	nextID  uint64

	now func() time.Time // injectable for deterministic tests
}

// client represents one connected WebSocket client.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		open:    make(map[uint64]Notice),
		now:     time.Now,
	}
}

// Open records a new notice and broadcasts it. The returned handle is
// non-zero and stays valid until Close.
func (h *Hub) Open(kind, message string, persistent bool) (alerts.Handle, error) {
	h.mu.Lock()
	h.nextID++
	n := Notice{
		ID:         h.nextID,
		Kind:       kind,
		Message:    message,
		Persistent: persistent,
		OpenedAt:   h.now(),
	}
	h.open[n.ID] = n
	h.mu.Unlock()

	h.broadcast(Message{Event: "alert_open", Data: n})
	return alerts.Handle(n.ID), nil
}

// Close retracts the notice for h. Closing an unknown or zero handle is a
// no-op — the alert manager may legitimately drop handles it failed to open.
func (h *Hub) Close(handle alerts.Handle) error {
	id := uint64(handle)

	h.mu.Lock()
	n, ok := h.open[id]
	if ok {
		delete(h.open, id)
	}
	h.mu.Unlock()

	if ok {
		h.broadcast(Message{Event: "alert_close", Data: n})
	}
	return nil
}

// Notices returns the currently open notices, oldest first.
func (h *Hub) Notices() []Notice {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Notice, 0, len(h.open))
	for _, n := range h.open {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ServeList writes the currently open notices as a JSON array. The UI polls
// this on startup before the WebSocket stream is established.
func (h *Hub) ServeList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.Notices())
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client.
// Every currently open notice is replayed immediately on connect, then the
// client receives live transitions. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	h.registerAndReplay(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// Run blocks until ctx is cancelled, then closes all active connections.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

// registerAndReplay queues every currently open notice onto the client's
// send channel and adds the client to the broadcast set in one critical
// section, so an Open racing the connect is delivered exactly once: either
// in the replay or as a live broadcast, never both.
func (h *Hub) registerAndReplay(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	notices := make([]Notice, 0, len(h.open))
	for _, n := range h.open {
		notices = append(notices, n)
	}
	sort.Slice(notices, func(i, j int) bool { return notices[i].ID < notices[j].ID })

	for _, n := range notices {
		if data, err := json.Marshal(Message{Event: "alert_open", Data: n}); err == nil {
			select {
			case c.send <- data:
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	// Sends happen under the read lock while unregister closes send channels
	// under the write lock, so a send can never race a close.
	var dead []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client's outgoing buffer is full — disconnect it.
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.unregister(c)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
