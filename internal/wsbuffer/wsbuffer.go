// Package wsbuffer implements the /buffers WebSocket hub (component
// C9): a single multiplexed socket per client that can subscribe to
// any number of sessions' binary terminal-buffer snapshots.
//
// Grounded on the teacher's src/handler/terminal/terminal.go websocket
// upgrade/read/write-pump pattern, generalized from one-session-per-
// socket to a subscribe/unsubscribe hub, and on
// other_examples/*vibetunnel*-termsocket-manager.go's buffered
// per-subscriber channel backpressure idiom.
package wsbuffer

import (
	"encoding/binary"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/vibetunnel/vtserver/internal/session"
)

const (
	frameMagic = 0xBF

	maxQueuedFrames = 64
	maxQueuedBytes  = 4 * 1024 * 1024

	pingInterval = 10 * time.Second
	pongTimeout  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the set of connected clients and their subscriptions.
type Hub struct {
	sessions *session.Manager

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub backed by sessions.
func NewHub(sessions *session.Manager) *Hub {
	return &Hub{sessions: sessions, clients: make(map[*client]struct{})}
}

type client struct {
	hub  *Hub
	conn *websocket.Conn

	mu            sync.Mutex
	subscriptions map[string]*subscription
	send          chan []byte
	queuedBytes   int
	closed        bool
}

type subscription struct {
	sub        *session.Subscriber
	unregister func()
}

// ServeWS upgrades an HTTP request to the /buffers protocol and blocks
// until the connection closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("buffers websocket upgrade failed")
		return
	}
	c := &client{
		hub:           h,
		conn:          conn,
		subscriptions: make(map[string]*subscription),
		send:          make(chan []byte, maxQueuedFrames),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	c.writeJSON(map[string]any{"type": "connected"})

	go c.writePump()
	c.readPump()

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.closeAll()
}

func (c *client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg struct {
			Type      string `json:"type"`
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			logrus.WithError(err).Warn("buffers websocket: malformed frame, ignoring")
			continue
		}
		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.SessionID)
		case "unsubscribe":
			c.unsubscribe(msg.SessionID)
		case "ping":
			c.writeJSON(map[string]any{"type": "pong"})
		}
	}
}

func (c *client) subscribe(id string) {
	s, err := c.hub.sessions.Get(id)
	if err != nil {
		c.writeJSON(map[string]any{"type": "error", "sessionId": id, "message": err.Error()})
		return
	}
	sub := s.Subscribe()
	unregister := s.OnBufferChange(func(string) { c.pushSnapshot(id, s) })

	c.mu.Lock()
	if old, ok := c.subscriptions[id]; ok {
		old.unregister()
		s.Unsubscribe(old.sub)
	}
	c.subscriptions[id] = &subscription{sub: sub, unregister: unregister}
	c.mu.Unlock()

	c.writeJSON(map[string]any{"type": "subscribed", "sessionId": id})
	c.pushSnapshot(id, s)
}

func (c *client) unsubscribe(id string) {
	c.mu.Lock()
	subn, ok := c.subscriptions[id]
	if ok {
		delete(c.subscriptions, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	subn.unregister()
	if s, err := c.hub.sessions.Get(id); err == nil {
		s.Unsubscribe(subn.sub)
	}
	c.writeJSON(map[string]any{"type": "unsubscribed", "sessionId": id})
}

func (c *client) pushSnapshot(id string, s *session.Session) {
	payload := s.Buffer().Snapshot()
	frame := encodeFrame(id, payload)
	c.enqueue(frame)
}

// encodeFrame wraps payload in the binary envelope: magic byte, uint32
// little-endian session-id length, the session id itself, then payload.
func encodeFrame(sessionID string, payload []byte) []byte {
	idBytes := []byte(sessionID)
	buf := make([]byte, 1+4+len(idBytes)+len(payload))
	buf[0] = frameMagic
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(idBytes)))
	copy(buf[5:], idBytes)
	copy(buf[5+len(idBytes):], payload)
	return buf
}

func (c *client) enqueue(frame []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.queuedBytes+len(frame) > maxQueuedBytes || len(c.send) >= maxQueuedFrames {
		c.mu.Unlock()
		c.disconnect(websocket.CloseMessageTooBig, "backpressure limit exceeded")
		return
	}
	c.queuedBytes += len(frame)
	c.mu.Unlock()

	select {
	case c.send <- frame:
	default:
		c.disconnect(websocket.CloseMessageTooBig, "backpressure limit exceeded")
	}
}

func (c *client) writeJSON(v any) {
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	c.conn.WriteJSON(v)
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.mu.Lock()
			c.queuedBytes -= len(frame)
			c.mu.Unlock()
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) disconnect(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.conn.Close()
}

func (c *client) closeAll() {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	c.mu.Unlock()
	for id, subn := range subs {
		subn.unregister()
		if s, err := c.hub.sessions.Get(id); err == nil {
			s.Unsubscribe(subn.sub)
		}
	}
}
