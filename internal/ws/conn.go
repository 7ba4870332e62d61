package ws

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"realtime-service/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Per-connection outbound buffer size.
	egressBufSize = 256
	// Max inbound frame size.
	maxMessageSize = 8 * 1024
)

// Conn represents one live websocket session for a user (one tab or device).
// It is owned by the Gateway; the presence registry and room manager only ever
// hold its id.
type Conn struct {
	ID          string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time

	sock   *websocket.Conn
	egress chan models.ServerEvent
	done   chan struct{}
	once   sync.Once

	mu    sync.Mutex
	rooms map[string]struct{}
}

// NewConn wraps a websocket connection. sock may be nil in tests; events are
// then observable on Egress.
func NewConn(id string, userID int, sock *websocket.Conn) *Conn {
	return &Conn{
		ID:          id,
		UserID:      userID,
		ConnectedAt: time.Now(),
		sock:        sock,
		egress:      make(chan models.ServerEvent, egressBufSize),
		done:        make(chan struct{}),
		rooms:       make(map[string]struct{}),
	}
}

// Enqueue queues an event for delivery. It never blocks; false means the
// egress buffer is full and the connection should be dropped.
func (c *Conn) Enqueue(ev models.ServerEvent) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.egress <- ev:
		return true
	default:
		return false
	}
}

// Egress exposes the outbound queue for the write pump and for tests.
func (c *Conn) Egress() <-chan models.ServerEvent {
	return c.egress
}

// Close shuts the connection down once; safe to call from any goroutine.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.sock != nil {
			c.sock.Close()
		}
	})
}

func (c *Conn) addRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[roomID] = struct{}{}
}

func (c *Conn) removeRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func (c *Conn) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

// writePump drains the egress queue onto the socket and keeps the heartbeat
// alive. Gorilla allows a single writer, so all socket writes happen here.
func (c *Conn) writePump(heartbeat time.Duration) {
	pingPeriod := heartbeat * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case ev := <-c.egress:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteJSON(ev); err != nil {
				log.Printf("websocket write error conn=%s: %v", c.ID, err)
				return
			}
		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
