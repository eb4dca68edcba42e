package main

import (
	"errors"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// wsClient adapts one websocket connection to the hub's Pusher interface.
// Pushes go through a buffered channel drained by a single writer goroutine,
// so Push never blocks on the network and concurrent pushes never interleave
// writes on the connection. The mutex orders Push against close: the hub's
// delivery snapshot can race a disconnect, so a push may arrive after the
// connection left its room and must fail instead of hitting a closed channel.
type wsClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan *Event
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan *Event, 16),
	}
}

// Push queues an event for delivery. A closed connection rejects the push;
// so does a full buffer, which means the client isn't keeping up. Either way
// the hub drops the connection.
func (c *wsClient) Push(ev *Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return errors.New("client send buffer full")
	}
}

func (c *wsClient) writePump() {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// close marks the client closed and stops the write pump. Safe to call more
// than once and concurrently with Push.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// handleSocket runs for the lifetime of one websocket connection. The token
// query parameter authenticates the connection; the verified user id, not
// anything the client sends afterwards, decides which room it joins. The
// read loop exists only to notice the disconnect.
func (s *Server) handleSocket(conn *websocket.Conn) {
	defer conn.Close()

	claims, err := s.auth.VerifyToken(conn.Query("token"))
	if err != nil {
		_ = conn.WriteJSON(Event{Type: "error"})
		return
	}

	client := newWSClient(conn)
	go client.writePump()

	connID := s.hub.Join(claims.UserID, client)
	defer func() {
		s.hub.Leave(claims.UserID, connID)
		client.close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
