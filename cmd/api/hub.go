package main

import "sync"

// Event is the payload pushed to a live connection. Message events always
// carry the authoritative sender id so every receiving client, whether the
// intended recipient or another session of the sender, can work out ownership by
// comparing against its own identity. The server never bakes a perspective
// label into the payload.
type Event struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversationId,omitempty"`
	Message        *EventMessage `json:"message,omitempty"`
}

// EventMessage mirrors the persisted message fields a client needs to render
// a push without a follow-up fetch.
type EventMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	SenderID  string `json:"senderId"`
	TimeLabel string `json:"time"`
}

// Pusher is the minimal interface the hub needs from a connection: the
// ability to push events to the connected client. It must not block on I/O.
type Pusher interface {
	Push(*Event) error
}

// Hub tracks the live connections of signed-in users. Each user id keys a
// room; a room holds every connection that user currently has open
// (multi-tab, multi-device), and pushes fan out to all of them.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[int64]Pusher
	nextID int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[int64]Pusher)}
}

// Join adds a connection to the user's room and returns a connection id to be
// passed to Leave when the connection closes.
func (h *Hub) Join(userID string, p Pusher) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.rooms[userID]; !ok {
		h.rooms[userID] = make(map[int64]Pusher)
	}

	h.nextID++
	id := h.nextID
	h.rooms[userID][id] = p
	return id
}

// Leave removes a connection from the user's room. It is safe to call at any
// time, including for ids that were never joined or have already left.
func (h *Hub) Leave(userID string, id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.rooms[userID]; ok {
		delete(conns, id)
		if len(conns) == 0 {
			delete(h.rooms, userID)
		}
	}
}

// DeliverToUser pushes the event to every connection in the user's room and
// reports whether at least one push succeeded. An empty room returns false;
// that is not an error: the message is already persisted and the user will
// see it on their next fetch. Connections whose push fails are dropped so
// broken streams don't accumulate.
func (h *Hub) DeliverToUser(userID string, ev *Event) bool {
	h.mu.RLock()
	conns := h.rooms[userID]
	snapshot := make(map[int64]Pusher, len(conns))
	for id, p := range conns {
		snapshot[id] = p
	}
	h.mu.RUnlock()

	if len(snapshot) == 0 {
		return false
	}

	delivered := false
	var failedIDs []int64
	for id, p := range snapshot {
		if err := p.Push(ev); err != nil {
			failedIDs = append(failedIDs, id)
			continue
		}
		delivered = true
	}

	for _, id := range failedIDs {
		h.Leave(userID, id)
	}

	return delivered
}
