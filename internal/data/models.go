package data

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// User maps to the users collection (id, display name, email, password hash).
type User struct {
	ID        bson.ObjectID `bson:"_id,omitempty"`
	Name      string        `bson:"name"`
	Email     string        `bson:"email"`
	Password  string        `bson:"password"`
	CreatedAt time.Time     `bson:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at"`
}

// Message is one entry in a conversation's embedded message log. Messages are
// append-only; the only mutation ever applied is the read flag going true.
type Message struct {
	ID       bson.ObjectID `bson:"_id"`
	SenderID bson.ObjectID `bson:"sender_id"`
	Text     string        `bson:"text"`
	SentAt   time.Time     `bson:"sent_at"`
	Read     bool          `bson:"read"`
}

// Conversation maps to the conversations collection. The message log lives
// inside the document so that appends and read-flag updates are single atomic
// document writes. PairKey is the normalized participant pair; a unique index
// on it guarantees at most one conversation per pair of users.
type Conversation struct {
	ID           bson.ObjectID   `bson:"_id,omitempty"`
	PairKey      string          `bson:"pair_key"`
	Participants []bson.ObjectID `bson:"participants"`
	Messages     []Message       `bson:"messages"`
	LastMessage  string          `bson:"last_message"`
	LastUpdated  time.Time       `bson:"last_updated"`
	CreatedAt    time.Time       `bson:"created_at"`
}

// PairKey builds the canonical key for an unordered pair of user ids: both
// ids hex-encoded, sorted, joined with a colon. PairKey(a, b) == PairKey(b, a).
func PairKey(a, b bson.ObjectID) string {
	x, y := a.Hex(), b.Hex()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}

// HasParticipant reports whether the given user belongs to the conversation.
func (c *Conversation) HasParticipant(userID bson.ObjectID) bool {
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// OtherParticipant returns the participant that is not the given user. The
// second return value is false when the user is not part of the conversation.
func (c *Conversation) OtherParticipant(userID bson.ObjectID) (bson.ObjectID, bool) {
	if !c.HasParticipant(userID) {
		return bson.ObjectID{}, false
	}
	for _, p := range c.Participants {
		if p != userID {
			return p, true
		}
	}
	return bson.ObjectID{}, false
}

// UnreadCountFor counts messages the viewer has not read yet. A message is
// unread exactly when the viewer is not its sender and the read flag is still
// false; the count is recomputed from the message log so it can never drift
// from the authoritative state.
func (c *Conversation) UnreadCountFor(viewerID bson.ObjectID) int {
	n := 0
	for _, m := range c.Messages {
		if m.SenderID != viewerID && !m.Read {
			n++
		}
	}
	return n
}

// validPairKey is a cheap sanity check used by tests.
func validPairKey(key string) bool {
	parts := strings.Split(key, ":")
	return len(parts) == 2 && parts[0] <= parts[1]
}
