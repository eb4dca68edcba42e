package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var (
	// ErrNotFound is returned when no conversation matches the given id.
	ErrNotFound = errors.New("conversation not found")
	// ErrNotParticipant is returned when the acting user does not belong to
	// the conversation.
	ErrNotParticipant = errors.New("user is not a participant")
	// ErrSameUser is returned when both sides of a conversation would be the
	// same user.
	ErrSameUser = errors.New("cannot start a conversation with yourself")
)

// ConversationsStore provides conversation database operations. Every mutation
// is a single document update keyed by conversation id, so concurrent writes
// to different conversations never contend and writes to the same conversation
// serialize into one total order.
type ConversationsStore struct {
	coll *mongo.Collection
}

// NewConversationsStore returns a ConversationsStore using the given collection.
func NewConversationsStore(coll *mongo.Collection) *ConversationsStore {
	return &ConversationsStore{coll: coll}
}

// FindOrCreate returns the single conversation between two users, creating it
// with an empty message log if none exists yet. The unique index on pair_key
// makes this safe under concurrent callers: when two requests race to create,
// the loser's insert fails with a duplicate key error and we re-read the
// winner's document.
func (c *ConversationsStore) FindOrCreate(ctx context.Context, userA, userB bson.ObjectID) (*Conversation, error) {
	if userA == userB {
		return nil, ErrSameUser
	}
	key := PairKey(userA, userB)

	conv, err := c.findByPairKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	fresh := &Conversation{
		PairKey:      key,
		Participants: []bson.ObjectID{userA, userB},
		Messages:     []Message{},
		LastUpdated:  now,
		CreatedAt:    now,
	}
	result, err := c.coll.InsertOne(ctx, fresh)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// Lost the creation race; the other writer's document is the one.
			return c.findByPairKey(ctx, key)
		}
		return nil, err
	}
	fresh.ID = result.InsertedID.(bson.ObjectID)
	return fresh, nil
}

func (c *ConversationsStore) findByPairKey(ctx context.Context, key string) (*Conversation, error) {
	var conv Conversation
	err := c.coll.FindOne(ctx, bson.M{"pair_key": key}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// GetByID returns the conversation with the given id.
func (c *ConversationsStore) GetByID(ctx context.Context, id bson.ObjectID) (*Conversation, error) {
	var conv Conversation
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// ListForUser returns every conversation the user participates in, most
// recently updated first.
func (c *ConversationsStore) ListForUser(ctx context.Context, userID bson.ObjectID) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.M{"last_updated": -1})

	cursor, err := c.coll.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*Conversation
	if err = cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// AppendMessage appends a message to the conversation's log and refreshes the
// denormalized preview fields, all in one atomic update. The filter requires
// the sender to be a participant, so a foreign sender matches nothing and the
// document is untouched. The timestamp is the server's $$NOW inside the
// update itself: the server applies concurrent pushes in some order, and
// stamping inside each push keeps sent_at non-decreasing in that same order,
// which a clock read in the application before the round-trip would not.
func (c *ConversationsStore) AppendMessage(ctx context.Context, convID, senderID bson.ObjectID, text string) (*Message, error) {
	msgID := bson.NewObjectID()

	update := bson.A{bson.M{"$set": bson.M{
		"messages": bson.M{"$concatArrays": bson.A{
			"$messages",
			bson.A{bson.M{
				"_id":       msgID,
				"sender_id": senderID,
				"text":      text,
				"sent_at":   "$$NOW",
				"read":      false,
			}},
		}},
		"last_message": text,
		"last_updated": "$$NOW",
	}}}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetProjection(bson.M{"messages": bson.M{"$slice": -1}})

	var updated Conversation
	err := c.coll.FindOneAndUpdate(ctx, bson.M{"_id": convID, "participants": senderID}, update, opts).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Either the conversation doesn't exist or the sender isn't in
			// it; a second lookup tells the two apart.
			count, cerr := c.coll.CountDocuments(ctx, bson.M{"_id": convID})
			if cerr != nil {
				return nil, cerr
			}
			if count == 0 {
				return nil, ErrNotFound
			}
			return nil, ErrNotParticipant
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	if len(updated.Messages) == 0 {
		return nil, fmt.Errorf("append message: refreshed document came back empty")
	}
	msg := updated.Messages[len(updated.Messages)-1]
	return &msg, nil
}

// MarkReadFor flips the read flag on every message the viewer has not sent
// and has not read yet, then returns the refreshed conversation. The array
// filter means a call with nothing to mark writes nothing, so the operation
// is idempotent. The viewer's own messages are never touched.
func (c *ConversationsStore) MarkReadFor(ctx context.Context, convID, viewerID bson.ObjectID) (*Conversation, error) {
	update := bson.M{"$set": bson.M{"messages.$[m].read": true}}
	opts := options.UpdateOne().SetArrayFilters([]interface{}{
		bson.M{"m.sender_id": bson.M{"$ne": viewerID}, "m.read": false},
	})

	result, err := c.coll.UpdateOne(ctx, bson.M{"_id": convID}, update, opts)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return c.GetByID(ctx, convID)
}
