package main

import (
	"context"
	"log"

	"github.com/yatttiiii/ThaparKart/internal/data"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// messageAppender is the slice of the conversations store the dispatcher
// needs: the atomic append that is the durability point of a send.
type messageAppender interface {
	AppendMessage(ctx context.Context, convID, senderID bson.ObjectID, text string) (*data.Message, error)
}

// deliverer is the slice of the hub the dispatcher needs.
type deliverer interface {
	DeliverToUser(userID string, ev *Event) bool
}

// Dispatcher runs the send pipeline: persist the message, then push a
// best-effort notification to the recipient's live connections. Persistence
// is the correctness contract; the push is a latency optimization.
type Dispatcher struct {
	store messageAppender
	hub   deliverer
}

// NewDispatcher returns a Dispatcher wired to the store and hub.
func NewDispatcher(store messageAppender, hub deliverer) *Dispatcher {
	return &Dispatcher{store: store, hub: hub}
}

// Dispatch appends the message to the conversation and notifies the other
// participant. If the append fails the send fails whole; nothing is ever
// emitted for a message that didn't persist. An offline recipient is logged
// and the send still succeeds; they will find the message on their next fetch.
func (d *Dispatcher) Dispatch(ctx context.Context, conv *data.Conversation, senderID bson.ObjectID, text string) (*data.Message, error) {
	msg, err := d.store.AppendMessage(ctx, conv.ID, senderID, text)
	if err != nil {
		return nil, err
	}

	recipient, ok := conv.OtherParticipant(senderID)
	if ok && d.hub != nil {
		ev := &Event{
			Type:           "message",
			ConversationID: conv.ID.Hex(),
			Message: &EventMessage{
				ID:        msg.ID.Hex(),
				Text:      msg.Text,
				SenderID:  senderID.Hex(),
				TimeLabel: timeLabel(msg.SentAt),
			},
		}
		if !d.hub.DeliverToUser(recipient.Hex(), ev) {
			log.Printf("recipient %s offline; message %s delivered on next fetch", recipient.Hex(), msg.ID.Hex())
		}
	}

	return msg, nil
}
