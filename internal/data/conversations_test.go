package data

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/yatttiiii/ThaparKart/internal/db"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// openTestStore connects to the MongoDB named by MONGODB_URI, drops the
// conversations collection and recreates the indexes. Tests that call it are
// integration tests and are skipped when no database is available.
func openTestStore(t *testing.T) (*ConversationsStore, func()) {
	t.Helper()

	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	c, err := db.New(ctx, uri)
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}

	_ = c.ConversationsCollection().Drop(ctx)
	if err := c.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	cleanup := func() {
		_ = c.ConversationsCollection().Drop(context.Background())
		_ = c.Close(context.Background())
	}
	return NewConversationsStore(c.ConversationsCollection()), cleanup
}

func TestFindOrCreateReusesConversation(t *testing.T) {
	store, cleanup := openTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a := bson.NewObjectID()
	b := bson.NewObjectID()

	first, err := store.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}

	// Same pair in either order resolves to the same conversation.
	second, err := store.FindOrCreate(ctx, b, a)
	if err != nil {
		t.Fatalf("FindOrCreate (reversed) failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected one conversation per pair, got %s and %s", first.ID.Hex(), second.ID.Hex())
	}

	if _, err := store.FindOrCreate(ctx, a, a); !errors.Is(err, ErrSameUser) {
		t.Fatalf("expected ErrSameUser for self-conversation, got %v", err)
	}
}

func TestFindOrCreateConcurrent(t *testing.T) {
	store, cleanup := openTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a := bson.NewObjectID()
	b := bson.NewObjectID()

	const racers = 10
	ids := make([]bson.ObjectID, racers)
	errs := make([]error, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Alternate argument order to exercise pair normalization too.
			u, v := a, b
			if i%2 == 1 {
				u, v = b, a
			}
			conv, err := store.FindOrCreate(ctx, u, v)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("racer %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("racers created distinct conversations: %s vs %s", ids[i].Hex(), ids[0].Hex())
		}
	}
}

func TestAppendMessageOrderingAndPreview(t *testing.T) {
	store, cleanup := openTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a := bson.NewObjectID()
	b := bson.NewObjectID()

	conv, err := store.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		sender := a
		if i%2 == 1 {
			sender = b
		}
		if _, err := store.AppendMessage(ctx, conv.ID, sender, fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("AppendMessage %d failed: %v", i, err)
		}
	}

	got, err := store.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(got.Messages) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(got.Messages))
	}
	for i, m := range got.Messages {
		if m.Text != fmt.Sprintf("msg %d", i) {
			t.Fatalf("message %d out of order: %q", i, m.Text)
		}
		if m.Read {
			t.Fatalf("message %d created already read", i)
		}
		if i > 0 && m.SentAt.Before(got.Messages[i-1].SentAt) {
			t.Fatalf("message %d timestamp went backwards", i)
		}
	}
	if got.LastMessage != "msg 4" {
		t.Fatalf("last_message preview = %q, want %q", got.LastMessage, "msg 4")
	}
	if !got.LastUpdated.Equal(got.Messages[4].SentAt) {
		t.Fatalf("last_updated not refreshed with the final append")
	}
}

func TestAppendMessageConcurrentTimestamps(t *testing.T) {
	store, cleanup := openTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a := bson.NewObjectID()
	b := bson.NewObjectID()

	conv, err := store.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}

	// Concurrent senders race their appends; whatever order the writes land
	// in, the stored timestamps must follow the array order because they are
	// stamped inside the update, not in the application.
	const writers = 8
	errs := make([]error, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sender := a
			if i%2 == 1 {
				sender = b
			}
			_, errs[i] = store.AppendMessage(ctx, conv.ID, sender, fmt.Sprintf("racing %d", i))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d failed: %v", i, err)
		}
	}

	got, err := store.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(got.Messages) != writers {
		t.Fatalf("expected %d messages, got %d", writers, len(got.Messages))
	}
	for i := 1; i < len(got.Messages); i++ {
		if got.Messages[i].SentAt.Before(got.Messages[i-1].SentAt) {
			t.Fatalf("sent_at regressed at index %d: %v after %v",
				i, got.Messages[i].SentAt, got.Messages[i-1].SentAt)
		}
	}
	if !got.LastUpdated.Equal(got.Messages[writers-1].SentAt) {
		t.Fatal("last_updated not stamped with the final append")
	}
}

func TestAppendMessageErrors(t *testing.T) {
	store, cleanup := openTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a := bson.NewObjectID()
	b := bson.NewObjectID()
	stranger := bson.NewObjectID()

	conv, err := store.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}

	if _, err := store.AppendMessage(ctx, conv.ID, stranger, "let me in"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := store.AppendMessage(ctx, bson.NewObjectID(), a, "hello?"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The failed appends must not have touched the document.
	got, err := store.GetByID(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if len(got.Messages) != 0 {
		t.Fatalf("rejected appends leaked into the log: %d messages", len(got.Messages))
	}
}

func TestMarkReadForIsIdempotent(t *testing.T) {
	store, cleanup := openTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a := bson.NewObjectID()
	b := bson.NewObjectID()

	conv, err := store.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, a, "is this available?"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	if _, err := store.AppendMessage(ctx, conv.ID, b, "yes, still here"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	// b reads: a's message flips, b's own message is untouched.
	got, err := store.MarkReadFor(ctx, conv.ID, b)
	if err != nil {
		t.Fatalf("MarkReadFor failed: %v", err)
	}
	if !got.Messages[0].Read {
		t.Fatal("message from a not marked read for b")
	}
	if got.Messages[1].Read {
		t.Fatal("b's own message must stay unread until a fetches")
	}
	if got.UnreadCountFor(b) != 0 {
		t.Fatalf("b's unread count = %d after fetch, want 0", got.UnreadCountFor(b))
	}
	if got.UnreadCountFor(a) != 1 {
		t.Fatalf("a's unread count = %d, want 1", got.UnreadCountFor(a))
	}

	// A second call with no new messages changes nothing.
	again, err := store.MarkReadFor(ctx, conv.ID, b)
	if err != nil {
		t.Fatalf("second MarkReadFor failed: %v", err)
	}
	for i := range got.Messages {
		if got.Messages[i].Read != again.Messages[i].Read {
			t.Fatalf("MarkReadFor not idempotent at message %d", i)
		}
	}

	if _, err := store.MarkReadFor(ctx, bson.NewObjectID(), b); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown conversation, got %v", err)
	}
}

func TestListForUserSortsByActivity(t *testing.T) {
	store, cleanup := openTestStore(t)
	defer cleanup()

	ctx := context.Background()
	a := bson.NewObjectID()
	b := bson.NewObjectID()
	c := bson.NewObjectID()

	older, err := store.FindOrCreate(ctx, a, b)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}
	newer, err := store.FindOrCreate(ctx, a, c)
	if err != nil {
		t.Fatalf("FindOrCreate failed: %v", err)
	}

	if _, err := store.AppendMessage(ctx, older.ID, a, "first"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}
	// Mongo stores timestamps at millisecond precision; keep the two
	// activity times distinguishable.
	time.Sleep(5 * time.Millisecond)
	if _, err := store.AppendMessage(ctx, newer.ID, a, "second"); err != nil {
		t.Fatalf("AppendMessage failed: %v", err)
	}

	convs, err := store.ListForUser(ctx, a)
	if err != nil {
		t.Fatalf("ListForUser failed: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("expected 2 conversations for a, got %d", len(convs))
	}
	if convs[0].ID != newer.ID {
		t.Fatal("most recently active conversation not listed first")
	}

	// b only sees the conversation they're in.
	bConvs, err := store.ListForUser(ctx, b)
	if err != nil {
		t.Fatalf("ListForUser(b) failed: %v", err)
	}
	if len(bConvs) != 1 || bConvs[0].ID != older.ID {
		t.Fatalf("unexpected conversation list for b: %d entries", len(bConvs))
	}
}
