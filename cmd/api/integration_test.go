package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yatttiiii/ThaparKart/internal/auth"
	"github.com/yatttiiii/ThaparKart/internal/data"
	"github.com/yatttiiii/ThaparKart/internal/db"
	"github.com/yatttiiii/ThaparKart/internal/middleware"
)

// TestRegisterLoginAndChatFlow exercises the whole surface against a real
// MongoDB: register two users, start a conversation, send, list, read.
func TestRegisterLoginAndChatFlow(t *testing.T) {
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set; skipping integration test")
	}

	ctx := context.Background()
	dbClient, err := db.New(ctx, uri)
	if err != nil {
		t.Fatalf("db.New failed: %v", err)
	}
	defer func() {
		_ = dbClient.UsersCollection().Drop(context.Background())
		_ = dbClient.ConversationsCollection().Drop(context.Background())
		_ = dbClient.Close(context.Background())
	}()

	_ = dbClient.UsersCollection().Drop(ctx)
	_ = dbClient.ConversationsCollection().Drop(ctx)
	if err := dbClient.CreateIndexes(ctx); err != nil {
		t.Fatalf("CreateIndexes failed: %v", err)
	}

	usersStore := data.NewUsersStore(dbClient.UsersCollection())
	convsStore := data.NewConversationsStore(dbClient.ConversationsCollection())
	jwtMgr := auth.NewJWTManager("test-secret", time.Hour)

	limiter := middleware.NewLimiterStore(10000, 10000, time.Minute)
	defer limiter.Stop()

	srv := newServer(usersStore, convsStore, jwtMgr, NewHub())
	app := fiber.New()
	srv.registerRoutes(app, limiter)

	call := func(method, path, token string, body any, out any) int {
		t.Helper()
		var buf bytes.Buffer
		if body != nil {
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				t.Fatalf("encode body: %v", err)
			}
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		resp, err := app.Test(req, 5000)
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		defer resp.Body.Close()
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				t.Fatalf("decode response: %v", err)
			}
		}
		return resp.StatusCode
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	var seller, buyer struct {
		Token  string `json:"token"`
		UserID string `json:"userId"`
	}
	if code := call("POST", "/api/auth/register", "",
		fiber.Map{"name": "Seller", "email": stamp + "-seller@thapar.edu", "password": "testPass123"}, &seller); code != fiber.StatusCreated {
		t.Fatalf("seller register status = %d", code)
	}
	if code := call("POST", "/api/auth/register", "",
		fiber.Map{"name": "Buyer", "email": stamp + "-buyer@thapar.edu", "password": "testPass123"}, &buyer); code != fiber.StatusCreated {
		t.Fatalf("buyer register status = %d", code)
	}

	// Buyer reaches out about a listing.
	var started struct {
		ConversationID string `json:"conversationId"`
	}
	if code := call("POST", "/api/chat/start", buyer.Token,
		fiber.Map{"recipientId": seller.UserID}, &started); code != fiber.StatusOK {
		t.Fatalf("start status = %d", code)
	}
	if code := call("POST", "/api/chat/send", buyer.Token,
		fiber.Map{"conversationId": started.ConversationID, "text": "Is this available?"}, nil); code != fiber.StatusOK {
		t.Fatalf("send status = %d", code)
	}

	var listed struct {
		Conversations []conversationSummary `json:"conversations"`
	}
	if code := call("GET", "/api/chat/conversations", seller.Token, nil, &listed); code != fiber.StatusOK {
		t.Fatalf("list status = %d", code)
	}
	if len(listed.Conversations) != 1 || listed.Conversations[0].Unread != 1 {
		t.Fatalf("seller list unexpected: %+v", listed.Conversations)
	}
	if listed.Conversations[0].Name != "Buyer" {
		t.Fatalf("conversation labeled %q, want Buyer", listed.Conversations[0].Name)
	}

	var fetched struct {
		Messages []messageView `json:"messages"`
	}
	path := fmt.Sprintf("/api/chat/conversations/%s/messages", started.ConversationID)
	if code := call("GET", path, seller.Token, nil, &fetched); code != fiber.StatusOK {
		t.Fatalf("messages status = %d", code)
	}
	if len(fetched.Messages) != 1 || fetched.Messages[0].From != "other" {
		t.Fatalf("seller view unexpected: %+v", fetched.Messages)
	}

	if code := call("GET", "/api/chat/conversations", seller.Token, nil, &listed); code != fiber.StatusOK {
		t.Fatalf("relist status = %d", code)
	}
	if listed.Conversations[0].Unread != 0 {
		t.Fatalf("unread after reading = %d, want 0", listed.Conversations[0].Unread)
	}
}
