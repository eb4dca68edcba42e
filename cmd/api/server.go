package main

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/yatttiiii/ThaparKart/internal/auth"
	"github.com/yatttiiii/ThaparKart/internal/data"
	"github.com/yatttiiii/ThaparKart/internal/middleware"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// usersStore is the subset of data.UsersStore the handlers use.
type usersStore interface {
	CreateUser(ctx context.Context, name, email, hashedPassword string) (*data.User, error)
	GetUserByEmail(ctx context.Context, email string) (*data.User, error)
	GetUserByID(ctx context.Context, id bson.ObjectID) (*data.User, error)
	UserExists(ctx context.Context, id bson.ObjectID) (bool, error)
}

// conversationsStore is the subset of data.ConversationsStore the handlers
// and dispatcher use.
type conversationsStore interface {
	FindOrCreate(ctx context.Context, userA, userB bson.ObjectID) (*data.Conversation, error)
	GetByID(ctx context.Context, id bson.ObjectID) (*data.Conversation, error)
	ListForUser(ctx context.Context, userID bson.ObjectID) ([]*data.Conversation, error)
	AppendMessage(ctx context.Context, convID, senderID bson.ObjectID, text string) (*data.Message, error)
	MarkReadFor(ctx context.Context, convID, viewerID bson.ObjectID) (*data.Conversation, error)
}

// Server wires the HTTP handlers to the stores, auth manager and hub.
type Server struct {
	users      usersStore
	convs      conversationsStore
	auth       *auth.JWTManager
	hub        *Hub
	dispatcher *Dispatcher
	validate   *validator.Validate
}

// newServer returns a ready-to-use Server wired with stores, auth manager and
// the connection hub.
func newServer(users usersStore, convs conversationsStore, authMgr *auth.JWTManager, hub *Hub) *Server {
	return &Server{
		users:      users,
		convs:      convs,
		auth:       authMgr,
		hub:        hub,
		dispatcher: NewDispatcher(convs, hub),
		validate:   validator.New(),
	}
}

// registerRoutes mounts the REST surface and the websocket endpoint. The
// register/login pair sits behind the rate limiter; everything under
// /api/chat requires a bearer token.
func (s *Server) registerRoutes(app *fiber.App, limiter *middleware.LimiterStore) {
	api := app.Group("/api")

	authGroup := api.Group("/auth", middleware.RateLimit(limiter))
	authGroup.Post("/register", s.handleRegister)
	authGroup.Post("/login", s.handleLogin)

	chat := api.Group("/chat", s.requireAuth)
	chat.Get("/conversations", s.handleListConversations)
	chat.Get("/conversations/:id/messages", s.handleGetMessages)
	chat.Post("/start", s.handleStartConversation)
	chat.Post("/send", s.handleSendMessage)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(s.handleSocket))
}
