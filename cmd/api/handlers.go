package main

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/yatttiiii/ThaparKart/internal/auth"
	"github.com/yatttiiii/ThaparKart/internal/data"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type startConversationRequest struct {
	RecipientID string `json:"recipientId" validate:"required"`
}

type sendMessageRequest struct {
	ConversationID string `json:"conversationId"`
	RecipientID    string `json:"recipientId"`
	Text           string `json:"text" validate:"required"`
}

// conversationSummary is one row of the conversation list: the other
// participant's name, the latest-message preview and the viewer's unread
// count.
type conversationSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Preview string `json:"preview"`
	Time    string `json:"time"`
	Unread  int    `json:"unread"`
}

// messageView is one message tagged relative to the requesting viewer.
type messageView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	From     string `json:"from"` // "me" or "other", relative to the requester
	Time     string `json:"time"`
	SenderID string `json:"senderId"`
}

// timeLabel renders a timestamp the way the chat UI shows it (hour:minute).
func timeLabel(t time.Time) string {
	return t.Local().Format("15:04")
}

// handleRegister creates a user and returns a signed token for the session.
func (s *Server) handleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	hashed, err := auth.HashPassword(req.Password)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to hash password")
	}

	user, err := s.users.CreateUser(c.UserContext(), strings.TrimSpace(req.Name), req.Email, hashed)
	if err != nil {
		if errors.Is(err, data.ErrUserExists) {
			return fiber.NewError(fiber.StatusConflict, "user already exists")
		}
		log.Printf("create user failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create user")
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Name)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token":     token,
		"userId":    user.ID.Hex(),
		"expiresAt": expiresAt,
	})
}

// handleLogin authenticates a user and returns a signed token.
func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	user, err := s.users.GetUserByEmail(c.UserContext(), req.Email)
	if err != nil {
		if errors.Is(err, data.ErrUserNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "user not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to look up user")
	}

	if err := auth.CheckPassword(user.Password, req.Password); err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}

	token, expiresAt, err := s.auth.GenerateToken(user.ID, user.Name)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"token":     token,
		"userId":    user.ID.Hex(),
		"expiresAt": expiresAt,
	})
}

// viewerID resolves the authenticated user's object id from the claims set by
// requireAuth.
func (s *Server) viewerID(c *fiber.Ctx) (bson.ObjectID, error) {
	claims, ok := claimsFromCtx(c)
	if !ok {
		return bson.ObjectID{}, fiber.NewError(fiber.StatusUnauthorized, "missing auth claims")
	}
	id, err := bson.ObjectIDFromHex(claims.UserID)
	if err != nil {
		return bson.ObjectID{}, fiber.NewError(fiber.StatusUnauthorized, "invalid auth claims")
	}
	return id, nil
}

// handleListConversations returns every conversation the viewer participates
// in, newest activity first, each annotated with the other participant's name
// and the viewer's unread count.
func (s *Server) handleListConversations(c *fiber.Ctx) error {
	viewer, err := s.viewerID(c)
	if err != nil {
		return err
	}

	convs, err := s.convs.ListForUser(c.UserContext(), viewer)
	if err != nil {
		log.Printf("list conversations failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list conversations")
	}

	summaries := make([]conversationSummary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, s.summarize(c, conv, viewer))
	}

	return c.JSON(fiber.Map{"conversations": summaries})
}

// summarize builds the list row for one conversation from the viewer's side.
func (s *Server) summarize(c *fiber.Ctx, conv *data.Conversation, viewer bson.ObjectID) conversationSummary {
	name := "Unknown User"
	if otherID, ok := conv.OtherParticipant(viewer); ok {
		if other, err := s.users.GetUserByID(c.UserContext(), otherID); err == nil {
			name = other.Name
		}
	}

	preview := conv.LastMessage
	if preview == "" {
		preview = "No messages yet"
	}

	return conversationSummary{
		ID:      conv.ID.Hex(),
		Name:    name,
		Preview: preview,
		Time:    timeLabel(conv.LastUpdated),
		Unread:  conv.UnreadCountFor(viewer),
	}
}

// handleGetMessages returns the conversation's ordered message log, marking
// everything the viewer hadn't read yet as read in the same request.
func (s *Server) handleGetMessages(c *fiber.Ctx) error {
	viewer, err := s.viewerID(c)
	if err != nil {
		return err
	}

	convID, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "chat not found")
	}

	conv, err := s.convs.GetByID(c.UserContext(), convID)
	if err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "chat not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load chat")
	}
	if !conv.HasParticipant(viewer) {
		return fiber.NewError(fiber.StatusForbidden, "not a participant")
	}

	conv, err = s.convs.MarkReadFor(c.UserContext(), convID, viewer)
	if err != nil {
		log.Printf("mark read failed: %v", err)
		return fiber.NewError(fiber.StatusInternalServerError, "failed to load chat")
	}

	views := make([]messageView, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		from := "other"
		if m.SenderID == viewer {
			from = "me"
		}
		views = append(views, messageView{
			ID:       m.ID.Hex(),
			Text:     m.Text,
			From:     from,
			Time:     timeLabel(m.SentAt),
			SenderID: m.SenderID.Hex(),
		})
	}

	return c.JSON(fiber.Map{"messages": views})
}

// handleStartConversation finds or creates the conversation between the
// viewer and the recipient and returns its id.
func (s *Server) handleStartConversation(c *fiber.Ctx) error {
	viewer, err := s.viewerID(c)
	if err != nil {
		return err
	}

	var req startConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := s.validate.Struct(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "recipient ID required")
	}

	recipient, err := bson.ObjectIDFromHex(req.RecipientID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid recipient ID")
	}

	conv, err := s.findOrCreateWith(c, viewer, recipient)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{"conversationId": conv.ID.Hex()})
}

// findOrCreateWith verifies the recipient exists and resolves the single
// conversation between the two users.
func (s *Server) findOrCreateWith(c *fiber.Ctx, viewer, recipient bson.ObjectID) (*data.Conversation, error) {
	exists, err := s.users.UserExists(c.UserContext(), recipient)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to verify recipient")
	}
	if !exists {
		return nil, fiber.NewError(fiber.StatusNotFound, "recipient not found")
	}

	conv, err := s.convs.FindOrCreate(c.UserContext(), viewer, recipient)
	if err != nil {
		if errors.Is(err, data.ErrSameUser) {
			return nil, fiber.NewError(fiber.StatusBadRequest, "cannot message yourself")
		}
		log.Printf("find-or-create conversation failed: %v", err)
		return nil, fiber.NewError(fiber.StatusInternalServerError, "failed to start chat")
	}
	return conv, nil
}

// handleSendMessage resolves the target conversation (by id, or by recipient
// with implicit creation on first contact), then runs the send pipeline.
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	viewer, err := s.viewerID(c)
	if err != nil {
		return err
	}

	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return fiber.NewError(fiber.StatusBadRequest, "message text required")
	}
	if req.ConversationID == "" && req.RecipientID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "conversationId or recipientId required")
	}

	var conv *data.Conversation
	if req.ConversationID != "" {
		convID, err := bson.ObjectIDFromHex(req.ConversationID)
		if err != nil {
			return fiber.NewError(fiber.StatusNotFound, "chat not found")
		}
		conv, err = s.convs.GetByID(c.UserContext(), convID)
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "chat not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to load chat")
		}
	} else {
		recipient, err := bson.ObjectIDFromHex(req.RecipientID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid recipient ID")
		}
		conv, err = s.findOrCreateWith(c, viewer, recipient)
		if err != nil {
			return err
		}
	}

	msg, err := s.dispatcher.Dispatch(c.UserContext(), conv, viewer, text)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrNotParticipant):
			return fiber.NewError(fiber.StatusForbidden, "not a participant")
		case errors.Is(err, data.ErrNotFound):
			return fiber.NewError(fiber.StatusNotFound, "chat not found")
		default:
			log.Printf("send message failed: %v", err)
			return fiber.NewError(fiber.StatusInternalServerError, "failed to send message")
		}
	}

	// Reflect the append locally rather than re-reading the document; the
	// viewer's own unread count is unaffected by their own message.
	conv.Messages = append(conv.Messages, *msg)
	conv.LastMessage = msg.Text
	conv.LastUpdated = msg.SentAt

	return c.JSON(fiber.Map{
		"success":      true,
		"conversation": s.summarize(c, conv, viewer),
	})
}
