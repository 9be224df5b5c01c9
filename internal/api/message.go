package api

import (
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/history"
	"github.com/yeheng/chatroom-server/internal/httputil"
	"github.com/yeheng/chatroom-server/internal/message"
)

// MessageHandler serves the message endpoints.
type MessageHandler struct {
	messages *message.Service
	history  *history.Service
	log      zerolog.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *message.Service, hist *history.Service, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, history: hist, log: logger}
}

func parseMessageID(c fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("messageID"))
	return id, err == nil
}

// GetMessage handles GET /api/v1/messages/:messageID. Terminal messages are
// indistinguishable from missing ones.
func (h *MessageHandler) GetMessage(c fiber.Ctx) error {
	messageID, ok := parseMessageID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid message ID format")
	}

	m, err := h.messages.GetMessage(c, messageID)
	if err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toMessageBody(m))
}

// EditMessage handles PUT /api/v1/messages/:messageID.
func (h *MessageHandler) EditMessage(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid message ID format")
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}

	m, err := h.messages.EditMessage(c, messageID, userID, body.Content)
	if err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toMessageBody(m))
}

// DeleteMessage handles DELETE /api/v1/messages/:messageID.
func (h *MessageHandler) DeleteMessage(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid message ID format")
	}

	if err := h.messages.DeleteMessage(c, messageID, userID); err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// RecallMessage handles POST /api/v1/messages/:messageID/recall. Only the
// sender may recall, and only within the recall window.
func (h *MessageHandler) RecallMessage(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	messageID, ok := parseMessageID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid message ID format")
	}

	if err := h.messages.RecallMessage(c, messageID, userID); err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, fiber.Map{"recalled": true})
}

// SearchMessages handles GET /api/v1/messages/search. Search is room-scoped
// because visibility is room-scoped; room_id is required.
func (h *MessageHandler) SearchMessages(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}

	keyword := c.Query("q")
	if keyword == "" {
		return httputil.Fail(c, apierrors.ValidationError, "q is required")
	}
	roomID, err := uuid.Parse(c.Query("room_id"))
	if err != nil {
		return httputil.Fail(c, apierrors.ValidationError, "room_id is required")
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	query := history.Query{RoomID: roomID, UserID: userID, PageSize: limit}
	if cursor := c.Query("cursor"); cursor != "" {
		query.Cursor = &cursor
	}

	page, err := h.history.SearchMessages(c, query, keyword)
	if err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toHistoryBody(page))
}
