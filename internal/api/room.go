package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/history"
	"github.com/yeheng/chatroom-server/internal/httputil"
	"github.com/yeheng/chatroom-server/internal/member"
	"github.com/yeheng/chatroom-server/internal/message"
	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/room"
)

// RoomHandler serves the room endpoints.
type RoomHandler struct {
	rooms    *room.Service
	messages *message.Service
	history  *history.Service
	log      zerolog.Logger
}

// NewRoomHandler creates a new room handler.
func NewRoomHandler(rooms *room.Service, messages *message.Service, hist *history.Service, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, messages: messages, history: hist, log: logger}
}

// roomBody is the public room shape.
type roomBody struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    *string `json:"description,omitempty"`
	IsPrivate      bool    `json:"is_private"`
	OwnerID        string  `json:"owner_id"`
	MaxMembers     *int    `json:"max_members,omitempty"`
	MemberCount    int     `json:"member_count"`
	Status         string  `json:"status"`
	CreatedAt      string  `json:"created_at"`
	LastActivityAt string  `json:"last_activity_at"`
}

func toRoomBody(r *room.Room) roomBody {
	return roomBody{
		ID:             r.ID.String(),
		Name:           r.Name,
		Description:    r.Description,
		IsPrivate:      r.IsPrivate,
		OwnerID:        r.OwnerID.String(),
		MaxMembers:     r.MaxMembers,
		MemberCount:    r.MemberCount,
		Status:         string(r.Status),
		CreatedAt:      r.CreatedAt.UTC().Format(time.RFC3339),
		LastActivityAt: r.LastActivityAt.UTC().Format(time.RFC3339),
	}
}

func parseRoomID(c fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("roomID"))
	return id, err == nil
}

// CreateRoom handles POST /api/v1/rooms.
func (h *RoomHandler) CreateRoom(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}

	var body struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
		IsPrivate   bool    `json:"is_private"`
		Password    *string `json:"password"`
		MaxMembers  *int    `json:"max_members"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}

	created, err := h.rooms.CreateRoom(c, room.CreateParams{
		Name:        body.Name,
		OwnerID:     userID,
		Description: body.Description,
		IsPrivate:   body.IsPrivate,
		Password:    body.Password,
		MaxMembers:  body.MaxMembers,
	})
	if err != nil {
		return mapError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, toRoomBody(created))
}

// ListRooms handles GET /api/v1/rooms.
func (h *RoomHandler) ListRooms(c fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	if page < 1 {
		page = 1
	}
	window := pagination.Pagination{Offset: (page - 1) * pageSize, Limit: pageSize}.Clamp()

	rooms, err := h.rooms.ListRooms(c, window)
	if err != nil {
		return mapError(c, err)
	}

	out := make([]roomBody, len(rooms))
	for i := range rooms {
		out[i] = toRoomBody(&rooms[i])
	}
	return httputil.Success(c, out)
}

// GetRoom handles GET /api/v1/rooms/:roomID.
func (h *RoomHandler) GetRoom(c fiber.Ctx) error {
	roomID, ok := parseRoomID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid room ID format")
	}

	r, err := h.rooms.GetRoom(c, roomID)
	if err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toRoomBody(r))
}

// UpdateRoom handles PUT /api/v1/rooms/:roomID.
func (h *RoomHandler) UpdateRoom(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	roomID, ok := parseRoomID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid room ID format")
	}

	var body struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
		MaxMembers  *int    `json:"max_members"`
		Password    *string `json:"password"`
	}
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}

	updated, err := h.rooms.UpdateRoom(c, roomID, userID, room.UpdateParams{
		Name:        body.Name,
		Description: body.Description,
		MaxMembers:  body.MaxMembers,
		Password:    body.Password,
	})
	if err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toRoomBody(updated))
}

// DeleteRoom handles DELETE /api/v1/rooms/:roomID.
func (h *RoomHandler) DeleteRoom(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	roomID, ok := parseRoomID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid room ID format")
	}

	if err := h.rooms.DeleteRoom(c, roomID, userID); err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, fiber.Map{"deleted": true})
}

// JoinRoom handles POST /api/v1/rooms/:roomID/join.
func (h *RoomHandler) JoinRoom(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	roomID, ok := parseRoomID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid room ID format")
	}

	var body struct {
		Password *string `json:"password"`
	}
	if err := c.Bind().Body(&body); err != nil && len(c.Body()) > 0 {
		return httputil.Fail(c, apierrors.InvalidBody, "Invalid request body")
	}

	if err := h.rooms.JoinRoom(c, roomID, userID, body.Password); err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, fiber.Map{"joined": true})
}

// LeaveRoom handles POST /api/v1/rooms/:roomID/leave.
func (h *RoomHandler) LeaveRoom(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	roomID, ok := parseRoomID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid room ID format")
	}

	if err := h.rooms.LeaveRoom(c, roomID, userID); err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, fiber.Map{"left": true})
}

// memberBody is the public membership shape.
type memberBody struct {
	UserID               string  `json:"user_id"`
	Role                 string  `json:"role"`
	JoinedAt             string  `json:"joined_at"`
	LastReadMessageID    *string `json:"last_read_message_id,omitempty"`
	IsMuted              bool    `json:"is_muted"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
}

func toMemberBody(m *member.Member) memberBody {
	out := memberBody{
		UserID:               m.UserID.String(),
		Role:                 string(m.Role),
		JoinedAt:             m.JoinedAt.UTC().Format(time.RFC3339),
		IsMuted:              m.IsMuted,
		NotificationsEnabled: m.NotificationsEnabled,
	}
	if m.LastReadMessageID != nil {
		s := m.LastReadMessageID.String()
		out.LastReadMessageID = &s
	}
	return out
}

// GetRoomMembers handles GET /api/v1/rooms/:roomID/members.
func (h *RoomHandler) GetRoomMembers(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	roomID, ok := parseRoomID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid room ID format")
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	members, err := h.rooms.GetRoomMembers(c, roomID, userID, pagination.Pagination{Offset: offset, Limit: limit})
	if err != nil {
		return mapError(c, err)
	}

	out := make([]memberBody, len(members))
	for i := range members {
		out[i] = toMemberBody(&members[i])
	}
	return httputil.Success(c, out)
}

// messageBody is the public message shape.
type messageBody struct {
	ID         string              `json:"id"`
	RoomID     string              `json:"room_id"`
	SenderID   string              `json:"sender_id"`
	Kind       string              `json:"kind"`
	Content    string              `json:"content"`
	Attachment *message.Attachment `json:"attachment,omitempty"`
	ReplyToID  *string             `json:"reply_to_id,omitempty"`
	Status     string              `json:"status"`
	IsEdited   bool                `json:"is_edited"`
	CreatedAt  string              `json:"created_at"`
	EditedAt   *string             `json:"edited_at,omitempty"`
}

func toMessageBody(m *message.Message) messageBody {
	out := messageBody{
		ID:         m.ID.String(),
		RoomID:     m.RoomID.String(),
		SenderID:   m.SenderID.String(),
		Kind:       string(m.Kind),
		Content:    m.Content,
		Attachment: m.Attachment,
		Status:     string(m.Status),
		IsEdited:   m.IsEdited,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if m.ReplyToID != nil {
		s := m.ReplyToID.String()
		out.ReplyToID = &s
	}
	if m.EditedAt != nil {
		s := m.EditedAt.UTC().Format(time.RFC3339Nano)
		out.EditedAt = &s
	}
	return out
}

// historyBody is the page shape returned by the history endpoints.
type historyBody struct {
	Messages   []messageBody `json:"messages"`
	HasMore    bool          `json:"has_more"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

func toHistoryBody(p *history.Page) historyBody {
	out := historyBody{
		Messages:   make([]messageBody, len(p.Messages)),
		HasMore:    p.HasMore,
		NextCursor: p.NextCursor,
	}
	for i := range p.Messages {
		out.Messages[i] = toMessageBody(&p.Messages[i])
	}
	return out
}

// GetRoomMessages handles GET /api/v1/rooms/:roomID/messages. Without
// before/after the read is cursor-paginated through the history cache; with
// a before or after timestamp it reads the repository window directly.
func (h *RoomHandler) GetRoomMessages(c fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return httputil.Fail(c, apierrors.Unauthorized, "Missing user identity")
	}
	roomID, ok := parseRoomID(c)
	if !ok {
		return httputil.Fail(c, apierrors.ValidationError, "Invalid room ID format")
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	if raw := c.Query("before"); raw != "" {
		return h.windowRead(c, roomID, userID, raw, limit, true)
	}
	if raw := c.Query("after"); raw != "" {
		return h.windowRead(c, roomID, userID, raw, limit, false)
	}

	query := history.Query{
		RoomID:         roomID,
		UserID:         userID,
		PageSize:       limit,
		IncludeDeleted: c.Query("include_deleted") == "true",
	}
	if cursor := c.Query("cursor"); cursor != "" {
		query.Cursor = &cursor
	}
	if raw := c.Query("kind"); raw != "" {
		kind := message.Kind(raw)
		if !kind.Valid() {
			return httputil.Fail(c, apierrors.ValidationError, "Unknown message kind")
		}
		query.Kind = &kind
	}

	page, err := h.history.GetRoomHistory(c, query)
	if err != nil {
		return mapError(c, err)
	}
	return httputil.Success(c, toHistoryBody(page))
}

// windowRead serves the before/after timestamp windows.
func (h *RoomHandler) windowRead(c fiber.Ctx, roomID, userID uuid.UUID, raw string, limit int, before bool) error {
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return httputil.Fail(c, apierrors.ValidationError, "before/after must be RFC 3339 timestamps")
	}

	in, err := h.rooms.IsUserInRoom(c, roomID, userID)
	if err != nil {
		return mapError(c, err)
	}
	if !in {
		return httputil.Fail(c, apierrors.UserNotInRoom, "not a member of the room")
	}

	var messages []message.Message
	if before {
		messages, err = h.messages.MessagesBefore(c, roomID, ts, limit)
	} else {
		messages, err = h.messages.MessagesAfter(c, roomID, ts, limit)
	}
	if err != nil {
		return mapError(c, err)
	}

	out := make([]messageBody, len(messages))
	for i := range messages {
		out[i] = toMessageBody(&messages[i])
	}
	window := pagination.Pagination{Limit: limit}.Clamp()
	return httputil.Success(c, historyBody{Messages: out, HasMore: len(messages) == window.Limit})
}
