package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/apierrors"
	"github.com/yeheng/chatroom-server/internal/config"
	"github.com/yeheng/chatroom-server/internal/event"
	"github.com/yeheng/chatroom-server/internal/message"
	"github.com/yeheng/chatroom-server/internal/room"
	"github.com/yeheng/chatroom-server/internal/user"
	"github.com/yeheng/chatroom-server/internal/wire"
)

// Hub ties the registry, the router, and the services together for the
// WebSocket sessions. It implements event.Sink: domain events emitted by the
// room and message services under their per-room lock are fanned out here,
// which is what gives every subscriber per-room ordering.
type Hub struct {
	cfg      *config.Config
	registry *Registry
	router   *Router
	rooms    *room.Service
	messages *message.Service
	users    user.Repository
	log      zerolog.Logger

	mu      sync.Mutex
	clients map[uuid.UUID]*client
}

// NewHub creates the gateway hub.
func NewHub(
	cfg *config.Config,
	registry *Registry,
	router *Router,
	rooms *room.Service,
	messages *message.Service,
	users user.Repository,
	logger zerolog.Logger,
) *Hub {
	return &Hub{
		cfg:      cfg,
		registry: registry,
		router:   router,
		rooms:    rooms,
		messages: messages,
		users:    users,
		clients:  make(map[uuid.UUID]*client),
		log:      logger.With().Str("component", "gateway").Logger(),
	}
}

// ServeWebSocket runs one session on an upgraded connection. The bearer
// token was validated before the upgrade; userID is the authenticated
// principal. The call blocks until the session ends.
func (h *Hub) ServeWebSocket(conn *websocket.Conn, userID uuid.UUID, clientInfo string) {
	u, err := h.users.FindByID(context.Background(), userID)
	if err != nil {
		h.log.Debug().Err(err).Stringer("user_id", userID).Msg("Closing session for unknown user")
		_ = conn.Close()
		return
	}

	record, err := h.registry.Register(userID, u.Username, clientInfo)
	if err != nil {
		h.log.Warn().Err(err).Msg("Connection refused at capacity")
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	c := newClient(record.ID, userID, h, conn, h.log)
	h.router.RegisterSender(record.ID, c)

	h.mu.Lock()
	h.clients[record.ID] = c
	h.mu.Unlock()

	h.registry.SetStatus(record.ID, ConnAuthenticated)
	c.Send(wire.NewWelcomeFrame(userID, u.Username))
	h.log.Info().Stringer("conn_id", record.ID).Stringer("user_id", userID).Msg("Session established")

	go c.writePump()
	c.readPump()
}

// teardown removes every trace of a finished client. Called exactly once
// from readPump's deferred cleanup.
func (h *Hub) teardown(c *client) {
	c.closeOnce.Do(func() { close(c.done) })
	h.router.UnregisterSender(c.id)
	h.registry.Unregister(c.id)

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	h.log.Debug().Stringer("conn_id", c.id).Msg("Session closed")
}

// dispatch parses one inbound text frame and executes the command. A failed
// command answers with an Error frame on the same connection; the session
// stays open.
func (h *Hub) dispatch(c *client, payload []byte) {
	h.registry.TouchActivity(c.id)

	msg, err := wire.ParseClientMessage(payload)
	if err != nil {
		c.Send(wire.NewErrorFrame(apierrors.ValidationError, "invalid message"))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch msg.Type {
	case wire.ClientJoinRoom:
		h.handleJoinRoom(ctx, c, msg)
	case wire.ClientLeaveRoom:
		h.handleLeaveRoom(ctx, c, msg)
	case wire.ClientSendMessage:
		h.handleSendMessage(ctx, c, msg)
	case wire.ClientPing:
		c.Send(wire.NewPongFrame())
	}
}

// handleJoinRoom delegates to the room service so membership is durable,
// then subscribes the connection. A user who is already a member (joined
// over REST, or reconnecting) is subscribed without a new membership row.
func (h *Hub) handleJoinRoom(ctx context.Context, c *client, msg *wire.ClientMessage) {
	if msg.RoomID == uuid.Nil {
		c.Send(wire.NewErrorFrame(apierrors.ValidationError, "room_id is required"))
		return
	}

	err := h.rooms.JoinRoom(ctx, msg.RoomID, c.userID, msg.Password)
	if err != nil && !errors.Is(err, room.ErrAlreadyJoined) {
		code, text := wsError(err)
		c.Send(wire.NewErrorFrame(code, text))
		return
	}

	h.registry.JoinRoomSubscription(c.id, msg.RoomID)
	c.Send(wire.NewRoomJoinedFrame(msg.RoomID))
}

// handleLeaveRoom gives up durable membership, then drops the subscription.
// The UserLeft broadcast to the other subscribers rides the UserLeftRoom
// event emitted by the room service.
func (h *Hub) handleLeaveRoom(ctx context.Context, c *client, msg *wire.ClientMessage) {
	if msg.RoomID == uuid.Nil {
		c.Send(wire.NewErrorFrame(apierrors.ValidationError, "room_id is required"))
		return
	}

	if err := h.rooms.LeaveRoom(ctx, msg.RoomID, c.userID); err != nil {
		code, text := wsError(err)
		c.Send(wire.NewErrorFrame(code, text))
		return
	}

	h.registry.LeaveRoomSubscription(c.id, msg.RoomID)
	c.Send(wire.NewRoomLeftFrame(msg.RoomID))
}

// handleSendMessage requires a live subscription, then runs the send
// pipeline. The MessageSent broadcast rides the service's event.
func (h *Hub) handleSendMessage(ctx context.Context, c *client, msg *wire.ClientMessage) {
	if !h.registry.IsSubscribed(c.id, msg.RoomID) {
		c.Send(wire.NewErrorFrame(apierrors.NotInRoom, "join the room before sending"))
		return
	}

	kind := message.KindText
	if msg.MessageType != nil {
		kind = message.Kind(*msg.MessageType)
		if !kind.Valid() || kind == message.KindSystem {
			c.Send(wire.NewErrorFrame(apierrors.ValidationError, "unknown message_type"))
			return
		}
	}

	if _, err := h.messages.SendMessage(ctx, message.SendParams{
		RoomID:   msg.RoomID,
		SenderID: c.userID,
		Content:  msg.Content,
		Kind:     kind,
	}); err != nil {
		code, text := wsError(err)
		c.Send(wire.NewErrorFrame(code, text))
	}
}

// HandleEvent fans one committed domain event out to the subscribed
// connections. It runs synchronously inside the emitting service's per-room
// critical section; sends are channel handoffs and never block.
func (h *Hub) HandleEvent(e event.Event) {
	switch e.Type {
	case event.UserJoinedRoom:
		username, _ := e.Payload["username"].(string)
		h.router.RouteToRoomExcept(e.RoomID, e.ActorID, wire.NewUserJoinedFrame(e.RoomID, e.ActorID, username))

	case event.UserLeftRoom:
		h.registry.DropUserRoom(e.ActorID, e.RoomID)
		h.router.RouteToRoomExcept(e.RoomID, e.ActorID, wire.NewUserLeftFrame(e.RoomID, e.ActorID, ""))

	case event.MemberKicked:
		if raw, ok := e.Payload["user_id"].(string); ok {
			if kicked, err := uuid.Parse(raw); err == nil {
				h.registry.DropUserRoom(kicked, e.RoomID)
				h.router.RouteToRoom(e.RoomID, wire.NewUserLeftFrame(e.RoomID, kicked, ""))
			}
		}

	case event.RoomDeleted:
		h.registry.DropRoom(e.RoomID)

	case event.MessageSent:
		if e.MessageID == nil {
			return
		}
		content, _ := e.Payload["content"].(string)
		kind, _ := e.Payload["kind"].(string)
		h.router.RouteToRoom(e.RoomID, wire.NewMessageSentFrame(wire.MessagePayload{
			MessageID: *e.MessageID,
			RoomID:    e.RoomID,
			SenderID:  e.ActorID,
			Content:   content,
			Kind:      kind,
		}))

	case event.MessageEdited:
		if e.MessageID == nil {
			return
		}
		content, _ := e.Payload["content"].(string)
		kind, _ := e.Payload["kind"].(string)
		h.router.RouteToRoom(e.RoomID, wire.NewMessageEditedFrame(wire.MessagePayload{
			MessageID: *e.MessageID,
			RoomID:    e.RoomID,
			SenderID:  e.ActorID,
			Content:   content,
			Kind:      kind,
		}))

	case event.MessageDeleted:
		if e.MessageID != nil {
			h.router.RouteToRoom(e.RoomID, wire.NewMessageDeletedFrame(e.RoomID, *e.MessageID))
		}

	case event.MessageRecalled:
		if e.MessageID != nil {
			h.router.RouteToRoom(e.RoomID, wire.NewMessageRecalledFrame(e.RoomID, *e.MessageID))
		}
	}
}

// RunCleanup sweeps inactive connections until the context is cancelled.
func (h *Hub) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.GatewayCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := h.registry.CleanupInactive(h.cfg.GatewayInactivityTimeout)
			for _, id := range evicted {
				h.closeClient(id)
			}
			if len(evicted) > 0 {
				h.log.Info().Int("evicted", len(evicted)).Msg("Evicted inactive connections")
			}
		}
	}
}

func (h *Hub) closeClient(id uuid.UUID) {
	h.mu.Lock()
	c, ok := h.clients[id]
	h.mu.Unlock()
	if ok {
		h.router.UnregisterSender(id)
		c.close()
	}
}

// Shutdown closes every session and waits up to the configured drain
// interval for writers to flush.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.close()
	}

	time.Sleep(h.cfg.GatewayShutdownDrain)
	h.log.Info().Int("connections", len(clients)).Msg("Gateway shut down")
}

// wsError maps a command failure to its wire code and sanitised text.
func wsError(err error) (apierrors.Code, string) {
	var rl *message.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return apierrors.RateLimited, rl.Error()
	case errors.Is(err, room.ErrTooManyAttempts):
		return apierrors.RateLimited, "too many failed attempts"
	case errors.Is(err, room.ErrInvalidPassword), errors.Is(err, room.ErrPasswordRequired):
		return apierrors.InvalidPassword, "room secret does not match"
	case errors.Is(err, room.ErrNotFound):
		return apierrors.RoomNotFound, "room not found"
	case errors.Is(err, room.ErrDeleted):
		return apierrors.RoomDeleted, "room has been deleted"
	case errors.Is(err, room.ErrFull):
		return apierrors.RoomFull, "room is full"
	case errors.Is(err, room.ErrAlreadyJoined):
		return apierrors.UserAlreadyInRoom, "already a member"
	case errors.Is(err, room.ErrNotJoined):
		return apierrors.UserNotInRoom, "not a member of the room"
	case errors.Is(err, room.ErrOwnerCannotLeave):
		return apierrors.Forbidden, "the owner must transfer or delete the room first"
	case errors.Is(err, user.ErrNotFound), errors.Is(err, user.ErrNotActive):
		return apierrors.Unauthorized, "account is not active"
	case errors.Is(err, message.ErrDuplicate):
		return apierrors.DuplicateMessage, "duplicate message"
	case errors.Is(err, message.ErrEmptyContent):
		return apierrors.EmptyContent, "message content must not be empty"
	case errors.Is(err, message.ErrContentTooLong):
		return apierrors.ContentTooLong, "message content is too long"
	case errors.Is(err, message.ErrSensitiveContent):
		return apierrors.SensitiveContent, "message content is not allowed"
	case errors.Is(err, message.ErrReplyNotFound):
		return apierrors.ValidationError, "reply target not found"
	case errors.Is(err, message.ErrNotFound):
		return apierrors.MessageNotFound, "message not found"
	default:
		return apierrors.Internal, "internal error"
	}
}
