// Package wire defines the JSON frame protocol spoken over the WebSocket
// gateway. Client frames and server frames are both tagged by a "type" field;
// every server frame carries the server timestamp at serialisation time.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/apierrors"
)

// Client frame types.
const (
	ClientJoinRoom    = "JoinRoom"
	ClientLeaveRoom   = "LeaveRoom"
	ClientSendMessage = "SendMessage"
	ClientPing        = "Ping"
)

// Server frame types.
const (
	ServerWelcome         = "Welcome"
	ServerRoomJoined      = "RoomJoined"
	ServerRoomLeft        = "RoomLeft"
	ServerUserJoined      = "UserJoined"
	ServerUserLeft        = "UserLeft"
	ServerMessageSent     = "MessageSent"
	ServerMessageEdited   = "MessageEdited"
	ServerMessageDeleted  = "MessageDeleted"
	ServerMessageRecalled = "MessageRecalled"
	ServerPong            = "Pong"
	ServerError           = "Error"
)

// ClientMessage is the inbound tagged union. Fields that do not apply to a
// given type are left at their zero value by the decoder.
type ClientMessage struct {
	Type        string    `json:"type"`
	RoomID      uuid.UUID `json:"room_id,omitempty"`
	Password    *string   `json:"password,omitempty"`
	Content     string    `json:"content,omitempty"`
	MessageType *string   `json:"message_type,omitempty"`
}

// ParseClientMessage decodes an inbound text frame. An empty or unknown type
// tag is reported as an error so the session can reply with an Error frame
// instead of silently dropping input.
func ParseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode client message: %w", err)
	}
	switch msg.Type {
	case ClientJoinRoom, ClientLeaveRoom, ClientSendMessage, ClientPing:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown client message type %q", msg.Type)
	}
}

// ServerMessage is the outbound envelope. Variants use a flat field set; only
// the fields relevant to the frame type are populated.
type ServerMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	RoomID    *uuid.UUID      `json:"room_id,omitempty"`
	UserID    *uuid.UUID      `json:"user_id,omitempty"`
	Username  string          `json:"username,omitempty"`
	MessageID *uuid.UUID      `json:"message_id,omitempty"`
	SenderID  *uuid.UUID      `json:"sender_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	ReplyToID *uuid.UUID      `json:"reply_to_id,omitempty"`
	Code      apierrors.Code  `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func marshal(msg ServerMessage) []byte {
	msg.Timestamp = time.Now().UTC()
	// ServerMessage contains no types that can fail to marshal.
	payload, _ := json.Marshal(msg)
	return payload
}

// NewWelcomeFrame returns the frame sent once after a successful upgrade and
// authentication.
func NewWelcomeFrame(userID uuid.UUID, username string) []byte {
	return marshal(ServerMessage{Type: ServerWelcome, UserID: &userID, Username: username})
}

// NewRoomJoinedFrame confirms a JoinRoom command to the issuing connection.
func NewRoomJoinedFrame(roomID uuid.UUID) []byte {
	return marshal(ServerMessage{Type: ServerRoomJoined, RoomID: &roomID})
}

// NewRoomLeftFrame confirms a LeaveRoom command to the issuing connection.
func NewRoomLeftFrame(roomID uuid.UUID) []byte {
	return marshal(ServerMessage{Type: ServerRoomLeft, RoomID: &roomID})
}

// NewUserJoinedFrame announces a new member to the other subscribers of a room.
func NewUserJoinedFrame(roomID, userID uuid.UUID, username string) []byte {
	return marshal(ServerMessage{Type: ServerUserJoined, RoomID: &roomID, UserID: &userID, Username: username})
}

// NewUserLeftFrame announces a departure to the other subscribers of a room.
func NewUserLeftFrame(roomID, userID uuid.UUID, username string) []byte {
	return marshal(ServerMessage{Type: ServerUserLeft, RoomID: &roomID, UserID: &userID, Username: username})
}

// MessagePayload carries the message fields shared by the MessageSent and
// MessageEdited frames.
type MessagePayload struct {
	MessageID uuid.UUID
	RoomID    uuid.UUID
	SenderID  uuid.UUID
	Content   string
	Kind      string
	ReplyToID *uuid.UUID
}

// NewMessageSentFrame broadcasts a freshly persisted message to a room.
func NewMessageSentFrame(p MessagePayload) []byte {
	return marshal(ServerMessage{
		Type:      ServerMessageSent,
		MessageID: &p.MessageID,
		RoomID:    &p.RoomID,
		SenderID:  &p.SenderID,
		Content:   p.Content,
		Kind:      p.Kind,
		ReplyToID: p.ReplyToID,
	})
}

// NewMessageEditedFrame broadcasts an edit, including the new content.
func NewMessageEditedFrame(p MessagePayload) []byte {
	return marshal(ServerMessage{
		Type:      ServerMessageEdited,
		MessageID: &p.MessageID,
		RoomID:    &p.RoomID,
		SenderID:  &p.SenderID,
		Content:   p.Content,
		Kind:      p.Kind,
	})
}

// NewMessageDeletedFrame broadcasts a soft delete.
func NewMessageDeletedFrame(roomID, messageID uuid.UUID) []byte {
	return marshal(ServerMessage{Type: ServerMessageDeleted, RoomID: &roomID, MessageID: &messageID})
}

// NewMessageRecalledFrame broadcasts a recall.
func NewMessageRecalledFrame(roomID, messageID uuid.UUID) []byte {
	return marshal(ServerMessage{Type: ServerMessageRecalled, RoomID: &roomID, MessageID: &messageID})
}

// NewPongFrame answers an application-level Ping.
func NewPongFrame() []byte {
	return marshal(ServerMessage{Type: ServerPong})
}

// NewErrorFrame reports a failed command on the originating connection. The
// session stays open; only transport errors close it.
func NewErrorFrame(code apierrors.Code, message string) []byte {
	return marshal(ServerMessage{Type: ServerError, Code: code, Message: message})
}
