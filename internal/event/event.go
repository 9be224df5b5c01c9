// Package event defines the domain events emitted by the room and message
// services and the outbound publisher port used for cross-node replication.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the closed set of domain events.
type Type string

const (
	RoomCreated       Type = "RoomCreated"
	RoomUpdated       Type = "RoomUpdated"
	RoomDeleted       Type = "RoomDeleted"
	UserJoinedRoom    Type = "UserJoinedRoom"
	UserLeftRoom      Type = "UserLeftRoom"
	MemberRoleChanged Type = "MemberRoleChanged"
	MemberKicked      Type = "MemberKicked"
	MessageSent       Type = "MessageSent"
	MessageEdited     Type = "MessageEdited"
	MessageDeleted    Type = "MessageDeleted"
	MessageRecalled   Type = "MessageRecalled"
)

// Event carries the identifiers and payload a peer node needs to reconstruct
// fan-out. Payload content is event-type specific and JSON-serialisable.
type Event struct {
	Type      Type           `json:"type"`
	RoomID    uuid.UUID      `json:"room_id"`
	ActorID   uuid.UUID      `json:"actor_id"`
	MessageID *uuid.UUID     `json:"message_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New constructs an event stamped with the current time.
func New(t Type, roomID, actorID uuid.UUID) Event {
	return Event{Type: t, RoomID: roomID, ActorID: actorID, Timestamp: time.Now().UTC()}
}

// WithMessage attaches a message id.
func (e Event) WithMessage(id uuid.UUID) Event {
	e.MessageID = &id
	return e
}

// WithPayload attaches a payload map.
func (e Event) WithPayload(payload map[string]any) Event {
	e.Payload = payload
	return e
}

// Sink receives events synchronously, in commit order, inside the emitting
// service's critical section. The WebSocket hub implements Sink to fan events
// out to subscribed connections; handlers must be fast and non-blocking.
type Sink interface {
	HandleEvent(e Event)
}

// Publisher is the outbound port for cross-process replication. Publish is
// fire-and-forget: implementations must not block the calling service, and
// failures are logged rather than propagated.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// NopPublisher is the default publisher. Single-node correctness never
// depends on events leaving the process.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(context.Context, Event) {}
