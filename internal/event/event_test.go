package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestEventConstruction(t *testing.T) {
	t.Parallel()

	roomID, actorID, msgID := uuid.New(), uuid.New(), uuid.New()

	e := New(MessageSent, roomID, actorID).
		WithMessage(msgID).
		WithPayload(map[string]any{"content": "hello"})

	if e.Type != MessageSent {
		t.Errorf("Type = %s, want MessageSent", e.Type)
	}
	if e.MessageID == nil || *e.MessageID != msgID {
		t.Errorf("MessageID = %v, want %s", e.MessageID, msgID)
	}
	if e.Payload["content"] != "hello" {
		t.Errorf("Payload = %v", e.Payload)
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

func TestValkeyPublisherDelivers(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sub := rdb.Subscribe(context.Background(), Channel)
	t.Cleanup(func() { _ = sub.Close() })
	// Wait for the subscription to be established before publishing.
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewValkeyPublisher(rdb, zerolog.Nop())
	e := New(RoomCreated, uuid.New(), uuid.New())
	p.Publish(context.Background(), e)

	select {
	case msg := <-sub.Channel():
		var got Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("unmarshal published event: %v", err)
		}
		if got.Type != RoomCreated {
			t.Errorf("Type = %s, want RoomCreated", got.Type)
		}
		if got.RoomID != e.RoomID {
			t.Errorf("RoomID = %s, want %s", got.RoomID, e.RoomID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()

	// Must be safe to call with any event and never block.
	NopPublisher{}.Publish(context.Background(), New(RoomDeleted, uuid.New(), uuid.New()))
}
