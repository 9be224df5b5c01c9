package wire

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/apierrors"
)

func TestParseClientMessage(t *testing.T) {
	t.Parallel()

	roomID := uuid.New()

	tests := []struct {
		name     string
		input    string
		wantType string
		wantErr  bool
	}{
		{"join room", `{"type":"JoinRoom","room_id":"` + roomID.String() + `","password":"secret1"}`, ClientJoinRoom, false},
		{"leave room", `{"type":"LeaveRoom","room_id":"` + roomID.String() + `"}`, ClientLeaveRoom, false},
		{"send message", `{"type":"SendMessage","room_id":"` + roomID.String() + `","content":"hello"}`, ClientSendMessage, false},
		{"ping", `{"type":"Ping"}`, ClientPing, false},
		{"unknown type", `{"type":"Dance"}`, "", true},
		{"missing type", `{"room_id":"` + roomID.String() + `"}`, "", true},
		{"invalid json", `{`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			msg, err := ParseClientMessage([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseClientMessage(%q) expected error, got %+v", tt.input, msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClientMessage(%q) unexpected error: %v", tt.input, err)
			}
			if msg.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", msg.Type, tt.wantType)
			}
		})
	}
}

func TestParseClientMessagePassword(t *testing.T) {
	t.Parallel()

	roomID := uuid.New()
	msg, err := ParseClientMessage([]byte(`{"type":"JoinRoom","room_id":"` + roomID.String() + `","password":"room-secret1"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.RoomID != roomID {
		t.Errorf("RoomID = %s, want %s", msg.RoomID, roomID)
	}
	if msg.Password == nil || *msg.Password != "room-secret1" {
		t.Errorf("Password = %v, want room-secret1", msg.Password)
	}
}

func TestMessageSentFrameShape(t *testing.T) {
	t.Parallel()

	p := MessagePayload{
		MessageID: uuid.New(),
		RoomID:    uuid.New(),
		SenderID:  uuid.New(),
		Content:   "hello",
		Kind:      "Text",
	}

	var decoded map[string]any
	if err := json.Unmarshal(NewMessageSentFrame(p), &decoded); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}

	if decoded["type"] != ServerMessageSent {
		t.Errorf("type = %v, want %s", decoded["type"], ServerMessageSent)
	}
	if decoded["content"] != "hello" {
		t.Errorf("content = %v, want hello", decoded["content"])
	}
	if decoded["sender_id"] != p.SenderID.String() {
		t.Errorf("sender_id = %v, want %s", decoded["sender_id"], p.SenderID)
	}
	if decoded["room_id"] != p.RoomID.String() {
		t.Errorf("room_id = %v, want %s", decoded["room_id"], p.RoomID)
	}

	ts, ok := decoded["timestamp"].(string)
	if !ok {
		t.Fatal("timestamp missing from frame")
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
	if time.Since(parsed) > time.Minute {
		t.Errorf("timestamp %s is not recent", ts)
	}
}

func TestErrorFrameOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	frame := string(NewErrorFrame(apierrors.NotInRoom, "join the room before sending"))
	if !strings.Contains(frame, `"code":"NOT_IN_ROOM"`) {
		t.Errorf("frame missing code: %s", frame)
	}
	if strings.Contains(frame, "room_id") || strings.Contains(frame, "sender_id") {
		t.Errorf("error frame leaks unset fields: %s", frame)
	}
}
