package history

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/message"
)

func TestCursorRoundTrip(t *testing.T) {
	t.Parallel()

	m := &message.Message{
		ID:        uuid.New(),
		CreatedAt: time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC),
	}

	ts, id, err := DecodeCursor(EncodeCursor(m))
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !ts.Equal(m.CreatedAt) {
		t.Errorf("timestamp = %s, want %s", ts, m.CreatedAt)
	}
	if id != m.ID {
		t.Errorf("id = %s, want %s", id, m.ID)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	t.Parallel()

	for _, cursor := range []string{"not-base64!!!", "aGVsbG8=", ""} {
		if _, _, err := DecodeCursor(cursor); !errors.Is(err, ErrBadCursor) {
			t.Errorf("DecodeCursor(%q) = %v, want ErrBadCursor", cursor, err)
		}
	}
}
