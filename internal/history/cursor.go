// Package history implements the cursor-paginated, cache-backed read path
// for room messages.
package history

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/message"
)

// ErrBadCursor is returned when a cursor cannot be decoded. The history
// service treats both an unknown and a malformed cursor as "start from the
// top".
var ErrBadCursor = errors.New("malformed history cursor")

// cursorPayload is the JSON inside a cursor token.
type cursorPayload struct {
	T  int64     `json:"t"`
	N  int       `json:"n"`
	ID uuid.UUID `json:"id"`
}

// EncodeCursor produces the opaque token naming a message's position in the
// (created_at DESC, id DESC) total order.
func EncodeCursor(m *message.Message) string {
	payload, _ := json.Marshal(cursorPayload{
		T:  m.CreatedAt.Unix(),
		N:  m.CreatedAt.Nanosecond(),
		ID: m.ID,
	})
	return base64.StdEncoding.EncodeToString(payload)
}

// DecodeCursor recovers the (created_at, id) pair from a token.
func DecodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	raw, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrBadCursor
	}
	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return time.Time{}, uuid.Nil, ErrBadCursor
	}
	return time.Unix(payload.T, int64(payload.N)).UTC(), payload.ID, nil
}
