package message

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDeduperRejectsWithinWindow(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	roomID, senderID := uuid.New(), uuid.New()

	if err := d.Observe(roomID, senderID, "hello", KindText); err != nil {
		t.Fatalf("first observe: %v", err)
	}
	if err := d.Observe(roomID, senderID, "hello", KindText); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate within window = %v, want ErrDuplicate", err)
	}

	now = now.Add(1100 * time.Millisecond)
	if err := d.Observe(roomID, senderID, "hello", KindText); err != nil {
		t.Errorf("observe after window = %v, want nil", err)
	}
}

func TestDeduperDistinguishesInputs(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	roomID, senderID := uuid.New(), uuid.New()

	if err := d.Observe(roomID, senderID, "hello", KindText); err != nil {
		t.Fatalf("observe: %v", err)
	}

	// Different content, sender, room, or kind is not a duplicate.
	if err := d.Observe(roomID, senderID, "hello!", KindText); err != nil {
		t.Errorf("different content = %v", err)
	}
	if err := d.Observe(roomID, uuid.New(), "hello", KindText); err != nil {
		t.Errorf("different sender = %v", err)
	}
	if err := d.Observe(uuid.New(), senderID, "hello", KindText); err != nil {
		t.Errorf("different room = %v", err)
	}
	if err := d.Observe(roomID, senderID, "hello", KindEmoji); err != nil {
		t.Errorf("different kind = %v", err)
	}
}

func TestDeduperPrunesOldEntries(t *testing.T) {
	t.Parallel()

	d := NewDeduper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	roomID, senderID := uuid.New(), uuid.New()
	_ = d.Observe(roomID, senderID, "hello", KindText)

	// Past the retention horizon the table is pruned on access.
	now = now.Add(6 * time.Minute)
	_ = d.Observe(roomID, senderID, "other", KindText)

	d.mu.Lock()
	size := len(d.seen)
	d.mu.Unlock()
	if size != 1 {
		t.Errorf("table size = %d, want 1 after pruning", size)
	}
}
