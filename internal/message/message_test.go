package message

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewMessageInvariants(t *testing.T) {
	t.Parallel()

	roomID, senderID := uuid.New(), uuid.New()
	attachment := &Attachment{Name: "cat.png", ContentType: "image/png", SizeBytes: 1024, URL: "/media/cat.png"}

	tests := []struct {
		name       string
		kind       Kind
		content    string
		attachment *Attachment
		wantErr    error
	}{
		{"text ok", KindText, "hello", nil, nil},
		{"emoji ok", KindEmoji, "🎉", nil, nil},
		{"image with attachment", KindImage, "a cat", attachment, nil},
		{"file with attachment", KindFile, "notes.pdf", attachment, nil},
		{"image without attachment", KindImage, "a cat", nil, ErrAttachmentRequired},
		{"text with attachment", KindText, "hello", attachment, ErrAttachmentForbidden},
		{"empty content", KindText, "   ", nil, ErrEmptyContent},
		{"text over domain ceiling", KindText, strings.Repeat("a", MaxContentRunes+1), nil, ErrContentTooLong},
		{"text at domain ceiling", KindText, strings.Repeat("a", MaxContentRunes), nil, nil},
		{"system over ceiling", KindSystem, strings.Repeat("a", MaxSystemContentRunes+1), nil, ErrContentTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := New(roomID, senderID, tt.kind, tt.content, tt.attachment, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && m.Status != StatusSent {
				t.Errorf("Status = %s, want Sent", m.Status)
			}
		})
	}
}

func TestNewMessageOversizeAttachment(t *testing.T) {
	t.Parallel()

	big := &Attachment{Name: "big.bin", SizeBytes: MaxAttachmentBytes + 1}
	if _, err := New(uuid.New(), uuid.New(), KindFile, "big", big, nil); !errors.Is(err, ErrAttachmentTooLarge) {
		t.Errorf("oversize attachment error = %v, want ErrAttachmentTooLarge", err)
	}
}

func TestNewSystemMessageSender(t *testing.T) {
	t.Parallel()

	m, err := New(uuid.New(), uuid.New(), KindSystem, "user joined", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if m.SenderID != uuid.Nil {
		t.Errorf("system SenderID = %s, want nil UUID", m.SenderID)
	}
}

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusSent, StatusDeleted, true},
		{StatusSent, StatusRecalled, true},
		{StatusDelivered, StatusRead, true},
		{StatusDelivered, StatusDeleted, true},
		{StatusDelivered, StatusSent, false},
		{StatusRead, StatusDeleted, true},
		{StatusRead, StatusRecalled, true},
		{StatusRead, StatusDelivered, false},
		{StatusDeleted, StatusSent, false},
		{StatusDeleted, StatusRead, false},
		{StatusRecalled, StatusDeleted, false},
		{StatusRecalled, StatusSent, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTerminalStatesReachability(t *testing.T) {
	t.Parallel()

	// Deleted and Recalled are terminal and admit no transition to any
	// status.
	for _, s := range []Status{StatusDeleted, StatusRecalled} {
		if !s.Terminal() {
			t.Errorf("Terminal(%s) = false", s)
		}
		for _, next := range []Status{StatusSent, StatusDelivered, StatusRead, StatusDeleted, StatusRecalled} {
			if CanTransition(s, next) {
				t.Errorf("terminal %s transitions to %s", s, next)
			}
		}
	}
}

func TestEditContentWindow(t *testing.T) {
	t.Parallel()

	m, err := New(uuid.New(), uuid.New(), KindText, "original", nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Within the window.
	if err := m.EditContent("updated", m.CreatedAt.Add(30*time.Second)); err != nil {
		t.Fatalf("EditContent within window: %v", err)
	}
	if !m.IsEdited || m.EditedAt == nil {
		t.Error("edit did not stamp IsEdited/EditedAt")
	}
	if m.Content != "updated" {
		t.Errorf("Content = %q, want updated", m.Content)
	}

	// Past the window.
	if err := m.EditContent("too late", m.CreatedAt.Add(6*time.Minute)); !errors.Is(err, ErrEditWindowPassed) {
		t.Errorf("EditContent past window = %v, want ErrEditWindowPassed", err)
	}
}

func TestEditContentKindAndStatusRules(t *testing.T) {
	t.Parallel()

	emoji, _ := New(uuid.New(), uuid.New(), KindEmoji, "🎉", nil, nil)
	if err := emoji.EditContent("🎈", emoji.CreatedAt); !errors.Is(err, ErrEditKind) {
		t.Errorf("edit emoji = %v, want ErrEditKind", err)
	}

	system, _ := New(uuid.New(), uuid.New(), KindSystem, "joined", nil, nil)
	if err := system.EditContent("changed", system.CreatedAt); !errors.Is(err, ErrSystemImmutable) {
		t.Errorf("edit system = %v, want ErrSystemImmutable", err)
	}

	deleted, _ := New(uuid.New(), uuid.New(), KindText, "gone", nil, nil)
	_ = deleted.SoftDelete()
	if err := deleted.EditContent("undo", deleted.CreatedAt); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("edit deleted = %v, want ErrInvalidTransition", err)
	}
}

func TestRecallWindow(t *testing.T) {
	t.Parallel()

	m, _ := New(uuid.New(), uuid.New(), KindText, "oops", nil, nil)

	if err := m.Recall(m.CreatedAt.Add(3 * time.Minute)); !errors.Is(err, ErrRecallWindowPassed) {
		t.Errorf("recall past window = %v, want ErrRecallWindowPassed", err)
	}

	if err := m.Recall(m.CreatedAt.Add(30 * time.Second)); err != nil {
		t.Fatalf("recall within window: %v", err)
	}
	if m.Status != StatusRecalled {
		t.Errorf("Status = %s, want Recalled", m.Status)
	}
	if m.Visible() {
		t.Error("recalled message still visible")
	}

	// Recall is terminal.
	if err := m.Recall(m.CreatedAt); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second recall = %v, want ErrInvalidTransition", err)
	}
}

func TestRecallSystemImmutable(t *testing.T) {
	t.Parallel()

	m, _ := New(uuid.New(), uuid.New(), KindSystem, "joined", nil, nil)
	if err := m.Recall(m.CreatedAt); !errors.Is(err, ErrSystemImmutable) {
		t.Errorf("recall system = %v, want ErrSystemImmutable", err)
	}
}

func TestKindMaxRunes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want int
	}{
		{KindText, MaxTextContentRunes},
		{KindEmoji, MaxTextContentRunes},
		{KindSystem, MaxSystemContentRunes},
		{KindImage, MaxOtherContentRunes},
		{KindFile, MaxOtherContentRunes},
	}
	for _, tt := range tests {
		if got := tt.kind.MaxRunes(); got != tt.want {
			t.Errorf("MaxRunes(%s) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
