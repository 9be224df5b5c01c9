// Package message holds the message entity, its state machine, content
// rules, and the message service.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/pagination"
)

// Sentinel errors for the message package.
var (
	ErrNotFound            = errors.New("message not found")
	ErrEmptyContent        = errors.New("message content must not be empty")
	ErrContentTooLong      = errors.New("message content exceeds the maximum length")
	ErrSensitiveContent    = errors.New("message content contains a blocked term")
	ErrDuplicate           = errors.New("duplicate message")
	ErrReplyNotFound       = errors.New("reply target message not found or not visible")
	ErrNotSender           = errors.New("only the sender may modify this message")
	ErrSystemImmutable     = errors.New("system messages cannot be modified")
	ErrEditWindowPassed    = errors.New("edit window passed")
	ErrRecallWindowPassed  = errors.New("recall window passed")
	ErrEditKind            = errors.New("only text messages can be edited")
	ErrInvalidTransition   = errors.New("invalid message status transition")
	ErrAttachmentRequired  = errors.New("image and file messages require an attachment")
	ErrAttachmentForbidden = errors.New("only image and file messages may carry an attachment")
	ErrAttachmentTooLarge  = errors.New("attachment exceeds the maximum size")
)

// RateLimitedError reports a rate-limit breach and how long until the window
// frees up.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", int(e.RetryAfter.Seconds()+0.5))
}

// Windows and size bounds for message mutation.
const (
	EditWindow   = 5 * time.Minute
	RecallWindow = 2 * time.Minute

	// MaxContentRunes bounds what the domain accepts for text content; the
	// send pipeline applies the tighter per-kind limits below.
	MaxContentRunes       = 10_000
	MaxTextContentRunes   = 5_000
	MaxSystemContentRunes = 1_000
	MaxOtherContentRunes  = 1_000

	MaxAttachmentBytes = 100 << 20
)

// Kind classifies a message.
type Kind string

const (
	KindText   Kind = "Text"
	KindImage  Kind = "Image"
	KindFile   Kind = "File"
	KindSystem Kind = "System"
	KindEmoji  Kind = "Emoji"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindSystem, KindEmoji:
		return true
	}
	return false
}

// MaxRunes returns the per-kind content limit applied by the send pipeline.
func (k Kind) MaxRunes() int {
	switch k {
	case KindText, KindEmoji:
		return MaxTextContentRunes
	case KindSystem:
		return MaxSystemContentRunes
	default:
		return MaxOtherContentRunes
	}
}

// RequiresAttachment reports whether the kind must carry an attachment.
func (k Kind) RequiresAttachment() bool {
	return k == KindImage || k == KindFile
}

// Status is the delivery/lifecycle state of a message. Deleted and Recalled
// are terminal.
type Status string

const (
	StatusSent      Status = "Sent"
	StatusDelivered Status = "Delivered"
	StatusRead      Status = "Read"
	StatusDeleted   Status = "Deleted"
	StatusRecalled  Status = "Recalled"
)

// transitions maps each status to the set it may move to.
var transitions = map[Status]map[Status]bool{
	StatusSent:      {StatusDelivered: true, StatusRead: true, StatusDeleted: true, StatusRecalled: true},
	StatusDelivered: {StatusRead: true, StatusDeleted: true, StatusRecalled: true},
	StatusRead:      {StatusDeleted: true, StatusRecalled: true},
	StatusDeleted:   {},
	StatusRecalled:  {},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDeleted || s == StatusRecalled
}

// Attachment describes the binary payload of an Image or File message.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	URL         string `json:"url"`
}

// Message is a chat message. System messages carry the nil UUID as sender.
type Message struct {
	ID         uuid.UUID
	RoomID     uuid.UUID
	SenderID   uuid.UUID
	Kind       Kind
	Content    string
	Attachment *Attachment
	ReplyToID  *uuid.UUID
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  *time.Time
	EditedAt   *time.Time
	IsEdited   bool
}

// New constructs a message in Sent status, enforcing the structural
// invariants of the entity: content bounds per kind (against the domain
// ceiling), attachment presence rules, and the System sender rule.
func New(roomID, senderID uuid.UUID, kind Kind, content string, attachment *Attachment, replyTo *uuid.UUID) (*Message, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, ErrEmptyContent
	}
	ceiling := MaxContentRunes
	if kind == KindSystem {
		ceiling = MaxSystemContentRunes
	}
	if utf8.RuneCountInString(trimmed) > ceiling {
		return nil, ErrContentTooLong
	}

	if kind.RequiresAttachment() && attachment == nil {
		return nil, ErrAttachmentRequired
	}
	if !kind.RequiresAttachment() && attachment != nil {
		return nil, ErrAttachmentForbidden
	}
	if attachment != nil && attachment.SizeBytes > MaxAttachmentBytes {
		return nil, ErrAttachmentTooLarge
	}

	if kind == KindSystem {
		senderID = uuid.Nil
	}

	now := time.Now().UTC()
	return &Message{
		RoomID:     roomID,
		SenderID:   senderID,
		Kind:       kind,
		Content:    trimmed,
		Attachment: attachment,
		ReplyToID:  replyTo,
		Status:     StatusSent,
		CreatedAt:  now,
	}, nil
}

// Visible reports whether the message should appear in default reads.
func (m *Message) Visible() bool {
	return !m.Status.Terminal()
}

// UpdateStatus applies a state-machine transition.
func (m *Message) UpdateStatus(next Status) error {
	if !CanTransition(m.Status, next) {
		return ErrInvalidTransition
	}
	m.Status = next
	m.touch()
	return nil
}

// EditContent rewrites the content of a Text message within the edit window.
// The caller has already validated the new content through the send rules.
func (m *Message) EditContent(newContent string, now time.Time) error {
	if m.Kind == KindSystem {
		return ErrSystemImmutable
	}
	if m.Kind != KindText {
		return ErrEditKind
	}
	if m.Status.Terminal() {
		return ErrInvalidTransition
	}
	if now.Sub(m.CreatedAt) > EditWindow {
		return ErrEditWindowPassed
	}

	m.Content = newContent
	m.IsEdited = true
	edited := now.UTC()
	m.EditedAt = &edited
	m.touch()
	return nil
}

// Recall retracts a message within the recall window. System messages cannot
// be recalled.
func (m *Message) Recall(now time.Time) error {
	if m.Kind == KindSystem {
		return ErrSystemImmutable
	}
	if m.Status.Terminal() {
		return ErrInvalidTransition
	}
	if now.Sub(m.CreatedAt) > RecallWindow {
		return ErrRecallWindowPassed
	}
	m.Status = StatusRecalled
	m.touch()
	return nil
}

// SoftDelete marks the message deleted.
func (m *Message) SoftDelete() error {
	return m.UpdateStatus(StatusDeleted)
}

func (m *Message) touch() {
	now := time.Now().UTC()
	m.UpdatedAt = &now
}

// ListFilters narrows GetRoomMessages reads.
type ListFilters struct {
	Kind           *Kind
	SenderID       *uuid.UUID
	IncludeDeleted bool
}

// SearchParams filters repository-level message search.
type SearchParams struct {
	RoomID   *uuid.UUID
	SenderID *uuid.UUID
	Kind     *Kind
	Keyword  string
}

// RoomStats aggregates a room's message activity.
type RoomStats struct {
	TotalByKind map[Kind]int
	TodayCount  int
	TopSenderID *uuid.UUID
}

// Repository defines the data-access contract for messages.
type Repository interface {
	Create(ctx context.Context, m *Message) error
	FindByID(ctx context.Context, id uuid.UUID) (*Message, error)
	FindByRoom(ctx context.Context, roomID uuid.UUID, page pagination.Pagination, includeDeleted bool) ([]Message, error)
	Update(ctx context.Context, m *Message) error
	MarkAsEdited(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	FindReplies(ctx context.Context, id uuid.UUID, page pagination.Pagination) ([]Message, error)
	FindLatestByRoom(ctx context.Context, roomID uuid.UUID, limit int) ([]Message, error)
	FindByRoomBefore(ctx context.Context, roomID uuid.UUID, ts time.Time, limit int) ([]Message, error)
	FindByRoomAfter(ctx context.Context, roomID uuid.UUID, ts time.Time, limit int) ([]Message, error)
	Search(ctx context.Context, params SearchParams, page pagination.Pagination, sort pagination.Sort) ([]Message, error)
	CountByRoom(ctx context.Context, roomID uuid.UUID) (int, error)
	FullTextSearch(ctx context.Context, keyword string, roomID *uuid.UUID, page pagination.Pagination) ([]Message, error)
	Stats(ctx context.Context, roomID uuid.UUID) (*RoomStats, error)
}
