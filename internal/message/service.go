package message

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/yeheng/chatroom-server/internal/event"
	"github.com/yeheng/chatroom-server/internal/member"
	"github.com/yeheng/chatroom-server/internal/metrics"
	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/ratelimit"
	"github.com/yeheng/chatroom-server/internal/room"
	"github.com/yeheng/chatroom-server/internal/user"
)

// HistoryInvalidator drops cached history pages for a room. Implemented by
// the history cache; every message mutation invalidates before returning
// success.
type HistoryInvalidator interface {
	InvalidateRoom(roomID uuid.UUID)
}

// nopInvalidator is used until the history cache is wired in.
type nopInvalidator struct{}

func (nopInvalidator) InvalidateRoom(uuid.UUID) {}

// Service implements the message operations. Sends pass through a fixed
// pipeline: concurrency permit, membership check, rate limit, content
// validation, dedup, reply validation, persist, cache invalidation, event
// emission. The persist-and-emit tail runs under the room's lock so
// subscribers observe sends in commit order.
type Service struct {
	messages Repository
	members  member.Repository
	users    user.Repository
	rooms    room.Repository
	locks    *room.LockTable

	sem       *semaphore.Weighted
	limiter   *ratelimit.Window
	filter    *WordFilter
	deduper   *Deduper
	sanitizer *bluemonday.Policy

	cache HistoryInvalidator
	pub   event.Publisher
	sinks []event.Sink
	log   zerolog.Logger
}

// NewService creates the message service. maxConcurrentSends bounds how many
// sends may be in flight at once; limiter is the per-sender sliding window.
func NewService(
	messages Repository,
	members member.Repository,
	users user.Repository,
	rooms room.Repository,
	locks *room.LockTable,
	maxConcurrentSends int64,
	limiter *ratelimit.Window,
	pub event.Publisher,
	logger zerolog.Logger,
) *Service {
	return &Service{
		messages:  messages,
		members:   members,
		users:     users,
		rooms:     rooms,
		locks:     locks,
		sem:       semaphore.NewWeighted(maxConcurrentSends),
		limiter:   limiter,
		filter:    NewWordFilter(),
		deduper:   NewDeduper(),
		sanitizer: bluemonday.StrictPolicy(),
		cache:     nopInvalidator{},
		pub:       pub,
		log:       logger.With().Str("component", "message-service").Logger(),
	}
}

// SetCache wires the history cache for invalidation. Must be called during
// startup.
func (s *Service) SetCache(cache HistoryInvalidator) {
	s.cache = cache
}

// AddSink registers an in-process event sink. Must be called during startup.
func (s *Service) AddSink(sink event.Sink) {
	s.sinks = append(s.sinks, sink)
}

// UpdateSensitiveWords atomically replaces the blocked-term set.
func (s *Service) UpdateSensitiveWords(words []string) {
	s.filter.Replace(words)
	s.log.Info().Int("terms", s.filter.Len()).Msg("Sensitive word set replaced")
}

func (s *Service) emit(ctx context.Context, e event.Event) {
	for _, sink := range s.sinks {
		sink.HandleEvent(e)
	}
	s.pub.Publish(ctx, e)
}

// invalidate drops the room's cached history pages. Runs before any mutation
// returns success.
func (s *Service) invalidate(roomID uuid.UUID) {
	s.cache.InvalidateRoom(roomID)
}

// SendParams groups the inputs for SendMessage.
type SendParams struct {
	RoomID     uuid.UUID
	SenderID   uuid.UUID
	Content    string
	Kind       Kind
	Attachment *Attachment
	ReplyToID  *uuid.UUID
}

// SendMessage runs the full send pipeline and returns the persisted message.
func (s *Service) SendMessage(ctx context.Context, params SendParams) (*Message, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	sender, err := s.users.FindByID(ctx, params.SenderID)
	if err != nil {
		return nil, err
	}
	if !sender.IsActive() {
		return nil, user.ErrNotActive
	}

	in, err := s.members.IsMember(ctx, params.RoomID, params.SenderID)
	if err != nil {
		return nil, err
	}
	if !in {
		return nil, room.ErrNotJoined
	}

	if ok, retry := s.limiter.Allow(params.SenderID.String()); !ok {
		metrics.RateLimited.WithLabelValues("send").Inc()
		return nil, &RateLimitedError{RetryAfter: retry}
	}

	content, err := s.validateContent(params.Content, params.Kind)
	if err != nil {
		return nil, err
	}

	if err := s.deduper.Observe(params.RoomID, params.SenderID, content, params.Kind); err != nil {
		return nil, err
	}

	lock := s.locks.Get(params.RoomID)
	lock.Lock()
	defer lock.Unlock()

	if params.ReplyToID != nil {
		target, err := s.messages.FindByID(ctx, *params.ReplyToID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrReplyNotFound
			}
			return nil, err
		}
		if target.RoomID != params.RoomID || !target.Visible() {
			return nil, ErrReplyNotFound
		}
	}

	m, err := New(params.RoomID, params.SenderID, params.Kind, content, params.Attachment, params.ReplyToID)
	if err != nil {
		return nil, err
	}
	if err := s.messages.Create(ctx, m); err != nil {
		return nil, err
	}

	s.invalidate(params.RoomID)
	if err := s.rooms.UpdateLastActivity(ctx, params.RoomID); err != nil {
		s.log.Warn().Err(err).Stringer("room_id", params.RoomID).Msg("Failed to bump room activity on send")
	}

	metrics.MessagesSent.Inc()
	s.emit(ctx, event.New(event.MessageSent, m.RoomID, m.SenderID).WithMessage(m.ID).
		WithPayload(map[string]any{
			"content": m.Content,
			"kind":    string(m.Kind),
		}))
	return m, nil
}

// validateContent trims, strips markup, enforces the per-kind length bound,
// and runs the sensitive-word filter.
func (s *Service) validateContent(content string, kind Kind) (string, error) {
	cleaned := strings.TrimSpace(s.sanitizer.Sanitize(content))
	if cleaned == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(cleaned) > kind.MaxRunes() {
		return "", ErrContentTooLong
	}
	if err := s.filter.Check(cleaned); err != nil {
		return "", err
	}
	return cleaned, nil
}

// EditMessage rewrites a message's content. Only the sender may edit, only
// Text messages, only within the edit window, and the new content passes the
// same validation as a send.
func (s *Service) EditMessage(ctx context.Context, messageID, editorID uuid.UUID, newContent string) (*Message, error) {
	m, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != editorID {
		return nil, ErrNotSender
	}

	content, err := s.validateContent(newContent, m.Kind)
	if err != nil {
		return nil, err
	}

	lock := s.locks.Get(m.RoomID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.EditContent(content, time.Now()); err != nil {
		return nil, err
	}
	if err := s.messages.MarkAsEdited(ctx, m.ID, m.Content, *m.EditedAt); err != nil {
		return nil, err
	}

	s.invalidate(m.RoomID)
	s.emit(ctx, event.New(event.MessageEdited, m.RoomID, editorID).WithMessage(m.ID).
		WithPayload(map[string]any{"content": m.Content, "kind": string(m.Kind)}))
	return m, nil
}

// DeleteMessage soft-deletes a message. The sender may delete their own;
// room admins and the owner may delete any non-System message. System
// messages cannot be deleted.
func (s *Service) DeleteMessage(ctx context.Context, messageID, deleterID uuid.UUID) error {
	m, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.Kind == KindSystem {
		return ErrSystemImmutable
	}

	if m.SenderID != deleterID {
		actor, err := s.members.Find(ctx, m.RoomID, deleterID)
		if err != nil {
			if errors.Is(err, member.ErrNotFound) {
				return ErrNotSender
			}
			return err
		}
		if !actor.Role.CanModerate() {
			return ErrNotSender
		}
	}

	lock := s.locks.Get(m.RoomID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.SoftDelete(); err != nil {
		return err
	}
	if err := s.messages.SoftDelete(ctx, m.ID); err != nil {
		return err
	}

	s.invalidate(m.RoomID)
	s.emit(ctx, event.New(event.MessageDeleted, m.RoomID, deleterID).WithMessage(m.ID))
	return nil
}

// RecallMessage retracts a message within the recall window. Only the sender
// may recall; System messages are immune.
func (s *Service) RecallMessage(ctx context.Context, messageID, recallerID uuid.UUID) error {
	m, err := s.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if m.Kind == KindSystem {
		return ErrSystemImmutable
	}
	if m.SenderID != recallerID {
		return ErrNotSender
	}

	lock := s.locks.Get(m.RoomID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.Recall(time.Now()); err != nil {
		return err
	}
	if err := s.messages.Update(ctx, m); err != nil {
		return err
	}

	s.invalidate(m.RoomID)
	s.emit(ctx, event.New(event.MessageRecalled, m.RoomID, recallerID).WithMessage(m.ID))
	return nil
}

// GetMessage returns a message if it is visible; terminal messages surface
// as ErrNotFound.
func (s *Service) GetMessage(ctx context.Context, id uuid.UUID) (*Message, error) {
	m, err := s.messages.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !m.Visible() {
		return nil, ErrNotFound
	}
	return m, nil
}

// GetRoomMessages returns an offset-paginated page of a room's messages,
// newest first, with optional kind/sender filters.
func (s *Service) GetRoomMessages(ctx context.Context, roomID uuid.UUID, page pagination.Pagination, filters ListFilters) ([]Message, error) {
	if filters.Kind != nil || filters.SenderID != nil {
		return s.messages.Search(ctx, SearchParams{
			RoomID:   &roomID,
			SenderID: filters.SenderID,
			Kind:     filters.Kind,
		}, page, pagination.Sort{Field: "created_at"})
	}
	return s.messages.FindByRoom(ctx, roomID, page, filters.IncludeDeleted)
}

// MarkAsRead moves each listed message to Read for a reader who belongs to
// its room, and advances the member's authoritative read marker. Messages in
// terminal states are skipped.
func (s *Service) MarkAsRead(ctx context.Context, messageIDs []uuid.UUID, readerID uuid.UUID) error {
	for _, id := range messageIDs {
		m, err := s.messages.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}

		in, err := s.members.IsMember(ctx, m.RoomID, readerID)
		if err != nil {
			return err
		}
		if !in {
			continue
		}

		if CanTransition(m.Status, StatusRead) {
			if err := m.UpdateStatus(StatusRead); err == nil {
				if err := s.messages.Update(ctx, m); err != nil {
					return err
				}
			}
		}

		if err := s.members.UpdateLastRead(ctx, m.RoomID, readerID, m.ID); err != nil && !errors.Is(err, member.ErrNotFound) {
			return err
		}
	}
	return nil
}

// MessagesBefore returns visible messages created strictly before ts,
// newest first.
func (s *Service) MessagesBefore(ctx context.Context, roomID uuid.UUID, ts time.Time, limit int) ([]Message, error) {
	return s.messages.FindByRoomBefore(ctx, roomID, ts, limit)
}

// MessagesAfter returns visible messages created strictly after ts, oldest
// first.
func (s *Service) MessagesAfter(ctx context.Context, roomID uuid.UUID, ts time.Time, limit int) ([]Message, error) {
	return s.messages.FindByRoomAfter(ctx, roomID, ts, limit)
}

// Stats aggregates a room's message activity.
func (s *Service) Stats(ctx context.Context, roomID uuid.UUID) (*RoomStats, error) {
	return s.messages.Stats(ctx, roomID)
}
