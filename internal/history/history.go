package history

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/member"
	"github.com/yeheng/chatroom-server/internal/message"
	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/room"
	"github.com/yeheng/chatroom-server/internal/user"
)

// Service implements the cursor-paginated read path for chat UIs: permission
// check, cache lookup, repository read, filter, sort, slice, cache fill.
type Service struct {
	messages message.Repository
	members  member.Repository
	rooms    room.Repository
	users    user.Repository
	cache    *Cache
	log      zerolog.Logger
}

// NewService creates the history service.
func NewService(
	messages message.Repository,
	members member.Repository,
	rooms room.Repository,
	users user.Repository,
	cache *Cache,
	logger zerolog.Logger,
) *Service {
	return &Service{
		messages: messages,
		members:  members,
		rooms:    rooms,
		users:    users,
		cache:    cache,
		log:      logger.With().Str("component", "history-service").Logger(),
	}
}

// Query names one history read.
type Query struct {
	RoomID         uuid.UUID
	UserID         uuid.UUID
	PageSize       int
	Cursor         *string
	Kind           *message.Kind
	IncludeDeleted bool
}

// GetRoomHistory returns one page of a room's history, newest first. The
// caller must be an Active user and a member of an Active room.
func (s *Service) GetRoomHistory(ctx context.Context, q Query) (*Page, error) {
	return s.read(ctx, q, "")
}

// SearchMessages is GetRoomHistory with an additional case-insensitive
// substring filter over content. The keyword participates in the cache key.
func (s *Service) SearchMessages(ctx context.Context, q Query, keyword string) (*Page, error) {
	return s.read(ctx, q, keyword)
}

func (s *Service) read(ctx context.Context, q Query, keyword string) (*Page, error) {
	if err := s.authorize(ctx, q.RoomID, q.UserID); err != nil {
		return nil, err
	}

	pageSize := pagination.Pagination{Limit: q.PageSize}.Clamp().Limit

	key := Key(q.RoomID, q.Cursor, pageSize, q.Kind, keyword)
	if cached, ok := s.cache.Get(key); ok {
		return &cached, nil
	}

	// The repository hands back the room's messages page by page (its limit
	// is capped); filtering and slicing happen here so the observable result
	// is identical for any backing store.
	var all []message.Message
	for offset := 0; ; offset += pagination.MaxLimit {
		batch, err := s.messages.FindByRoom(ctx, q.RoomID,
			pagination.Pagination{Offset: offset, Limit: pagination.MaxLimit}, true)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < pagination.MaxLimit {
			break
		}
	}

	filtered := all[:0:0]
	for _, m := range all {
		if !q.IncludeDeleted && m.Status.Terminal() {
			continue
		}
		if q.Kind != nil && m.Kind != *q.Kind {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(m.Content), strings.ToLower(keyword)) {
			continue
		}
		filtered = append(filtered, m)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		}
		return filtered[i].ID.String() > filtered[j].ID.String()
	})

	start := 0
	if q.Cursor != nil && *q.Cursor != "" {
		ts, id, err := DecodeCursor(*q.Cursor)
		if err == nil {
			for i, m := range filtered {
				if m.CreatedAt.Equal(ts) && m.ID == id {
					start = i + 1
					break
				}
			}
		}
	}

	end := start + pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	items := filtered[start:end]

	page := Page{
		Messages: items,
		HasMore:  end < len(filtered),
	}
	if len(items) > 0 {
		cursor := EncodeCursor(&items[len(items)-1])
		page.NextCursor = &cursor
	}

	s.cache.Put(key, page)
	return &page, nil
}

// authorize verifies that the user is Active, the room is Active, and the
// user belongs to it.
func (s *Service) authorize(ctx context.Context, roomID, userID uuid.UUID) error {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.IsActive() {
		return user.ErrNotActive
	}

	r, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !r.IsActive() {
		return room.ErrDeleted
	}

	in, err := s.members.IsMember(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if !in {
		return room.ErrNotJoined
	}
	return nil
}

// CacheStats exposes the cache hit/miss counters for the metrics endpoint.
func (s *Service) CacheStats() (hits, misses uint64, size int) {
	return s.cache.Stats()
}
