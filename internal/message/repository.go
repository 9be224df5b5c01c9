package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/postgres"
)

const selectColumns = `id, room_id, sender_id, kind, content, attachment, reply_to_id,
status, created_at, updated_at, edited_at, is_edited`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a message. When reply_to_id is set, the referenced message
// must exist in the same room and be visible; the check and the insert share
// one transaction so a concurrent recall cannot slip between them.
func (r *PGRepository) Create(ctx context.Context, m *Message) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if m.ReplyToID != nil {
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM messages
				 WHERE id = $1 AND room_id = $2 AND status NOT IN ('Deleted', 'Recalled'))`,
				*m.ReplyToID, m.RoomID,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check reply target: %w", err)
			}
			if !exists {
				return ErrReplyNotFound
			}
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO messages (room_id, sender_id, kind, content, attachment, reply_to_id, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING id`,
			m.RoomID, m.SenderID, m.Kind, m.Content, m.Attachment, m.ReplyToID, m.Status, m.CreatedAt,
		)
		if err := row.Scan(&m.ID); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	})
}

// FindByID returns a message by ID regardless of status; visibility is a
// service-level concern.
func (r *PGRepository) FindByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM messages WHERE id = $1", id,
	)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return m, nil
}

// FindByRoom returns a room's messages newest first with offset pagination.
func (r *PGRepository) FindByRoom(ctx context.Context, roomID uuid.UUID, page pagination.Pagination, includeDeleted bool) ([]Message, error) {
	page = page.Clamp()

	visibility := ""
	if !includeDeleted {
		visibility = " AND status NOT IN ('Deleted', 'Recalled')"
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM messages WHERE room_id = $1"+visibility+
			" ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3",
		roomID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query room messages: %w", err)
	}
	return collect(rows)
}

// Update persists the mutable fields of a message.
func (r *PGRepository) Update(ctx context.Context, m *Message) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET content = $1, status = $2, updated_at = $3, edited_at = $4, is_edited = $5
		 WHERE id = $6`,
		m.Content, m.Status, m.UpdatedAt, m.EditedAt, m.IsEdited, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAsEdited rewrites content and stamps the edit columns in one statement.
func (r *PGRepository) MarkAsEdited(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE messages
		 SET content = $1, edited_at = $2, is_edited = true, updated_at = $2
		 WHERE id = $3 AND status NOT IN ('Deleted', 'Recalled')`,
		content, editedAt, id,
	)
	if err != nil {
		return fmt.Errorf("mark message edited: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks a message Deleted. Terminal messages report ErrNotFound.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE messages SET status = 'Deleted', updated_at = now() WHERE id = $1 AND status NOT IN ('Deleted', 'Recalled')",
		id,
	)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindReplies lists visible messages replying to the given message, oldest
// first.
func (r *PGRepository) FindReplies(ctx context.Context, id uuid.UUID, page pagination.Pagination) ([]Message, error) {
	page = page.Clamp()
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+` FROM messages
		 WHERE reply_to_id = $1 AND status NOT IN ('Deleted', 'Recalled')
		 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		id, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query replies: %w", err)
	}
	return collect(rows)
}

// FindLatestByRoom returns the newest visible messages of a room.
func (r *PGRepository) FindLatestByRoom(ctx context.Context, roomID uuid.UUID, limit int) ([]Message, error) {
	return r.FindByRoom(ctx, roomID, pagination.Pagination{Limit: limit}, false)
}

// FindByRoomBefore returns visible messages created strictly before ts,
// newest first.
func (r *PGRepository) FindByRoomBefore(ctx context.Context, roomID uuid.UUID, ts time.Time, limit int) ([]Message, error) {
	limit = pagination.Pagination{Limit: limit}.Clamp().Limit
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+` FROM messages
		 WHERE room_id = $1 AND created_at < $2 AND status NOT IN ('Deleted', 'Recalled')
		 ORDER BY created_at DESC, id DESC LIMIT $3`,
		roomID, ts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages before: %w", err)
	}
	return collect(rows)
}

// FindByRoomAfter returns visible messages created strictly after ts, oldest
// first.
func (r *PGRepository) FindByRoomAfter(ctx context.Context, roomID uuid.UUID, ts time.Time, limit int) ([]Message, error) {
	limit = pagination.Pagination{Limit: limit}.Clamp().Limit
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+` FROM messages
		 WHERE room_id = $1 AND created_at > $2 AND status NOT IN ('Deleted', 'Recalled')
		 ORDER BY created_at, id LIMIT $3`,
		roomID, ts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages after: %w", err)
	}
	return collect(rows)
}

// sortColumns whitelists the fields a caller may sort by.
var sortColumns = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// Search returns visible messages matching the params.
func (r *PGRepository) Search(ctx context.Context, params SearchParams, page pagination.Pagination, sort pagination.Sort) ([]Message, error) {
	page = page.Clamp()

	column, ok := sortColumns[sort.Field]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if sort.Ascending {
		direction = "ASC"
	}

	where := []string{"status NOT IN ('Deleted', 'Recalled')"}
	args := []any{}
	if params.RoomID != nil {
		args = append(args, *params.RoomID)
		where = append(where, fmt.Sprintf("room_id = $%d", len(args)))
	}
	if params.SenderID != nil {
		args = append(args, *params.SenderID)
		where = append(where, fmt.Sprintf("sender_id = $%d", len(args)))
	}
	if params.Kind != nil {
		args = append(args, *params.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if params.Keyword != "" {
		args = append(args, "%"+params.Keyword+"%")
		where = append(where, fmt.Sprintf("content ILIKE $%d", len(args)))
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM messages WHERE %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d",
		selectColumns, strings.Join(where, " AND "), column, direction, direction, len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return collect(rows)
}

// CountByRoom counts all messages in a room, deleted included.
func (r *PGRepository) CountByRoom(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT count(*) FROM messages WHERE room_id = $1", roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count room messages: %w", err)
	}
	return count, nil
}

// FullTextSearch is a case-insensitive substring search over content,
// optionally scoped to a room, newest first.
func (r *PGRepository) FullTextSearch(ctx context.Context, keyword string, roomID *uuid.UUID, page pagination.Pagination) ([]Message, error) {
	return r.Search(ctx, SearchParams{RoomID: roomID, Keyword: keyword}, page, pagination.Sort{Field: "created_at"})
}

// Stats aggregates per-kind totals, today's message count, and the most
// prolific sender for a room. System messages are excluded from the top
// sender.
func (r *PGRepository) Stats(ctx context.Context, roomID uuid.UUID) (*RoomStats, error) {
	stats := &RoomStats{TotalByKind: make(map[Kind]int)}

	rows, err := r.db.Query(ctx,
		"SELECT kind, count(*) FROM messages WHERE room_id = $1 GROUP BY kind", roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query kind totals: %w", err)
	}
	for rows.Next() {
		var kind Kind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan kind total: %w", err)
		}
		stats.TotalByKind[kind] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kind totals: %w", err)
	}

	err = r.db.QueryRow(ctx,
		"SELECT count(*) FROM messages WHERE room_id = $1 AND created_at >= date_trunc('day', now())", roomID,
	).Scan(&stats.TodayCount)
	if err != nil {
		return nil, fmt.Errorf("query today count: %w", err)
	}

	var top uuid.UUID
	err = r.db.QueryRow(ctx,
		`SELECT sender_id FROM messages
		 WHERE room_id = $1 AND sender_id <> '00000000-0000-0000-0000-000000000000'
		 GROUP BY sender_id ORDER BY count(*) DESC LIMIT 1`,
		roomID,
	).Scan(&top)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("query top sender: %w", err)
	}
	if err == nil {
		stats.TopSenderID = &top
	}

	return stats, nil
}

func collect(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.RoomID, &m.SenderID, &m.Kind, &m.Content, &m.Attachment, &m.ReplyToID,
		&m.Status, &m.CreatedAt, &m.UpdatedAt, &m.EditedAt, &m.IsEdited,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
