package room

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/postgres"
)

const selectColumns = `id, name, description, is_private, password_hash, owner_id,
max_members, member_count, status, created_at, updated_at, last_activity_at`

// PGRepository implements Repository using PostgreSQL. Deleted rooms are
// filtered out of name, owner, member and search reads; FindByID reports them
// as ErrDeleted.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed room repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a room. A live-name collision reports ErrNameTaken.
func (r *PGRepository) Create(ctx context.Context, room *Room) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO chat_rooms (name, description, is_private, password_hash, owner_id, max_members, member_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, status, created_at, updated_at, last_activity_at`,
		room.Name, room.Description, room.IsPrivate, room.PasswordHash,
		room.OwnerID, room.MaxMembers, room.MemberCount,
	)
	err := row.Scan(&room.ID, &room.Status, &room.CreatedAt, &room.UpdatedAt, &room.LastActivityAt)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

// FindByID returns a room by ID. Deleted rooms report ErrDeleted so callers
// can distinguish a tombstone from a miss.
func (r *PGRepository) FindByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM chat_rooms WHERE id = $1", id,
	)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by id: %w", err)
	}
	if room.Status == StatusDeleted {
		return nil, ErrDeleted
	}
	return room, nil
}

// FindByName returns a non-deleted room by name, case-insensitive.
func (r *PGRepository) FindByName(ctx context.Context, name string) (*Room, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM chat_rooms WHERE lower(name) = lower($1) AND status <> 'Deleted'", name,
	)
	room, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by name: %w", err)
	}
	return room, nil
}

// FindByOwner lists a user's non-deleted rooms, newest first.
func (r *PGRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID, page pagination.Pagination) ([]Room, error) {
	page = page.Clamp()
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM chat_rooms
		 WHERE owner_id = $1 AND status <> 'Deleted'
		 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`,
		ownerID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms by owner: %w", err)
	}
	return collect(rows)
}

// FindByMember lists the non-deleted rooms a user belongs to, most recently
// active first.
func (r *PGRepository) FindByMember(ctx context.Context, userID uuid.UUID, page pagination.Pagination) ([]Room, error) {
	page = page.Clamp()
	rows, err := r.db.Query(ctx,
		`SELECT `+qualify(selectColumns, "cr")+` FROM chat_rooms cr
		 JOIN room_members rm ON rm.room_id = cr.id
		 WHERE rm.user_id = $1 AND cr.status <> 'Deleted'
		 ORDER BY cr.last_activity_at DESC, cr.id DESC LIMIT $2 OFFSET $3`,
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms by member: %w", err)
	}
	return collect(rows)
}

// Update persists the mutable fields of a room.
func (r *PGRepository) Update(ctx context.Context, room *Room) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_rooms
		 SET name = $1, description = $2, max_members = $3, password_hash = $4, is_private = $5, updated_at = now()
		 WHERE id = $6 AND status <> 'Deleted'`,
		room.Name, room.Description, room.MaxMembers, room.PasswordHash, room.IsPrivate, room.ID,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrNameTaken
		}
		return fmt.Errorf("update room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMemberCount adjusts member_count by delta, saturating at zero.
func (r *PGRepository) UpdateMemberCount(ctx context.Context, id uuid.UUID, delta int) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE chat_rooms SET member_count = greatest(member_count + $1, 0) WHERE id = $2",
		delta, id,
	)
	if err != nil {
		return fmt.Errorf("update member count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastActivity stamps last_activity_at with the current time.
func (r *PGRepository) UpdateLastActivity(ctx context.Context, id uuid.UUID) error {
	if _, err := r.db.Exec(ctx,
		"UPDATE chat_rooms SET last_activity_at = now() WHERE id = $1", id,
	); err != nil {
		return fmt.Errorf("update room activity: %w", err)
	}
	return nil
}

// SoftDelete marks a room Deleted. Deleted rooms never reappear in reads.
func (r *PGRepository) SoftDelete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE chat_rooms SET status = 'Deleted', updated_at = now() WHERE id = $1 AND status <> 'Deleted'", id,
	)
	if err != nil {
		return fmt.Errorf("soft delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Search returns non-deleted rooms matching the params, newest first.
func (r *PGRepository) Search(ctx context.Context, params SearchParams, page pagination.Pagination) ([]Room, error) {
	page = page.Clamp()

	where := []string{"status <> 'Deleted'"}
	args := []any{}
	if params.Query != "" {
		args = append(args, "%"+params.Query+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if params.Private != nil {
		args = append(args, *params.Private)
		where = append(where, fmt.Sprintf("is_private = $%d", len(args)))
	}

	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(
		"SELECT %s FROM chat_rooms WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		selectColumns, strings.Join(where, " AND "), len(args)-1, len(args),
	)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search rooms: %w", err)
	}
	return collect(rows)
}

// NameExists reports whether a non-deleted room with the given name exists,
// optionally excluding one room (used when renaming).
func (r *PGRepository) NameExists(ctx context.Context, name string, excludeID *uuid.UUID) (bool, error) {
	var exists bool
	var err error
	if excludeID != nil {
		err = r.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE lower(name) = lower($1) AND status <> 'Deleted' AND id <> $2)",
			name, *excludeID,
		).Scan(&exists)
	} else {
		err = r.db.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM chat_rooms WHERE lower(name) = lower($1) AND status <> 'Deleted')",
			name,
		).Scan(&exists)
	}
	if err != nil {
		return false, fmt.Errorf("check room name: %w", err)
	}
	return exists, nil
}

// SetPassword replaces the room secret hash. A nil hash makes the room public.
func (r *PGRepository) SetPassword(ctx context.Context, id uuid.UUID, passwordHash *string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE chat_rooms SET password_hash = $1, is_private = ($1 IS NOT NULL), updated_at = now() WHERE id = $2 AND status <> 'Deleted'",
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("set room password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus sets the room status.
func (r *PGRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE chat_rooms SET status = $1, updated_at = now() WHERE id = $2", status, id,
	)
	if err != nil {
		return fmt.Errorf("update room status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// qualify prefixes each column in list with the given table alias.
func qualify(list, alias string) string {
	cols := strings.Split(list, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func collect(rows pgx.Rows) ([]Room, error) {
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

func scanRoom(row pgx.Row) (*Room, error) {
	var room Room
	err := row.Scan(
		&room.ID, &room.Name, &room.Description, &room.IsPrivate, &room.PasswordHash, &room.OwnerID,
		&room.MaxMembers, &room.MemberCount, &room.Status, &room.CreatedAt, &room.UpdatedAt, &room.LastActivityAt,
	)
	if err != nil {
		return nil, err
	}
	return &room, nil
}
