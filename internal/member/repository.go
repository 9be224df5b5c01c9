package member

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/pagination"
	"github.com/yeheng/chatroom-server/internal/postgres"
)

const selectColumns = "room_id, user_id, role, joined_at, last_read_message_id, is_muted, notifications_enabled"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed member repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Add inserts a membership row. A duplicate (room, user) pair reports
// ErrAlreadyMember.
func (r *PGRepository) Add(ctx context.Context, m *Member) error {
	if !m.Role.Valid() {
		return ErrInvalidRole
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id, role, is_muted, notifications_enabled)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.RoomID, m.UserID, m.Role, m.IsMuted, m.NotificationsEnabled,
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

// Find returns the membership row for (room, user).
func (r *PGRepository) Find(ctx context.Context, roomID, userID uuid.UUID) (*Member, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+selectColumns+" FROM room_members WHERE room_id = $1 AND user_id = $2",
		roomID, userID,
	)
	m, err := scanMember(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query member: %w", err)
	}
	return m, nil
}

// FindByRoom lists a room's members ordered by join time.
func (r *PGRepository) FindByRoom(ctx context.Context, roomID uuid.UUID, page pagination.Pagination) ([]Member, error) {
	page = page.Clamp()
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM room_members WHERE room_id = $1 ORDER BY joined_at, user_id LIMIT $2 OFFSET $3",
		roomID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query room members: %w", err)
	}
	return collect(rows)
}

// FindByUser lists a user's memberships ordered by join time.
func (r *PGRepository) FindByUser(ctx context.Context, userID uuid.UUID, page pagination.Pagination) ([]Member, error) {
	page = page.Clamp()
	rows, err := r.db.Query(ctx,
		"SELECT "+selectColumns+" FROM room_members WHERE user_id = $1 ORDER BY joined_at, room_id LIMIT $2 OFFSET $3",
		userID, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query user memberships: %w", err)
	}
	return collect(rows)
}

// UpdateRole sets a member's role.
func (r *PGRepository) UpdateRole(ctx context.Context, roomID, userID uuid.UUID, role Role) error {
	if !role.Valid() {
		return ErrInvalidRole
	}
	return r.exec(ctx, "update member role",
		"UPDATE room_members SET role = $1 WHERE room_id = $2 AND user_id = $3",
		role, roomID, userID,
	)
}

// SetMuted toggles a member's muted flag.
func (r *PGRepository) SetMuted(ctx context.Context, roomID, userID uuid.UUID, muted bool) error {
	return r.exec(ctx, "set member muted",
		"UPDATE room_members SET is_muted = $1 WHERE room_id = $2 AND user_id = $3",
		muted, roomID, userID,
	)
}

// SetNotifications toggles a member's notification preference.
func (r *PGRepository) SetNotifications(ctx context.Context, roomID, userID uuid.UUID, enabled bool) error {
	return r.exec(ctx, "set member notifications",
		"UPDATE room_members SET notifications_enabled = $1 WHERE room_id = $2 AND user_id = $3",
		enabled, roomID, userID,
	)
}

// UpdateLastRead advances the member's authoritative read marker.
func (r *PGRepository) UpdateLastRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error {
	return r.exec(ctx, "update member last read",
		"UPDATE room_members SET last_read_message_id = $1 WHERE room_id = $2 AND user_id = $3",
		messageID, roomID, userID,
	)
}

// Remove deletes the membership row.
func (r *PGRepository) Remove(ctx context.Context, roomID, userID uuid.UUID) error {
	return r.exec(ctx, "remove member",
		"DELETE FROM room_members WHERE room_id = $1 AND user_id = $2",
		roomID, userID,
	)
}

// IsMember reports whether (room, user) has a membership row.
func (r *PGRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)",
		roomID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// CountByRoom returns the number of members in a room.
func (r *PGRepository) CountByRoom(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		"SELECT count(*) FROM room_members WHERE room_id = $1", roomID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count room members: %w", err)
	}
	return count, nil
}

func (r *PGRepository) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collect(rows pgx.Rows) ([]Member, error) {
	defer rows.Close()

	var members []Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func scanMember(row pgx.Row) (*Member, error) {
	var m Member
	err := row.Scan(
		&m.RoomID, &m.UserID, &m.Role, &m.JoinedAt,
		&m.LastReadMessageID, &m.IsMuted, &m.NotificationsEnabled,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
