// Package member holds the room-membership association and its data-access
// contract.
package member

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/pagination"
)

// Sentinel errors for the member package.
var (
	ErrNotFound      = errors.New("member not found")
	ErrAlreadyMember = errors.New("user is already a member of the room")
	ErrOwnerImmune   = errors.New("the room owner cannot be removed or demoted")
	ErrInvalidRole   = errors.New("unknown member role")
)

// Role is a member's permission tier inside a room. Bot is a data-model
// affordance; no service path assigns it yet.
type Role string

const (
	RoleOwner  Role = "Owner"
	RoleAdmin  Role = "Admin"
	RoleMember Role = "Member"
	RoleBot    Role = "Bot"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember, RoleBot:
		return true
	}
	return false
}

// CanModerate reports whether the role may act on other members' messages and
// membership (kicks, deletes of others' messages).
func (r Role) CanModerate() bool {
	return r == RoleOwner || r == RoleAdmin
}

// Member is the (room, user) association with per-user room preferences. The
// per-member LastReadMessageID is the authoritative read marker; message
// status flags are advisory.
type Member struct {
	RoomID               uuid.UUID
	UserID               uuid.UUID
	Role                 Role
	JoinedAt             time.Time
	LastReadMessageID    *uuid.UUID
	IsMuted              bool
	NotificationsEnabled bool
}

// Repository defines the data-access contract for room membership.
type Repository interface {
	Add(ctx context.Context, m *Member) error
	Find(ctx context.Context, roomID, userID uuid.UUID) (*Member, error)
	FindByRoom(ctx context.Context, roomID uuid.UUID, page pagination.Pagination) ([]Member, error)
	FindByUser(ctx context.Context, userID uuid.UUID, page pagination.Pagination) ([]Member, error)
	UpdateRole(ctx context.Context, roomID, userID uuid.UUID, role Role) error
	SetMuted(ctx context.Context, roomID, userID uuid.UUID, muted bool) error
	SetNotifications(ctx context.Context, roomID, userID uuid.UUID, enabled bool) error
	UpdateLastRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error
	Remove(ctx context.Context, roomID, userID uuid.UUID) error
	IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
	CountByRoom(ctx context.Context, roomID uuid.UUID) (int, error)
}
