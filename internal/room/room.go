// Package room holds the chat-room entity, its invariants, the data-access
// contract, and the room service.
package room

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/pagination"
)

// Sentinel errors for the room package.
var (
	ErrNotFound         = errors.New("room not found")
	ErrDeleted          = errors.New("room has been deleted")
	ErrNameTaken        = errors.New("a room with this name already exists")
	ErrNameLength       = errors.New("room name must be between 2 and 100 characters")
	ErrWeakPassword     = errors.New("room secret must be at least 6 characters and contain a letter and a digit")
	ErrPasswordRequired = errors.New("private rooms require a room secret")
	ErrPublicPassword   = errors.New("public rooms cannot carry a room secret")
	ErrInvalidPassword  = errors.New("room secret does not match")
	ErrFull             = errors.New("room is at its member capacity")
	ErrCapacityTooSmall = errors.New("member capacity cannot be below the current member count")
	ErrOwnerOnly        = errors.New("only the room owner may perform this operation")
	ErrNotAuthorized    = errors.New("insufficient permissions for this room operation")
	ErrOwnerCannotLeave = errors.New("the owner must transfer or delete the room before leaving")
	ErrAlreadyJoined    = errors.New("user is already a member of the room")
	ErrNotJoined        = errors.New("user is not a member of the room")
)

// Status is the lifecycle state of a room.
type Status string

const (
	StatusActive   Status = "Active"
	StatusArchived Status = "Archived"
	StatusDeleted  Status = "Deleted"
)

// Room is a named chat channel, public or password-gated.
type Room struct {
	ID             uuid.UUID
	Name           string
	Description    *string
	IsPrivate      bool
	PasswordHash   *string
	OwnerID        uuid.UUID
	MaxMembers     *int
	MemberCount    int
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
}

// ValidateName checks the 2-100 rune bound after trimming and returns the
// trimmed name.
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	n := utf8.RuneCountInString(trimmed)
	if n < 2 || n > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidatePassword enforces the private-room secret strength rule: at least 6
// characters with at least one letter and one digit.
func ValidatePassword(password string) error {
	if len(password) < 6 {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

// CheckInvariants verifies the structural invariants of a room record.
func (r *Room) CheckInvariants() error {
	if r.IsPrivate != (r.PasswordHash != nil) {
		if r.IsPrivate {
			return ErrPasswordRequired
		}
		return ErrPublicPassword
	}
	if r.MaxMembers != nil && r.MemberCount > *r.MaxMembers {
		return ErrFull
	}
	if _, err := ValidateName(r.Name); err != nil {
		return err
	}
	return nil
}

// IsActive reports whether the room accepts joins and messages.
func (r *Room) IsActive() bool {
	return r.Status == StatusActive
}

// HasCapacityFor reports whether another n members fit under MaxMembers.
func (r *Room) HasCapacityFor(n int) bool {
	return r.MaxMembers == nil || r.MemberCount+n <= *r.MaxMembers
}

// UpdateParams groups the optional fields for UpdateRoom. Nil means "leave
// unchanged".
type UpdateParams struct {
	Name        *string
	Description *string
	MaxMembers  *int
	Password    *string
}

// SearchParams filters room search.
type SearchParams struct {
	Query   string
	Private *bool
}

// Repository defines the data-access contract for rooms.
type Repository interface {
	Create(ctx context.Context, r *Room) error
	FindByID(ctx context.Context, id uuid.UUID) (*Room, error)
	FindByName(ctx context.Context, name string) (*Room, error)
	FindByOwner(ctx context.Context, ownerID uuid.UUID, page pagination.Pagination) ([]Room, error)
	FindByMember(ctx context.Context, userID uuid.UUID, page pagination.Pagination) ([]Room, error)
	Update(ctx context.Context, r *Room) error
	UpdateMemberCount(ctx context.Context, id uuid.UUID, delta int) error
	UpdateLastActivity(ctx context.Context, id uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params SearchParams, page pagination.Pagination) ([]Room, error)
	NameExists(ctx context.Context, name string, excludeID *uuid.UUID) (bool, error)
	SetPassword(ctx context.Context, id uuid.UUID, passwordHash *string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
}
