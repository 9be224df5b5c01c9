// Package user holds the user entity, its lifecycle rules, and the
// data-access contract for accounts.
package user

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/pagination"
)

// Sentinel errors for the user package.
var (
	ErrNotFound         = errors.New("user not found")
	ErrAlreadyExists    = errors.New("email or username already taken")
	ErrNotActive        = errors.New("user account is not active")
	ErrDeletedIsFinal   = errors.New("a deleted user cannot change status")
	ErrUsernameLength   = errors.New("username must be between 3 and 32 characters")
	ErrInvalidEmailForm = errors.New("email address is not syntactically valid")
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive    Status = "Active"
	StatusInactive  Status = "Inactive"
	StatusSuspended Status = "Suspended"
	StatusDeleted   Status = "Deleted"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// User holds the core identity fields read from the database. PasswordHash is
// deliberately absent; repository methods that serve the authentication path
// return Credentials instead.
type User struct {
	ID           uuid.UUID
	Username     string
	Email        string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActiveAt *time.Time
}

// ChangeStatus transitions the account to a new status. Deleted is terminal:
// no transition out of it is permitted; every other transition is free.
func (u *User) ChangeStatus(next Status) error {
	if u.Status == StatusDeleted && next != StatusDeleted {
		return ErrDeletedIsFinal
	}
	u.Status = next
	u.UpdatedAt = time.Now().UTC()
	return nil
}

// IsActive reports whether the account may act.
func (u *User) IsActive() bool {
	return u.Status == StatusActive
}

// Credentials extends User with the password hash. Only repository methods
// that serve the authentication path return this type, preventing credential
// leakage at the type level.
type Credentials struct {
	User
	PasswordHash string
}

// CreateParams groups the inputs for creating a new user. The password has
// already been hashed by the auth collaborator.
type CreateParams struct {
	Username     string
	Email        string
	PasswordHash string
}

// SearchParams filters user search.
type SearchParams struct {
	Query  string
	Status *Status
}

// Repository defines the data-access contract for user accounts.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	// GetCredentials resolves a username or email identifier to the account
	// and its password hash for verification by the auth collaborator.
	GetCredentials(ctx context.Context, identifier string) (*Credentials, error)
	Update(ctx context.Context, u *User) error
	UpdateLastActivity(ctx context.Context, id uuid.UUID) error
	SoftDelete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, params SearchParams, page pagination.Pagination, sort pagination.Sort) ([]User, error)
}
