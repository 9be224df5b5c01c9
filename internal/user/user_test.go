package user

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestChangeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr error
	}{
		{"active to suspended", StatusActive, StatusSuspended, nil},
		{"suspended to active", StatusSuspended, StatusActive, nil},
		{"active to deleted", StatusActive, StatusDeleted, nil},
		{"inactive to active", StatusInactive, StatusActive, nil},
		{"deleted stays deleted", StatusDeleted, StatusDeleted, nil},
		{"deleted to active forbidden", StatusDeleted, StatusActive, ErrDeletedIsFinal},
		{"deleted to suspended forbidden", StatusDeleted, StatusSuspended, ErrDeletedIsFinal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u := &User{ID: uuid.New(), Username: "alice", Status: tt.from}
			err := u.ChangeStatus(tt.to)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ChangeStatus(%s → %s) = %v, want %v", tt.from, tt.to, err, tt.wantErr)
			}
			if err == nil && u.Status != tt.to {
				t.Errorf("Status = %s, want %s", u.Status, tt.to)
			}
			if err != nil && u.Status != tt.from {
				t.Errorf("failed transition mutated status to %s", u.Status)
			}
		})
	}
}

func TestStatusValid(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusActive, StatusInactive, StatusSuspended, StatusDeleted} {
		if !s.Valid() {
			t.Errorf("Valid(%s) = false", s)
		}
	}
	if Status("Banana").Valid() {
		t.Error("Valid(Banana) = true")
	}
}

func TestIsActive(t *testing.T) {
	t.Parallel()

	u := &User{Status: StatusActive}
	if !u.IsActive() {
		t.Error("IsActive() = false for active user")
	}
	u.Status = StatusSuspended
	if u.IsActive() {
		t.Error("IsActive() = true for suspended user")
	}
}
