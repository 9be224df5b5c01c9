package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRegistryRegisterUnregister(t *testing.T) {
	t.Parallel()

	r := NewRegistry(10)
	userID := uuid.New()

	conn, err := r.Register(userID, "alice", "test-agent")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if conn.Status != ConnPending {
		t.Errorf("Status = %s, want Pending", conn.Status)
	}

	ids := r.ConnectionsOfUser(userID)
	if len(ids) != 1 || ids[0] != conn.ID {
		t.Errorf("ConnectionsOfUser = %v, want [%s]", ids, conn.ID)
	}

	r.Unregister(conn.ID)
	if got := r.ConnectionsOfUser(userID); len(got) != 0 {
		t.Errorf("ConnectionsOfUser after unregister = %v, want empty", got)
	}
	if _, ok := r.Get(conn.ID); ok {
		t.Error("Get returned an unregistered connection")
	}
}

func TestRegistryCapacity(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2)
	if _, err := r.Register(uuid.New(), "a", ""); err != nil {
		t.Fatalf("Register 1: %v", err)
	}
	if _, err := r.Register(uuid.New(), "b", ""); err != nil {
		t.Fatalf("Register 2: %v", err)
	}

	_, err := r.Register(uuid.New(), "c", "")
	if !errors.Is(err, ErrMaxConnections) {
		t.Fatalf("Register over capacity = %v, want ErrMaxConnections", err)
	}
	if err.Error() != "Maximum connections reached" {
		t.Errorf("error text = %q", err.Error())
	}
}

func TestRegistrySubscriptions(t *testing.T) {
	t.Parallel()

	r := NewRegistry(10)
	roomID := uuid.New()

	first, _ := r.Register(uuid.New(), "a", "")
	second, _ := r.Register(uuid.New(), "b", "")

	r.JoinRoomSubscription(first.ID, roomID)
	r.JoinRoomSubscription(second.ID, roomID)

	if !r.IsSubscribed(first.ID, roomID) {
		t.Error("IsSubscribed = false after join")
	}
	if got := r.ConnectionsOfRoom(roomID); len(got) != 2 {
		t.Errorf("ConnectionsOfRoom = %d entries, want 2", len(got))
	}

	r.LeaveRoomSubscription(first.ID, roomID)
	if r.IsSubscribed(first.ID, roomID) {
		t.Error("IsSubscribed = true after leave")
	}
	if got := r.ConnectionsOfRoom(roomID); len(got) != 1 {
		t.Errorf("ConnectionsOfRoom after leave = %d entries, want 1", len(got))
	}

	// Unregistering removes the remaining room index entry.
	r.Unregister(second.ID)
	if got := r.ConnectionsOfRoom(roomID); len(got) != 0 {
		t.Errorf("ConnectionsOfRoom after unregister = %d entries, want 0", len(got))
	}
}

func TestRegistryDropUserRoom(t *testing.T) {
	t.Parallel()

	r := NewRegistry(10)
	roomID := uuid.New()
	userID := uuid.New()

	first, _ := r.Register(userID, "a", "")
	second, _ := r.Register(userID, "a", "")
	other, _ := r.Register(uuid.New(), "b", "")

	for _, c := range []*Connection{first, second, other} {
		r.JoinRoomSubscription(c.ID, roomID)
	}

	r.DropUserRoom(userID, roomID)

	if r.IsSubscribed(first.ID, roomID) || r.IsSubscribed(second.ID, roomID) {
		t.Error("user's connections still subscribed after DropUserRoom")
	}
	if !r.IsSubscribed(other.ID, roomID) {
		t.Error("other user's subscription was dropped")
	}
}

func TestRegistryCleanupInactive(t *testing.T) {
	t.Parallel()

	r := NewRegistry(10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	stale, _ := r.Register(uuid.New(), "stale", "")
	now = now.Add(10 * time.Minute)
	fresh, _ := r.Register(uuid.New(), "fresh", "")

	evicted := r.CleanupInactive(5 * time.Minute)
	if len(evicted) != 1 || evicted[0] != stale.ID {
		t.Fatalf("evicted = %v, want [%s]", evicted, stale.ID)
	}
	if _, ok := r.Get(fresh.ID); !ok {
		t.Error("fresh connection was evicted")
	}
}

func TestRegistryTouchActivityKeepsAlive(t *testing.T) {
	t.Parallel()

	r := NewRegistry(10)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	conn, _ := r.Register(uuid.New(), "a", "")
	now = now.Add(4 * time.Minute)
	r.TouchActivity(conn.ID)
	now = now.Add(3 * time.Minute)

	if evicted := r.CleanupInactive(5 * time.Minute); len(evicted) != 0 {
		t.Errorf("evicted = %v, want none after touch", evicted)
	}
}

func TestRegistryStats(t *testing.T) {
	t.Parallel()

	r := NewRegistry(10)
	roomID := uuid.New()

	first, _ := r.Register(uuid.New(), "a", "")
	second, _ := r.Register(uuid.New(), "b", "")
	r.SetStatus(first.ID, ConnAuthenticated)
	r.JoinRoomSubscription(first.ID, roomID)
	r.Unregister(second.ID)

	stats := r.Stats()
	if stats.Total != 1 {
		t.Errorf("Total = %d, want 1", stats.Total)
	}
	if stats.Authenticated != 1 {
		t.Errorf("Authenticated = %d, want 1", stats.Authenticated)
	}
	if stats.Peak != 2 {
		t.Errorf("Peak = %d, want 2", stats.Peak)
	}
	if stats.TodayConnections != 2 {
		t.Errorf("TodayConnections = %d, want 2", stats.TodayConnections)
	}
	if stats.RoomConnections[roomID] != 1 {
		t.Errorf("RoomConnections = %v", stats.RoomConnections)
	}
}
