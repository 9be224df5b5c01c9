package gateway

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// fakeSender records delivered frames; fail makes every Send report a
// dropped receiver.
type fakeSender struct {
	mu     sync.Mutex
	frames [][]byte
	fail   bool
}

func (s *fakeSender) Send(frame []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestRouteToRoom(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(10)
	router := NewRouter(reg, zerolog.Nop())
	roomID := uuid.New()

	var senders []*fakeSender
	for i := 0; i < 3; i++ {
		conn, _ := reg.Register(uuid.New(), "u", "")
		s := &fakeSender{}
		senders = append(senders, s)
		router.RegisterSender(conn.ID, s)
		if i < 2 {
			reg.JoinRoomSubscription(conn.ID, roomID)
		}
	}

	router.RouteToRoom(roomID, []byte("frame"))

	if senders[0].count() != 1 || senders[1].count() != 1 {
		t.Error("subscribed connections did not receive the frame")
	}
	if senders[2].count() != 0 {
		t.Error("unsubscribed connection received the frame")
	}
}

func TestRouteToRoomExcept(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(10)
	router := NewRouter(reg, zerolog.Nop())
	roomID := uuid.New()
	excluded := uuid.New()

	exConn, _ := reg.Register(excluded, "excluded", "")
	exSender := &fakeSender{}
	router.RegisterSender(exConn.ID, exSender)
	reg.JoinRoomSubscription(exConn.ID, roomID)

	otherConn, _ := reg.Register(uuid.New(), "other", "")
	otherSender := &fakeSender{}
	router.RegisterSender(otherConn.ID, otherSender)
	reg.JoinRoomSubscription(otherConn.ID, roomID)

	router.RouteToRoomExcept(roomID, excluded, []byte("frame"))

	if exSender.count() != 0 {
		t.Error("excluded user received the frame")
	}
	if otherSender.count() != 1 {
		t.Error("other subscriber did not receive the frame")
	}
}

func TestRouteToUserAllConnections(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(10)
	router := NewRouter(reg, zerolog.Nop())
	userID := uuid.New()

	var senders []*fakeSender
	for i := 0; i < 2; i++ {
		conn, _ := reg.Register(userID, "u", "")
		s := &fakeSender{}
		senders = append(senders, s)
		router.RegisterSender(conn.ID, s)
	}

	router.RouteToUser(userID, []byte("frame"))

	for i, s := range senders {
		if s.count() != 1 {
			t.Errorf("connection %d received %d frames, want 1", i, s.count())
		}
	}
}

func TestRouterFailuresDoNotPropagate(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(10)
	router := NewRouter(reg, zerolog.Nop())
	roomID := uuid.New()

	dead, _ := reg.Register(uuid.New(), "dead", "")
	router.RegisterSender(dead.ID, &fakeSender{fail: true})
	reg.JoinRoomSubscription(dead.ID, roomID)

	alive, _ := reg.Register(uuid.New(), "alive", "")
	aliveSender := &fakeSender{}
	router.RegisterSender(alive.ID, aliveSender)
	reg.JoinRoomSubscription(alive.ID, roomID)

	router.RouteToRoom(roomID, []byte("frame"))

	if aliveSender.count() != 1 {
		t.Error("healthy connection starved by a dead one")
	}

	stats := router.Stats()
	if stats.FailedRoutes != 1 {
		t.Errorf("FailedRoutes = %d, want 1", stats.FailedRoutes)
	}
	if stats.SuccessfulRoutes != 1 {
		t.Errorf("SuccessfulRoutes = %d, want 1", stats.SuccessfulRoutes)
	}
}

func TestRouterMissingSenderCountsAsFailed(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(10)
	router := NewRouter(reg, zerolog.Nop())

	router.RouteToConnection(uuid.New(), []byte("frame"))

	if stats := router.Stats(); stats.FailedRoutes != 1 {
		t.Errorf("FailedRoutes = %d, want 1", stats.FailedRoutes)
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(10)
	router := NewRouter(reg, zerolog.Nop())

	var senders []*fakeSender
	for i := 0; i < 3; i++ {
		conn, _ := reg.Register(uuid.New(), "u", "")
		s := &fakeSender{}
		senders = append(senders, s)
		router.RegisterSender(conn.ID, s)
	}

	router.Broadcast([]byte("frame"))

	for i, s := range senders {
		if s.count() != 1 {
			t.Errorf("connection %d received %d frames, want 1", i, s.count())
		}
	}
}
