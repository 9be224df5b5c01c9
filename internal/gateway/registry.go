// Package gateway implements the real-time subsystem: the connection
// registry, the fan-out router, and the WebSocket session handling.
package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/metrics"
)

// ErrMaxConnections is returned when the registry is at capacity.
var ErrMaxConnections = errors.New("Maximum connections reached")

// ConnStatus is the lifecycle state of a connection record.
type ConnStatus string

const (
	ConnPending       ConnStatus = "Pending"
	ConnAuthenticated ConnStatus = "Authenticated"
	ConnClosing       ConnStatus = "Closing"
)

// Connection is the registry's record of one WebSocket session.
type Connection struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	Username     string
	Status       ConnStatus
	ConnectedAt  time.Time
	LastActiveAt time.Time
	ClientInfo   string
	rooms        map[uuid.UUID]struct{}
}

// Rooms returns a snapshot of the connection's subscribed room ids.
func (c *Connection) Rooms() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

// Stats is a snapshot of registry counters.
type Stats struct {
	Total            int
	Active           int
	Authenticated    int
	Peak             int
	RoomConnections  map[uuid.UUID]int
	TodayConnections int
}

// Registry owns every connection record and the user and room indexes over
// them. A single reader-writer lock guards the composite; writes are short
// critical sections and readers receive cloned snapshots.
type Registry struct {
	mu       sync.RWMutex
	conns    map[uuid.UUID]*Connection
	byUser   map[uuid.UUID]map[uuid.UUID]struct{}
	byRoom   map[uuid.UUID]map[uuid.UUID]struct{}
	capacity int
	now      func() time.Time

	peak       int
	todayCount int
	todayStart time.Time
}

// NewRegistry creates a registry refusing registrations beyond capacity.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		conns:    make(map[uuid.UUID]*Connection),
		byUser:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		byRoom:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		capacity: capacity,
		now:      time.Now,
	}
}

// Register adds a new connection record in Pending status and returns it.
func (r *Registry) Register(userID uuid.UUID, username, clientInfo string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.conns) >= r.capacity {
		return nil, ErrMaxConnections
	}

	now := r.now()
	conn := &Connection{
		ID:           uuid.New(),
		UserID:       userID,
		Username:     username,
		Status:       ConnPending,
		ConnectedAt:  now,
		LastActiveAt: now,
		ClientInfo:   clientInfo,
		rooms:        make(map[uuid.UUID]struct{}),
	}
	r.conns[conn.ID] = conn

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[uuid.UUID]struct{})
	}
	r.byUser[userID][conn.ID] = struct{}{}

	if len(r.conns) > r.peak {
		r.peak = len(r.conns)
	}
	r.bumpToday(now)
	metrics.ActiveConnections.Set(float64(len(r.conns)))

	clone := *conn
	return &clone, nil
}

// bumpToday advances the daily counter, resetting it at local midnight. The
// caller holds the write lock.
func (r *Registry) bumpToday(now time.Time) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !dayStart.Equal(r.todayStart) {
		r.todayStart = dayStart
		r.todayCount = 0
	}
	r.todayCount++
}

// Unregister removes a connection and every index entry pointing at it.
func (r *Registry) Unregister(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregisterLocked(connID)
}

func (r *Registry) unregisterLocked(connID uuid.UUID) {
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	if set := r.byUser[conn.UserID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	for roomID := range conn.rooms {
		if set := r.byRoom[roomID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byRoom, roomID)
			}
		}
	}
	metrics.ActiveConnections.Set(float64(len(r.conns)))
}

// SetStatus updates a connection's lifecycle status.
func (r *Registry) SetStatus(connID uuid.UUID, status ConnStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.Status = status
	}
}

// TouchActivity stamps the connection's last-activity clock.
func (r *Registry) TouchActivity(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.LastActiveAt = r.now()
	}
}

// JoinRoomSubscription subscribes a connection to a room's broadcasts.
func (r *Registry) JoinRoomSubscription(connID, roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	conn.rooms[roomID] = struct{}{}
	if r.byRoom[roomID] == nil {
		r.byRoom[roomID] = make(map[uuid.UUID]struct{})
	}
	r.byRoom[roomID][connID] = struct{}{}
}

// LeaveRoomSubscription drops a connection's interest in a room.
func (r *Registry) LeaveRoomSubscription(connID, roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(conn.rooms, roomID)
	if set := r.byRoom[roomID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byRoom, roomID)
		}
	}
}

// DropRoom removes every subscription to a room; used when the room is
// deleted.
func (r *Registry) DropRoom(roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID := range r.byRoom[roomID] {
		if conn, ok := r.conns[connID]; ok {
			delete(conn.rooms, roomID)
		}
	}
	delete(r.byRoom, roomID)
}

// DropUserRoom removes a user's subscriptions to one room across all of the
// user's connections; used when a member is kicked or leaves over REST.
func (r *Registry) DropUserRoom(userID, roomID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for connID := range r.byUser[userID] {
		conn, ok := r.conns[connID]
		if !ok {
			continue
		}
		delete(conn.rooms, roomID)
		if set := r.byRoom[roomID]; set != nil {
			delete(set, connID)
			if len(set) == 0 {
				delete(r.byRoom, roomID)
			}
		}
	}
}

// IsSubscribed reports whether a connection subscribes to a room.
func (r *Registry) IsSubscribed(connID, roomID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, in := conn.rooms[roomID]
	return in
}

// ConnectionsOfUser returns a snapshot of the user's connection ids.
func (r *Registry) ConnectionsOfUser(userID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshotSet(r.byUser[userID])
}

// ConnectionsOfRoom returns a snapshot of the room's subscribed connection
// ids.
func (r *Registry) ConnectionsOfRoom(roomID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshotSet(r.byRoom[roomID])
}

// Get returns a cloned connection record.
func (r *Registry) Get(connID uuid.UUID) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	clone := *conn
	clone.rooms = make(map[uuid.UUID]struct{}, len(conn.rooms))
	for id := range conn.rooms {
		clone.rooms[id] = struct{}{}
	}
	return &clone, true
}

// All returns a snapshot of every connection id.
func (r *Registry) All() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return snapshotSet(r.conns)
}

// CleanupInactive unregisters connections idle longer than timeout and
// returns their ids so the session layer can close the sockets.
func (r *Registry) CleanupInactive(timeout time.Duration) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-timeout)
	var evicted []uuid.UUID
	for id, conn := range r.conns {
		if conn.LastActiveAt.Before(cutoff) {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		r.unregisterLocked(id)
	}
	return evicted
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	authenticated := 0
	for _, conn := range r.conns {
		if conn.Status == ConnAuthenticated {
			authenticated++
		}
	}
	roomConns := make(map[uuid.UUID]int, len(r.byRoom))
	for roomID, set := range r.byRoom {
		roomConns[roomID] = len(set)
	}
	return Stats{
		Total:            len(r.conns),
		Active:           len(r.conns),
		Authenticated:    authenticated,
		Peak:             r.peak,
		RoomConnections:  roomConns,
		TodayConnections: r.todayCount,
	}
}

func snapshotSet[V any](set map[uuid.UUID]V) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
