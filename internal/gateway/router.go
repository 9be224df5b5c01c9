package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yeheng/chatroom-server/internal/metrics"
)

// Sender delivers one serialised frame to a connection's writer. Send
// reports false when the receiver is gone; the router counts the failure and
// moves on, leaving cleanup to the registry.
type Sender interface {
	Send(frame []byte) bool
}

// RouterStats is a snapshot of the router counters.
type RouterStats struct {
	TotalMessages    uint64
	SuccessfulRoutes uint64
	FailedRoutes     uint64
	AvgLatency       time.Duration
}

// Router maps connection ids to outbound senders and fans frames out to
// them. Reads snapshot the target senders under the read lock and send after
// releasing it, so a slow connection never blocks registration.
type Router struct {
	mu      sync.RWMutex
	senders map[uuid.UUID]Sender
	reg     *Registry
	log     zerolog.Logger

	statsMu    sync.Mutex
	total      uint64
	successful uint64
	failed     uint64
	avgLatency float64 // seconds, exponential moving average
}

// NewRouter creates a router over the given registry.
func NewRouter(reg *Registry, logger zerolog.Logger) *Router {
	return &Router{
		senders: make(map[uuid.UUID]Sender),
		reg:     reg,
		log:     logger.With().Str("component", "router").Logger(),
	}
}

// RegisterSender attaches a connection's outbound sender.
func (r *Router) RegisterSender(connID uuid.UUID, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[connID] = s
}

// UnregisterSender detaches a connection's outbound sender.
func (r *Router) UnregisterSender(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.senders, connID)
}

// RouteToConnection delivers a frame to one connection.
func (r *Router) RouteToConnection(connID uuid.UUID, frame []byte) {
	r.RouteToConnections([]uuid.UUID{connID}, frame)
}

// RouteToUser delivers a frame to every connection of a user.
func (r *Router) RouteToUser(userID uuid.UUID, frame []byte) {
	r.RouteToConnections(r.reg.ConnectionsOfUser(userID), frame)
}

// RouteToRoom delivers a frame to every subscriber of a room.
func (r *Router) RouteToRoom(roomID uuid.UUID, frame []byte) {
	r.RouteToConnections(r.reg.ConnectionsOfRoom(roomID), frame)
}

// RouteToRoomExcept delivers a frame to a room's subscribers, skipping every
// connection belonging to the excluded user.
func (r *Router) RouteToRoomExcept(roomID, exceptUserID uuid.UUID, frame []byte) {
	targets := r.reg.ConnectionsOfRoom(roomID)
	filtered := targets[:0]
	for _, connID := range targets {
		if conn, ok := r.reg.Get(connID); ok && conn.UserID == exceptUserID {
			continue
		}
		filtered = append(filtered, connID)
	}
	r.RouteToConnections(filtered, frame)
}

// Broadcast delivers a frame to every registered connection.
func (r *Router) Broadcast(frame []byte) {
	r.RouteToConnections(r.reg.All(), frame)
}

// RouteToConnections delivers a frame to the given connections. A failed
// send is counted and logged; it never fails the caller, and the dead
// connection is left for the registry sweep to reap.
func (r *Router) RouteToConnections(connIDs []uuid.UUID, frame []byte) {
	if len(connIDs) == 0 {
		return
	}
	start := time.Now()

	r.mu.RLock()
	targets := make([]Sender, 0, len(connIDs))
	failedIDs := 0
	for _, id := range connIDs {
		if s, ok := r.senders[id]; ok {
			targets = append(targets, s)
		} else {
			failedIDs++
		}
	}
	r.mu.RUnlock()

	succeeded, failed := 0, failedIDs
	for _, s := range targets {
		if s.Send(frame) {
			succeeded++
		} else {
			failed++
		}
	}

	elapsed := time.Since(start)
	metrics.RouteLatency.Observe(elapsed.Seconds())
	metrics.RoutedFrames.WithLabelValues("ok").Add(float64(succeeded))
	if failed > 0 {
		metrics.RoutedFrames.WithLabelValues("failed").Add(float64(failed))
		r.log.Debug().Int("failed", failed).Msg("Dropped frames for dead connections")
	}

	r.statsMu.Lock()
	r.total++
	r.successful += uint64(succeeded)
	r.failed += uint64(failed)
	// Exponential moving average with a light smoothing factor.
	const alpha = 0.1
	r.avgLatency = (1-alpha)*r.avgLatency + alpha*elapsed.Seconds()
	r.statsMu.Unlock()
}

// Stats returns a snapshot of the router counters.
func (r *Router) Stats() RouterStats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return RouterStats{
		TotalMessages:    r.total,
		SuccessfulRoutes: r.successful,
		FailedRoutes:     r.failed,
		AvgLatency:       time.Duration(r.avgLatency * float64(time.Second)),
	}
}
