package room

import (
	"sync"

	"github.com/google/uuid"
)

// LockTable hands out one mutex per room so every write to a given room is
// serialised across the room and message services. The per-room lock is held
// across the repository write and the event emission, which is what gives
// subscribers per-room ordering.
type LockTable struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// Get returns the lock for a room, creating it on first use. Locks are never
// removed; the table grows with the number of rooms written to, which is
// bounded by the room count.
func (t *LockTable) Get(roomID uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[roomID] = l
	}
	return l
}
