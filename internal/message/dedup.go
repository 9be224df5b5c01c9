package message

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Dedup windows: an identical send within the window is rejected; observed
// hashes are retained long enough to keep the table informative without
// growing unboundedly.
const (
	dedupWindow    = time.Second
	dedupRetention = 5 * time.Minute
)

// Deduper rejects identical sends issued in rapid succession. Identity is a
// 64-bit xxhash over (room, sender, content, kind); the table prunes entries
// older than the retention on every access.
type Deduper struct {
	mu     sync.Mutex
	seen   map[uint64]time.Time
	now    func() time.Time
	window time.Duration
}

// NewDeduper creates an empty dedup table.
func NewDeduper() *Deduper {
	return &Deduper{
		seen:   make(map[uint64]time.Time),
		now:    time.Now,
		window: dedupWindow,
	}
}

// hashSend computes the dedup identity of a send.
func hashSend(roomID, senderID uuid.UUID, content string, kind Kind) uint64 {
	d := xxhash.New()
	_, _ = d.Write(roomID[:])
	_, _ = d.Write(senderID[:])
	_, _ = d.WriteString(content)
	_, _ = d.WriteString(string(kind))
	return d.Sum64()
}

// Observe records a send and reports whether it duplicates one seen within
// the dedup window. Rejected sends are not re-stamped; the original
// observation alone defines the window.
func (d *Deduper) Observe(roomID, senderID uuid.UUID, content string, kind Kind) error {
	h := hashSend(roomID, senderID, content, kind)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	cutoff := now.Add(-dedupRetention)
	for k, ts := range d.seen {
		if ts.Before(cutoff) {
			delete(d.seen, k)
		}
	}

	if last, ok := d.seen[h]; ok && now.Sub(last) < d.window {
		return ErrDuplicate
	}

	d.seen[h] = now
	return nil
}
