package history

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yeheng/chatroom-server/internal/message"
	"github.com/yeheng/chatroom-server/internal/metrics"
)

// Cache defaults.
const (
	DefaultCapacity = 1024
	DefaultTTL      = time.Hour
)

// Page is one cursor-delimited slice of a room's history, newest first.
type Page struct {
	Messages   []message.Message
	HasMore    bool
	NextCursor *string
}

// cacheEntry is one cached page with its expiry and a handle into the LRU
// order list.
type cacheEntry struct {
	key       string
	page      Page
	expiresAt time.Time
	elem      *list.Element
}

// Cache is an LRU+TTL map of history pages keyed by
// (room | cursor | page size | kind | keyword). A single mutex serialises all
// access; capacity is bounded, so eviction stays cheap.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*cacheEntry
	order    *list.List // front = most recently used
	now      func() time.Time

	hits   uint64
	misses uint64
}

// NewCache creates a cache with the given capacity and TTL. Non-positive
// arguments fall back to the defaults.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
		order:    list.New(),
		now:      time.Now,
	}
}

// Key builds the canonical cache key. Empty cursor, kind, and keyword
// segments are encoded as "_".
func Key(roomID uuid.UUID, cursor *string, pageSize int, kind *message.Kind, keyword string) string {
	c, k, w := "_", "_", "_"
	if cursor != nil && *cursor != "" {
		c = *cursor
	}
	if kind != nil {
		k = string(*kind)
	}
	if keyword != "" {
		w = keyword
	}
	return fmt.Sprintf("%s|%s|%d|%s|%s", roomID, c, pageSize, k, w)
}

// Get returns the cached page for key if present and fresh, bumping it to
// most recently used. Absent or expired entries count as misses.
func (c *Cache) Get(key string) (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || c.now().After(entry.expiresAt) {
		if ok {
			c.remove(entry)
		}
		c.misses++
		metrics.HistoryCacheLookups.WithLabelValues("miss").Inc()
		return Page{}, false
	}

	c.order.MoveToFront(entry.elem)
	c.hits++
	metrics.HistoryCacheLookups.WithLabelValues("hit").Inc()
	return entry.page, true
}

// Put inserts a page. Expired entries are dropped first; if the cache is at
// capacity, the least recently used entry is evicted.
func (c *Cache) Put(key string, page Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.remove(entry)
		}
	}

	if existing, ok := c.entries[key]; ok {
		c.remove(existing)
	}
	if len(c.entries) >= c.capacity {
		if back := c.order.Back(); back != nil {
			c.remove(back.Value.(*cacheEntry))
		}
	}

	entry := &cacheEntry{key: key, page: page, expiresAt: now.Add(c.ttl)}
	entry.elem = c.order.PushFront(entry)
	c.entries[key] = entry
}

// InvalidateRoom removes every entry whose key begins with the room's
// prefix. Called by the message service before any mutation returns success.
func (c *Cache) InvalidateRoom(roomID uuid.UUID) {
	prefix := roomID.String() + "|"

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if strings.HasPrefix(key, prefix) {
			c.remove(entry)
		}
	}
}

// Stats returns the hit/miss counters and current size.
func (c *Cache) Stats() (hits, misses uint64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.entries)
}

// remove deletes an entry. The caller holds the lock.
func (c *Cache) remove(entry *cacheEntry) {
	delete(c.entries, entry.key)
	c.order.Remove(entry.elem)
}
