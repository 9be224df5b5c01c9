package message

import (
	"strings"
	"sync"
)

// defaultSensitiveWords seeds the filter. The set is replaceable at runtime
// via WordFilter.Replace.
var defaultSensitiveWords = []string{"敏感词", "password", "token", "secret", "key"}

// WordFilter rejects content containing any blocked term, matched as a
// case-insensitive substring. Reads vastly outnumber updates, so the set
// lives behind a reader-writer lock and Replace swaps it wholesale.
type WordFilter struct {
	mu    sync.RWMutex
	words map[string]struct{}
}

// NewWordFilter creates a filter seeded with the default blocked terms.
func NewWordFilter() *WordFilter {
	f := &WordFilter{}
	f.Replace(defaultSensitiveWords)
	return f
}

// Check returns ErrSensitiveContent when content contains a blocked term.
func (f *WordFilter) Check(content string) error {
	lowered := strings.ToLower(content)

	f.mu.RLock()
	defer f.mu.RUnlock()
	for word := range f.words {
		if strings.Contains(lowered, word) {
			return ErrSensitiveContent
		}
	}
	return nil
}

// Replace atomically swaps in a new term set. Terms are lowercased; empty
// terms are dropped.
func (f *WordFilter) Replace(words []string) {
	next := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			next[w] = struct{}{}
		}
	}

	f.mu.Lock()
	f.words = next
	f.mu.Unlock()
}

// Len returns the number of blocked terms.
func (f *WordFilter) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.words)
}
