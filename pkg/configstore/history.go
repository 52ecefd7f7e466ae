package configstore

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// HistoryEntry is one committed command.
type HistoryEntry struct {
	ID        int64 // commit_log row id
	Timestamp time.Time
	Mode      string
	Command   string
	Ops       int
}

// History keeps the most recent commits in memory, addressed by commit ID.
// Entries must be recorded in ascending ID order.
type History struct {
	mu   sync.RWMutex
	ring []*HistoryEntry
	next int // slot overwritten by the next commit
	n    int
}

// NewHistory returns a History retaining up to capacity commits.
func NewHistory(capacity int) *History {
	return &History{ring: make([]*HistoryEntry, max(capacity, 1))}
}

// Record adds a commit, evicting the oldest when full.
func (h *History) Record(e *HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ring[h.next] = e
	h.next = (h.next + 1) % len(h.ring)
	h.n = min(h.n+1, len(h.ring))
}

// newest returns the entry age commits back; 0 is the latest.
func (h *History) newest(age int) *HistoryEntry {
	return h.ring[(h.next-1-age+2*len(h.ring))%len(h.ring)]
}

// Get returns the commit with the given ID while it is still retained.
func (h *History) Get(id int64) (*HistoryEntry, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	age := sort.Search(h.n, func(i int) bool { return h.newest(i).ID <= id })
	if age < h.n && h.newest(age).ID == id {
		return h.newest(age), nil
	}
	return nil, fmt.Errorf("commit %d: %w", id, ErrNotFound)
}

// Recent returns up to limit commits, newest first. A limit of zero or
// less returns everything retained.
func (h *History) Recent(limit int) []*HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if limit <= 0 || limit > h.n {
		limit = h.n
	}
	out := make([]*HistoryEntry, limit)
	for i := range out {
		out[i] = h.newest(i)
	}
	return out
}

// Len returns the number of retained commits.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Cap returns how many commits are retained at most.
func (h *History) Cap() int { return len(h.ring) }
