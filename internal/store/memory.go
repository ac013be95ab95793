package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps processed ids in a process-local map. Expired entries
// are purged on every insert, so its size is bounded by arrival rate × ttl.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]time.Time)}
}

func (s *MemoryStore) MarkProcessed(_ context.Context, id string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if at, ok := s.seen[id]; ok && !(ProcessedRecord{MessageID: id, SeenAt: at}).Expired(now, ttl) {
		return false, nil
	}

	s.purge(now, ttl)
	s.seen[id] = now
	return true, nil
}

// Len returns the number of retained records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *MemoryStore) purge(now time.Time, ttl time.Duration) {
	for id, at := range s.seen {
		if now.Sub(at) > ttl {
			delete(s.seen, id)
		}
	}
}

func (s *MemoryStore) Close() error { return nil }
