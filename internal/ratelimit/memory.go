package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process window store used when Redis is not
// configured, and as the fake in tests. Semantics match RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string][]time.Time)}
}

func (s *MemoryStore) Take(_ context.Context, id string, window time.Duration, limit int, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.prune(id, now.Add(-window))
	result := Result{Count: len(entries)}
	if len(entries) > 0 {
		result.Oldest = entries[0]
	}
	if len(entries) >= limit {
		return result, nil
	}

	result.Admitted = true
	if len(entries) == 0 {
		result.Oldest = now
	}
	s.windows[id] = append(entries, now)
	return result, nil
}

func (s *MemoryStore) Peek(_ context.Context, id string, window time.Duration, now time.Time) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.prune(id, now.Add(-window))
	result := Result{Count: len(entries)}
	if len(entries) > 0 {
		result.Oldest = entries[0]
	}
	return result, nil
}

// prune drops entries at or before the cutoff. Entries are appended in time
// order, so the survivors are a suffix.
func (s *MemoryStore) prune(id string, cutoff time.Time) []time.Time {
	entries := s.windows[id]
	start := 0
	for start < len(entries) && !entries[start].After(cutoff) {
		start++
	}
	entries = entries[start:]
	if len(entries) == 0 {
		delete(s.windows, id)
	} else {
		s.windows[id] = entries
	}
	return entries
}
