package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/saathi/saathi-core/internal/domain"
)

var ErrNotFound = errors.New("conversation not found")

// Store persists one context per user id with a sliding TTL. A context
// whose TTL has lapsed is reported as absent, which resets the
// conversation to IDLE on the next message.
type Store interface {
	Get(ctx context.Context, userID string) (*domain.ConversationContext, error)
	// Save writes the context and refreshes its TTL.
	Save(ctx context.Context, conversation *domain.ConversationContext) error
	Delete(ctx context.Context, userID string) error
}

type memoryEntry struct {
	conversation domain.ConversationContext
	expiresAt    time.Time
}

// MemoryStore is the in-process fallback store, also used as the fake in
// tracker tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration

	now func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*domain.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(entry.expiresAt) {
		delete(s.entries, userID)
		return nil, ErrNotFound
	}

	clone := entry.conversation
	clone.Entities = cloneMap(entry.conversation.Entities)
	clone.CollectedData = cloneMap(entry.conversation.CollectedData)
	return &clone, nil
}

func (s *MemoryStore) Save(_ context.Context, conversation *domain.ConversationContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *conversation
	clone.Entities = cloneMap(conversation.Entities)
	clone.CollectedData = cloneMap(conversation.CollectedData)
	s.entries[conversation.UserID] = memoryEntry{
		conversation: clone,
		expiresAt:    s.now().Add(s.ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, userID)
	return nil
}

func cloneMap(source map[string]string) map[string]string {
	if source == nil {
		return nil
	}
	clone := make(map[string]string, len(source))
	for key, value := range source {
		clone[key] = value
	}
	return clone
}
