package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saathi/saathi-core/internal/domain"
)

const contextKeyPrefix = "saathi:conversation:"

// RedisStore keeps one JSON blob per user with a TTL refreshed on every
// save, so Redis itself enforces the inactivity expiry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, userID string) (*domain.ConversationContext, error) {
	raw, err := s.client.Get(ctx, contextKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", userID, err)
	}

	var conversation domain.ConversationContext
	if err := json.Unmarshal(raw, &conversation); err != nil {
		return nil, fmt.Errorf("decode conversation %s: %w", userID, err)
	}
	return &conversation, nil
}

func (s *RedisStore) Save(ctx context.Context, conversation *domain.ConversationContext) error {
	raw, err := json.Marshal(conversation)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", conversation.UserID, err)
	}
	if err := s.client.Set(ctx, contextKeyPrefix+conversation.UserID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation %s: %w", conversation.UserID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, contextKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("delete conversation %s: %w", userID, err)
	}
	return nil
}
