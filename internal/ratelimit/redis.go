package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// takeScript prunes the window, and when below the limit records the new
// timestamp, in one atomic step. Returns {admitted, count, oldestScore}.
var takeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local cutoff = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local member = ARGV[5]

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = 0
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
if count >= limit then
  return {0, count, oldestScore}
end
redis.call('ZADD', key, now, member)
redis.call('EXPIRE', key, ttl)
if oldestScore == 0 then
  oldestScore = now
end
return {1, count, oldestScore}
`)

// RedisStore keeps one sorted set of admitted timestamps per identifier.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "ratelimit:"}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Take(ctx context.Context, id string, window time.Duration, limit int, now time.Time) (Result, error) {
	cutoff := now.Add(-window).UnixMilli()
	ttl := int(window/time.Second) + 1
	member := fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString())

	raw, err := takeScript.Run(ctx, s.client, []string{s.key(id)},
		now.UnixMilli(), cutoff, limit, ttl, member).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit take: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Result{}, fmt.Errorf("rate limit take: unexpected reply %v", raw)
	}
	admitted, count, oldest := values[0], values[1], values[2]
	result := Result{
		Admitted: toInt64(admitted) == 1,
		Count:    int(toInt64(count)),
	}
	if ms := toInt64(oldest); ms > 0 {
		result.Oldest = time.UnixMilli(ms).UTC()
	}
	return result, nil
}

func (s *RedisStore) Peek(ctx context.Context, id string, window time.Duration, now time.Time) (Result, error) {
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, s.key(id), "-inf", cutoff)
	countCmd := pipe.ZCard(ctx, s.key(id))
	oldestCmd := pipe.ZRangeWithScores(ctx, s.key(id), 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit peek: %w", err)
	}

	result := Result{Count: int(countCmd.Val())}
	if entries := oldestCmd.Val(); len(entries) > 0 {
		result.Oldest = time.UnixMilli(int64(entries[0].Score)).UTC()
	}
	return result, nil
}

func toInt64(value interface{}) int64 {
	switch casted := value.(type) {
	case int64:
		return casted
	case string:
		parsed, _ := strconv.ParseInt(casted, 10, 64)
		return parsed
	default:
		return 0
	}
}
