package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/domain"
)

const (
	jobKeyPrefix = "saathi:job:"
	pendingKey   = "saathi:queue:pending"
	inflightKey  = "saathi:queue:inflight"

	// Dead job hashes linger for inspection; the archive is the durable
	// failure record.
	deadJobRetention = 7 * 24 * time.Hour
)

// enqueueScript admits the job unless one with the same id is already
// pending or in-flight. Returns 1 when admitted, 0 on duplicate.
var enqueueScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'pending' or state == 'in_flight' then
  return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
  'payload', ARGV[1],
  'state', 'pending',
  'attempts', 0,
  'next_eligible_at', ARGV[2],
  'created_at', ARGV[3],
  'updated_at', ARGV[3],
  'last_error', '')
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[4])
return 1
`)

// dequeueScript claims the oldest eligible pending job and moves it to the
// in-flight set. Returns the job id or false when nothing is eligible.
var dequeueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
local id = ids[1]
redis.call('ZREM', KEYS[1], id)
redis.call('SADD', KEYS[2], id)
redis.call('HSET', ARGV[2] .. id, 'state', 'in_flight', 'updated_at', ARGV[1])
return id
`)

// failureScript increments the attempt counter and either reschedules the
// job with exponential backoff or marks it dead past the ceiling. The
// backoff is derived from the incremented counter inside the script so the
// read-modify-write stays atomic under concurrent workers.
// ARGV: jobID, backoffBaseMs, nowMs, cause, maxAttempts, deadRetentionSec.
var failureScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('job not found')
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[1], 'last_error', ARGV[4], 'updated_at', ARGV[3])
if attempts <= tonumber(ARGV[5]) then
  local eligible = math.floor(tonumber(ARGV[3]) + tonumber(ARGV[2]) * 2 ^ attempts)
  redis.call('HSET', KEYS[1], 'state', 'pending', 'next_eligible_at', eligible)
  redis.call('ZADD', KEYS[2], eligible, ARGV[1])
  return {attempts, 1}
end
redis.call('HSET', KEYS[1], 'state', 'dead')
redis.call('EXPIRE', KEYS[1], ARGV[6])
return {attempts, 0}
`)

// RedisQueue keeps job records in hashes and the retry schedule in a sorted
// set scored by next-eligible time, so scheduled retries are durable state
// rather than in-process timers.
type RedisQueue struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger
}

func NewRedisQueue(ctx context.Context, client *redis.Client, cfg Config, logger *zap.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisQueue{client: client, cfg: cfg.withDefaults(), logger: logger}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, message domain.Message) (*domain.Job, bool, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, false, fmt.Errorf("encode message: %w", err)
	}

	now := time.Now().UTC()
	admitted, err := enqueueScript.Run(ctx, q.client,
		[]string{jobKeyPrefix + message.ID, pendingKey},
		payload, now.UnixMilli(), now.UnixMilli(), message.ID).Int()
	if err != nil {
		return nil, false, fmt.Errorf("enqueue job %s: %w", message.ID, err)
	}

	job, err := q.loadJob(ctx, message.ID)
	if err != nil {
		return nil, false, err
	}
	return job, admitted == 1, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	now := time.Now().UTC()
	id, err := dequeueScript.Run(ctx, q.client,
		[]string{pendingKey, inflightKey},
		now.UnixMilli(), jobKeyPrefix).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	return q.loadJob(ctx, id)
}

func (q *RedisQueue) ReportSuccess(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.SRem(ctx, inflightKey, jobID)
	pipe.Del(ctx, jobKeyPrefix+jobID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

func (q *RedisQueue) ReportFailure(ctx context.Context, jobID string, cause error) (*domain.Job, error) {
	now := time.Now().UTC()
	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}

	_, err := failureScript.Run(ctx, q.client,
		[]string{jobKeyPrefix + jobID, pendingKey, inflightKey},
		jobID,
		q.cfg.BackoffBase.Milliseconds(),
		now.UnixMilli(),
		causeText,
		q.cfg.MaxAttempts,
		int(deadJobRetention/time.Second),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("report failure for job %s: %w", jobID, err)
	}

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State == domain.JobStateDead {
		q.logger.Error("job exhausted retries, moved to dead letter",
			zap.String("job_id", jobID),
			zap.Int("attempts", job.Attempts),
			zap.String("cause", causeText))
	}
	return job, nil
}

func (q *RedisQueue) loadJob(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := q.client.HGetAll(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return jobFromHash(id, fields)
}

func jobFromHash(id string, fields map[string]string) (*domain.Job, error) {
	var message domain.Message
	if err := json.Unmarshal([]byte(fields["payload"]), &message); err != nil {
		return nil, fmt.Errorf("decode job %s payload: %w", id, err)
	}

	attempts, _ := strconv.Atoi(fields["attempts"])
	job := &domain.Job{
		ID:        id,
		Payload:   message,
		State:     domain.JobState(fields["state"]),
		Attempts:  attempts,
		LastError: fields["last_error"],
	}
	if ms, err := strconv.ParseInt(fields["next_eligible_at"], 10, 64); err == nil {
		job.NextEligibleAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		job.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(fields["updated_at"], 10, 64); err == nil {
		job.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return job, nil
}
