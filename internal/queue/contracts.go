package queue

import (
	"context"
	"errors"
	"time"

	"github.com/saathi/saathi-core/internal/domain"
)

var (
	// ErrEmpty is returned by Dequeue when no pending job is eligible yet.
	ErrEmpty = errors.New("no eligible job")
	// ErrNotFound is returned when reporting an outcome for an unknown job.
	ErrNotFound = errors.New("job not found")
)

// Queue is a durable, at-least-once job queue deduplicated by job id.
// Retry schedules live inside the queue store, so pending retries survive a
// process restart.
type Queue interface {
	// Enqueue admits one job per message id. If a job with the same id is
	// already pending or in-flight the call is a no-op and the existing job
	// is returned with admitted=false.
	Enqueue(ctx context.Context, message domain.Message) (job *domain.Job, admitted bool, err error)
	// Dequeue claims one pending job whose eligibility time has passed and
	// marks it in-flight. At most one worker holds a given job at a time.
	Dequeue(ctx context.Context) (*domain.Job, error)
	// ReportSuccess removes a completed job from the queue.
	ReportSuccess(ctx context.Context, jobID string) error
	// ReportFailure increments the attempt counter and either reschedules
	// the job with exponential backoff or, past the retry ceiling, marks it
	// dead. Dead jobs are never redelivered.
	ReportFailure(ctx context.Context, jobID string, cause error) (*domain.Job, error)
}

// Config carries the retry policy shared by queue implementations.
type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	return c
}

// backoff computes the delay before the given (1-based) attempt is retried:
// base doubled per attempt, so delays are strictly increasing.
func (c Config) backoff(attempt int) time.Duration {
	delay := c.BackoffBase
	for i := 0; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
