package queue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saathi/saathi-core/internal/domain"
)

// LocalQueue is the in-process fallback used when Redis is not configured.
// It implements the same admission, claim and retry semantics against a
// mutex-guarded map, and doubles as the fake in worker tests.
type LocalQueue struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*domain.Job

	now func() time.Time
}

func NewLocalQueue(cfg Config, logger *zap.Logger) *LocalQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalQueue{
		cfg:    cfg.withDefaults(),
		logger: logger,
		jobs:   make(map[string]*domain.Job),
		now:    time.Now,
	}
}

func (q *LocalQueue) Enqueue(_ context.Context, message domain.Message) (*domain.Job, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.jobs[message.ID]; ok {
		if existing.State == domain.JobStatePending || existing.State == domain.JobStateInFlight {
			return cloneJob(existing), false, nil
		}
	}

	now := q.now().UTC()
	job := &domain.Job{
		ID:             message.ID,
		Payload:        message,
		State:          domain.JobStatePending,
		NextEligibleAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	q.jobs[message.ID] = job
	return cloneJob(job), true, nil
}

func (q *LocalQueue) Dequeue(_ context.Context) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	var candidate *domain.Job
	for _, job := range q.jobs {
		if job.State != domain.JobStatePending || job.NextEligibleAt.After(now) {
			continue
		}
		if candidate == nil || job.NextEligibleAt.Before(candidate.NextEligibleAt) {
			candidate = job
		}
	}
	if candidate == nil {
		return nil, ErrEmpty
	}

	candidate.State = domain.JobStateInFlight
	candidate.UpdatedAt = now
	return cloneJob(candidate), nil
}

func (q *LocalQueue) ReportSuccess(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[jobID]; !ok {
		return ErrNotFound
	}
	delete(q.jobs, jobID)
	return nil
}

func (q *LocalQueue) ReportFailure(_ context.Context, jobID string, cause error) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}

	now := q.now().UTC()
	job.Attempts++
	job.UpdatedAt = now
	if cause != nil {
		job.LastError = cause.Error()
	}

	if job.Attempts <= q.cfg.MaxAttempts {
		job.State = domain.JobStatePending
		job.NextEligibleAt = now.Add(q.cfg.backoff(job.Attempts))
		return cloneJob(job), nil
	}

	job.State = domain.JobStateDead
	q.logger.Error("job exhausted retries, moved to dead letter",
		zap.String("job_id", jobID),
		zap.Int("attempts", job.Attempts),
		zap.String("cause", job.LastError))
	return cloneJob(job), nil
}

// Snapshot returns the job with the given id, if still held by the queue.
func (q *LocalQueue) Snapshot(jobID string) (*domain.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, false
	}
	return cloneJob(job), true
}

func cloneJob(job *domain.Job) *domain.Job {
	clone := *job
	return &clone
}
