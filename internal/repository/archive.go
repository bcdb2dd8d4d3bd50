package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/saathi/saathi-core/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// ArchivedJob is the durable record kept after the queue lets go of a job,
// so operators can inspect completed and dead work.
type ArchivedJob struct {
	ID         string
	SenderID   string
	Kind       domain.MessageKind
	Text       string
	State      domain.JobState
	Attempts   int
	LastError  string
	ReceivedAt time.Time
	ArchivedAt time.Time
}

// Archive persists terminal job outcomes.
type Archive interface {
	Record(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, jobID string) (*ArchivedJob, error)
	ListDead(ctx context.Context, limit int) ([]ArchivedJob, error)
}

// MemoryArchive stores records in memory for local development.
type MemoryArchive struct {
	mu   sync.RWMutex
	jobs map[string]ArchivedJob
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{jobs: make(map[string]ArchivedJob)}
}

func (a *MemoryArchive) Record(_ context.Context, job *domain.Job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs[job.ID] = archivedFromJob(job, time.Now().UTC())
	return nil
}

func (a *MemoryArchive) Get(_ context.Context, jobID string) (*ArchivedJob, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	record, ok := a.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (a *MemoryArchive) ListDead(_ context.Context, limit int) ([]ArchivedJob, error) {
	if limit <= 0 {
		limit = 50
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	records := make([]ArchivedJob, 0)
	for _, record := range a.jobs {
		if record.State == domain.JobStateDead {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].ArchivedAt.After(records[j].ArchivedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func archivedFromJob(job *domain.Job, archivedAt time.Time) ArchivedJob {
	return ArchivedJob{
		ID:         job.ID,
		SenderID:   job.Payload.SenderID,
		Kind:       job.Payload.Kind,
		Text:       job.Payload.Text,
		State:      job.State,
		Attempts:   job.Attempts,
		LastError:  job.LastError,
		ReceivedAt: job.Payload.ReceivedAt,
		ArchivedAt: archivedAt,
	}
}
