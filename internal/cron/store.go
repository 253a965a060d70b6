package cron

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/aria/pkg/models"
)

// ErrJobNotFound is returned for operations on an unknown job.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists scheduled jobs.
type JobStore interface {
	Create(ctx context.Context, job *models.CronJob) error
	Update(ctx context.Context, job *models.CronJob) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*models.CronJob, error)
	List(ctx context.Context) ([]*models.CronJob, error)
}

// MemoryJobStore is an in-memory JobStore for testing and local runs.
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.CronJob
}

// NewMemoryJobStore creates an in-memory job store.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: map[string]*models.CronJob{}}
}

func (m *MemoryJobStore) Create(ctx context.Context, job *models.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt
	clone := cloneJob(job)
	m.jobs[job.ID] = clone
	return nil
}

func (m *MemoryJobStore) Update(ctx context.Context, job *models.CronJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	job.UpdatedAt = time.Now()
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

func (m *MemoryJobStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *MemoryJobStore) Get(ctx context.Context, id string) (*models.CronJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *MemoryJobStore) List(ctx context.Context) ([]*models.CronJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.CronJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneJob(job *models.CronJob) *models.CronJob {
	clone := *job
	if job.LastRunAt != nil {
		t := *job.LastRunAt
		clone.LastRunAt = &t
	}
	if job.Params != nil {
		clone.Params = make(map[string]any, len(job.Params))
		for k, v := range job.Params {
			clone.Params[k] = v
		}
	}
	return &clone
}
