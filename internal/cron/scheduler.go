package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/aria/pkg/models"
)

// ErrUnknownAction is returned when a job's action has no registered
// handler at dispatch time.
var ErrUnknownAction = errors.New("unknown_action")

// defaultWorkers bounds concurrent job dispatches.
const defaultWorkers = 4

// ActionFunc executes one job action. session is the resolved target
// session, nil when no resolver is configured.
type ActionFunc func(ctx context.Context, job *models.CronJob, session *models.Session) error

// SessionResolver resolves the session a dispatched job runs in according
// to the job's session target.
type SessionResolver interface {
	Resolve(ctx context.Context, job *models.CronJob) (*models.Session, error)
}

// HeartbeatRecorder records one heartbeat row per dispatch.
type HeartbeatRecorder interface {
	Record(ctx context.Context, hb *models.Heartbeat) error
}

// Scheduler drives persisted jobs: every tick it dispatches due jobs to a
// bounded worker pool. Dispatch never blocks the tick loop; when all
// workers are busy the job stays due and is retried on the next tick.
type Scheduler struct {
	store      JobStore
	resolver   SessionResolver
	heartbeats HeartbeatRecorder
	logger     *slog.Logger

	now          func() time.Time
	tickInterval time.Duration
	sem          chan struct{}
	beatSeq      atomic.Int64

	mu      sync.Mutex
	actions map[models.JobAction]ActionFunc
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides the scheduler tick interval.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tickInterval = interval
		}
	}
}

// WithWorkers overrides the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithSessionResolver configures session resolution for dispatches.
func WithSessionResolver(resolver SessionResolver) Option {
	return func(s *Scheduler) {
		s.resolver = resolver
	}
}

// WithHeartbeatRecorder configures the per-dispatch heartbeat sink.
func WithHeartbeatRecorder(recorder HeartbeatRecorder) Option {
	return func(s *Scheduler) {
		s.heartbeats = recorder
	}
}

// NewScheduler creates a scheduler over the given job store.
func NewScheduler(store JobStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		logger:       slog.Default().With("component", "cron"),
		now:          time.Now,
		tickInterval: time.Second,
		sem:          make(chan struct{}, defaultWorkers),
		actions:      map[models.JobAction]ActionFunc{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterAction binds a handler to an action key.
func (s *Scheduler) RegisterAction(action models.JobAction, fn ActionFunc) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.actions[action] = fn
	s.mu.Unlock()
}

// HasAction reports whether a handler is bound to an action key.
func (s *Scheduler) HasAction(action models.JobAction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.actions[action]
	return ok
}

// CreateJob normalizes raw job input, stamps the first run time, and
// persists the job.
func (s *Scheduler) CreateJob(ctx context.Context, raw map[string]any) (*models.CronJob, error) {
	job, err := NormalizeJobInput(raw)
	if err != nil {
		return nil, err
	}
	schedule, err := ParseSchedule(job.Schedule)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContract, err)
	}

	now := s.now()
	next, ok := schedule.Next(now)
	if !ok {
		return nil, fmt.Errorf("%w: schedule has no future run", ErrContract)
	}
	job.NextRunAt = next
	job.CreatedAt = now

	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.logger.Info("job created", "job_id", job.ID, "action", job.Action, "next_run_at", job.NextRunAt)
	return job, nil
}

// Start begins the tick loop until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
	return nil
}

// Stop waits for the loop and all in-flight workers to finish, bounded by
// the context's grace window.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes one tick immediately. Returns the number of jobs
// dispatched (skipped jobs do not count).
func (s *Scheduler) RunOnce(ctx context.Context) int {
	return s.runDue(ctx)
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	jobs, err := s.store.List(ctx)
	if err != nil {
		s.logger.Error("job listing failed", "error", err)
		return 0
	}

	dispatched := 0
	for _, job := range jobs {
		if !job.Enabled || job.NextRunAt.IsZero() || now.Before(job.NextRunAt) {
			continue
		}

		schedule, err := ParseSchedule(job.Schedule)
		if err != nil {
			s.logger.Error("job has invalid schedule, disabling", "job_id", job.ID, "error", err)
			job.Enabled = false
			job.LastStatus = models.JobRunError
			s.updateJob(ctx, job)
			continue
		}

		// A job overdue by more than its own interval was missed, not
		// merely delayed. Running it now would fire a stale dispatch.
		if interval := schedule.Interval(now); interval > 0 && now.Sub(job.NextRunAt) > interval {
			s.logger.Warn("job missed its window, skipped",
				"job_id", job.ID, "action", job.Action,
				"overdue", now.Sub(job.NextRunAt).String())
			job.LastStatus = models.JobRunSkipped
			job.NextRunAt = now.Add(interval)
			s.updateJob(ctx, job)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		default:
			// All workers busy; the job stays due for the next tick.
			continue
		}

		// next_run_at advances only now that the dispatch is secured.
		if next, ok := schedule.Next(now); ok {
			job.NextRunAt = next
		} else {
			// One-shot schedule exhausted.
			job.NextRunAt = time.Time{}
			job.Enabled = false
		}
		runAt := now
		job.LastRunAt = &runAt
		s.updateJob(ctx, job)

		dispatched++
		s.wg.Add(1)
		go func(job *models.CronJob) {
			defer s.wg.Done()
			defer func() { <-s.sem }()
			s.executeJob(ctx, job)
		}(job)
	}
	return dispatched
}

func (s *Scheduler) executeJob(ctx context.Context, job *models.CronJob) {
	start := time.Now()
	if job.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.MaxDuration)
		defer cancel()
	}

	err := s.runAction(ctx, job)
	duration := time.Since(start)

	status := models.JobRunOK
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		status = models.JobRunDeadline
	default:
		status = models.JobRunError
	}

	job.LastStatus = status
	job.LastDurationMs = duration.Milliseconds()
	job.RunCount++
	if status == models.JobRunOK {
		job.SuccessCount++
	} else {
		job.FailCount++
		s.logger.Warn("job failed", "job_id", job.ID, "action", job.Action,
			"status", status, "error", err)
	}
	s.updateJob(ctx, job)
	s.recordHeartbeat(ctx, job, status, err, duration)
}

func (s *Scheduler) runAction(ctx context.Context, job *models.CronJob) error {
	s.mu.Lock()
	fn := s.actions[job.Action]
	s.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAction, job.Action)
	}

	var session *models.Session
	if s.resolver != nil {
		var err error
		session, err = s.resolver.Resolve(ctx, job)
		if err != nil {
			return fmt.Errorf("resolve session for job %s: %w", job.ID, err)
		}
	}
	return fn(ctx, job, session)
}

func (s *Scheduler) updateJob(ctx context.Context, job *models.CronJob) {
	if err := s.store.Update(ctx, job); err != nil {
		s.logger.Error("job update failed", "job_id", job.ID, "error", err)
	}
}

func (s *Scheduler) recordHeartbeat(ctx context.Context, job *models.CronJob, status models.JobRunStatus, runErr error, duration time.Duration) {
	if s.heartbeats == nil {
		return
	}
	hbStatus := models.HeartbeatOK
	details := map[string]any{
		"job_id": job.ID,
		"action": string(job.Action),
		"status": string(status),
	}
	if status != models.JobRunOK {
		hbStatus = models.HeartbeatError
		if runErr != nil {
			details["error"] = runErr.Error()
		}
	}
	hb := &models.Heartbeat{
		BeatNumber: s.beatSeq.Add(1),
		JobName:    job.Name,
		Status:     hbStatus,
		Details:    details,
		ExecutedAt: s.now(),
		DurationMs: duration.Milliseconds(),
	}
	if err := s.heartbeats.Record(ctx, hb); err != nil {
		s.logger.Warn("heartbeat record failed", "job_id", job.ID, "error", err)
	}
}
