package cron

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/haasonsaas/aria/pkg/models"
)

// PostgresJobStore persists jobs in aria_engine.cron_jobs.
type PostgresJobStore struct {
	db *sql.DB
}

// NewPostgresJobStore creates a job store over an existing connection.
func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

const jobColumns = `job_id, name, schedule_expression, action, enabled, session_target, max_duration_seconds, next_run_at, last_run_at, last_status, last_duration_ms, run_count, success_count, fail_count, params, created_at, updated_at`

func (s *PostgresJobStore) Create(ctx context.Context, job *models.CronJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	job.UpdatedAt = job.CreatedAt

	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO aria_engine.cron_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, job.ID, job.Name, job.Schedule, string(job.Action), job.Enabled,
		string(job.SessionTarget), int(job.MaxDuration.Seconds()),
		job.NextRunAt, nullableJobTime(job.LastRunAt), string(job.LastStatus),
		job.LastDurationMs, job.RunCount, job.SuccessCount, job.FailCount,
		params, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresJobStore) Update(ctx context.Context, job *models.CronJob) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE aria_engine.cron_jobs
		SET name = $1, schedule_expression = $2, action = $3, enabled = $4,
		    session_target = $5, max_duration_seconds = $6, next_run_at = $7,
		    last_run_at = $8, last_status = $9, last_duration_ms = $10,
		    run_count = $11, success_count = $12, fail_count = $13,
		    params = $14, updated_at = $15
		WHERE job_id = $16
	`, job.Name, job.Schedule, string(job.Action), job.Enabled,
		string(job.SessionTarget), int(job.MaxDuration.Seconds()),
		job.NextRunAt, nullableJobTime(job.LastRunAt), string(job.LastStatus),
		job.LastDurationMs, job.RunCount, job.SuccessCount, job.FailCount,
		params, time.Now(), job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM aria_engine.cron_jobs WHERE job_id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (*models.CronJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM aria_engine.cron_jobs WHERE job_id = $1
	`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *PostgresJobStore) List(ctx context.Context) ([]*models.CronJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM aria_engine.cron_jobs ORDER BY job_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*models.CronJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanJob(row interface{ Scan(dest ...any) error }) (*models.CronJob, error) {
	var (
		job         models.CronJob
		action      string
		target      string
		maxDuration int
		lastRunAt   sql.NullTime
		lastStatus  string
		params      []byte
	)
	err := row.Scan(&job.ID, &job.Name, &job.Schedule, &action, &job.Enabled,
		&target, &maxDuration, &job.NextRunAt, &lastRunAt, &lastStatus,
		&job.LastDurationMs, &job.RunCount, &job.SuccessCount, &job.FailCount,
		&params, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	job.Action = models.JobAction(action)
	job.SessionTarget = models.SessionTarget(target)
	job.MaxDuration = time.Duration(maxDuration) * time.Second
	job.LastStatus = models.JobRunStatus(lastStatus)
	if lastRunAt.Valid {
		t := lastRunAt.Time
		job.LastRunAt = &t
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params: %w", err)
		}
	}
	return &job, nil
}

func nullableJobTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
