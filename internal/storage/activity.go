package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/aria/pkg/models"
)

// ActivityRepository appends to and reads the domain activity log.
type ActivityRepository interface {
	RecordActivity(ctx context.Context, entry *models.ActivityEntry) error
	RecentActivity(ctx context.Context, limit int) ([]*models.ActivityEntry, error)
}

// PostgresActivityRepository implements ActivityRepository on
// aria_data.activity_log.
type PostgresActivityRepository struct {
	db *sql.DB
}

// NewPostgresActivityRepository creates an activity repository over an
// existing connection.
func NewPostgresActivityRepository(db *sql.DB) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db}
}

func (r *PostgresActivityRepository) RecordActivity(ctx context.Context, entry *models.ActivityEntry) error {
	if entry == nil || entry.Action == "" {
		return errors.New("activity action is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO aria_data.activity_log (action, skill, details, success, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Action, entry.Skill, details, entry.Success, entry.ErrorMessage, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (r *PostgresActivityRepository) RecentActivity(ctx context.Context, limit int) ([]*models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT action, skill, details, success, error_message, created_at
		 FROM aria_data.activity_log
		 ORDER BY created_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var out []*models.ActivityEntry
	for rows.Next() {
		var (
			entry   models.ActivityEntry
			details []byte
		)
		if err := rows.Scan(&entry.Action, &entry.Skill, &details,
			&entry.Success, &entry.ErrorMessage, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

// MemoryActivityRepository is an in-memory ActivityRepository for tests.
type MemoryActivityRepository struct {
	mu      sync.Mutex
	entries []*models.ActivityEntry
	now     func() time.Time
}

// NewMemoryActivityRepository creates an empty in-memory repository.
func NewMemoryActivityRepository() *MemoryActivityRepository {
	return &MemoryActivityRepository{now: time.Now}
}

func (r *MemoryActivityRepository) RecordActivity(ctx context.Context, entry *models.ActivityEntry) error {
	if entry == nil || entry.Action == "" {
		return errors.New("activity action is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *entry
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = r.now()
	}
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *MemoryActivityRepository) RecentActivity(ctx context.Context, limit int) ([]*models.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ActivityEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		clone := *r.entries[i]
		out = append(out, &clone)
	}
	return out, nil
}
