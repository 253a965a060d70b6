package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aria/pkg/models"
)

// ErrGoalNotFound is returned when a goal does not exist.
var ErrGoalNotFound = errors.New("goal not found")

// GoalRepository persists goals in the domain schema.
type GoalRepository interface {
	CreateGoal(ctx context.Context, goal *models.Goal) error
	ListGoals(ctx context.Context, status models.GoalStatus) ([]*models.Goal, error)
	UpdateGoalStatus(ctx context.Context, id string, status models.GoalStatus) error
}

// PostgresGoalRepository implements GoalRepository on aria_data.goals.
type PostgresGoalRepository struct {
	db *sql.DB
}

// NewPostgresGoalRepository creates a goal repository over an existing
// connection.
func NewPostgresGoalRepository(db *sql.DB) *PostgresGoalRepository {
	return &PostgresGoalRepository{db: db}
}

func (r *PostgresGoalRepository) CreateGoal(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.Title == "" {
		return errors.New("goal title is required")
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	if goal.Status == "" {
		goal.Status = models.GoalActive
	}
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = time.Now()
	}
	goal.UpdatedAt = goal.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO aria_data.goals (id, title, description, priority, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		goal.ID, goal.Title, goal.Description, goal.Priority,
		string(goal.Status), goal.CreatedAt, goal.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

// ListGoals returns goals with the given status (all statuses when empty),
// ordered by descending priority with created_at descending as tiebreaker.
func (r *PostgresGoalRepository) ListGoals(ctx context.Context, status models.GoalStatus) ([]*models.Goal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, priority, status, created_at, updated_at
		 FROM aria_data.goals
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY priority DESC, created_at DESC`,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []*models.Goal
	for rows.Next() {
		var (
			goal       models.Goal
			goalStatus string
		)
		if err := rows.Scan(&goal.ID, &goal.Title, &goal.Description,
			&goal.Priority, &goalStatus, &goal.CreatedAt, &goal.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goal.Status = models.GoalStatus(goalStatus)
		out = append(out, &goal)
	}
	return out, rows.Err()
}

func (r *PostgresGoalRepository) UpdateGoalStatus(ctx context.Context, id string, status models.GoalStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE aria_data.goals SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("update goal status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrGoalNotFound
	}
	return nil
}

// MemoryGoalRepository is an in-memory GoalRepository for tests.
type MemoryGoalRepository struct {
	mu    sync.Mutex
	goals map[string]*models.Goal
}

// NewMemoryGoalRepository creates an empty in-memory repository.
func NewMemoryGoalRepository() *MemoryGoalRepository {
	return &MemoryGoalRepository{goals: map[string]*models.Goal{}}
}

func (r *MemoryGoalRepository) CreateGoal(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.Title == "" {
		return errors.New("goal title is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	if goal.Status == "" {
		goal.Status = models.GoalActive
	}
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = time.Now()
	}
	goal.UpdatedAt = goal.CreatedAt
	clone := *goal
	r.goals[goal.ID] = &clone
	return nil
}

func (r *MemoryGoalRepository) ListGoals(ctx context.Context, status models.GoalStatus) ([]*models.Goal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Goal
	for _, goal := range r.goals {
		if status != "" && goal.Status != status {
			continue
		}
		clone := *goal
		out = append(out, &clone)
	}
	models.SortGoals(out)
	return out, nil
}

func (r *MemoryGoalRepository) UpdateGoalStatus(ctx context.Context, id string, status models.GoalStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	goal, ok := r.goals[id]
	if !ok {
		return ErrGoalNotFound
	}
	goal.Status = status
	goal.UpdatedAt = time.Now()
	return nil
}
