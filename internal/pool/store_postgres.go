package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/haasonsaas/aria/pkg/models"
)

// spawnRetries bounds retries of the spawn transaction on serialization
// conflicts (SQLSTATE 40001).
const spawnRetries = 3

// PostgresStore persists agents in aria_engine.agents.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates an agent store over an existing connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert runs the per-type ceiling check and the row insert in a single
// serializable transaction. Two concurrent spawns of the same type cannot
// both observe a count below the ceiling.
func (s *PostgresStore) Insert(ctx context.Context, agent *models.Agent, typePrefix string, ceiling int) error {
	var err error
	for attempt := 0; attempt < spawnRetries; attempt++ {
		err = s.insertOnce(ctx, agent, typePrefix, ceiling)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("spawn transaction kept conflicting: %w", err)
}

func (s *PostgresStore) insertOnce(ctx context.Context, agent *models.Agent, typePrefix string, ceiling int) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin spawn tx: %w", err)
	}
	defer tx.Rollback()

	if ceiling > 0 {
		var count int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM aria_engine.agents
			WHERE agent_type = $1 AND status <> 'disabled'
		`, typePrefix).Scan(&count)
		if err != nil {
			return fmt.Errorf("count agents of type %s: %w", typePrefix, err)
		}
		if count >= ceiling {
			return fmt.Errorf("%w: %s at %d", ErrTypeCeiling, typePrefix, ceiling)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO aria_engine.agents (agent_id, agent_type, model, fallback_model, system_prompt, status, consecutive_failures, pheromone_score, timeout_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, agent.ID, string(agent.Type), agent.Model, agent.FallbackModel,
		agent.SystemPrompt, string(agent.Status), agent.ConsecutiveFailures,
		agent.PheromoneScore, agent.TimeoutSeconds, agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert agent %s: %w", agent.ID, err)
	}

	return tx.Commit()
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "40001"
}

func (s *PostgresStore) Update(ctx context.Context, agent *models.Agent) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE aria_engine.agents
		SET status = $1, consecutive_failures = $2, pheromone_score = $3,
		    last_active_at = $4, updated_at = $5
		WHERE agent_id = $6
	`, string(agent.Status), agent.ConsecutiveFailures, agent.PheromoneScore,
		nullableTime(agent.LastActiveAt), time.Now(), agent.ID)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", agent.ID, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, agent.ID)
	}
	return nil
}

func (s *PostgresStore) Disable(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE aria_engine.agents
		SET status = 'disabled', updated_at = $1
		WHERE agent_id = $2 AND status <> 'disabled'
	`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("disable agent %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, id)
	}
	return nil
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, agent_type, model, fallback_model, system_prompt, status, consecutive_failures, pheromone_score, timeout_seconds, last_active_at, created_at, updated_at
		FROM aria_engine.agents
		WHERE status <> 'disabled'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*models.Agent
	for rows.Next() {
		var (
			agent      models.Agent
			agentType  string
			status     string
			lastActive sql.NullTime
		)
		err := rows.Scan(&agent.ID, &agentType, &agent.Model, &agent.FallbackModel,
			&agent.SystemPrompt, &status, &agent.ConsecutiveFailures,
			&agent.PheromoneScore, &agent.TimeoutSeconds, &lastActive,
			&agent.CreatedAt, &agent.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agent.Type = models.AgentType(agentType)
		agent.Status = models.AgentStatus(status)
		if lastActive.Valid {
			agent.LastActiveAt = lastActive.Time
		}
		out = append(out, &agent)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
