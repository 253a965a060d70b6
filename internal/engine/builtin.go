package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aria/internal/cron"
	"github.com/haasonsaas/aria/internal/pool"
	"github.com/haasonsaas/aria/pkg/models"
)

// GoalLister is the goal view consumed by the list_goals tool.
type GoalLister interface {
	ListGoals(ctx context.Context, status models.GoalStatus) ([]*models.Goal, error)
}

// ArtifactWriter is the artifact surface consumed by the write_artifact
// tool.
type ArtifactWriter interface {
	Write(ctx context.Context, category, path string, content []byte) error
}

// BuiltinDeps are the collaborators behind the built-in tools. Tools whose
// dependency is nil are not registered.
type BuiltinDeps struct {
	Scheduler *cron.Scheduler
	Goals     GoalLister
	Artifacts ArtifactWriter
	Pool      *pool.Pool
	// SpawnGate is consulted before spawning a sub-agent; a non-nil error
	// blocks the spawn. Usually the primary model breaker's SpawnGate.
	SpawnGate func() error
}

// RegisterBuiltinTools registers the runtime's standard tool set.
func RegisterBuiltinTools(reg *ToolRegistry, deps BuiltinDeps) error {
	if deps.Scheduler != nil {
		err := reg.Register("schedule_job",
			"Create a scheduled job. Schedules are cron expressions, every:<duration>, or at:<RFC3339>.",
			json.RawMessage(`{
				"type": "object",
				"required": ["action", "schedule"],
				"properties": {
					"name": {"type": "string"},
					"action": {"type": "string"},
					"schedule": {"type": "string"},
					"session_target": {"type": "string", "enum": ["shared", "isolated", "reuse-by-key"]},
					"max_duration_seconds": {"type": "number"},
					"params": {"type": "object"}
				}
			}`),
			func(ctx context.Context, args map[string]any) (any, error) {
				job, err := deps.Scheduler.CreateJob(ctx, args)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"job_id":      job.ID,
					"action":      string(job.Action),
					"next_run_at": job.NextRunAt.Format(time.RFC3339),
				}, nil
			})
		if err != nil {
			return err
		}
	}

	if deps.Goals != nil {
		err := reg.Register("list_goals",
			"List goals ordered by priority, highest first.",
			json.RawMessage(`{
				"type": "object",
				"properties": {
					"status": {"type": "string", "enum": ["active", "paused", "done"]}
				}
			}`),
			func(ctx context.Context, args map[string]any) (any, error) {
				status := models.GoalActive
				if s, ok := args["status"].(string); ok && s != "" {
					status = models.GoalStatus(s)
				}
				goals, err := deps.Goals.ListGoals(ctx, status)
				if err != nil {
					return nil, err
				}
				models.SortGoals(goals)
				out := make([]map[string]any, 0, len(goals))
				for _, g := range goals {
					out = append(out, map[string]any{
						"goal_id":  g.ID,
						"title":    g.Title,
						"priority": g.Priority,
						"status":   string(g.Status),
					})
				}
				return out, nil
			})
		if err != nil {
			return err
		}
	}

	if deps.Artifacts != nil {
		err := reg.Register("write_artifact",
			"Write a file under the artifact root. Content for .json paths must be valid JSON.",
			json.RawMessage(`{
				"type": "object",
				"required": ["category", "path", "content"],
				"properties": {
					"category": {"type": "string"},
					"path": {"type": "string"},
					"content": {"type": "string"}
				}
			}`),
			func(ctx context.Context, args map[string]any) (any, error) {
				category, _ := args["category"].(string)
				path, _ := args["path"].(string)
				content, _ := args["content"].(string)
				if err := deps.Artifacts.Write(ctx, category, path, []byte(content)); err != nil {
					return nil, err
				}
				return map[string]any{"written": category + "/" + path}, nil
			})
		if err != nil {
			return err
		}
	}

	if deps.Pool != nil {
		err := reg.Register("spawn_subagent",
			"Spawn a sub-agent of the given type, subject to pool ceilings.",
			json.RawMessage(`{
				"type": "object",
				"required": ["agent_type"],
				"properties": {
					"agent_type": {"type": "string", "enum": ["sub-devsecops", "sub-social", "sub-orchestrator", "sub-aria"]},
					"model": {"type": "string"}
				}
			}`),
			func(ctx context.Context, args map[string]any) (any, error) {
				if deps.SpawnGate != nil {
					if err := deps.SpawnGate(); err != nil {
						return nil, fmt.Errorf("spawn blocked: %w", err)
					}
				}
				agentType, _ := args["agent_type"].(string)
				agent := &models.Agent{
					ID:   agentType + "-" + uuid.NewString()[:8],
					Type: models.AgentType(agentType),
				}
				if model, ok := args["model"].(string); ok {
					agent.Model = model
				}
				if err := deps.Pool.SpawnAgent(ctx, agent); err != nil {
					return nil, err
				}
				return map[string]any{
					"agent_id": agent.ID,
					"status":   string(agent.Status),
				}, nil
			})
		if err != nil {
			return err
		}
	}

	return nil
}
