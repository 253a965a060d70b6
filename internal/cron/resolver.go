package cron

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/aria/internal/sessions"
	"github.com/haasonsaas/aria/pkg/models"
)

// ManagerResolver resolves dispatch sessions through the session manager.
// All cron work runs as the main agent.
type ManagerResolver struct {
	manager *sessions.Manager
	agentID string
}

// NewManagerResolver creates a resolver binding dispatches to agentID.
func NewManagerResolver(manager *sessions.Manager, agentID string) *ManagerResolver {
	if agentID == "" {
		agentID = string(models.AgentTypeMain)
	}
	return &ManagerResolver{manager: manager, agentID: agentID}
}

// Resolve maps the job's session target to a session:
//
//	shared        one cron session shared by every job
//	reuse-by-key  a session keyed by the job name
//	isolated      a fresh run session per dispatch
func (r *ManagerResolver) Resolve(ctx context.Context, job *models.CronJob) (*models.Session, error) {
	switch job.SessionTarget {
	case models.TargetIsolated:
		return r.manager.GetOrCreate(ctx, r.agentID, models.SessionRun, uuid.NewString())
	case models.TargetReuseByKey:
		key := job.Name
		if key == "" {
			key = job.ID
		}
		return r.manager.GetOrCreate(ctx, r.agentID, models.SessionCron, key)
	case models.TargetShared, "":
		return r.manager.GetOrCreate(ctx, r.agentID, models.SessionCron, "shared")
	default:
		return nil, fmt.Errorf("unknown session target %q", job.SessionTarget)
	}
}
