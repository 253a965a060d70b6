// Package workcycle runs the periodic self-maintenance cycle: health
// probe, goal check, a progress step on the highest-priority goal,
// activity log, heartbeat, and a JSON cycle artifact.
package workcycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/aria/internal/artifacts"
	"github.com/haasonsaas/aria/internal/engine"
	"github.com/haasonsaas/aria/internal/heartbeat"
	"github.com/haasonsaas/aria/internal/storage"
	"github.com/haasonsaas/aria/pkg/models"
)

// jobName labels the heartbeats and activity rows this package emits.
const jobName = "work_cycle"

// artifactCategory is where cycle reports land under the artifact root.
const artifactCategory = "work-cycles"

// HealthProbe checks a dependency, normally the database connection.
type HealthProbe func(ctx context.Context) error

// ChatRunner is the chat engine surface the progress step drives.
type ChatRunner interface {
	Chat(ctx context.Context, req engine.ChatRequest, emit engine.EventSink) (*models.DonePayload, error)
}

// Deps are the orchestrator's collaborators.
type Deps struct {
	Goals      storage.GoalRepository
	Activity   storage.ActivityRepository
	Heartbeats heartbeat.Store
	Artifacts  *artifacts.Store
	Engine     ChatRunner
	// Gate is consulted before each cycle; a non-nil error means the
	// primary LLM circuit is open and the cycle runs degraded.
	Gate  func() error
	Probe HealthProbe
}

// Orchestrator drives work cycles. Registered as the work_cycle action on
// the scheduler.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
	cycle  atomic.Int64
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:   deps,
		logger: slog.Default().With("component", "workcycle"),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock. For tests.
func (o *Orchestrator) SetNowFunc(now func() time.Time) {
	if now != nil {
		o.now = now
	}
}

// RunCycle executes one cycle. The session, when present, hosts the
// progress step's chat run. Matches the scheduler's action signature.
//
// When the primary LLM circuit is open the cycle degrades: it still
// probes health and emits a heartbeat with status degraded, but spawns
// nothing and never calls an external model.
func (o *Orchestrator) RunCycle(ctx context.Context, job *models.CronJob, session *models.Session) error {
	cycleNum := o.cycle.Add(1)
	started := o.now()

	report := map[string]any{
		"cycle":      cycleNum,
		"started_at": started.Format(time.RFC3339),
	}

	probeErr := o.probe(ctx)
	report["healthy"] = probeErr == nil
	if probeErr != nil {
		report["health_error"] = probeErr.Error()
		o.recordHeartbeat(ctx, models.HeartbeatError, report, started)
		o.recordActivity(ctx, report, probeErr)
		return fmt.Errorf("health probe: %w", probeErr)
	}

	if o.deps.Gate != nil {
		if err := o.deps.Gate(); err != nil {
			report["degraded"] = true
			o.logger.Warn("cycle degraded, primary llm circuit open", "cycle", cycleNum)
			o.recordHeartbeat(ctx, models.HeartbeatDegraded, report, started)
			return nil
		}
	}

	goal, progressErr := o.progressStep(ctx, session, report)
	if goal != nil {
		report["goal_id"] = goal.ID
		report["goal_title"] = goal.Title
	}
	if progressErr != nil {
		report["progress_error"] = progressErr.Error()
	}

	o.recordActivity(ctx, report, progressErr)
	o.recordHeartbeat(ctx, models.HeartbeatOK, report, started)
	o.writeArtifact(ctx, cycleNum, started, report)
	return nil
}

// progressStep selects the highest-priority active goal and asks the chat
// engine to advance it.
func (o *Orchestrator) progressStep(ctx context.Context, session *models.Session, report map[string]any) (*models.Goal, error) {
	if o.deps.Goals == nil {
		return nil, nil
	}
	goals, err := o.deps.Goals.ListGoals(ctx, models.GoalActive)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	models.SortGoals(goals)
	report["active_goals"] = len(goals)
	if len(goals) == 0 {
		return nil, nil
	}
	top := goals[0]

	if o.deps.Engine == nil || session == nil {
		return top, nil
	}
	prompt := fmt.Sprintf("Work cycle: make one concrete step of progress on the goal %q", top.Title)
	if top.Description != "" {
		prompt += " — " + top.Description
	}
	done, err := o.deps.Engine.Chat(ctx, engine.ChatRequest{
		SessionID:   session.ID,
		UserMessage: prompt,
		EnableTools: true,
	}, nil)
	if err != nil {
		return top, fmt.Errorf("progress step: %w", err)
	}
	report["progress_status"] = string(done.Status)
	report["progress_iterations"] = done.Iterations
	return top, nil
}

func (o *Orchestrator) probe(ctx context.Context) error {
	if o.deps.Probe == nil {
		return nil
	}
	return o.deps.Probe(ctx)
}

func (o *Orchestrator) recordActivity(ctx context.Context, report map[string]any, runErr error) {
	if o.deps.Activity == nil {
		return
	}
	entry := &models.ActivityEntry{
		Action:    jobName,
		Details:   report,
		Success:   runErr == nil,
		CreatedAt: o.now(),
	}
	if runErr != nil {
		entry.ErrorMessage = runErr.Error()
	}
	if err := o.deps.Activity.RecordActivity(ctx, entry); err != nil {
		o.logger.Warn("activity record failed", "error", err)
	}
}

func (o *Orchestrator) recordHeartbeat(ctx context.Context, status string, report map[string]any, started time.Time) {
	if o.deps.Heartbeats == nil {
		return
	}
	hb := heartbeat.NewBeat(jobName, status, report)
	hb.ExecutedAt = o.now()
	hb.DurationMs = o.now().Sub(started).Milliseconds()
	if err := o.deps.Heartbeats.Record(ctx, hb); err != nil {
		o.logger.Warn("heartbeat record failed", "error", err)
	}
}

func (o *Orchestrator) writeArtifact(ctx context.Context, cycleNum int64, started time.Time, report map[string]any) {
	if o.deps.Artifacts == nil {
		return
	}
	content, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		o.logger.Warn("cycle report encode failed", "error", err)
		return
	}
	path := fmt.Sprintf("%s/cycle-%d.json", started.Format("2006-01-02"), cycleNum)
	if err := o.deps.Artifacts.Write(ctx, artifactCategory, path, content); err != nil {
		o.logger.Warn("cycle artifact write failed", "path", path, "error", err)
	}
}
