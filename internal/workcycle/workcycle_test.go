package workcycle

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/aria/internal/artifacts"
	"github.com/haasonsaas/aria/internal/engine"
	"github.com/haasonsaas/aria/internal/heartbeat"
	"github.com/haasonsaas/aria/internal/storage"
	"github.com/haasonsaas/aria/pkg/models"
)

type fakeChat struct {
	prompts []string
	err     error
}

func (f *fakeChat) Chat(ctx context.Context, req engine.ChatRequest, emit engine.EventSink) (*models.DonePayload, error) {
	f.prompts = append(f.prompts, req.UserMessage)
	if f.err != nil {
		return nil, f.err
	}
	return &models.DonePayload{Status: models.DoneComplete, Iterations: 1}, nil
}

type fixture struct {
	orch       *Orchestrator
	goals      *storage.MemoryGoalRepository
	activity   *storage.MemoryActivityRepository
	heartbeats *heartbeat.MemoryStore
	artifacts  *artifacts.Store
	chat       *fakeChat
	gateErr    error
	probeErr   error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifact store: %v", err)
	}
	f := &fixture{
		goals:      storage.NewMemoryGoalRepository(),
		activity:   storage.NewMemoryActivityRepository(),
		heartbeats: heartbeat.NewMemoryStore(),
		artifacts:  store,
		chat:       &fakeChat{},
	}
	f.orch = New(Deps{
		Goals:      f.goals,
		Activity:   f.activity,
		Heartbeats: f.heartbeats,
		Artifacts:  store,
		Engine:     f.chat,
		Gate:       func() error { return f.gateErr },
		Probe:      func(ctx context.Context) error { return f.probeErr },
	})
	return f
}

func (f *fixture) session() *models.Session {
	return &models.Session{ID: "sess-1", AgentID: "main", Type: models.SessionCron}
}

func TestCycleAdvancesTopGoal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for _, g := range []*models.Goal{
		{Title: "clean the backlog", Priority: 1, CreatedAt: base},
		{Title: "ship the release", Priority: 8, CreatedAt: base},
	} {
		if err := f.goals.CreateGoal(ctx, g); err != nil {
			t.Fatalf("CreateGoal: %v", err)
		}
	}

	if err := f.orch.RunCycle(ctx, nil, f.session()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(f.chat.prompts) != 1 || !strings.Contains(f.chat.prompts[0], "ship the release") {
		t.Errorf("prompts = %v, want the highest-priority goal", f.chat.prompts)
	}

	beats, _ := f.heartbeats.Recent(ctx, 1)
	if len(beats) != 1 || beats[0].Status != models.HeartbeatOK {
		t.Fatalf("heartbeat = %+v", beats)
	}
	if beats[0].Details["active_goals"] != 2 {
		t.Errorf("heartbeat details = %v", beats[0].Details)
	}

	recent, _ := f.activity.RecentActivity(ctx, 1)
	if len(recent) != 1 || recent[0].Action != "work_cycle" || !recent[0].Success {
		t.Errorf("activity = %+v", recent)
	}
}

func TestCycleWritesJSONArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	f.orch.SetNowFunc(func() time.Time { return clock })

	if err := f.orch.RunCycle(ctx, nil, nil); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	art, err := f.artifacts.ReadByPath(ctx, "work-cycles/2026-03-01/cycle-1.json")
	if err != nil {
		t.Fatalf("ReadByPath: %v", err)
	}
	if art.Path != "work-cycles/2026-03-01/cycle-1.json" {
		t.Errorf("artifact path = %q", art.Path)
	}
	var report map[string]any
	if err := json.Unmarshal(art.Content, &report); err != nil {
		t.Fatalf("artifact is not JSON: %v", err)
	}
	if report["healthy"] != true {
		t.Errorf("report = %v", report)
	}
}

func TestCycleDegradedWhenCircuitOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gateErr = errors.New("circuit breaker is open")

	if err := f.orch.RunCycle(ctx, nil, f.session()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if len(f.chat.prompts) != 0 {
		t.Error("external model called in degraded mode")
	}
	beats, _ := f.heartbeats.Recent(ctx, 1)
	if len(beats) != 1 || beats[0].Status != models.HeartbeatDegraded {
		t.Fatalf("heartbeat = %+v", beats)
	}
	if beats[0].Details["degraded"] != true {
		t.Errorf("details = %v", beats[0].Details)
	}
}

func TestCycleHealthProbeFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.probeErr = errors.New("connection refused")

	err := f.orch.RunCycle(ctx, nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}

	beats, _ := f.heartbeats.Recent(ctx, 1)
	if len(beats) != 1 || beats[0].Status != models.HeartbeatError {
		t.Fatalf("heartbeat = %+v", beats)
	}
	recent, _ := f.activity.RecentActivity(ctx, 1)
	if len(recent) != 1 || recent[0].Success {
		t.Errorf("activity = %+v", recent)
	}
	if len(f.chat.prompts) != 0 {
		t.Error("progress step ran despite failed probe")
	}
}

func TestCycleToleratesProgressFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.chat.err = errors.New("all_llm_unavailable")

	if err := f.goals.CreateGoal(ctx, &models.Goal{Title: "anything", Priority: 1}); err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}

	if err := f.orch.RunCycle(ctx, nil, f.session()); err != nil {
		t.Fatalf("RunCycle: %v (progress failures must not fail the cycle)", err)
	}

	recent, _ := f.activity.RecentActivity(ctx, 1)
	if len(recent) != 1 || recent[0].Success {
		t.Errorf("activity = %+v, want success=false", recent)
	}
	beats, _ := f.heartbeats.Recent(ctx, 1)
	if len(beats) != 1 || beats[0].Status != models.HeartbeatOK {
		t.Errorf("heartbeat = %+v", beats)
	}
}
