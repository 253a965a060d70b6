package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/aria/pkg/models"
)

func newTestManager(t *testing.T) (*Manager, *MemoryStore, *time.Time) {
	t.Helper()
	store := NewMemoryStore()
	mgr := NewManager(store, DefaultManagerConfig())
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mgr.SetNowFunc(clock)
	store.SetNowFunc(clock)
	return mgr, store, &now
}

func TestGetOrCreateReusesActiveSession(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first.Key != "main:interactive:default" {
		t.Errorf("key = %q", first.Key)
	}

	second, err := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected reuse, got new session %s", second.ID)
	}
}

func TestGetOrCreateReplacesEndedSession(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.GetOrCreate(ctx, "sub-social-1", models.SessionSubagent, "task")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := mgr.Close(ctx, first.ID, ""); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := mgr.GetOrCreate(ctx, "sub-social-1", models.SessionSubagent, "task")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second.ID == first.ID {
		t.Error("ended session was reused")
	}
	if second.Key != first.Key {
		t.Errorf("key changed: %q vs %q", second.Key, first.Key)
	}
}

func TestGetOrCreateReplacesStaleSession(t *testing.T) {
	mgr, store, now := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Activity extends the reuse window.
	*now = now.Add(29 * time.Minute)
	if err := store.AppendMessage(ctx, first.ID, &models.Message{Role: models.RoleUser, Content: "ping"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	*now = now.Add(29 * time.Minute)
	second, err := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("active session within idle window not reused")
	}

	// Past the idle timeout the session is stale: closed, not reused.
	*now = now.Add(31 * time.Minute)
	third, err := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if third.ID == first.ID {
		t.Error("stale session was reused")
	}
	got, _ := store.Get(ctx, first.ID)
	if !got.Ended() {
		t.Error("stale session left active")
	}
	if got.Metadata[models.MetaEndReason] != EndReasonIdle {
		t.Errorf("end reason = %v, want %s", got.Metadata[models.MetaEndReason], EndReasonIdle)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	session, err := mgr.GetOrCreate(ctx, "main", models.SessionCron, "work_cycle")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := mgr.Close(ctx, session.ID, "test"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := mgr.Close(ctx, session.ID, "test"); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Ended() || got.EndedAt == nil {
		t.Errorf("session not marked ended: %+v", got)
	}
	if got.Metadata[models.MetaEndReason] != "test" {
		t.Errorf("end reason = %v", got.Metadata[models.MetaEndReason])
	}
}

func TestDeleteProtections(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	protected, _ := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	disposable, _ := mgr.GetOrCreate(ctx, "main", models.SessionCron, "heartbeat")

	if err := mgr.Delete(ctx, protected.ID, ""); !errors.Is(err, ErrProtected) {
		t.Errorf("delete of main interactive session = %v, want ErrProtected", err)
	}
	if err := mgr.Delete(ctx, disposable.ID, disposable.ID); !errors.Is(err, ErrOwnSession) {
		t.Errorf("self delete = %v, want ErrOwnSession", err)
	}
	if err := mgr.Delete(ctx, disposable.ID, protected.ID); err != nil {
		t.Errorf("delete of cron session: %v", err)
	}
}

func TestCloseIdle(t *testing.T) {
	mgr, store, now := newTestManager(t)
	ctx := context.Background()

	idle, _ := mgr.GetOrCreate(ctx, "main", models.SessionCron, "old")
	*now = now.Add(31 * time.Minute)
	fresh, _ := mgr.GetOrCreate(ctx, "main", models.SessionCron, "new")

	closed, err := mgr.CloseIdle(ctx)
	if err != nil {
		t.Fatalf("CloseIdle: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	got, _ := store.Get(ctx, idle.ID)
	if !got.Ended() {
		t.Error("idle session still active")
	}
	got, _ = store.Get(ctx, fresh.ID)
	if got.Ended() {
		t.Error("fresh session was closed")
	}
}

func TestCloseStaleSubagentsIgnoresActivity(t *testing.T) {
	mgr, store, now := newTestManager(t)
	ctx := context.Background()

	stale, _ := mgr.GetOrCreate(ctx, "sub-devsecops-1", models.SessionSubagent, "scan")
	mainSession, _ := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")

	// Keep the sub-agent session busy right up to the deadline. The prune
	// is wall-clock from creation, so activity must not save it.
	*now = now.Add(59 * time.Minute)
	if err := store.AppendMessage(ctx, stale.ID, &models.Message{Role: models.RoleUser, Content: "still here"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	*now = now.Add(2 * time.Minute)
	closed, err := mgr.CloseStaleSubagents(ctx)
	if err != nil {
		t.Fatalf("CloseStaleSubagents: %v", err)
	}
	if closed != 1 {
		t.Fatalf("closed = %d, want 1", closed)
	}

	got, _ := store.Get(ctx, stale.ID)
	if !got.Ended() {
		t.Error("stale sub-agent session still active")
	}
	if got.Metadata[models.MetaEndReason] != EndReasonStale {
		t.Errorf("end reason = %v", got.Metadata[models.MetaEndReason])
	}
	got, _ = store.Get(ctx, mainSession.ID)
	if got.Ended() {
		t.Error("main session was pruned by the sub-agent sweep")
	}
}

func TestManagerStats(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()

	a, _ := mgr.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	mgr.GetOrCreate(ctx, "sub-social-1", models.SessionSubagent, "post")
	mgr.Close(ctx, a.ID, "")

	stats, err := mgr.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalSessions != 2 {
		t.Errorf("total = %d, want 2", stats.TotalSessions)
	}
	if stats.ActiveSessions != 1 {
		t.Errorf("active = %d, want 1", stats.ActiveSessions)
	}
	if stats.ByAgent["main"] != 1 || stats.ByAgent["sub-social-1"] != 1 {
		t.Errorf("by agent = %v", stats.ByAgent)
	}
	if stats.ByType["interactive"] != 1 || stats.ByType["subagent"] != 1 {
		t.Errorf("by type = %v", stats.ByType)
	}
}
