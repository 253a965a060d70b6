package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/haasonsaas/aria/internal/heartbeat"
	"github.com/haasonsaas/aria/internal/infra"
	"github.com/haasonsaas/aria/internal/pool"
	"github.com/haasonsaas/aria/internal/sessions"
	"github.com/haasonsaas/aria/pkg/models"
)

func newTestServer(t *testing.T) (*Server, *pool.Pool, *sessions.Manager, *infra.CircuitBreakerRegistry) {
	t.Helper()
	agents := pool.New(pool.NewMemoryStore(), pool.DefaultConfig())
	manager := sessions.NewManager(sessions.NewMemoryStore(), sessions.DefaultManagerConfig())
	breakers := infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{})
	beats := heartbeat.NewMemoryStore()

	srv := NewServer(Deps{
		Pool:       agents,
		Sessions:   manager,
		Breakers:   breakers,
		Heartbeats: beats,
	}, Config{Token: "secret"})
	return srv, agents, manager, breakers
}

func TestStatusDump(t *testing.T) {
	srv, agents, manager, breakers := newTestServer(t)
	ctx := context.Background()

	if err := agents.SpawnAgent(ctx, &models.Agent{ID: "sub-social-1", Type: "sub-social"}); err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}
	if _, err := manager.GetOrCreate(ctx, "main", models.SessionInteractive, ""); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	breakers.Get("llm-gateway").RecordFailure()

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	client := NewClient(ts.URL, "secret")
	report, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if report.LiveAgents != 1 || len(report.Agents) != 1 {
		t.Errorf("agents = %+v", report.Agents)
	}
	if report.Sessions == nil || report.Sessions.ActiveSessions != 1 {
		t.Errorf("sessions = %+v", report.Sessions)
	}
	if len(report.Breakers) != 1 || report.Breakers[0].Failures != 1 {
		t.Errorf("breakers = %+v", report.Breakers)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// healthz stays open.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/v1/status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	client := NewClient(ts.URL, "wrong")
	if _, err := client.Status(context.Background()); err == nil {
		t.Error("wrong token accepted")
	}
}

func TestCloseSessionEndpoint(t *testing.T) {
	srv, _, manager, _ := newTestServer(t)
	ctx := context.Background()

	session, err := manager.GetOrCreate(ctx, "main", models.SessionInteractive, "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	client := NewClient(ts.URL, "secret")

	if err := client.CloseSession(ctx, session.ID, "operator request"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	stats, _ := manager.Stats(ctx)
	if stats.ActiveSessions != 0 {
		t.Errorf("active sessions = %d after close", stats.ActiveSessions)
	}

	err = client.CloseSession(ctx, "missing-session", "")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("close missing session err = %v, want 404", err)
	}
}

func TestTerminateAgentEndpoint(t *testing.T) {
	srv, agents, _, _ := newTestServer(t)
	ctx := context.Background()

	if err := agents.SpawnAgent(ctx, &models.Agent{ID: "sub-aria-1", Type: "sub-aria"}); err != nil {
		t.Fatalf("SpawnAgent: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	client := NewClient(ts.URL, "secret")

	if err := client.TerminateAgent(ctx, "sub-aria-1"); err != nil {
		t.Fatalf("TerminateAgent: %v", err)
	}
	if agents.LiveCount() != 0 {
		t.Errorf("live count = %d after terminate", agents.LiveCount())
	}
	if err := client.TerminateAgent(ctx, "sub-aria-1"); err == nil {
		t.Error("second terminate succeeded")
	}
}

func TestResetBreakerEndpoint(t *testing.T) {
	srv, _, _, breakers := newTestServer(t)
	ctx := context.Background()

	cb := breakers.Get("llm-gateway")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.Allow() == nil {
		t.Fatal("breaker should be open")
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	client := NewClient(ts.URL, "secret")

	if err := client.ResetBreaker(ctx, "llm-gateway"); err != nil {
		t.Fatalf("ResetBreaker: %v", err)
	}
	if cb.Allow() != nil {
		t.Error("breaker still open after reset")
	}
	if err := client.ResetBreaker(ctx, "unknown"); err == nil {
		t.Error("reset of unknown breaker succeeded")
	}
}
