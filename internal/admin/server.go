// Package admin serves the loopback control API the CLI talks to:
// runtime status, session force-close, agent termination and breaker
// resets.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/haasonsaas/aria/internal/heartbeat"
	"github.com/haasonsaas/aria/internal/infra"
	"github.com/haasonsaas/aria/internal/observability"
	"github.com/haasonsaas/aria/internal/pool"
	"github.com/haasonsaas/aria/internal/sessions"
	"github.com/haasonsaas/aria/pkg/models"
)

// Deps are the runtime surfaces the admin API exposes.
type Deps struct {
	Pool       *pool.Pool
	Sessions   *sessions.Manager
	Breakers   *infra.CircuitBreakerRegistry
	Heartbeats heartbeat.Store
}

// Config configures the admin listener.
type Config struct {
	Addr  string
	Token string
}

// StatusReport is the full status dump served by GET /v1/status.
type StatusReport struct {
	Agents     []*models.Agent      `json:"agents"`
	LiveAgents int                  `json:"live_agents"`
	Breakers   []infra.Stats        `json:"breakers"`
	Sessions   *models.SessionStats `json:"sessions,omitempty"`
	Heartbeats []*models.Heartbeat  `json:"heartbeats,omitempty"`
}

// Server is the admin HTTP server. Bind it to loopback.
type Server struct {
	deps     Deps
	config   Config
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
}

// NewServer creates the admin server.
func NewServer(deps Deps, config Config) *Server {
	return &Server{
		deps:   deps,
		config: config,
		logger: slog.Default().With("component", "admin"),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /v1/status", s.auth(s.handleStatus))
	mux.HandleFunc("POST /v1/sessions/{id}/close", s.auth(s.handleCloseSession))
	mux.HandleFunc("POST /v1/agents/{id}/terminate", s.auth(s.handleTerminateAgent))
	mux.HandleFunc("POST /v1/breakers/{name}/reset", s.auth(s.handleResetBreaker))
	return mux
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server error", "error", err)
		}
	}()
	s.logger.Info("admin api listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token != "" {
			if r.Header.Get("Authorization") != "Bearer "+s.config.Token {
				writeError(w, http.StatusUnauthorized, "invalid or missing token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report := &StatusReport{}
	if s.deps.Pool != nil {
		report.Agents = s.deps.Pool.ListLive()
		report.LiveAgents = len(report.Agents)
	}
	if s.deps.Breakers != nil {
		report.Breakers = s.deps.Breakers.AllStats()
	}
	if s.deps.Sessions != nil {
		stats, err := s.deps.Sessions.Stats(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		report.Sessions = stats
	}
	if s.deps.Heartbeats != nil {
		beats, err := s.deps.Heartbeats.Recent(r.Context(), 10)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		report.Heartbeats = beats
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "session manager not available")
		return
	}
	id := r.PathValue("id")
	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if body.Reason == "" {
		body.Reason = "admin_close"
	}
	if err := s.deps.Sessions.Close(r.Context(), id, body.Reason); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("session closed", "session_id", id, "reason", body.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "closed"})
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pool == nil {
		writeError(w, http.StatusServiceUnavailable, "agent pool not available")
		return
	}
	id := r.PathValue("id")
	if err := s.deps.Pool.TerminateAgent(r.Context(), id); err != nil {
		if errors.Is(err, pool.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("agent terminated", "agent_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"agent_id": id, "status": "terminated"})
}

func (s *Server) handleResetBreaker(w http.ResponseWriter, r *http.Request) {
	if s.deps.Breakers == nil {
		writeError(w, http.StatusServiceUnavailable, "breaker registry not available")
		return
	}
	name := r.PathValue("name")
	if !s.deps.Breakers.Reset(name) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown breaker %q", name))
		return
	}
	s.logger.Info("breaker reset", "endpoint", name)
	writeJSON(w, http.StatusOK, map[string]string{"breaker": name, "state": "closed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
