package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/aria/pkg/models"
)

// Lifecycle errors surfaced to callers of the manager.
var (
	// ErrProtected is returned when deleting a main-agent session whose
	// key carries no cron/subagent/run marker.
	ErrProtected = errors.New("session is protected")

	// ErrOwnSession is returned when a caller tries to delete the session
	// it is currently running in.
	ErrOwnSession = errors.New("cannot delete own session")
)

// End reasons recorded in session metadata.
const (
	EndReasonIdle     = "idle_timeout"
	EndReasonStale    = "stale_subagent"
	EndReasonExplicit = "closed"
)

// ManagerConfig configures session lifecycle policy.
type ManagerConfig struct {
	// IdleTimeout closes sessions with no activity for this long.
	IdleTimeout time.Duration

	// SubagentMaxAge closes sub-agent sessions this long after creation,
	// measured on the wall clock. Activity does not extend the deadline.
	SubagentMaxAge time.Duration
}

// DefaultManagerConfig returns the default lifecycle policy.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		IdleTimeout:    30 * time.Minute,
		SubagentMaxAge: time.Hour,
	}
}

// Manager owns session lifecycle on top of a Store: creation by key,
// idempotent close, protected delete, and the two pruning sweeps.
type Manager struct {
	store  Store
	config ManagerConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, config ManagerConfig) *Manager {
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 30 * time.Minute
	}
	if config.SubagentMaxAge <= 0 {
		config.SubagentMaxAge = time.Hour
	}
	return &Manager{
		store:  store,
		config: config,
		logger: slog.Default().With("component", "sessions"),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock for tests.
func (m *Manager) SetNowFunc(now func() time.Time) {
	m.now = now
}

// GetOrCreate returns the active session for the key, creating a fresh one
// when none exists, the previous one has ended, or the previous one sat
// idle past the timeout. A stale session is closed rather than handed back.
func (m *Manager) GetOrCreate(ctx context.Context, agentID string, typ models.SessionType, suffix string) (*models.Session, error) {
	key := models.SessionKey(agentID, typ, suffix)

	existing, err := m.store.GetByKey(ctx, key)
	switch {
	case err == nil && !existing.Ended():
		if !m.stale(existing) {
			return existing, nil
		}
		if err := m.Close(ctx, existing.ID, EndReasonIdle); err != nil {
			m.logger.Warn("stale session close failed", "session_id", existing.ID, "error", err)
		}
	case err != nil && !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lookup session %s: %w", key, err)
	}

	session := &models.Session{
		AgentID:  agentID,
		Key:      key,
		Type:     typ,
		Status:   models.SessionActive,
		Metadata: map[string]any{},
	}
	if err := m.store.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session %s: %w", key, err)
	}
	m.logger.Info("session created", "session_id", session.ID, "key", key)
	return session, nil
}

// stale reports whether a session has seen no activity for the idle
// timeout.
func (m *Manager) stale(session *models.Session) bool {
	last := session.UpdatedAt
	if last.IsZero() {
		last = session.CreatedAt
	}
	return !last.After(m.now().Add(-m.config.IdleTimeout))
}

// Close ends a session. Closing an already-ended session is a no-op.
func (m *Manager) Close(ctx context.Context, sessionID, reason string) error {
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Ended() {
		return nil
	}
	if reason == "" {
		reason = EndReasonExplicit
	}

	now := m.now()
	session.Status = models.SessionEnded
	session.EndedAt = &now
	if session.Metadata == nil {
		session.Metadata = map[string]any{}
	}
	session.Metadata[models.MetaEnded] = true
	session.Metadata[models.MetaEndReason] = reason

	if err := m.store.Update(ctx, session); err != nil {
		return fmt.Errorf("close session %s: %w", sessionID, err)
	}
	m.logger.Info("session closed", "session_id", sessionID, "reason", reason)
	return nil
}

// Delete removes a session and its history. callerSessionID identifies the
// session the request originated in; a session can never delete itself,
// and main-agent sessions without a cron, subagent, or run marker in the
// key are protected.
func (m *Manager) Delete(ctx context.Context, sessionID, callerSessionID string) error {
	if sessionID == callerSessionID {
		return ErrOwnSession
	}
	session, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Deletable() {
		return fmt.Errorf("%w: %s", ErrProtected, session.Key)
	}
	if err := m.store.Delete(ctx, sessionID); err != nil {
		return err
	}
	m.logger.Info("session deleted", "session_id", sessionID, "key", session.Key)
	return nil
}

// CloseIdle ends active sessions with no activity for the idle timeout.
// Returns the number of sessions closed.
func (m *Manager) CloseIdle(ctx context.Context) (int, error) {
	active, err := m.store.List(ctx, "", ListOptions{Status: models.SessionActive})
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-m.config.IdleTimeout)
	closed := 0
	for _, session := range active {
		last := session.UpdatedAt
		if last.IsZero() {
			last = session.CreatedAt
		}
		if last.After(cutoff) {
			continue
		}
		if err := m.Close(ctx, session.ID, EndReasonIdle); err != nil {
			m.logger.Warn("idle close failed", "session_id", session.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// CloseStaleSubagents ends sub-agent sessions older than the maximum age.
// The deadline is wall-clock from creation: a chatty sub-agent session
// still ends on time.
func (m *Manager) CloseStaleSubagents(ctx context.Context) (int, error) {
	active, err := m.store.List(ctx, "", ListOptions{Status: models.SessionActive})
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-m.config.SubagentMaxAge)
	closed := 0
	for _, session := range active {
		if !isSubagentSession(session) {
			continue
		}
		if session.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.Close(ctx, session.ID, EndReasonStale); err != nil {
			m.logger.Warn("stale close failed", "session_id", session.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

func isSubagentSession(session *models.Session) bool {
	return session.Type == models.SessionSubagent || strings.HasPrefix(session.AgentID, "sub-")
}

// Stats aggregates counts across all sessions.
func (m *Manager) Stats(ctx context.Context) (*models.SessionStats, error) {
	all, err := m.store.List(ctx, "", ListOptions{})
	if err != nil {
		return nil, err
	}

	stats := &models.SessionStats{
		ByAgent: map[string]int{},
		ByType:  map[string]int{},
	}
	for _, session := range all {
		stats.TotalSessions++
		if !session.Ended() {
			stats.ActiveSessions++
		}
		stats.ByAgent[session.AgentID]++
		stats.ByType[string(session.Type)]++
	}
	return stats, nil
}
