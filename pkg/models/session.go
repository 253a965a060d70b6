package models

import (
	"strings"
	"time"
)

// SessionType identifies how a session was created.
type SessionType string

const (
	SessionInteractive SessionType = "interactive"
	SessionCron        SessionType = "cron"
	SessionSubagent    SessionType = "subagent"
	SessionRun         SessionType = "run"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Metadata keys stamped when a session is closed.
const (
	MetaEnded     = "ended"
	MetaEndReason = "end_reason"
)

// Session is a conversation container holding an ordered message log for
// one agent. A session marked ended never receives new messages.
type Session struct {
	ID           string         `json:"session_id"`
	AgentID      string         `json:"agent_id"`
	Key          string         `json:"key"`
	Type         SessionType    `json:"session_type"`
	Status       SessionStatus  `json:"status"`
	Title        string         `json:"title,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	MessageCount int            `json:"message_count"`
	TotalTokens  int            `json:"total_tokens"`
	TotalCost    Cost           `json:"total_cost"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SessionKey builds the unique lookup key for a session.
func SessionKey(agentID string, sessionType SessionType, suffix string) string {
	if suffix == "" {
		suffix = "default"
	}
	return agentID + ":" + string(sessionType) + ":" + suffix
}

// protectedKeyMarkers are the key fragments that mark a main-agent session
// as disposable. Main-agent sessions without one of these markers must not
// be deleted or pruned.
var protectedKeyMarkers = []string{":cron:", ":subagent:", ":run:"}

// Deletable reports whether the session may be removed by delete or prune
// operations. Sessions of the main agent are protected unless their key
// carries a cron/subagent/run marker.
func (s *Session) Deletable() bool {
	if s.AgentID != string(AgentTypeMain) {
		return true
	}
	for _, marker := range protectedKeyMarkers {
		if strings.Contains(s.Key, marker) {
			return true
		}
	}
	return false
}

// Ended reports whether the session has been closed.
func (s *Session) Ended() bool {
	return s.Status == SessionEnded
}

// SessionStats is the canonical session census, sourced from the store.
type SessionStats struct {
	TotalSessions  int            `json:"total_sessions"`
	ActiveSessions int            `json:"active_sessions"`
	ByAgent        map[string]int `json:"by_agent"`
	ByType         map[string]int `json:"by_type"`
}
