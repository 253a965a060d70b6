// Package models provides domain types for the Aria agent runtime.
package models

import (
	"strings"
	"time"
)

// AgentType identifies the class of an agent.
type AgentType string

const (
	AgentTypeMain         AgentType = "main"
	AgentTypeDevSecOps    AgentType = "sub-devsecops"
	AgentTypeSocial       AgentType = "sub-social"
	AgentTypeOrchestrator AgentType = "sub-orchestrator"
	AgentTypeAria         AgentType = "sub-aria"
)

// AgentStatus represents the lifecycle state of an agent.
type AgentStatus string

const (
	// AgentIdle means the agent is alive and ready for a task.
	AgentIdle AgentStatus = "idle"
	// AgentBusy means the agent is bound to a task.
	AgentBusy AgentStatus = "busy"
	// AgentFailed means the agent crossed its consecutive-failure threshold.
	AgentFailed AgentStatus = "failed"
	// AgentDisabled is terminal; set only by explicit terminate.
	AgentDisabled AgentStatus = "disabled"
)

// Agent is a named polymorphic executor bound to a model and system prompt.
// Sub-agents are named "<type>-<n>" and governed by per-type ceilings.
type Agent struct {
	ID                  string      `json:"agent_id"`
	Type                AgentType   `json:"agent_type"`
	Model               string      `json:"model"`
	FallbackModel       string      `json:"fallback_model,omitempty"`
	SystemPrompt        string      `json:"system_prompt,omitempty"`
	Status              AgentStatus `json:"status"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	PheromoneScore      float64     `json:"pheromone_score"`
	TimeoutSeconds      int         `json:"timeout_seconds,omitempty"`
	LastActiveAt        time.Time   `json:"last_active_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at,omitempty"`
	UpdatedAt           time.Time   `json:"updated_at,omitempty"`
}

// DefaultPheromoneScore is the initial routing score for a new agent.
const DefaultPheromoneScore = 0.5

// pheromoneAlpha is the EMA step applied per task outcome.
const pheromoneAlpha = 0.2

// IsSubAgent reports whether the agent is a transient sub-agent.
func (a *Agent) IsSubAgent() bool {
	return strings.HasPrefix(a.ID, "sub-")
}

// TypePrefix derives the per-type ceiling key from an agent ID by splitting
// on the last dash: "sub-devsecops-3" -> "sub-devsecops". IDs without a
// dash are returned unchanged.
func TypePrefix(agentID string) string {
	idx := strings.LastIndex(agentID, "-")
	if idx <= 0 {
		return agentID
	}
	return agentID[:idx]
}

// ApplyOutcome folds one task outcome into the agent's routing state.
//
// The pheromone score moves as an exponential moving average toward 1.0 on
// success and 0.0 on failure (alpha 0.2), clamped to [0,1]. The update rule
// is an implementation choice; the range and default come from the agent
// contract.
func (a *Agent) ApplyOutcome(success bool) {
	target := 0.0
	if success {
		target = 1.0
		a.ConsecutiveFailures = 0
	} else {
		a.ConsecutiveFailures++
	}
	a.PheromoneScore += pheromoneAlpha * (target - a.PheromoneScore)
	if a.PheromoneScore < 0 {
		a.PheromoneScore = 0
	}
	if a.PheromoneScore > 1 {
		a.PheromoneScore = 1
	}
	a.LastActiveAt = time.Now()
}
