package models

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// ToolCall is a structured request emitted by the model naming a registered
// tool and supplying JSON arguments.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult carries the outcome of one tool execution back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Message is one entry in a session's append-only log, ordered by CreatedAt.
type Message struct {
	ID          string       `json:"id"`
	SessionID   string       `json:"session_id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content,omitempty"`
	Thinking    string       `json:"thinking,omitempty"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Model       string       `json:"model,omitempty"`
	TokensInput int          `json:"tokens_input,omitempty"`
	TokensOut   int          `json:"tokens_output,omitempty"`
	Cost        Cost         `json:"cost,omitempty"`
	LatencyMs   int64        `json:"latency_ms,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
