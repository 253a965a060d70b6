package models

import (
	"encoding/json"
	"time"
)

// ChatEventType identifies the kind of chat engine event.
type ChatEventType string

const (
	ChatEventToken          ChatEventType = "token"
	ChatEventThinking       ChatEventType = "thinking"
	ChatEventIterationStart ChatEventType = "iteration_start"
	ChatEventIterationEnd   ChatEventType = "iteration_end"
	ChatEventToolCall       ChatEventType = "tool_call"
	ChatEventToolResult     ChatEventType = "tool_result"
	ChatEventDone           ChatEventType = "done"
	ChatEventError          ChatEventType = "error"
)

// ErrorReason is the stable machine-readable cause carried by an error
// event.
type ErrorReason string

const (
	ReasonCBOpen         ErrorReason = "cb_open"
	ReasonCapExceeded    ErrorReason = "cap_exceeded"
	ReasonCancelled      ErrorReason = "cancelled"
	ReasonLLMUnavailable ErrorReason = "llm_unavailable"
	ReasonToolError      ErrorReason = "tool_error"
	ReasonInternal       ErrorReason = "internal"
)

// DoneStatus reports how a chat run terminated.
type DoneStatus string

const (
	// DoneComplete means the model returned a final reply with no tool calls.
	DoneComplete DoneStatus = "complete"
	// DoneTruncated means the iteration cap was hit before a final reply.
	DoneTruncated DoneStatus = "truncated"
)

// ChatEvent is the single event model streamed by the chat engine.
//
// Exactly one payload pointer is non-nil for a given Type. Sequence is
// monotonic within a run; events within a session form one totally ordered
// stream: all events of iteration i precede those of iteration i+1.
type ChatEvent struct {
	Type      ChatEventType `json:"type"`
	Time      time.Time     `json:"time"`
	Sequence  uint64        `json:"seq"`
	SessionID string        `json:"session_id,omitempty"`

	Token      *TokenPayload      `json:"token,omitempty"`
	Thinking   *ThinkingPayload   `json:"thinking,omitempty"`
	Iteration  *IterationPayload  `json:"iteration,omitempty"`
	ToolCall   *ToolCallPayload   `json:"tool_call,omitempty"`
	ToolResult *ToolResultPayload `json:"tool_result,omitempty"`
	Done       *DonePayload       `json:"done,omitempty"`
	Error      *ErrorPayload      `json:"error,omitempty"`
}

// TokenPayload carries incremental assistant text.
type TokenPayload struct {
	Text string `json:"text"`
}

// ThinkingPayload carries internal reasoning text.
type ThinkingPayload struct {
	Text string `json:"text"`
}

// IterationPayload is shared by iteration_start and iteration_end events.
type IterationPayload struct {
	Iteration      int  `json:"iteration"`
	ToolCallsSoFar int  `json:"tool_calls_so_far,omitempty"`
	HasToolCalls   bool `json:"has_tool_calls,omitempty"`
	ToolCount      int  `json:"tool_count,omitempty"`
	TokensInput    int  `json:"tokens_input,omitempty"`
	TokensOutput   int  `json:"tokens_output,omitempty"`
}

// ToolCallPayload announces one tool invocation.
type ToolCallPayload struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultPayload reports one tool outcome.
type ToolResultPayload struct {
	ID         string `json:"id"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// DonePayload terminates a run with final content and aggregates.
type DonePayload struct {
	Status       DoneStatus `json:"status"`
	Content      string     `json:"content,omitempty"`
	Iterations   int        `json:"iterations"`
	TokensInput  int        `json:"tokens_input"`
	TokensOutput int        `json:"tokens_output"`
	Cost         Cost       `json:"cost"`
	LatencyMs    int64      `json:"latency_ms"`
}

// ErrorPayload terminates a run abnormally. The session remains valid for
// retry.
type ErrorPayload struct {
	Reason  ErrorReason `json:"reason"`
	Message string      `json:"message"`
}
