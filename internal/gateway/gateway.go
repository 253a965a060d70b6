// Package gateway is the client for the LLM gateway's OpenAI-compatible
// chat-completions endpoint. All calls go through the shared transport
// client, so retries and circuit breaking apply uniformly.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/haasonsaas/aria/internal/transport"
	"github.com/haasonsaas/aria/pkg/models"
)

// DefaultEndpoint is the transport endpoint name the gateway client calls.
const DefaultEndpoint = "llm-gateway"

// ErrEmptyCompletion is returned when the gateway responds 200 with no
// choices.
var ErrEmptyCompletion = errors.New("gateway returned no choices")

// ToolDefinition describes one callable tool advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	// Schema is the JSON Schema for the tool's arguments.
	Schema json.RawMessage
}

// CompletionRequest is one chat-completions call.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []*models.Message
	Tools    []ToolDefinition
	// MaxTokens bounds the completion when > 0.
	MaxTokens   int
	Temperature float64
}

// Completion is the parsed result of one chat-completions call.
type Completion struct {
	Model        string
	Content      string
	Reasoning    string
	ToolCalls    []models.ToolCall
	FinishReason string
	TokensInput  int
	TokensOutput int
	Cost         models.Cost
	LatencyMs    int64
}

// HasToolCalls reports whether the model requested tool execution.
func (c *Completion) HasToolCalls() bool {
	return len(c.ToolCalls) > 0
}

// Client calls the gateway through the shared transport.
type Client struct {
	transport *transport.Client
	endpoint  string
	logger    *slog.Logger
}

// NewClient creates a gateway client over an already-registered transport
// endpoint. An empty endpoint name selects DefaultEndpoint.
func NewClient(tc *transport.Client, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		transport: tc,
		endpoint:  endpoint,
		logger:    slog.Default().With("component", "gateway"),
	}
}

// Endpoint returns the transport endpoint name this client calls.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Complete performs one chat-completions call and parses the reply,
// including token usage and the gateway-reported cost.
func (c *Client) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	payload, err := json.Marshal(encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	start := time.Now()
	data, err := c.transport.Request(ctx, c.endpoint, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}

	comp, err := decodeCompletion(data)
	if err != nil {
		return nil, err
	}
	comp.LatencyMs = time.Since(start).Milliseconds()

	c.logger.Debug("completion",
		"model", comp.Model,
		"tool_calls", len(comp.ToolCalls),
		"tokens_in", comp.TokensInput,
		"tokens_out", comp.TokensOutput,
		"cost", comp.Cost.String(),
		"latency_ms", comp.LatencyMs)
	return comp, nil
}
