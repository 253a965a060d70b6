package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/haasonsaas/aria/pkg/models"
)

// Wire types for the OpenAI-compatible chat-completions format.

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireFunctionCall `json:"function"`
}

type wireFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string          `json:"type"`
	Function wireFunctionDef `json:"function"`
}

type wireFunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role             string         `json:"role"`
			Content          string         `json:"content"`
			ReasoningContent string         `json:"reasoning_content"`
			ToolCalls        []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		// The gateway reports spend as either "cost" or "response_cost",
		// a decimal string or a bare number.
		Cost         json.RawMessage `json:"cost"`
		ResponseCost json.RawMessage `json:"response_cost"`
	} `json:"usage"`
}

func encodeRequest(req *CompletionRequest) wireRequest {
	wr := wireRequest{
		Model:       req.Model,
		Messages:    encodeMessages(req.System, req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	for _, tool := range req.Tools {
		params := tool.Schema
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		wr.Tools = append(wr.Tools, wireTool{
			Type: "function",
			Function: wireFunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return wr
}

func encodeMessages(system string, history []*models.Message) []wireMessage {
	out := make([]wireMessage, 0, len(history)+1)
	if system != "" {
		out = append(out, wireMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		// Tool results always precede the turn that follows them.
		for _, tr := range m.ToolResults {
			out = append(out, wireMessage{
				Role:       "tool",
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
		if m.Role == models.RoleTool {
			continue
		}

		wm := wireMessage{Role: string(m.Role), Content: m.Content}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: wireFunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, wm)
	}
	return out
}

func decodeCompletion(data []byte) (*Completion, error) {
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	choice := resp.Choices[0]
	comp := &Completion{
		Model:        resp.Model,
		Content:      choice.Message.Content,
		Reasoning:    choice.Message.ReasoningContent,
		FinishReason: choice.FinishReason,
		TokensInput:  resp.Usage.PromptTokens,
		TokensOutput: resp.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		comp.ToolCalls = append(comp.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	raw := resp.Usage.Cost
	if len(raw) == 0 {
		raw = resp.Usage.ResponseCost
	}
	cost, err := decodeCost(raw)
	if err != nil {
		return nil, err
	}
	comp.Cost = cost
	return comp, nil
}

// decodeCost parses the gateway-reported spend into micro-USD. Decimal
// literals parse exactly; only scientific notation goes through a float.
func decodeCost(raw json.RawMessage) (models.Cost, error) {
	s := string(raw)
	if s == "" || s == "null" {
		return 0, nil
	}
	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, fmt.Errorf("decode cost %s: %w", s, err)
		}
		return models.ParseCost(str)
	}
	if c, err := models.ParseCost(s); err == nil {
		return c, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("decode cost %s: %w", s, err)
	}
	return models.CostFromFloat(f), nil
}
