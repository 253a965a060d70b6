package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/aria/internal/gateway"
	"github.com/haasonsaas/aria/internal/infra"
	"github.com/haasonsaas/aria/internal/sessions"
	"github.com/haasonsaas/aria/pkg/models"
)

// scriptedLLM returns canned completions in order, recording each request.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []*gateway.Completion
	err       error
	requests  []*gateway.CompletionRequest
}

func (s *scriptedLLM) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func newTestEngine(t *testing.T, llm *scriptedLLM, config Config) (*Engine, *sessions.MemoryStore, *models.Session, *infra.CircuitBreakerRegistry) {
	t.Helper()
	store := sessions.NewMemoryStore()
	session := &models.Session{AgentID: "main", Key: "main:interactive:default", Type: models.SessionInteractive}
	if err := store.Create(context.Background(), session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	breakers := infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{})
	chain := NewFallbackChain(llm, breakers, ModelEntry{Model: "m1"})

	tools := NewToolRegistry()
	err := tools.Register("echo", "echoes text back",
		json.RawMessage(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`),
		func(ctx context.Context, args map[string]any) (any, error) {
			text := args["text"].(string)
			if text == "fail" {
				return nil, errors.New("echo exploded")
			}
			return text, nil
		})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}

	return NewEngine(store, chain, tools, config), store, session, breakers
}

func collectEvents(events *[]models.ChatEvent) EventSink {
	return func(ev models.ChatEvent) { *events = append(*events, ev) }
}

func eventTypes(events []models.ChatEvent) []models.ChatEventType {
	out := make([]models.ChatEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func toolCallCompletion(id, text string) *gateway.Completion {
	return &gateway.Completion{
		Model: "m1",
		ToolCalls: []models.ToolCall{{
			ID:        id,
			Name:      "echo",
			Arguments: json.RawMessage(fmt.Sprintf(`{"text":%q}`, text)),
		}},
		FinishReason: "tool_calls",
		TokensInput:  10,
		TokensOutput: 5,
		Cost:         100,
	}
}

func TestChatEventOrdering(t *testing.T) {
	llm := &scriptedLLM{responses: []*gateway.Completion{
		toolCallCompletion("c1", "hi"),
		{Model: "m1", Content: "final answer", FinishReason: "stop", TokensInput: 20, TokensOutput: 7, Cost: 200},
	}}
	eng, _, session, _ := newTestEngine(t, llm, Config{})

	var events []models.ChatEvent
	done, err := eng.Chat(context.Background(), ChatRequest{
		SessionID:   session.ID,
		UserMessage: "run the echo tool",
		EnableTools: true,
	}, collectEvents(&events))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	want := []models.ChatEventType{
		models.ChatEventIterationStart,
		models.ChatEventIterationEnd,
		models.ChatEventToolCall,
		models.ChatEventToolResult,
		models.ChatEventIterationStart,
		models.ChatEventToken,
		models.ChatEventIterationEnd,
		models.ChatEventDone,
	}
	got := eventTypes(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}

	var lastSeq uint64
	for _, ev := range events {
		if ev.Sequence <= lastSeq {
			t.Errorf("sequence not monotonic at %s: %d after %d", ev.Type, ev.Sequence, lastSeq)
		}
		lastSeq = ev.Sequence
	}

	if done.Status != models.DoneComplete || done.Iterations != 2 {
		t.Errorf("done = %+v", done)
	}
	if done.Content != "final answer" {
		t.Errorf("content = %q", done.Content)
	}
}

func TestChatTokenAccounting(t *testing.T) {
	llm := &scriptedLLM{responses: []*gateway.Completion{
		toolCallCompletion("c1", "one"),
		toolCallCompletion("c2", "two"),
		{Model: "m1", Content: "done", TokensInput: 30, TokensOutput: 8, Cost: 450},
	}}
	eng, store, session, _ := newTestEngine(t, llm, Config{})

	done, err := eng.Chat(context.Background(), ChatRequest{
		SessionID: session.ID, UserMessage: "go", EnableTools: true,
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if done.TokensInput != 50 || done.TokensOutput != 18 {
		t.Errorf("totals = %d/%d, want 50/18", done.TokensInput, done.TokensOutput)
	}
	if done.Cost != 650 {
		t.Errorf("cost = %d micro-USD, want 650", done.Cost)
	}

	// The session aggregate matches the sum of persisted messages.
	got, err := store.Get(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TotalTokens != 68 {
		t.Errorf("session tokens = %d, want 68", got.TotalTokens)
	}
	if got.TotalCost != 650 {
		t.Errorf("session cost = %d, want 650", got.TotalCost)
	}
}

func TestChatToolErrorFedBack(t *testing.T) {
	llm := &scriptedLLM{responses: []*gateway.Completion{
		toolCallCompletion("c1", "fail"),
		{Model: "m1", Content: "the tool failed, sorry", TokensInput: 5, TokensOutput: 5},
	}}
	eng, _, session, _ := newTestEngine(t, llm, Config{})

	var events []models.ChatEvent
	done, err := eng.Chat(context.Background(), ChatRequest{
		SessionID: session.ID, UserMessage: "break it", EnableTools: true,
	}, collectEvents(&events))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if done.Status != models.DoneComplete {
		t.Errorf("status = %s", done.Status)
	}

	var result *models.ToolResultPayload
	for _, ev := range events {
		if ev.Type == models.ChatEventToolResult {
			result = ev.ToolResult
		}
	}
	if result == nil {
		t.Fatal("no tool_result event")
	}
	if result.Success {
		t.Error("failed tool reported success")
	}
	if !strings.Contains(result.Error, "echo exploded") {
		t.Errorf("tool error = %q", result.Error)
	}

	// The error string reaches the model on the next iteration.
	if len(llm.requests) != 2 {
		t.Fatalf("llm calls = %d, want 2", len(llm.requests))
	}
	fedBack := false
	for _, msg := range llm.requests[1].Messages {
		for _, tr := range msg.ToolResults {
			if tr.IsError && strings.Contains(tr.Content, "echo exploded") {
				fedBack = true
			}
		}
	}
	if !fedBack {
		t.Error("tool error not fed back to the model")
	}
}

func TestChatIterationCapTruncates(t *testing.T) {
	llm := &scriptedLLM{responses: []*gateway.Completion{
		toolCallCompletion("c1", "a"),
		toolCallCompletion("c2", "b"),
		toolCallCompletion("c3", "c"),
	}}
	eng, store, session, _ := newTestEngine(t, llm, Config{MaxToolIterations: 2})

	var events []models.ChatEvent
	done, err := eng.Chat(context.Background(), ChatRequest{
		SessionID: session.ID, UserMessage: "loop forever", EnableTools: true,
	}, collectEvents(&events))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if done.Status != models.DoneTruncated {
		t.Errorf("status = %s, want truncated", done.Status)
	}
	if done.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", done.Iterations)
	}
	if len(llm.requests) != 2 {
		t.Errorf("llm calls = %d, want 2", len(llm.requests))
	}

	history, err := store.GetHistory(context.Background(), session.ID, 10)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant || !strings.Contains(last.Content, "Stopped after 2") {
		t.Errorf("final message = %+v", last)
	}
}

func TestChatRejectsEndedSession(t *testing.T) {
	llm := &scriptedLLM{}
	eng, store, session, _ := newTestEngine(t, llm, Config{})

	session.Status = models.SessionEnded
	if err := store.Update(context.Background(), session); err != nil {
		t.Fatalf("Update: %v", err)
	}

	_, err := eng.Chat(context.Background(), ChatRequest{SessionID: session.ID, UserMessage: "hi"}, nil)
	if !errors.Is(err, sessions.ErrSessionEnded) {
		t.Fatalf("error = %v, want ErrSessionEnded", err)
	}
	if len(llm.requests) != 0 {
		t.Error("LLM called for an ended session")
	}
}

func TestChatLLMErrorLeavesSessionValid(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("gateway down")}
	eng, _, session, _ := newTestEngine(t, llm, Config{})

	var events []models.ChatEvent
	_, err := eng.Chat(context.Background(), ChatRequest{
		SessionID: session.ID, UserMessage: "hello",
	}, collectEvents(&events))
	if err == nil {
		t.Fatal("expected error")
	}

	last := events[len(events)-1]
	if last.Type != models.ChatEventError {
		t.Fatalf("last event = %s, want error", last.Type)
	}
	if last.Error.Reason != models.ReasonLLMUnavailable {
		t.Errorf("reason = %s, want llm_unavailable", last.Error.Reason)
	}

	// The session remains usable once the gateway recovers.
	llm.err = nil
	llm.responses = []*gateway.Completion{{Model: "m1", Content: "back up", TokensInput: 1, TokensOutput: 1}}
	done, err := eng.Chat(context.Background(), ChatRequest{SessionID: session.ID, UserMessage: "retry"}, nil)
	if err != nil {
		t.Fatalf("retry Chat: %v", err)
	}
	if done.Status != models.DoneComplete {
		t.Errorf("retry status = %s", done.Status)
	}
}

func TestChatCircuitOpenReason(t *testing.T) {
	llm := &scriptedLLM{}
	eng, _, session, breakers := newTestEngine(t, llm, Config{})

	cb := breakers.Get("model:m1")
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}

	var events []models.ChatEvent
	_, err := eng.Chat(context.Background(), ChatRequest{
		SessionID: session.ID, UserMessage: "hello",
	}, collectEvents(&events))
	if err == nil {
		t.Fatal("expected error")
	}

	last := events[len(events)-1]
	if last.Type != models.ChatEventError || last.Error.Reason != models.ReasonCBOpen {
		t.Fatalf("last event = %+v, want error/cb_open", last)
	}
	if len(llm.requests) != 0 {
		t.Error("LLM called while circuit open")
	}
}

func TestChatThinkingEvent(t *testing.T) {
	llm := &scriptedLLM{responses: []*gateway.Completion{
		{Model: "m1", Content: "answer", Reasoning: "let me think", TokensInput: 3, TokensOutput: 4},
	}}
	eng, _, session, _ := newTestEngine(t, llm, Config{})

	var events []models.ChatEvent
	if _, err := eng.Chat(context.Background(), ChatRequest{
		SessionID: session.ID, UserMessage: "think first",
	}, collectEvents(&events)); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	got := eventTypes(events)
	want := []models.ChatEventType{
		models.ChatEventIterationStart,
		models.ChatEventThinking,
		models.ChatEventToken,
		models.ChatEventIterationEnd,
		models.ChatEventDone,
	}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
