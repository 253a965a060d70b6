package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/aria/internal/gateway"
	"github.com/haasonsaas/aria/internal/infra"
	"github.com/haasonsaas/aria/internal/sessions"
	"github.com/haasonsaas/aria/pkg/models"
)

// DefaultMaxToolIterations bounds the LLM/tool loop per user message.
const DefaultMaxToolIterations = 10

// DefaultContextWindow is how many recent messages are replayed to the
// model when the session does not carry its own window.
const DefaultContextWindow = 40

// Config configures the chat engine.
type Config struct {
	MaxToolIterations int
	ContextWindow     int
	SystemPrompt      string
}

// ChatRequest is one user turn.
type ChatRequest struct {
	SessionID     string
	UserMessage   string
	EnableTools   bool
	ModelOverride string
}

// EventSink receives run events in order. A nil sink discards them.
type EventSink func(models.ChatEvent)

// Engine is the tool-calling chat loop. Safe for concurrent use; each Chat
// call drives one session and sessions are independent.
type Engine struct {
	store  sessions.Store
	llm    *FallbackChain
	tools  *ToolRegistry
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates a chat engine.
func NewEngine(store sessions.Store, llm *FallbackChain, tools *ToolRegistry, config Config) *Engine {
	if config.MaxToolIterations <= 0 {
		config.MaxToolIterations = DefaultMaxToolIterations
	}
	if config.ContextWindow <= 0 {
		config.ContextWindow = DefaultContextWindow
	}
	return &Engine{
		store:  store,
		llm:    llm,
		tools:  tools,
		config: config,
		logger: slog.Default().With("component", "engine"),
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock. For tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Chat runs the iteration loop for one user message. Events are delivered
// to emit in strict order: all events of iteration i precede those of
// iteration i+1; within an iteration, iteration_start precedes the model's
// token/thinking events, which precede iteration_end, which precedes that
// iteration's tool_call/tool_result pairs.
//
// A tool failure is fed back to the model as an error result and the run
// continues. An LLM failure ends the run with an error event; the session
// stays valid for retry.
func (e *Engine) Chat(ctx context.Context, req ChatRequest, emit EventSink) (*models.DonePayload, error) {
	if emit == nil {
		emit = func(models.ChatEvent) {}
	}
	run := &eventStream{emit: emit, sessionID: req.SessionID, now: e.now}

	session, err := e.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Ended() {
		return nil, fmt.Errorf("%w: %s", sessions.ErrSessionEnded, session.ID)
	}

	userMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Content:   req.UserMessage,
		CreatedAt: e.now(),
	}
	if err := e.store.AppendMessage(ctx, session.ID, userMsg); err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	working, err := e.store.GetHistory(ctx, session.ID, e.config.ContextWindow)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	var defs []gateway.ToolDefinition
	if req.EnableTools && e.tools != nil {
		defs = e.tools.Definitions()
	}

	var (
		totalIn, totalOut int
		totalCost         models.Cost
		totalLatency      int64
		toolCallsSoFar    int
		pendingResults    []models.ToolResult
	)

	for i := 1; i <= e.config.MaxToolIterations; i++ {
		if err := ctx.Err(); err != nil {
			run.errorEvent(models.ReasonCancelled, err.Error())
			return nil, err
		}

		run.iteration(models.ChatEventIterationStart, &models.IterationPayload{
			Iteration:      i,
			ToolCallsSoFar: toolCallsSoFar,
		})

		comp, err := e.llm.CompleteWithFallback(ctx, &gateway.CompletionRequest{
			System:   e.config.SystemPrompt,
			Messages: working,
			Tools:    defs,
		}, req.ModelOverride)
		if err != nil {
			reason := classifyReason(err)
			run.errorEvent(reason, err.Error())
			e.logger.Warn("chat run failed", "session_id", session.ID,
				"iteration", i, "reason", reason, "error", err)
			return nil, err
		}

		if comp.Reasoning != "" {
			run.send(models.ChatEventThinking, func(ev *models.ChatEvent) {
				ev.Thinking = &models.ThinkingPayload{Text: comp.Reasoning}
			})
		}
		if comp.Content != "" {
			run.send(models.ChatEventToken, func(ev *models.ChatEvent) {
				ev.Token = &models.TokenPayload{Text: comp.Content}
			})
		}

		asst := &models.Message{
			ID:          uuid.NewString(),
			SessionID:   session.ID,
			Role:        models.RoleAssistant,
			Content:     comp.Content,
			Thinking:    comp.Reasoning,
			ToolCalls:   comp.ToolCalls,
			ToolResults: pendingResults,
			Model:       comp.Model,
			TokensInput: comp.TokensInput,
			TokensOut:   comp.TokensOutput,
			Cost:        comp.Cost,
			LatencyMs:   comp.LatencyMs,
			CreatedAt:   e.now(),
		}
		pendingResults = nil
		if err := e.store.AppendMessage(ctx, session.ID, asst); err != nil {
			run.errorEvent(models.ReasonInternal, err.Error())
			return nil, fmt.Errorf("append assistant message: %w", err)
		}
		working = append(working, asst)

		totalIn += comp.TokensInput
		totalOut += comp.TokensOutput
		totalCost += comp.Cost
		totalLatency += comp.LatencyMs

		run.iteration(models.ChatEventIterationEnd, &models.IterationPayload{
			Iteration:    i,
			HasToolCalls: comp.HasToolCalls(),
			ToolCount:    len(comp.ToolCalls),
			TokensInput:  comp.TokensInput,
			TokensOutput: comp.TokensOutput,
		})

		if !comp.HasToolCalls() {
			done := &models.DonePayload{
				Status:       models.DoneComplete,
				Content:      comp.Content,
				Iterations:   i,
				TokensInput:  totalIn,
				TokensOutput: totalOut,
				Cost:         totalCost,
				LatencyMs:    totalLatency,
			}
			run.done(done)
			return done, nil
		}

		for _, call := range comp.ToolCalls {
			run.send(models.ChatEventToolCall, func(ev *models.ChatEvent) {
				ev.ToolCall = &models.ToolCallPayload{
					ID:        call.ID,
					Name:      call.Name,
					Arguments: call.Arguments,
				}
			})

			started := time.Now()
			output, toolErr := e.executeTool(ctx, req.EnableTools, call)
			durationMs := time.Since(started).Milliseconds()
			toolCallsSoFar++

			result := models.ToolResult{ToolCallID: call.ID, DurationMs: durationMs}
			payload := &models.ToolResultPayload{ID: call.ID, DurationMs: durationMs}
			if toolErr != nil {
				result.IsError = true
				result.Content = toolErr.Error()
				payload.Error = toolErr.Error()
			} else {
				result.Content = output
				payload.Success = true
				payload.Output = output
			}
			run.send(models.ChatEventToolResult, func(ev *models.ChatEvent) {
				ev.ToolResult = payload
			})

			pendingResults = append(pendingResults, result)
			// Feed the result back in-memory; it is persisted on the next
			// assistant turn's tool_results field.
			working = append(working, &models.Message{
				SessionID:   session.ID,
				Role:        models.RoleTool,
				ToolResults: []models.ToolResult{result},
				CreatedAt:   e.now(),
			})
		}
	}

	note := fmt.Sprintf("Stopped after %d tool iterations without a final reply.", e.config.MaxToolIterations)
	final := &models.Message{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Role:        models.RoleAssistant,
		Content:     note,
		ToolResults: pendingResults,
		CreatedAt:   e.now(),
	}
	if err := e.store.AppendMessage(ctx, session.ID, final); err != nil {
		run.errorEvent(models.ReasonInternal, err.Error())
		return nil, fmt.Errorf("append final message: %w", err)
	}

	done := &models.DonePayload{
		Status:       models.DoneTruncated,
		Content:      note,
		Iterations:   e.config.MaxToolIterations,
		TokensInput:  totalIn,
		TokensOutput: totalOut,
		Cost:         totalCost,
		LatencyMs:    totalLatency,
	}
	run.done(done)
	return done, nil
}

func (e *Engine) executeTool(ctx context.Context, enabled bool, call models.ToolCall) (string, error) {
	if !enabled || e.tools == nil {
		return "", fmt.Errorf("tool %s: tools are disabled for this session", call.Name)
	}
	return e.tools.Execute(ctx, call)
}

// classifyReason maps an LLM failure to the stable error reason.
func classifyReason(err error) models.ErrorReason {
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return models.ReasonCancelled
	case errors.Is(err, infra.ErrCircuitOpen):
		return models.ReasonCBOpen
	case errors.Is(err, ErrAllLLMUnavailable):
		return models.ReasonLLMUnavailable
	default:
		return models.ReasonInternal
	}
}

// eventStream numbers and stamps events for one run.
type eventStream struct {
	emit      EventSink
	sessionID string
	now       func() time.Time
	seq       uint64
}

func (s *eventStream) send(t models.ChatEventType, fill func(*models.ChatEvent)) {
	s.seq++
	ev := models.ChatEvent{
		Type:      t,
		Time:      s.now(),
		Sequence:  s.seq,
		SessionID: s.sessionID,
	}
	fill(&ev)
	s.emit(ev)
}

func (s *eventStream) iteration(t models.ChatEventType, payload *models.IterationPayload) {
	s.send(t, func(ev *models.ChatEvent) { ev.Iteration = payload })
}

func (s *eventStream) done(payload *models.DonePayload) {
	s.send(models.ChatEventDone, func(ev *models.ChatEvent) { ev.Done = payload })
}

func (s *eventStream) errorEvent(reason models.ErrorReason, message string) {
	s.send(models.ChatEventError, func(ev *models.ChatEvent) {
		ev.Error = &models.ErrorPayload{Reason: reason, Message: message}
	})
}
