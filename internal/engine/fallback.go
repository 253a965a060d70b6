// Package engine drives the tool-calling chat loop: it turns one user
// message into a final assistant reply by iterating LLM calls and tool
// executions, streaming structured progress events along the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/haasonsaas/aria/internal/gateway"
	"github.com/haasonsaas/aria/internal/infra"
)

// ErrAllLLMUnavailable is returned when every model entry in the fallback
// chain is either circuit-open or failing.
var ErrAllLLMUnavailable = errors.New("all_llm_unavailable")

// Completer is the LLM call surface. Implemented by gateway.Client.
type Completer interface {
	Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.Completion, error)
}

// ModelEntry is one model in the fallback order.
type ModelEntry struct {
	Model string
	// MaxTokens caps completions for this model when the request does not
	// set its own cap.
	MaxTokens int
}

// FallbackChain tries an ordered list of models, skipping any whose
// circuit breaker is open and recording the outcome of each attempt.
type FallbackChain struct {
	client   Completer
	entries  []ModelEntry
	breakers *infra.CircuitBreakerRegistry
	logger   *slog.Logger
}

// NewFallbackChain creates a chain over the given model order. The breaker
// registry keys breakers by "model:<name>".
func NewFallbackChain(client Completer, breakers *infra.CircuitBreakerRegistry, entries ...ModelEntry) *FallbackChain {
	if breakers == nil {
		breakers = infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{})
	}
	return &FallbackChain{
		client:   client,
		entries:  entries,
		breakers: breakers,
		logger:   slog.Default().With("component", "engine"),
	}
}

// PrimaryBreaker returns the breaker of the first model in the chain. The
// work cycle consults it to decide degraded mode.
func (f *FallbackChain) PrimaryBreaker() *infra.CircuitBreaker {
	if len(f.entries) == 0 {
		return nil
	}
	return f.breakers.Get(breakerName(f.entries[0].Model))
}

// CompleteWithFallback tries each model in order until one succeeds. A
// non-empty override is tried before the configured chain. Every attempt
// records success or failure on that model's breaker; open breakers are
// skipped without an attempt.
func (f *FallbackChain) CompleteWithFallback(ctx context.Context, req *gateway.CompletionRequest, override string) (*gateway.Completion, error) {
	entries := f.entries
	if override != "" {
		entries = append([]ModelEntry{{Model: override}}, entries...)
	}

	var lastErr error
	for _, entry := range entries {
		cb := f.breakers.Get(breakerName(entry.Model))
		if err := cb.Allow(); err != nil {
			f.logger.Debug("model skipped, circuit open", "model", entry.Model)
			lastErr = err
			continue
		}

		attempt := *req
		attempt.Model = entry.Model
		if attempt.MaxTokens == 0 {
			attempt.MaxTokens = entry.MaxTokens
		}

		comp, err := f.client.Complete(ctx, &attempt)
		if err == nil {
			cb.RecordSuccess()
			return comp, nil
		}
		cb.RecordFailure()
		lastErr = err
		if ctx.Err() != nil {
			return nil, err
		}
		f.logger.Warn("model attempt failed, falling back", "model", entry.Model, "error", err)
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllLLMUnavailable, lastErr)
	}
	return nil, ErrAllLLMUnavailable
}

func breakerName(model string) string {
	return "model:" + model
}
