package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/aria/internal/gateway"
	"github.com/haasonsaas/aria/pkg/models"
)

// ToolHandler executes one tool call. args is the decoded, schema-valid
// argument object. The returned value is serialized as the tool output.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

// ToolRegistry maps tool names to a compiled argument schema and handler.
// Registration happens at startup; lookups are concurrent.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
}

type registeredTool struct {
	name        string
	description string
	schema      json.RawMessage
	compiled    *jsonschema.Schema
	handler     ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: map[string]*registeredTool{}}
}

// Register compiles the argument schema and binds the handler under name.
// Registering an existing name replaces it.
func (r *ToolRegistry) Register(name, description string, schema json.RawMessage, handler ToolHandler) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("tool %s: handler is required", name)
	}
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object","properties":{}}`)
	}
	compiled, err := jsonschema.CompileString(name+".json", string(schema))
	if err != nil {
		return fmt.Errorf("tool %s: compile schema: %w", name, err)
	}

	r.mu.Lock()
	r.tools[name] = &registeredTool{
		name:        name,
		description: description,
		schema:      schema,
		compiled:    compiled,
		handler:     handler,
	}
	r.mu.Unlock()
	return nil
}

// Definitions returns the tool catalog advertised to the model, sorted by
// name for a stable prompt.
func (r *ToolRegistry) Definitions() []gateway.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]gateway.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, gateway.ToolDefinition{
			Name:        t.name,
			Description: t.description,
			Schema:      t.schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute validates the call's arguments against the tool's schema and
// runs the handler. Any returned error — unknown tool, invalid arguments,
// handler failure — is a tool error: the engine feeds it back to the model
// rather than aborting the run.
func (r *ToolRegistry) Execute(ctx context.Context, call models.ToolCall) (string, error) {
	r.mu.RLock()
	tool := r.tools[call.Name]
	r.mu.RUnlock()
	if tool == nil {
		return "", fmt.Errorf("unknown tool %q", call.Name)
	}

	raw := call.Arguments
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("tool %s: invalid argument JSON: %w", call.Name, err)
	}
	if err := tool.compiled.Validate(decoded); err != nil {
		return "", fmt.Errorf("tool %s: arguments rejected: %w", call.Name, err)
	}

	args, _ := decoded.(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	result, err := tool.handler(ctx, args)
	if err != nil {
		return "", err
	}
	switch v := result.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		out, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("tool %s: encode result: %w", call.Name, err)
		}
		return string(out), nil
	}
}
