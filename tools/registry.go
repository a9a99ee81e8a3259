// Package tools exposes memory operations as tools a chat agent can call.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/aschepis/backscratcher/recall/tools/schemas"
	"github.com/rs/zerolog"
)

// ToolHandler handles a tool call on behalf of an owner.
type ToolHandler func(ctx context.Context, ownerID string, args json.RawMessage) (any, error)

// Tool pairs a handler with the schema advertised to the model.
type Tool struct {
	Name    string
	Schema  schemas.ToolSchema
	Handler ToolHandler
}

// Registry maps tool names to handlers.
type Registry struct {
	tools  map[string]Tool
	logger zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	logger = logger.With().Str("component", "tool_registry").Logger()
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register registers a handler for a tool name. The schema is looked up in
// the schemas package; registering a name without a schema panics.
func (r *Registry) Register(name string, h ToolHandler) {
	schema, ok := schemas.All()[name]
	if !ok {
		panic(fmt.Sprintf("tools: no schema for %q", name))
	}
	r.logger.Debug().Str("name", name).Msg("Registering tool handler")
	r.tools[name] = Tool{Name: name, Schema: schema, Handler: h}
}

// Tools returns the registered tools sorted by name.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Handle dispatches a tool call.
func (r *Registry) Handle(ctx context.Context, toolName, ownerID string, args []byte) (any, error) {
	t, ok := r.tools[toolName]
	if !ok {
		r.logger.Error().Str("tool", toolName).Msg("Unknown tool requested")
		return nil, fmt.Errorf("unknown tool: %s", toolName)
	}
	if len(args) == 0 {
		args = []byte("{}")
	}
	r.logger.Info().Str("tool", toolName).Str("ownerID", ownerID).Msg("Executing tool")
	r.logger.Debug().Str("tool", toolName).RawJSON("args", args).Msg("Tool called with arguments")

	result, err := t.Handler(ctx, ownerID, json.RawMessage(args))
	if err != nil {
		r.logger.Warn().Str("tool", toolName).Str("ownerID", ownerID).Err(err).Msg("Tool returned error")
		return nil, err
	}

	if b, e := json.Marshal(result); e == nil {
		s := string(b)
		if len(s) > 500 {
			s = s[:500] + "... (truncated)"
		}
		r.logger.Debug().Str("tool", toolName).Str("result", s).Msg("Tool returned result")
	}
	return result, nil
}
