// Package tool defines the Tool interface hierarchy and implements the
// Tool Dispatcher (C3): resolve-by-name, argument validation, timeout-
// bounded execution, and bounded-parallel batch execution.
package tool

import (
	"context"

	"github.com/agio-run/agio/pkg/step"
)

// Definition is the wire-facing description of a tool: what the LLM
// sees when deciding whether to call it.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Result is what a Tool's Call returns before the dispatcher wraps it
// into a step.ToolResult (adding duration and bookkeeping).
type Result struct {
	Content  string
	IsError  bool
	Metadata map[string]any
}

// Tool is the base interface every tool implements.
type Tool interface {
	Definition() Definition
}

// CallableTool executes synchronously given parsed arguments.
type CallableTool interface {
	Tool
	Call(ctx context.Context, args map[string]any) (Result, error)
}

// RunnableTool is a tool backed by a nested Runnable (agent or
// workflow): invoking it opens a child run whose parent_run_id is the
// current run (spec 4.3 "nested runnable tools"). The dispatcher
// detects this interface and wires depth/parent_run_id accordingly.
type RunnableTool interface {
	Tool
	CallAsRun(ctx context.Context, parentRunID string, depth int, args map[string]any) (Result, error)
}

// Toolset resolves a dynamic set of tools lazily (e.g. backed by an
// MCP server or a remote registry) for tool sources that aren't known
// statically.
type Toolset interface {
	Tools(ctx context.Context) ([]CallableTool, error)
}

// Registry is a per-run lookup table from tool name to CallableTool.
type Registry struct {
	tools map[string]CallableTool
}

// NewRegistry builds a Registry from a static list of tools.
func NewRegistry(tools ...CallableTool) *Registry {
	r := &Registry{tools: make(map[string]CallableTool, len(tools))}
	for _, t := range tools {
		r.tools[t.Definition().Name] = t
	}
	return r
}

// Add registers an additional tool, overwriting any prior tool of the
// same name.
func (r *Registry) Add(t CallableTool) {
	r.tools[t.Definition().Name] = t
}

// Lookup returns the tool registered under name, or ok=false.
func (r *Registry) Lookup(name string) (CallableTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the wire Definition for every registered tool, in
// no particular order; callers that need determinism should sort.
func (r *Registry) Definitions() []Definition {
	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	return out
}

// unknownToolResult builds the diagnostic ToolResult for a call to a
// name absent from the registry (spec 4.3: "no exception escapes").
func unknownToolResult(call step.ToolCall) step.ToolResult {
	return step.ToolResult{
		CallID:  call.CallID,
		Name:    call.Name,
		Content: "tool not found: " + call.Name,
		IsError: true,
	}
}
