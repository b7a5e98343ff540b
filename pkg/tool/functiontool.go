package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// FunctionTool adapts a typed Go function into a CallableTool, deriving
// its argument schema from the Args type via GenerateSchema: callers
// write a plain Go struct and function, not hand-rolled JSON Schema.
type FunctionTool[Args any] struct {
	name        string
	description string
	schema      map[string]any
	fn          func(ctx context.Context, args Args) (Result, error)
}

// NewFunctionTool builds a FunctionTool, generating its schema from Args.
func NewFunctionTool[Args any](name, description string, fn func(ctx context.Context, args Args) (Result, error)) (*FunctionTool[Args], error) {
	schema, err := GenerateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("function tool %s: %w", name, err)
	}
	return &FunctionTool[Args]{name: name, description: description, schema: schema, fn: fn}, nil
}

func (f *FunctionTool[Args]) Definition() Definition {
	return Definition{Name: f.name, Description: f.description, Parameters: f.schema}
}

func (f *FunctionTool[Args]) Call(ctx context.Context, rawArgs map[string]any) (Result, error) {
	data, err := json.Marshal(rawArgs)
	if err != nil {
		return Result{}, fmt.Errorf("marshal args: %w", err)
	}
	var typed Args
	if err := json.Unmarshal(data, &typed); err != nil {
		return Result{}, fmt.Errorf("unmarshal args: %w", err)
	}
	return f.fn(ctx, typed)
}

var _ CallableTool = (*FunctionTool[struct{}])(nil)
