package main

import (
	"context"
	"fmt"

	"github.com/agio-run/agio/pkg/tool"
)

// addArgs are the arguments for the demo "add" tool.
type addArgs struct {
	A float64 `json:"a" jsonschema:"required,description=first addend"`
	B float64 `json:"b" jsonschema:"required,description=second addend"`
}

// defaultRegistry builds the tool set available to the demo echoModel
// agent: a single "add" tool, enough to exercise the tool-calling loop
// without requiring any external service.
func defaultRegistry() (*tool.Registry, error) {
	add, err := tool.NewFunctionTool("add", "Add two numbers.", func(ctx context.Context, args addArgs) (tool.Result, error) {
		return tool.Result{Content: fmt.Sprintf("%g", args.A+args.B)}, nil
	})
	if err != nil {
		return nil, err
	}
	return tool.NewRegistry(add), nil
}
