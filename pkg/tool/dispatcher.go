package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/agio-run/agio/pkg/step"
)

// DispatchConfig bounds one execute_batch call.
type DispatchConfig struct {
	// ParallelToolCalls enables concurrent execution of a batch.
	ParallelToolCalls bool
	// MaxParallelToolCalls bounds concurrency when ParallelToolCalls is
	// set (default 8, per spec 5).
	MaxParallelToolCalls int64
	// TimeoutPerTool bounds a single call (default 60s, per spec 6).
	TimeoutPerTool time.Duration
}

// DefaultDispatchConfig matches the documented defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		ParallelToolCalls:    true,
		MaxParallelToolCalls: 8,
		TimeoutPerTool:       60 * time.Second,
	}
}

// Dispatcher is the Tool Dispatcher (C3): resolves tool calls against a
// Registry and executes a batch with the given DispatchConfig.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher builds a Dispatcher over registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// ExecuteBatch runs every call in calls and returns one ToolResult per
// call, in the same order as the input regardless of finish order
// (spec 4.3). parentRunID/depth are forwarded to RunnableTool calls so
// nested runs can be attributed correctly.
func (d *Dispatcher) ExecuteBatch(ctx context.Context, calls []step.ToolCall, parentRunID string, depth int, cfg DispatchConfig) []step.ToolResult {
	results := make([]step.ToolResult, len(calls))

	if !cfg.ParallelToolCalls || len(calls) <= 1 {
		for i, c := range calls {
			results[i] = d.executeOne(ctx, c, parentRunID, depth, cfg)
		}
		return results
	}

	maxParallel := cfg.MaxParallelToolCalls
	if maxParallel <= 0 {
		maxParallel = 8
	}
	sem := semaphore.NewWeighted(maxParallel)
	g, gctx := errgroup.WithContext(context.Background()) // each call gets its own timeout; a sibling's timeout must not cancel others
	_ = gctx

	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = step.ToolResult{CallID: c.CallID, Name: c.Name, Content: "cancelled", IsError: true}
				return nil
			}
			defer sem.Release(1)
			if err := ctx.Err(); err != nil {
				results[i] = step.ToolResult{CallID: c.CallID, Name: c.Name, Content: "cancelled", IsError: true}
				return nil
			}
			results[i] = d.executeOne(ctx, c, parentRunID, depth, cfg)
			return nil
		})
	}
	_ = g.Wait() // executeOne never returns an error from these goroutines

	return results
}

func (d *Dispatcher) executeOne(ctx context.Context, call step.ToolCall, parentRunID string, depth int, cfg DispatchConfig) step.ToolResult {
	start := time.Now()

	t, ok := d.registry.Lookup(call.Name)
	if !ok {
		r := unknownToolResult(call)
		r.DurationMS = time.Since(start).Milliseconds()
		return r
	}

	args, err := parseArgs(call)
	if err != nil {
		return step.ToolResult{
			CallID:     call.CallID,
			Name:       call.Name,
			Content:    fmt.Sprintf("invalid arguments for tool %s: %v", call.Name, err),
			IsError:    true,
			DurationMS: time.Since(start).Milliseconds(),
		}
	}

	schema := t.Definition().Parameters
	if len(schema) > 0 {
		v, verr := NewValidator(schema)
		if verr == nil {
			if verr := v.Validate(args); verr != nil {
				return step.ToolResult{
					CallID:     call.CallID,
					Name:       call.Name,
					Content:    fmt.Sprintf("argument validation failed for tool %s: %v", call.Name, verr),
					IsError:    true,
					DurationMS: time.Since(start).Milliseconds(),
				}
			}
		}
	}

	timeout := cfg.TimeoutPerTool
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		var (
			res Result
			err error
		)
		if rt, ok := t.(RunnableTool); ok {
			res, err = rt.CallAsRun(callCtx, parentRunID, depth+1, args)
		} else if ct, ok := t.(CallableTool); ok {
			res, err = ct.Call(callCtx, args)
		} else {
			err = fmt.Errorf("tool %s is not callable", call.Name)
		}
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	select {
	case <-callCtx.Done():
		durMS := timeout.Milliseconds()
		if callCtx.Err() == context.Canceled && ctx.Err() != nil {
			return step.ToolResult{CallID: call.CallID, Name: call.Name, Content: "tool " + call.Name + " was cancelled", IsError: true, DurationMS: time.Since(start).Milliseconds()}
		}
		return step.ToolResult{
			CallID:     call.CallID,
			Name:       call.Name,
			Content:    fmt.Sprintf("tool %s timed out after %d ms", call.Name, durMS),
			IsError:    true,
			DurationMS: durMS,
		}
	case err := <-errCh:
		return step.ToolResult{
			CallID:     call.CallID,
			Name:       call.Name,
			Content:    err.Error(),
			IsError:    true,
			DurationMS: time.Since(start).Milliseconds(),
		}
	case res := <-resultCh:
		return step.ToolResult{
			CallID:     call.CallID,
			Name:       call.Name,
			Content:    res.Content,
			IsError:    res.IsError,
			DurationMS: time.Since(start).Milliseconds(),
			Metadata:   res.Metadata,
		}
	}
}

func parseArgs(call step.ToolCall) (map[string]any, error) {
	if call.Args != nil {
		return call.Args, nil
	}
	if call.RawArgs == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(call.RawArgs), &args); err != nil {
		return nil, err
	}
	return args, nil
}
