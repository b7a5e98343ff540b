// Package run implements the Run Coordinator (C5): the outer loop that
// turns a user query into an ordered, persisted sequence of steps,
// alternating Context Builder + Step Executor calls with Tool Dispatcher
// batches, gated by the Execution Controller.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agio-run/agio/pkg/contextbuilder"
	"github.com/agio-run/agio/pkg/control"
	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/executor"
	"github.com/agio-run/agio/pkg/llm"
	"github.com/agio-run/agio/pkg/observability"
	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
	"github.com/agio-run/agio/pkg/tool"
)

// Config configures one Run invocation.
type Config struct {
	AgentID      string
	Model        llm.Model
	ToolRegistry *tool.Registry
	SystemPrompt string

	MaxSteps             int
	TimeoutPerStep       time.Duration
	TimeoutPerRun        time.Duration
	Dispatch             tool.DispatchConfig

	ParentRunID string
	Depth       int
}

// DefaultConfig matches the documented defaults (spec 6).
func DefaultConfig() Config {
	return Config{
		MaxSteps:       30,
		TimeoutPerStep: 120 * time.Second,
		Dispatch:       tool.DefaultDispatchConfig(),
	}
}

// Coordinator drives Runs against a shared Store, Bus and Controller.
type Coordinator struct {
	store      session.Store
	bus        *event.Bus
	controller *control.Controller
	metrics    observability.Metrics
}

// New constructs a Coordinator. metrics may be nil, in which case
// recordings are discarded (equivalent to observability.NoopMetrics).
func New(store session.Store, bus *event.Bus, controller *control.Controller, metrics observability.Metrics) *Coordinator {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Coordinator{store: store, bus: bus, controller: controller, metrics: metrics}
}

// NewRunID allocates a run id ahead of Run/Resume so a caller can
// subscribe to the bus before the run starts emitting.
func (c *Coordinator) NewRunID() string {
	return uuid.NewString()
}

// Run executes run_stream(session, query) (spec 4.5) to completion,
// emitting events on the bus and persisting every step and the final
// Run record. If query is empty, no user step is appended (used by
// workflow stages forwarding a prior stage's output).
func (c *Coordinator) Run(ctx context.Context, runID, sessionID, query string, cfg Config) (*step.Run, error) {
	if err := c.controller.Start(runID); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer c.controller.Forget(runID)
	defer c.bus.Close(runID)

	runCtx, cancel, err := c.controller.CancelContext(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer cancel()
	if cfg.TimeoutPerRun > 0 {
		var rcancel context.CancelFunc
		runCtx, rcancel = context.WithTimeout(runCtx, cfg.TimeoutPerRun)
		defer rcancel()
	}

	r := &step.Run{
		RunID:       runID,
		SessionID:   sessionID,
		ParentRunID: cfg.ParentRunID,
		Depth:       cfg.Depth,
		AgentID:     cfg.AgentID,
		Status:      step.StatusRunning,
		InputQuery:  query,
		StartTime:   time.Now().UTC(),
	}

	c.bus.Publish(event.Event{
		Kind:        event.KindRunStarted,
		RunID:       runID,
		SessionID:   sessionID,
		ParentRunID: cfg.ParentRunID,
		Depth:       cfg.Depth,
		AgentID:     cfg.AgentID,
		InputQuery:  query,
		Timestamp:   time.Now().UTC(),
	})

	if query != "" {
		if _, err := c.store.AppendStep(runCtx, sessionID, step.Step{Role: step.RoleUser, Content: query}); err != nil {
			return c.fail(ctx, r, err)
		}
	}

	return c.loop(runCtx, r, cfg)
}

// Resume implements "resume from pending tool calls" (spec 4.5, P5):
// if the session ends with an assistant step with tool_calls whose
// tool-role replies are missing (all of them, or only some), execute
// only the missing tool_call_ids (in original order) without calling
// the LLM again, then continue the loop normally.
func (c *Coordinator) Resume(ctx context.Context, runID, sessionID string, cfg Config) (*step.Run, error) {
	if err := c.controller.Start(runID); err != nil {
		return nil, fmt.Errorf("run: %w", err)
	}
	defer c.controller.Forget(runID)
	defer c.bus.Close(runID)

	runCtx, cancel, err := c.controller.CancelContext(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer cancel()

	r := &step.Run{
		RunID:       runID,
		SessionID:   sessionID,
		ParentRunID: cfg.ParentRunID,
		Depth:       cfg.Depth,
		AgentID:     cfg.AgentID,
		Status:      step.StatusRunning,
		StartTime:   time.Now().UTC(),
	}

	c.bus.Publish(event.Event{Kind: event.KindRunStarted, RunID: runID, SessionID: sessionID, AgentID: cfg.AgentID, Timestamp: time.Now().UTC()})

	last, err := c.store.GetLastStep(runCtx, sessionID)
	if err != nil {
		return c.fail(ctx, r, err)
	}
	if last != nil && last.Role == step.RoleTool {
		// Replies for part of the batch may already be persisted; walk
		// back past them to the assistant step that requested the batch.
		prior, err := c.store.ListSteps(runCtx, sessionID, 1, last.Sequence)
		if err != nil {
			return c.fail(ctx, r, err)
		}
		i := len(prior) - 1
		for i >= 0 && prior[i].Role == step.RoleTool {
			i--
		}
		if i >= 0 {
			last = &prior[i]
		}
	}
	if last == nil || last.Role != step.RoleAssistant || !last.HasToolCalls() {
		return c.fail(ctx, r, errors.New("run: resume called but last step has no pending tool calls"))
	}

	pending := missingCalls(last, nil)
	pending, err = c.filterAlreadyAnswered(runCtx, sessionID, last, pending)
	if err != nil {
		return c.fail(ctx, r, err)
	}

	dispatchCtx := runCtx
	var dispatchCancel context.CancelFunc
	if cfg.TimeoutPerStep > 0 {
		dispatchCtx, dispatchCancel = context.WithTimeout(runCtx, cfg.TimeoutPerStep)
	}
	err = c.dispatchAndPersist(dispatchCtx, runCtx, r, pending, cfg)
	dispatchTimedOut := errors.Is(dispatchCtx.Err(), context.DeadlineExceeded)
	if dispatchCancel != nil {
		dispatchCancel()
	}
	if err != nil {
		if dispatchTimedOut {
			return c.terminate(ctx, r, step.StatusCompleted, step.TerminationTimeout)
		}
		return c.fail(ctx, r, err)
	}
	if dispatchTimedOut {
		return c.terminate(ctx, r, step.StatusCompleted, step.TerminationTimeout)
	}

	return c.loop(runCtx, r, cfg)
}

// missingCalls returns the tool calls on assistantStep, skipping any
// call ids present in answered.
func missingCalls(assistantStep *step.Step, answered map[string]bool) []step.ToolCall {
	out := make([]step.ToolCall, 0, len(assistantStep.ToolCalls))
	for _, tc := range assistantStep.ToolCalls {
		if answered[tc.CallID] {
			continue
		}
		out = append(out, step.ToolCall{CallID: tc.CallID, Name: tc.Name, RawArgs: tc.Arguments, OriginStepID: assistantStep.ID})
	}
	return out
}

// filterAlreadyAnswered resolves Open Question (a): a resume may find
// some but not all tool responses already persisted after the pending
// assistant step; only the ones genuinely missing are re-executed.
func (c *Coordinator) filterAlreadyAnswered(ctx context.Context, sessionID string, assistantStep *step.Step, pending []step.ToolCall) ([]step.ToolCall, error) {
	steps, err := c.store.ListSteps(ctx, sessionID, assistantStep.Sequence+1, 0)
	if err != nil {
		return nil, err
	}
	answered := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.Role == step.RoleTool {
			answered[s.ToolCallID] = true
		}
	}
	out := pending[:0]
	for _, tc := range pending {
		if !answered[tc.CallID] {
			out = append(out, tc)
		}
	}
	return out, nil
}

// loop is the shared Awaiting-LLM <-> Awaiting-Tools iteration (spec 4.5
// steps 3a-3g), entered either from a freshly appended user step (Run)
// or immediately after resuming a pending tool batch (Resume).
func (c *Coordinator) loop(ctx context.Context, r *step.Run, cfg Config) (*step.Run, error) {
	builder := contextbuilder.New(c.store)
	exec := executor.New(cfg.Model, c.bus)
	var dispatcher *tool.Dispatcher
	if cfg.ToolRegistry != nil {
		dispatcher = tool.NewDispatcher(cfg.ToolRegistry)
	}

	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 30
	}

	stepCount := 0
	for {
		stepCount++
		if stepCount > maxSteps {
			return c.terminate(ctx, r, step.StatusCompleted, step.TerminationMaxSteps)
		}
		if c.controller.IsCancelled(r.RunID) {
			return c.terminate(ctx, r, step.StatusCompleted, step.TerminationCancelled)
		}
		if err := c.controller.AwaitGate(ctx, r.RunID); err != nil {
			return c.terminate(ctx, r, step.StatusCompleted, step.TerminationCancelled)
		}

		stepCtx := ctx
		var stepCancel context.CancelFunc
		if cfg.TimeoutPerStep > 0 {
			stepCtx, stepCancel = context.WithTimeout(ctx, cfg.TimeoutPerStep)
		}

		msgs, err := builder.Build(stepCtx, r.SessionID, cfg.SystemPrompt, contextbuilder.Range{})
		if err != nil {
			if stepCancel != nil {
				stepCancel()
			}
			return c.fail(ctx, r, err)
		}

		req := &llm.Request{Messages: msgs}
		if cfg.ToolRegistry != nil {
			req.Tools = cfg.ToolRegistry.Definitions()
		}

		assistantStep, err := exec.Execute(stepCtx, r.RunID, r.SessionID, req)
		if err != nil {
			if stepCancel != nil {
				stepCancel()
			}
			if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
				return c.terminate(ctx, r, step.StatusCompleted, step.TerminationTimeout)
			}
			return c.fail(ctx, r, err)
		}

		persisted, err := c.store.AppendStep(ctx, r.SessionID, *assistantStep)
		if err != nil {
			if stepCancel != nil {
				stepCancel()
			}
			return c.fail(ctx, r, err)
		}
		r.Metrics.Add(persisted.Metrics)
		c.metrics.RecordStep(ctx, string(persisted.Role))
		if persisted.Metrics != nil {
			c.metrics.RecordLLMCall(ctx, string(cfg.Model.Provider()), persisted.Metrics.TotalTokens, time.Duration(persisted.Metrics.DurationMS)*time.Millisecond)
		}

		if !persisted.HasToolCalls() {
			if stepCancel != nil {
				stepCancel()
			}
			return c.terminate(ctx, r, step.StatusCompleted, step.TerminationDone)
		}

		calls := make([]step.ToolCall, 0, len(persisted.ToolCalls))
		for _, tc := range persisted.ToolCalls {
			calls = append(calls, step.ToolCall{CallID: tc.CallID, Name: tc.Name, RawArgs: tc.Arguments, OriginStepID: persisted.ID})
		}
		if dispatcher == nil {
			if stepCancel != nil {
				stepCancel()
			}
			return c.fail(ctx, r, errors.New("run: assistant requested tools but no tool registry is configured"))
		}
		// The tool batch runs under the same per-step deadline as the
		// LLM call that produced it (spec 4.5/5: "a per-step timeout
		// bounds each LLM call + its immediately-following tool batch").
		// Persisted writes use the outer, un-timed ctx so results
		// completed before the deadline are never lost.
		err = c.dispatchAndPersistWith(stepCtx, ctx, r, dispatcher, calls, cfg)
		stepTimedOut := errors.Is(stepCtx.Err(), context.DeadlineExceeded)
		if stepCancel != nil {
			stepCancel()
		}
		if err != nil {
			if stepTimedOut {
				return c.terminate(ctx, r, step.StatusCompleted, step.TerminationTimeout)
			}
			return c.fail(ctx, r, err)
		}
		if stepTimedOut {
			return c.terminate(ctx, r, step.StatusCompleted, step.TerminationTimeout)
		}
	}
}

func (c *Coordinator) dispatchAndPersist(execCtx, persistCtx context.Context, r *step.Run, calls []step.ToolCall, cfg Config) error {
	if len(calls) == 0 {
		return nil
	}
	if cfg.ToolRegistry == nil {
		return errors.New("run: pending tool calls but no tool registry is configured")
	}
	return c.dispatchAndPersistWith(execCtx, persistCtx, r, tool.NewDispatcher(cfg.ToolRegistry), calls, cfg)
}

// dispatchAndPersistWith runs calls under execCtx (bounded by the
// enclosing per-step timeout, if any) but persists results and
// publishes events against persistCtx, so a step-timeout expiry cancels
// only the in-flight tool work, never the durable record of whatever
// already completed.
func (c *Coordinator) dispatchAndPersistWith(execCtx, persistCtx context.Context, r *step.Run, dispatcher *tool.Dispatcher, calls []step.ToolCall, cfg Config) error {
	for _, call := range calls {
		c.bus.Publish(event.Event{Kind: event.KindToolCallStarted, RunID: r.RunID, SessionID: r.SessionID, ToolCallID: call.CallID, ToolName: call.Name, Arguments: call.RawArgs, Timestamp: time.Now().UTC()})
	}

	results := dispatcher.ExecuteBatch(execCtx, calls, r.RunID, r.Depth, cfg.Dispatch)

	for i, res := range results {
		kind := event.KindToolCallCompleted
		if res.IsError {
			kind = event.KindToolCallFailed
		}
		c.bus.Publish(event.Event{
			Kind:       kind,
			RunID:      r.RunID,
			SessionID:  r.SessionID,
			ToolCallID: res.CallID,
			Result:     res.Content,
			IsSuccess:  !res.IsError,
			DurationMS: res.DurationMS,
			Timestamp:  time.Now().UTC(),
		})
		c.metrics.RecordToolCall(persistCtx, res.Name, res.IsError, time.Duration(res.DurationMS)*time.Millisecond)

		toolStep := step.Step{
			Role:       step.RoleTool,
			Content:    res.Content,
			ToolCallID: res.CallID,
			ToolName:   res.Name,
			IsError:    res.IsError,
			Metrics:    &step.Metrics{DurationMS: res.DurationMS},
		}
		if _, err := c.store.AppendStep(persistCtx, r.SessionID, toolStep); err != nil {
			return fmt.Errorf("run: persist tool step %d: %w", i, err)
		}
	}
	return nil
}

func (c *Coordinator) terminate(ctx context.Context, r *step.Run, status step.Status, reason step.TerminationReason) (*step.Run, error) {
	r.Status = status
	r.TerminationReason = reason
	r.EndTime = time.Now().UTC()
	if err := c.store.SaveRun(ctx, r); err != nil {
		return r, fmt.Errorf("run: save: %w", err)
	}
	c.bus.Publish(event.Event{Kind: event.KindRunCompleted, RunID: r.RunID, SessionID: r.SessionID, Metrics: &r.Metrics, TerminationReason: reason, Timestamp: time.Now().UTC()})
	c.metrics.RecordRun(ctx, r.AgentID, string(status), r.EndTime.Sub(r.StartTime))
	return r, nil
}

func (c *Coordinator) fail(ctx context.Context, r *step.Run, cause error) (*step.Run, error) {
	r.Status = step.StatusFailed
	r.TerminationReason = step.TerminationError
	r.EndTime = time.Now().UTC()
	_ = c.store.SaveRun(ctx, r)
	c.bus.Publish(event.Event{Kind: event.KindRunFailed, RunID: r.RunID, SessionID: r.SessionID, Error: cause.Error(), Timestamp: time.Now().UTC()})
	c.metrics.RecordRun(ctx, r.AgentID, string(step.StatusFailed), r.EndTime.Sub(r.StartTime))
	return r, cause
}
