package run

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/control"
	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/llm"
	"github.com/agio-run/agio/pkg/session"
	"github.com/agio-run/agio/pkg/step"
	"github.com/agio-run/agio/pkg/tool"
)

// scriptedModel yields one fixed Chunk per GenerateContent call, advancing
// through script each call; it records how many times it was invoked so
// tests can assert the LLM was not re-queried on resume (P5/scenario 5).
type scriptedModel struct {
	script []llm.Chunk
	calls  int
}

func (m *scriptedModel) Name() string           { return "scripted" }
func (m *scriptedModel) Provider() llm.Provider { return llm.ProviderUnknown }
func (m *scriptedModel) Close() error           { return nil }

func (m *scriptedModel) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Chunk, error] {
	idx := m.calls
	m.calls++
	return func(yield func(*llm.Chunk, error) bool) {
		if idx >= len(m.script) {
			yield(&llm.Chunk{Partial: false}, nil)
			return
		}
		c := m.script[idx]
		yield(&c, nil)
	}
}

func setup(t *testing.T) (*Coordinator, session.Store) {
	store := session.NewInMemoryStore()
	bus := event.NewBus(64, nil)
	ctrl := control.New()
	return New(store, bus, ctrl, nil), store
}

func TestRunNoToolGreeting(t *testing.T) {
	ctx := context.Background()
	coord, store := setup(t)
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	model := &scriptedModel{script: []llm.Chunk{{ContentDelta: "Hello!", Partial: false}}}
	cfg := DefaultConfig()
	cfg.Model = model

	r, err := coord.Run(ctx, coord.NewRunID(), sess.ID, "hi", cfg)
	require.NoError(t, err)
	assert.Equal(t, step.StatusCompleted, r.Status)
	assert.Equal(t, step.TerminationDone, r.TerminationReason)

	steps, err := store.ListSteps(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, step.RoleUser, steps[0].Role)
	assert.Equal(t, step.RoleAssistant, steps[1].Role)
	assert.Equal(t, "Hello!", steps[1].Content)
}

func TestRunSingleToolCall(t *testing.T) {
	ctx := context.Background()
	coord, store := setup(t)
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	model := &scriptedModel{script: []llm.Chunk{
		{ToolCalls: []llm.ToolCallFragment{{Index: 0, CallID: "c1", Name: "add", Arguments: `{"a":1,"b":2}`}}, Partial: false},
		{ContentDelta: "4", Partial: false},
	}}
	addTool, err := tool.NewFunctionTool("add", "adds", func(_ context.Context, args struct {
		A int `json:"a"`
		B int `json:"b"`
	}) (tool.Result, error) {
		return tool.Result{Content: "3"}, nil
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Model = model
	cfg.ToolRegistry = tool.NewRegistry(addTool)

	r, err := coord.Run(ctx, coord.NewRunID(), sess.ID, "2+2?", cfg)
	require.NoError(t, err)
	assert.Equal(t, step.TerminationDone, r.TerminationReason)

	steps, err := store.ListSteps(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, step.RoleUser, steps[0].Role)
	assert.Equal(t, step.RoleAssistant, steps[1].Role)
	require.Len(t, steps[1].ToolCalls, 1)
	assert.Equal(t, step.RoleTool, steps[2].Role)
	assert.Equal(t, "c1", steps[2].ToolCallID)
	assert.Equal(t, "3", steps[2].Content)
	assert.Equal(t, step.RoleAssistant, steps[3].Role)
	assert.Equal(t, "4", steps[3].Content)
}

func TestRunMaxStepsExhaustion(t *testing.T) {
	ctx := context.Background()
	coord, store := setup(t)
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	alwaysToolCall := llm.Chunk{ToolCalls: []llm.ToolCallFragment{{Index: 0, CallID: "c", Name: "noop", Arguments: "{}"}}, Partial: false}
	model := &scriptedModel{script: []llm.Chunk{alwaysToolCall, alwaysToolCall, alwaysToolCall}}

	noop, err := tool.NewFunctionTool("noop", "", func(_ context.Context, _ struct{}) (tool.Result, error) {
		return tool.Result{Content: "ok"}, nil
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Model = model
	cfg.MaxSteps = 3
	cfg.ToolRegistry = tool.NewRegistry(noop)

	r, err := coord.Run(ctx, coord.NewRunID(), sess.ID, "go", cfg)
	require.NoError(t, err)
	assert.Equal(t, step.TerminationMaxSteps, r.TerminationReason)
	assert.Equal(t, step.StatusCompleted, r.Status)

	steps, err := store.ListSteps(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	assistantCount := 0
	for _, s := range steps {
		if s.Role == step.RoleAssistant {
			assistantCount++
		}
	}
	assert.Equal(t, 3, assistantCount)
}

// TestRunStepTimeoutBoundsToolBatch verifies spec 4.5/5: the per-step
// timeout bounds "each LLM call + its immediately-following tool
// batch", not just the LLM call. A tool whose own per-tool timeout is
// generous must still be cut short by a tight TimeoutPerStep.
func TestRunStepTimeoutBoundsToolBatch(t *testing.T) {
	ctx := context.Background()
	coord, store := setup(t)
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	model := &scriptedModel{script: []llm.Chunk{
		{ToolCalls: []llm.ToolCallFragment{{Index: 0, CallID: "c1", Name: "slow", Arguments: "{}"}}, Partial: false},
	}}
	slow, err := tool.NewFunctionTool("slow", "sleeps past the step deadline", func(ctx context.Context, _ struct{}) (tool.Result, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return tool.Result{Content: "done"}, nil
		case <-ctx.Done():
			return tool.Result{}, ctx.Err()
		}
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Model = model
	cfg.ToolRegistry = tool.NewRegistry(slow)
	cfg.TimeoutPerStep = 20 * time.Millisecond
	cfg.Dispatch.TimeoutPerTool = 5 * time.Second // generous per-tool timeout; step timeout must still win

	start := time.Now()
	r, err := coord.Run(ctx, coord.NewRunID(), sess.ID, "go slow", cfg)
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.Equal(t, step.TerminationTimeout, r.TerminationReason)
	assert.Less(t, elapsed, 150*time.Millisecond, "run must not wait for the tool's own (much larger) per-tool timeout")

	steps, err := store.ListSteps(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, steps, 3, "user step, assistant tool-call step, and the timed-out tool step must all be persisted")
	assert.Equal(t, step.RoleTool, steps[2].Role)
	assert.True(t, steps[2].IsError)
}

func TestResumeDoesNotRequeryLLM(t *testing.T) {
	ctx := context.Background()
	coord, store := setup(t)
	sess, err := store.CreateSession(ctx, nil)
	require.NoError(t, err)

	_, err = store.AppendStep(ctx, sess.ID, step.Step{Role: step.RoleUser, Content: "2+2?"})
	require.NoError(t, err)
	_, err = store.AppendStep(ctx, sess.ID, step.Step{
		Role:      step.RoleAssistant,
		ToolCalls: []step.ToolCallRef{{CallID: "c1", Name: "add", Arguments: `{"a":1,"b":2}`}},
	})
	require.NoError(t, err)

	model := &scriptedModel{script: []llm.Chunk{{ContentDelta: "4", Partial: false}}}
	addTool, err := tool.NewFunctionTool("add", "", func(_ context.Context, _ struct{}) (tool.Result, error) {
		return tool.Result{Content: "3"}, nil
	})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Model = model
	cfg.ToolRegistry = tool.NewRegistry(addTool)

	r, err := coord.Resume(ctx, coord.NewRunID(), sess.ID, cfg)
	require.NoError(t, err)
	assert.Equal(t, step.TerminationDone, r.TerminationReason)
	assert.Equal(t, 1, model.calls, "LLM must not be called again for the same pending turn")

	steps, err := store.ListSteps(ctx, sess.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, steps, 4)
	assert.Equal(t, step.RoleTool, steps[2].Role)
	assert.Equal(t, step.RoleAssistant, steps[3].Role)
	assert.Equal(t, "4", steps[3].Content)
}
