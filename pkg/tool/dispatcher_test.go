package tool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/step"
)

type addArgs struct {
	A int `json:"a" jsonschema:"required"`
	B int `json:"b" jsonschema:"required"`
}

func mustAddTool(t *testing.T) *FunctionTool[addArgs] {
	tl, err := NewFunctionTool("add", "adds two numbers", func(_ context.Context, args addArgs) (Result, error) {
		return Result{Content: "3"}, nil
	})
	require.NoError(t, err)
	return tl
}

func TestDispatcherUnknownTool(t *testing.T) {
	d := NewDispatcher(NewRegistry())
	res := d.ExecuteBatch(context.Background(), []step.ToolCall{{CallID: "c1", Name: "missing", RawArgs: "{}"}}, "", 0, DefaultDispatchConfig())
	require.Len(t, res, 1)
	assert.True(t, res[0].IsError)
	assert.Contains(t, res[0].Content, "not found")
}

func TestDispatcherInvalidArgs(t *testing.T) {
	d := NewDispatcher(NewRegistry(mustAddTool(t)))
	res := d.ExecuteBatch(context.Background(), []step.ToolCall{{CallID: "c1", Name: "add", RawArgs: "not json"}}, "", 0, DefaultDispatchConfig())
	require.Len(t, res, 1)
	assert.True(t, res[0].IsError)
}

func TestDispatcherOrderPreservedUnderParallelism(t *testing.T) {
	slow, err := NewFunctionTool("slow", "", func(ctx context.Context, _ struct{}) (Result, error) {
		time.Sleep(50 * time.Millisecond)
		return Result{Content: "slow-done"}, nil
	})
	require.NoError(t, err)
	fast, err := NewFunctionTool("fast", "", func(ctx context.Context, _ struct{}) (Result, error) {
		return Result{Content: "fast-done"}, nil
	})
	require.NoError(t, err)

	d := NewDispatcher(NewRegistry(slow, fast))
	calls := []step.ToolCall{
		{CallID: "c1", Name: "slow", RawArgs: "{}"},
		{CallID: "c2", Name: "fast", RawArgs: "{}"},
	}
	cfg := DefaultDispatchConfig()
	res := d.ExecuteBatch(context.Background(), calls, "", 0, cfg)
	require.Len(t, res, 2)
	assert.Equal(t, "c1", res[0].CallID)
	assert.Equal(t, "slow-done", res[0].Content)
	assert.Equal(t, "c2", res[1].CallID)
	assert.Equal(t, "fast-done", res[1].Content)
}

func TestDispatcherTimeout(t *testing.T) {
	blocker, err := NewFunctionTool("blocker", "", func(ctx context.Context, _ struct{}) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	})
	require.NoError(t, err)

	d := NewDispatcher(NewRegistry(blocker))
	cfg := DefaultDispatchConfig()
	cfg.TimeoutPerTool = 10 * time.Millisecond
	res := d.ExecuteBatch(context.Background(), []step.ToolCall{{CallID: "c1", Name: "blocker", RawArgs: "{}"}}, "", 0, cfg)
	require.Len(t, res, 1)
	assert.True(t, res[0].IsError)
	assert.Contains(t, res[0].Content, "timed out")
}
