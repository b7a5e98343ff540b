package executor

import (
	"context"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/llm"
)

type fakeModel struct {
	chunks []*llm.Chunk
}

func (f *fakeModel) Name() string           { return "fake" }
func (f *fakeModel) Provider() llm.Provider { return llm.ProviderUnknown }
func (f *fakeModel) Close() error           { return nil }

func (f *fakeModel) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Chunk, error] {
	return func(yield func(*llm.Chunk, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func TestExecuteAssemblesContentFromDeltas(t *testing.T) {
	model := &fakeModel{chunks: []*llm.Chunk{
		{ContentDelta: "Hel", Partial: true},
		{ContentDelta: "lo!", Partial: true},
		{Partial: false, FinishReason: llm.FinishStop},
	}}
	bus := event.NewBus(16, nil)
	sub := bus.Subscribe("run-1")

	exec := New(model, bus)
	snap, err := exec.Execute(context.Background(), "run-1", "sess-1", &llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", snap.Content)
	assert.False(t, snap.HasToolCalls())

	var kinds []event.Kind
	bus.Close("run-1")
	for ev := range sub.Events() {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, event.KindStepDelta)
	assert.Contains(t, kinds, event.KindStepCompleted)
}

func TestExecuteAssemblesStreamedToolCallFragments(t *testing.T) {
	model := &fakeModel{chunks: []*llm.Chunk{
		{ToolCalls: []llm.ToolCallFragment{{Index: 0, CallID: "c1", Name: "add", Arguments: `{"a":`}}, Partial: true},
		{ToolCalls: []llm.ToolCallFragment{{Index: 0, Arguments: `1,"b":2}`}}, Partial: true},
		{Partial: false},
	}}
	bus := event.NewBus(16, nil)
	exec := New(model, bus)
	snap, err := exec.Execute(context.Background(), "run-2", "sess-1", &llm.Request{})
	require.NoError(t, err)
	require.Len(t, snap.ToolCalls, 1)
	assert.Equal(t, "c1", snap.ToolCalls[0].CallID)
	assert.Equal(t, "add", snap.ToolCalls[0].Name)
	assert.Equal(t, `{"a":1,"b":2}`, snap.ToolCalls[0].Arguments)
}
