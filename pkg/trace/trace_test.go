package trace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agio-run/agio/pkg/event"
)

func TestCollectBuildsSpanTreeAndFlushesToSink(t *testing.T) {
	bus := event.NewBus(32, nil)
	sink := NewMemorySink()
	collector := New(bus, sink, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_, err := collector.Collect(ctx, "run-1")
		assert.NoError(t, err)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond) // let Collect subscribe before events are published
	now := time.Now()
	bus.Publish(event.Event{Kind: event.KindRunStarted, RunID: "run-1", AgentID: "agent-x", Timestamp: now})
	bus.Publish(event.Event{Kind: event.KindToolCallStarted, RunID: "run-1", ToolCallID: "c1", ToolName: "add", Timestamp: now})
	bus.Publish(event.Event{Kind: event.KindToolCallCompleted, RunID: "run-1", ToolCallID: "c1", IsSuccess: true, Timestamp: now.Add(5 * time.Millisecond)})
	bus.Publish(event.Event{Kind: event.KindRunCompleted, RunID: "run-1", Timestamp: now.Add(10 * time.Millisecond)})

	<-done

	root := sink.Get("run-1")
	require.NotNil(t, root)
	assert.Equal(t, "agent-x", root.Attributes["agent_id"])
	require.Len(t, root.Children, 1)
	assert.Equal(t, KindToolCall, root.Children[0].Kind)
}
