// Package trace implements the Trace Collector (C10): it subscribes to
// the Event Bus and builds a hierarchical span tree for observability,
// consuming Agio's own event vocabulary rather than a generic tracer API.
package trace

import (
	"context"
	"time"

	"github.com/agio-run/agio/pkg/event"
)

// Kind identifies what a Span represents.
type Kind string

const (
	KindAgent           Kind = "AGENT"
	KindLLMCall         Kind = "LLM_CALL"
	KindToolCall        Kind = "TOOL_CALL"
	KindWorkflowStage   Kind = "WORKFLOW_STAGE"
	KindWorkflowBranch  Kind = "WORKFLOW_BRANCH"
)

// Span is one node of the trace tree.
type Span struct {
	RunID       string    `json:"run_id"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	Children    []*Span   `json:"children,omitempty"`
}

// DurationMS returns the span's wall-clock duration in milliseconds.
func (s *Span) DurationMS() int64 {
	if s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime).Milliseconds()
}

// Exporter ships a completed trace to an external backend (OTLP, etc).
// The choice of backend is external per spec 1; Agio only defines this
// seam.
type Exporter interface {
	Export(ctx context.Context, root *Span) error
}

// Sink stores a completed trace. MemorySink, the implementation that
// cmd/agio serve wires in, keeps traces in process memory only.
type Sink interface {
	SaveTrace(ctx context.Context, runID string, root *Span) error
}

// Collector builds one Span tree per run_id by observing a Bus.
type Collector struct {
	bus      *event.Bus
	sink     Sink
	exporter Exporter
}

// New constructs a Collector. exporter may be nil to disable OTLP export.
func New(bus *event.Bus, sink Sink, exporter Exporter) *Collector {
	return &Collector{bus: bus, sink: sink, exporter: exporter}
}

// Subscribe pre-registers a subscription for runID. Callers that must
// guarantee no event is missed — the collector has to be listening
// before the run it traces starts publishing — subscribe with this
// method first and then hand the subscription to CollectFrom once the
// run has been launched, mirroring the subscribe-before-goroutine
// ordering server.streamRun uses for its own SSE subscription.
func (c *Collector) Subscribe(runID string) *event.Subscription {
	return c.bus.Subscribe(runID)
}

// Collect subscribes to runID's events and blocks until the run reaches
// a terminal event (run_completed/run_failed) or ctx is cancelled,
// flushing the resulting span tree to the Sink (and Exporter, if set)
// before returning.
func (c *Collector) Collect(ctx context.Context, runID string) (*Span, error) {
	return c.CollectFrom(ctx, runID, c.bus.Subscribe(runID))
}

// CollectFrom drives the collection loop over a subscription obtained
// earlier via Subscribe, so the caller controls exactly when
// subscription happens relative to starting the run.
func (c *Collector) CollectFrom(ctx context.Context, runID string, sub *event.Subscription) (*Span, error) {
	defer sub.Unsubscribe()

	root := &Span{RunID: runID, Kind: KindAgent, Name: "run", Attributes: map[string]any{}}
	llmSpans := map[string]*Span{}   // step_id -> in-flight LLM_CALL span (step_id unknown until delta; keyed by run for simplicity)
	toolSpans := map[string]*Span{}  // tool_call_id -> in-flight TOOL_CALL span

	var currentLLM *Span

	for {
		select {
		case <-ctx.Done():
			return root, ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return root, nil
			}
			switch ev.Kind {
			case event.KindRunStarted:
				root.StartTime = ev.Timestamp
				root.ParentRunID = ev.ParentRunID
				root.Attributes["agent_id"] = ev.AgentID
				root.Attributes["input_query"] = ev.InputQuery

			case event.KindStepDelta:
				if currentLLM == nil {
					currentLLM = &Span{RunID: runID, Kind: KindLLMCall, Name: "llm_call", StartTime: ev.Timestamp}
					root.Children = append(root.Children, currentLLM)
				}

			case event.KindStepCompleted:
				if currentLLM == nil {
					currentLLM = &Span{RunID: runID, Kind: KindLLMCall, Name: "llm_call", StartTime: ev.Timestamp}
					root.Children = append(root.Children, currentLLM)
				}
				currentLLM.EndTime = ev.Timestamp
				if ev.Snapshot != nil {
					currentLLM.Attributes = map[string]any{"content_length": len(ev.Snapshot.Content), "tool_call_count": len(ev.Snapshot.ToolCalls)}
				}
				llmSpans[ev.StepID] = currentLLM
				currentLLM = nil

			case event.KindToolCallStarted:
				span := &Span{RunID: runID, Kind: KindToolCall, Name: ev.ToolName, StartTime: ev.Timestamp, Attributes: map[string]any{"arguments": ev.Arguments}}
				toolSpans[ev.ToolCallID] = span
				root.Children = append(root.Children, span)

			case event.KindToolCallCompleted, event.KindToolCallFailed:
				if span, ok := toolSpans[ev.ToolCallID]; ok {
					span.EndTime = ev.Timestamp
					span.Attributes["is_success"] = ev.IsSuccess
				}

			case event.KindRunCompleted, event.KindRunFailed:
				root.EndTime = ev.Timestamp
				if c.sink != nil {
					if err := c.sink.SaveTrace(ctx, runID, root); err != nil {
						return root, err
					}
				}
				if c.exporter != nil {
					if err := c.exporter.Export(ctx, root); err != nil {
						return root, err
					}
				}
				return root, nil
			}
		}
	}
}
