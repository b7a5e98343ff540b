// Package executor implements the Step Executor (C4): drives one LLM
// call, streaming partial tokens while assembling the canonical
// assistant Step from accumulated content and tool-call fragments,
// independent of any one provider's wire format.
package executor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agio-run/agio/pkg/event"
	"github.com/agio-run/agio/pkg/llm"
	"github.com/agio-run/agio/pkg/step"
)

// Executor drives a single streaming LLM call and assembles the result.
type Executor struct {
	model llm.Model
	bus   *event.Bus
}

// New constructs an Executor over model, publishing progress to bus.
func New(model llm.Model, bus *event.Bus) *Executor {
	return &Executor{model: model, bus: bus}
}

type fragment struct {
	index     int
	callID    string
	name      string
	arguments string
}

// Execute runs one LLM turn and returns the canonical assistant Step.
// The returned Step has no sequence yet; the Session Store assigns it on
// append. Events (step_delta, step_completed, error) are published to
// the bus under runID as they occur.
func (e *Executor) Execute(ctx context.Context, runID, sessionID string, req *llm.Request) (*step.Step, error) {
	start := time.Now()
	var (
		content      string
		firstTokenMS int64
		frags        = map[int]*fragment{}
		order        []int
		usage        *step.Metrics
	)

	for chunk, err := range e.model.GenerateContent(ctx, req, true) {
		if err != nil {
			e.bus.Publish(event.Event{Kind: event.KindError, RunID: runID, SessionID: sessionID, Error: err.Error(), Timestamp: time.Now().UTC()})
			return nil, fmt.Errorf("executor: model stream: %w", err)
		}
		if chunk == nil {
			continue
		}

		if chunk.ContentDelta != "" && firstTokenMS == 0 {
			firstTokenMS = time.Since(start).Milliseconds()
		}
		content += chunk.ContentDelta

		var deltaToolCalls []event.ToolCallDelta
		for _, tc := range chunk.ToolCalls {
			f, ok := frags[tc.Index]
			if !ok {
				f = &fragment{index: tc.Index}
				frags[tc.Index] = f
				order = append(order, tc.Index)
			}
			if tc.CallID != "" {
				f.callID = tc.CallID
			}
			if tc.Name != "" {
				f.name = tc.Name
			}
			f.arguments += tc.Arguments
			deltaToolCalls = append(deltaToolCalls, event.ToolCallDelta{Index: tc.Index, ID: tc.CallID, Name: tc.Name, Arguments: tc.Arguments})
		}

		if chunk.Usage != nil {
			usage = chunk.Usage
		}

		if chunk.Partial {
			if chunk.ContentDelta != "" || len(deltaToolCalls) > 0 {
				e.bus.Publish(event.Event{
					Kind:      event.KindStepDelta,
					RunID:     runID,
					SessionID: sessionID,
					Delta:     &event.Delta{Content: chunk.ContentDelta, ToolCalls: deltaToolCalls},
					Timestamp: time.Now().UTC(),
				})
			}
			continue
		}
		// Final, non-partial chunk: state is already accumulated above.
	}

	sort.Ints(order)
	toolCalls := make([]step.ToolCallRef, 0, len(order))
	for _, idx := range order {
		f := frags[idx]
		callID := f.callID
		if callID == "" {
			callID = fmt.Sprintf("call_%d", idx)
		}
		toolCalls = append(toolCalls, step.ToolCallRef{CallID: callID, Name: f.name, Arguments: f.arguments})
	}

	metrics := &step.Metrics{FirstTokenMS: firstTokenMS, DurationMS: time.Since(start).Milliseconds()}
	if usage != nil {
		metrics.InputTokens = usage.InputTokens
		metrics.OutputTokens = usage.OutputTokens
		metrics.TotalTokens = usage.TotalTokens
	}

	snapshot := &step.Step{
		Role:      step.RoleAssistant,
		Content:   content,
		ToolCalls: toolCalls,
		Metrics:   metrics,
		CreatedAt: time.Now().UTC(),
	}

	e.bus.Publish(event.Event{
		Kind:      event.KindStepCompleted,
		RunID:     runID,
		SessionID: sessionID,
		Snapshot:  snapshot,
		Timestamp: time.Now().UTC(),
	})

	return snapshot, nil
}
