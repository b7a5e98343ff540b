// Package event implements the Event Bus (C9): a fan-out, in-process
// channel from one producer (a run's coordinator/executor) to any number
// of subscribers. It is a lossy projection of the Session Store — no
// component may depend on receiving every event.
package event

import (
	"time"

	"github.com/agio-run/agio/pkg/step"
)

// Kind enumerates the complete event vocabulary (spec 4.9).
type Kind string

const (
	KindRunStarted         Kind = "run_started"
	KindRunCompleted       Kind = "run_completed"
	KindRunFailed          Kind = "run_failed"
	KindStepDelta          Kind = "step_delta"
	KindStepCompleted      Kind = "step_completed"
	KindToolCallStarted    Kind = "tool_call_started"
	KindToolCallCompleted  Kind = "tool_call_completed"
	KindToolCallFailed     Kind = "tool_call_failed"
	KindStageStarted       Kind = "stage_started"
	KindStageCompleted     Kind = "stage_completed"
	KindStageSkipped       Kind = "stage_skipped"
	KindBranchStarted      Kind = "branch_started"
	KindBranchCompleted    Kind = "branch_completed"
	KindIterationStarted   Kind = "iteration_started"
	KindIterationCompleted Kind = "iteration_completed"
	KindError              Kind = "error"
)

// ToolCallDelta is one streamed fragment of a tool call inside a
// step_delta event, indexed by the provider's fragment index.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Delta carries the incremental content of a step_delta event.
type Delta struct {
	Content   string          `json:"content,omitempty"`
	ToolCalls []ToolCallDelta `json:"tool_calls,omitempty"`
}

// Event is the discriminated value emitted on the bus. Only the fields
// relevant to Kind are populated; a single wide struct rather than a Go
// type union keeps JSON encoding for the SSE transport trivial.
type Event struct {
	Kind        Kind      `json:"event"`
	RunID       string    `json:"run_id"`
	SessionID   string    `json:"session_id,omitempty"`
	StepID      string    `json:"step_id,omitempty"`
	ParentRunID string    `json:"parent_run_id,omitempty"`
	Depth       int       `json:"depth,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	InputQuery  string    `json:"input_query,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	Delta    *Delta     `json:"delta,omitempty"`
	Snapshot *step.Step `json:"snapshot,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
	Arguments  string `json:"arguments,omitempty"`
	Result     string `json:"result,omitempty"`
	IsSuccess  bool    `json:"is_success,omitempty"`
	DurationMS int64   `json:"duration,omitempty"`

	WorkflowType string   `json:"workflow_type,omitempty"`
	TotalStages  int      `json:"total_stages,omitempty"`
	BranchIDs    []string `json:"branch_ids,omitempty"`
	StageName    string   `json:"stage_name,omitempty"`
	Iteration    int      `json:"iteration,omitempty"`

	Metrics           *step.Metrics         `json:"metrics,omitempty"`
	TerminationReason step.TerminationReason `json:"termination_reason,omitempty"`
	Error             string                 `json:"error,omitempty"`
}
