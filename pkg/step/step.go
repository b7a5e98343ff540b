// Package step defines the canonical transcript types shared by every
// other package in Agio: Session, Step, Run, Checkpoint, ToolCall and
// ToolResult. Nothing here performs I/O; persistence lives in pkg/session,
// execution in pkg/run and pkg/executor.
package step

import (
	"fmt"
	"time"
)

// Role identifies who produced a Step.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	// RoleSystem only ever appears in a synthetic Message (the Context
	// Builder's prepended system prompt); it is never persisted as a Step.
	RoleSystem Role = "system"
)

// Status is the terminal or in-flight state of a Run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// TerminationReason explains why a Run left the Running state.
type TerminationReason string

const (
	TerminationDone      TerminationReason = "done"
	TerminationMaxSteps  TerminationReason = "max_steps"
	TerminationTimeout   TerminationReason = "timeout"
	TerminationCancelled TerminationReason = "cancelled"
	TerminationError     TerminationReason = "error"
)

// ToolCallRef is one tool invocation requested by an assistant Step.
// CallID is stable within the step; Arguments is the raw JSON-encoded
// argument string, never pretty-printed or re-serialized.
type ToolCallRef struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Metrics aggregates token/latency accounting, optionally attached to a
// Step (single LLM call) or a Run (sum across the run).
type Metrics struct {
	InputTokens  int   `json:"input_tokens,omitempty"`
	OutputTokens int   `json:"output_tokens,omitempty"`
	TotalTokens  int   `json:"total_tokens,omitempty"`
	DurationMS   int64 `json:"duration_ms,omitempty"`
	FirstTokenMS int64 `json:"first_token_ms,omitempty"`
}

// Add accumulates other into m in place, returning m for chaining.
func (m *Metrics) Add(other *Metrics) *Metrics {
	if other == nil {
		return m
	}
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.TotalTokens += other.TotalTokens
	m.DurationMS += other.DurationMS
	if m.FirstTokenMS == 0 || (other.FirstTokenMS > 0 && other.FirstTokenMS < m.FirstTokenMS) {
		m.FirstTokenMS = other.FirstTokenMS
	}
	return m
}

// Step is the atomic, immutable-once-appended transcript unit. Sequence
// is assigned by the Session Store on append and is dense within a
// session: invariant I1 (spec 3) requires {1..N} with no gaps.
type Step struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Sequence   int           `json:"sequence"`
	Role       Role          `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	ToolName   string        `json:"name,omitempty"`
	IsError    bool          `json:"is_error,omitempty"`
	Metrics    *Metrics      `json:"metrics,omitempty"`
	Branch     string        `json:"branch,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// HasToolCalls reports whether this assistant step requested tool calls.
func (s *Step) HasToolCalls() bool {
	return s != nil && len(s.ToolCalls) > 0
}

// Session is the durable, append-only transcript container. Metadata is
// caller-defined (agent id, tags, etc.) and never interpreted by Agio.
type Session struct {
	ID        string         `json:"id"`
	Owner     string         `json:"owner,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Run is one user-query-to-terminal-response execution. A workflow stage
// or parallel branch is itself a Run with ParentRunID set.
type Run struct {
	RunID                string            `json:"run_id"`
	SessionID            string            `json:"session_id"`
	ParentRunID          string            `json:"parent_run_id,omitempty"`
	Depth                int               `json:"depth"`
	AgentID              string            `json:"agent_id"`
	Status               Status            `json:"status"`
	InputQuery           string            `json:"input_query"`
	StartTime            time.Time         `json:"start_time"`
	EndTime              time.Time         `json:"end_time,omitempty"`
	Metrics              Metrics           `json:"metrics"`
	TerminationReason    TerminationReason `json:"termination_reason,omitempty"`
	AgentConfigSnapshot  map[string]any    `json:"agent_config_snapshot,omitempty"`
}

// ToolCall is the transient, parsed form of a ToolCallRef used inside the
// run loop: arguments have already been JSON-decoded by the dispatcher.
type ToolCall struct {
	CallID     string
	Name       string
	Args       map[string]any
	RawArgs    string
	OriginStepID string
}

// ToolResult is the outcome of executing one ToolCall.
type ToolResult struct {
	CallID     string
	Name       string
	Content    string
	IsError    bool
	DurationMS int64
	Metadata   map[string]any
}

// CheckpointPhase records why a checkpoint was captured, supplementing
// the bare at_sequence the wire contract exposes.
type CheckpointPhase string

const (
	PhasePreLLM        CheckpointPhase = "pre_llm"
	PhasePostLLM       CheckpointPhase = "post_llm"
	PhaseToolExecution CheckpointPhase = "tool_execution"
	PhasePostTool      CheckpointPhase = "post_tool"
	PhaseIterationEnd  CheckpointPhase = "iteration_end"
	PhaseError         CheckpointPhase = "error"
)

// Checkpoint is an immutable snapshot sufficient to restart or fork a run.
type Checkpoint struct {
	CheckpointID        string          `json:"checkpoint_id"`
	RunID               string          `json:"run_id"`
	AtSequence           int             `json:"at_sequence"`
	Phase               CheckpointPhase `json:"phase,omitempty"`
	CapturedMessages    []Step          `json:"captured_messages"`
	CapturedMetrics     Metrics         `json:"captured_metrics"`
	AgentConfigSnapshot map[string]any  `json:"agent_config_snapshot,omitempty"`
	UserModifications   map[string]any  `json:"user_modifications,omitempty"`
	Tags                []string        `json:"tags,omitempty"`
	Description         string          `json:"description,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// LLMCallLog is a persisted record of one LLM provider call, kept
// independent of the Step it produced for cost/latency auditing.
type LLMCallLog struct {
	RunID        string    `json:"run_id"`
	SessionID    string    `json:"session_id"`
	StepID       string    `json:"step_id"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	StartedAt    time.Time `json:"started_at"`
	DurationMS   int64     `json:"duration_ms"`
	FirstTokenMS int64     `json:"first_token_ms,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	FinishReason string    `json:"finish_reason,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Stats aggregates LLMCallLog records for a session or the whole store.
type Stats struct {
	TotalCalls     int     `json:"total_calls"`
	TotalTokens    int     `json:"total_tokens"`
	TotalErrors    int     `json:"total_errors"`
	AvgDurationMS  float64 `json:"avg_duration_ms"`
}

// ErrMalformedMessage is returned by MessageToStep when a wire message
// cannot be converted to a Step (unknown role, or tool role without a
// tool_call_id).
type ErrMalformedMessage struct {
	Reason string
}

func (e *ErrMalformedMessage) Error() string {
	return fmt.Sprintf("malformed message: %s", e.Reason)
}
