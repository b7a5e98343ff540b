// Package llm defines the model-provider contract Agio's Step Executor
// drives. Concrete providers are an external collaborator (spec 1's
// "out of scope: model-provider client libraries"); this package only
// fixes the shape every provider adapter must satisfy.
package llm

import (
	"context"
	"iter"

	"github.com/agio-run/agio/pkg/step"
	"github.com/agio-run/agio/pkg/tool"
)

// Provider identifies the LLM vendor, used only for logging/metrics
// labelling — Agio has no vendor-specific branching.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderUnknown   Provider = "unknown"
)

// Model is the interface every LLM adapter implements. A single
// GenerateContent method covers both streaming and non-streaming: when
// stream=true the sequence yields zero or more partial Chunks followed
// by exactly one final (Partial=false) Chunk suitable for persistence.
type Model interface {
	Name() string
	Provider() Provider

	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Chunk, error]

	Close() error
}

// Request is the input to one LLM call.
type Request struct {
	Messages          []step.Message
	Tools             []tool.Definition
	Config            *GenerateConfig
	SystemInstruction string
}

// GenerateConfig holds generation parameters. Clone performs a deep
// copy so processor pipelines never share mutable state across calls.
type GenerateConfig struct {
	Temperature    *float64
	MaxTokens      *int
	TopP           *float64
	TopK           *int
	StopSequences  []string
	EnableThinking bool
	ThinkingBudget int
	Metadata       map[string]string
}

// Clone returns a deep copy of c, or nil if c is nil.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		v := *c.Temperature
		clone.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		clone.TopP = &v
	}
	if c.TopK != nil {
		v := *c.TopK
		clone.TopK = &v
	}
	if c.StopSequences != nil {
		clone.StopSequences = append([]string(nil), c.StopSequences...)
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCalls FinishReason = "tool_calls"
	FinishError     FinishReason = "error"
)

// ToolCallFragment is one streamed piece of a tool call, indexed by the
// provider's fragment index; name arrives on the first fragment for
// that index, arguments accrue across fragments.
type ToolCallFragment struct {
	Index     int
	CallID    string
	Name      string
	Arguments string
}

// Chunk is one yielded element of GenerateContent's sequence.
type Chunk struct {
	ContentDelta string
	ToolCalls    []ToolCallFragment

	Partial      bool
	FinishReason FinishReason
	Usage        *step.Metrics
	Error        string
}
