// Package observability wires ambient metrics: run/step/tool/LLM call
// counters and duration histograms recorded through a small Metrics
// interface, so a backend (Prometheus via OTEL, or none) can be swapped
// without touching call sites.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics is the ambient recorder interface; a chosen backend is
// external per spec 1 ("out of scope: a chosen metrics backend").
type Metrics interface {
	RecordRun(ctx context.Context, agentID, status string, duration time.Duration)
	RecordStep(ctx context.Context, role string)
	RecordToolCall(ctx context.Context, toolName string, isError bool, duration time.Duration)
	RecordLLMCall(ctx context.Context, provider string, tokens int, duration time.Duration)
}

// NoopMetrics discards every recording; the default until a backend is configured.
type NoopMetrics struct{}

func (NoopMetrics) RecordRun(context.Context, string, string, time.Duration)    {}
func (NoopMetrics) RecordStep(context.Context, string)                         {}
func (NoopMetrics) RecordToolCall(context.Context, string, bool, time.Duration) {}
func (NoopMetrics) RecordLLMCall(context.Context, string, int, time.Duration)   {}

// OTelMetrics records via an OTEL metric.Meter, which the Prometheus
// exporter (go.opentelemetry.io/otel/exporters/prometheus) then scrapes.
type OTelMetrics struct {
	runDuration  metric.Float64Histogram
	stepCount    metric.Int64Counter
	toolDuration metric.Float64Histogram
	toolErrors   metric.Int64Counter
	llmTokens    metric.Int64Counter
	llmDuration  metric.Float64Histogram
}

// NewOTelMetrics builds the instrument set on meter.
func NewOTelMetrics(meter metric.Meter) (*OTelMetrics, error) {
	runDuration, err := meter.Float64Histogram("agio.run.duration_seconds")
	if err != nil {
		return nil, err
	}
	stepCount, err := meter.Int64Counter("agio.steps.total")
	if err != nil {
		return nil, err
	}
	toolDuration, err := meter.Float64Histogram("agio.tool.duration_seconds")
	if err != nil {
		return nil, err
	}
	toolErrors, err := meter.Int64Counter("agio.tool.errors_total")
	if err != nil {
		return nil, err
	}
	llmTokens, err := meter.Int64Counter("agio.llm.tokens_total")
	if err != nil {
		return nil, err
	}
	llmDuration, err := meter.Float64Histogram("agio.llm.duration_seconds")
	if err != nil {
		return nil, err
	}
	return &OTelMetrics{
		runDuration:  runDuration,
		stepCount:    stepCount,
		toolDuration: toolDuration,
		toolErrors:   toolErrors,
		llmTokens:    llmTokens,
		llmDuration:  llmDuration,
	}, nil
}

func (m *OTelMetrics) RecordRun(ctx context.Context, agentID, status string, d time.Duration) {
	m.runDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("agent_id", agentID), attribute.String("status", status)))
}

func (m *OTelMetrics) RecordStep(ctx context.Context, role string) {
	m.stepCount.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

func (m *OTelMetrics) RecordToolCall(ctx context.Context, toolName string, isError bool, d time.Duration) {
	m.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", toolName)))
	if isError {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", toolName)))
	}
}

func (m *OTelMetrics) RecordLLMCall(ctx context.Context, provider string, tokens int, d time.Duration) {
	m.llmTokens.Add(ctx, int64(tokens), metric.WithAttributes(attribute.String("provider", provider)))
	m.llmDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("provider", provider)))
}

var _ Metrics = (*OTelMetrics)(nil)
var _ Metrics = NoopMetrics{}
