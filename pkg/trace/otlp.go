package trace

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTLPExporterConfig configures the OTLP gRPC trace exporter: an
// endpoint, a service name, and an insecure flag for local collectors.
type OTLPExporterConfig struct {
	Endpoint    string
	ServiceName string
	Insecure    bool
}

// OTLPExporter re-emits a collected Span tree as OTEL spans via an OTLP
// gRPC exporter. It is constructed once and reused across runs.
type OTLPExporter struct {
	tracerProvider *sdktrace.TracerProvider
	tracer         oteltrace.Tracer
}

// NewOTLPExporter dials cfg.Endpoint and builds the backing TracerProvider.
func NewOTLPExporter(ctx context.Context, cfg OTLPExporterConfig) (*OTLPExporter, error) {
	var opts []otlptracegrpc.Option
	opts = append(opts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("trace: otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("trace: otlp resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	return &OTLPExporter{tracerProvider: tp, tracer: tp.Tracer("agio/trace")}, nil
}

// Export walks root and its children, opening one OTEL span per node.
func (o *OTLPExporter) Export(ctx context.Context, root *Span) error {
	o.exportSpan(ctx, root)
	return o.tracerProvider.ForceFlush(ctx)
}

func (o *OTLPExporter) exportSpan(ctx context.Context, s *Span) {
	spanCtx, otelSpan := o.tracer.Start(ctx, s.Name,
		oteltrace.WithTimestamp(s.StartTime),
		oteltrace.WithAttributes(attribute.String("agio.kind", string(s.Kind)), attribute.String("agio.run_id", s.RunID)),
	)
	for k, v := range s.Attributes {
		otelSpan.SetAttributes(attribute.String("agio."+k, fmt.Sprintf("%v", v)))
	}
	for _, child := range s.Children {
		o.exportSpan(spanCtx, child)
	}
	end := s.EndTime
	if end.IsZero() {
		end = s.StartTime
	}
	otelSpan.End(oteltrace.WithTimestamp(end))
}

// Shutdown flushes and releases the underlying TracerProvider.
func (o *OTLPExporter) Shutdown(ctx context.Context) error {
	return o.tracerProvider.Shutdown(ctx)
}

// SetGlobal installs this exporter's TracerProvider as the process-wide
// default.
func (o *OTLPExporter) SetGlobal() {
	otel.SetTracerProvider(o.tracerProvider)
}
