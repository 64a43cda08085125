package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer for the two places a run spends most
// of its wall time: the ReAct loop's reason-act-observe cycle and the tool
// dispatcher's individual tool executions.
//
// Usage:
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "codeframe",
//	    Endpoint:    os.Getenv("OTEL_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures the distributed tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion identifies the service version.
	ServiceVersion string

	// Environment is the deployment environment (production, staging, dev).
	Environment string

	// Endpoint is the OTLP collector endpoint (e.g., "localhost:4317").
	// If empty, a no-op tracer is returned.
	Endpoint string

	// SamplingRate controls what fraction of traces are recorded (0.0 to
	// 1.0). Defaults to 1.0 if not specified.
	SamplingRate float64

	// EnableInsecure disables TLS for the OTLP connection (dev/testing only).
	EnableInsecure bool
}

// NewTracer creates a Tracer and a shutdown function that must be called on
// exit. If config.Endpoint is empty, or the exporter cannot be constructed,
// the returned tracer is a no-op that never leaves the process.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = "codeframe"
	}
	noop := func(context.Context) error { return nil }

	if config.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, noop
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}, noop
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	tracer := &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}
	return tracer, provider.Shutdown
}

// Start creates a new span and returns a context carrying it. The caller
// must end the span.
func (t *Tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	var opts []trace.SpanStartOption
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return t.tracer.Start(ctx, name, opts...)
}

// RecordError records an error on the span and marks its status accordingly.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// TraceAgentRun starts the top-level span for one ReAct loop iteration.
func (t *Tracer) TraceAgentRun(ctx context.Context, taskID string, iteration int) (context.Context, trace.Span) {
	return t.Start(ctx, "agent.loop.iteration",
		attribute.String("task_id", taskID),
		attribute.Int("iteration", iteration),
	)
}

// TraceToolExecution starts a span for a single tool dispatch.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName, toolCallID string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("tool.%s", toolName), attribute.String("tool.name", toolName), attribute.String("tool.call_id", toolCallID))
}

// GetTraceID returns the active trace ID as a string, or "" if no span is
// recording.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}
