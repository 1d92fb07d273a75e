package observability

import (
	"context"
	"fmt"

	"smmswarm/internal/config"
	"smmswarm/internal/ids"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "smmswarm"

// TracerProvider wraps the OpenTelemetry tracer used across the services.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NoopTracer returns a provider whose spans are discarded.
func NoopTracer() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(tracerName)}
}

// NewTracerProvider creates a tracer provider, or a noop one when tracing is
// disabled.
func NewTracerProvider(cfg config.TracingConfig, version string) (*TracerProvider, error) {
	if !cfg.Enabled {
		return NoopTracer(), nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = tracerName
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1.0 {
		cfg.SampleRate = 1.0
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp", "":
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4318"
		}
		exporter, err = otlptracehttp.New(
			context.Background(),
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	case "zipkin":
		endpoint := cfg.ZipkinEndpoint
		if endpoint == "" {
			endpoint = "http://localhost:9411/api/v2/spans"
		}
		exporter, err = zipkin.New(endpoint)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", cfg.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, tracer: provider.Tracer(tracerName)}, nil
}

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp != nil && tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a span carrying the request identifiers found in ctx.
// A nil provider behaves like a noop tracer.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if tp == nil || tp.tracer == nil {
		tp = NoopTracer()
	}
	scope := ids.FromContext(ctx)
	if scope.RequestID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, scope.RequestID))
	}
	if scope.SessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, scope.SessionID))
	}
	return tp.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Span names
const (
	SpanTaskStart    = "smm.task.start"
	SpanTaskAnswer   = "smm.task.answer"
	SpanAgentRun     = "smm.agent.run"
	SpanPipelineRun  = "smm.pipeline.run"
	SpanLLMGenerate  = "smm.llm.generate"
	SpanImageGen     = "smm.image.generate"
	SpanImageCompose = "smm.image.compose"
	SpanHTTPServer   = "smm.http.server"
	SpanChatMessage  = "smm.chat.message"
)

// Attribute keys
const (
	AttrRequestID    = "smm.request_id"
	AttrSessionID    = "smm.session_id"
	AttrAgent        = "smm.agent"
	AttrTask         = "smm.llm.task"
	AttrModel        = "smm.llm.model"
	AttrBudget       = "smm.llm.budget"
	AttrInputTokens  = "smm.llm.input_tokens"
	AttrOutputTokens = "smm.llm.output_tokens"
	AttrImageMode    = "smm.image.mode"
	AttrPreset       = "smm.image.preset"
	AttrStatus       = "smm.status"
	AttrError        = "smm.error"
)

// LLMAttrs describes a single model call.
func LLMAttrs(task, model string, budget int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrTask, task),
		attribute.String(AttrModel, model),
		attribute.Int(AttrBudget, budget),
	}
}

// UsageAttrs reports token usage once a call completes.
func UsageAttrs(inputTokens, outputTokens int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrInputTokens, inputTokens),
		attribute.Int(AttrOutputTokens, outputTokens),
	}
}

func StatusAttrs(status string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String(AttrStatus, status)}
}

// ErrorAttrs marks a span as failed.
func ErrorAttrs(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.Bool(AttrError, true),
		attribute.String("error.message", err.Error()),
	}
}
