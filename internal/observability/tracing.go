// Package observability provides OpenTelemetry tracing and Prometheus
// metrics for eos.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
)

const (
	// TracerName is the name used for the eos tracer.
	TracerName = "github.com/efebarandurmaz/eos"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	// ServiceName is the name of the service (default: "eos")
	ServiceName string

	// ServiceVersion is the version of the service
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	// If empty, tracing is disabled.
	OTLPEndpoint string

	// SampleRate is the trace sampling rate (0.0 to 1.0, default: 1.0)
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "eos",
		ServiceVersion: "0.1.0",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(), // collectors run next to the overlay
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// newResource describes the service. The attributes carry no schema URL so
// they merge with whatever schema the SDK detectors use.
func newResource(ctx context.Context, cfg *TracingConfig) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
}

// Shutdown flushes pending spans and stops the provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// SpanKind constants for eos operations.
const (
	SpanKindCompletion = "completion"
	SpanKindCommand    = "command"
	SpanKindSpeech     = "speech"
)

// StartCompletionSpan starts a span for a gateway completion call.
func StartCompletionSpan(ctx context.Context, provider string, historyTurns int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "gateway.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("eos.span.kind", SpanKindCompletion),
			attribute.String("llm.provider", provider),
			attribute.Int("gateway.history_turns", historyTurns),
		),
	)
}

// RecordRender records how the history was flattened.
func RecordRender(span trace.Span, kept, skipped, promptBytes int) {
	span.SetAttributes(
		attribute.Int("gateway.turns_kept", kept),
		attribute.Int("gateway.turns_skipped", skipped),
		attribute.Int("gateway.prompt_bytes", promptBytes),
	)
}

// RecordCompletion records the outcome of a successful completion.
func RecordCompletion(span trace.Span, statusCode, tokensEvaluated, tokensPredicted int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("http.response.status_code", statusCode),
		attribute.Int("llm.input_tokens", tokensEvaluated),
		attribute.Int("llm.output_tokens", tokensPredicted),
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
	)
}

// StartCommandSpan starts a span for a command invoked through the bridge.
func StartCommandSpan(ctx context.Context, command string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("bridge.%s", command),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("eos.span.kind", SpanKindCommand),
			attribute.String("bridge.command", command),
		),
	)
}

// StartSpeechSpan starts a span for a speech-to-text session.
func StartSpeechSpan(ctx context.Context, url string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "speech.transcribe",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("eos.span.kind", SpanKindSpeech),
			attribute.String("speech.url", url),
		),
	)
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
