//go:build oteltracing

// Package tracing wraps discovery cycles and token rounds in OpenTelemetry
// spans. It is entirely optional: build without the oteltracing tag (see
// stub.go) and every exported func here is a zero-cost no-op, so protocol
// code can call them unconditionally.
//
// usage: go build -tags oteltracing
package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/anachro-go/rs485bus"

// Conf mirrors the teacher's cmn.TracingConf: whether tracing is on and
// what fraction of spans to sample.
type Conf struct {
	Enabled            bool
	SamplerProbability float64
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
)

// Init configures the global tracer provider for role (e.g. "dom",
// "sub") against exporter, which must implement sdktrace.SpanExporter
// (accepted as any so the stub build doesn't need to import the SDK).
// A nil exporter with cfg.Enabled true is a caller error; tests pass an
// in-memory exporter.
func Init(cfg Conf, role, version string, exporter any) {
	mu.Lock()
	defer mu.Unlock()
	enabled = cfg.Enabled
	if !cfg.Enabled {
		return
	}
	exp := exporter.(sdktrace.SpanExporter)
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceNameKey.String("rs485bus-"+role),
		attribute.String("version", version),
	)
	sampler := sdktrace.TraceIDRatioBased(cfg.SamplerProbability)
	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	tracer = provider.Tracer(tracerName)
}

// IsEnabled reports whether Init was last called with tracing on.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// Shutdown flushes and releases the provider. Safe to call when
// tracing was never enabled.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	p := provider
	provider = nil
	enabled = false
	mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Shutdown(ctx)
}

// ForceFlush blocks until all buffered spans are exported, for tests.
func ForceFlush(ctx context.Context) error {
	mu.Lock()
	p := provider
	mu.Unlock()
	if p == nil {
		return nil
	}
	return p.ForceFlush(ctx)
}

// StartDiscoverySpan opens a span around one Dom discovery cycle,
// tagged with the correlation ID the cycle logs under.
func StartDiscoverySpan(ctx context.Context, cycleID string) (context.Context, trace.Span) {
	mu.Lock()
	t := tracer
	mu.Unlock()
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.Start(ctx, "discover.cycle", trace.WithAttributes(attribute.String("cycle_id", cycleID)))
}

// StartTokenSpan opens a span around one Dom token-grant round for
// addr.
func StartTokenSpan(ctx context.Context, addr int) (context.Context, trace.Span) {
	mu.Lock()
	t := tracer
	mu.Unlock()
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.Start(ctx, "token.round", trace.WithAttributes(attribute.Int("addr", addr)))
}
