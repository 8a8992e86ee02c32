//go:build !oteltracing

// Package tracing, built without the oteltracing tag: every call is a
// no-op so proto/discover and proto/token can call these functions
// unconditionally without paying for the OpenTelemetry SDK.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type Conf struct {
	Enabled            bool
	SamplerProbability float64
}

func Init(Conf, string, string, any) {}

func IsEnabled() bool { return false }

func Shutdown(context.Context) error { return nil }

func ForceFlush(context.Context) error { return nil }

func StartDiscoverySpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}

func StartTokenSpan(ctx context.Context, _ int) (context.Context, trace.Span) {
	return ctx, trace.SpanFromContext(ctx)
}
