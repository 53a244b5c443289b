package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	lifecycleTracerName = "examlab-environment"
	checksTracerName    = "examlab-checks"
	probeTracerName     = "examlab-probe"
)

// TraceLifecycle creates a span for an environment lifecycle operation (ensure, stop, reset).
func TraceLifecycle(ctx context.Context, op string, taskID int, instance string) (context.Context, trace.Span) {
	ctx, span := Tracer(lifecycleTracerName).Start(ctx, "environment."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.Int("task_id", taskID),
		attribute.String("instance", instance),
	)
	return ctx, span
}

// TraceCheckRun creates a span covering one check routine.
func TraceCheckRun(ctx context.Context, taskID int, strategy string) (context.Context, trace.Span) {
	ctx, span := Tracer(checksTracerName).Start(ctx, "checks.run",
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	span.SetAttributes(
		attribute.Int("task_id", taskID),
		attribute.String("strategy", strategy),
	)
	return ctx, span
}

// TraceProbe creates a client span for a single probe command.
func TraceProbe(ctx context.Context, instance string, argv []string) (context.Context, trace.Span) {
	ctx, span := Tracer(probeTracerName).Start(ctx, "probe.exec",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("instance", instance),
		attribute.StringSlice("argv", argv),
	)
	return ctx, span
}

// EndWithStatus records status and err on span, then ends it.
func EndWithStatus(span trace.Span, status string, err error) {
	if status != "" {
		span.SetAttributes(attribute.String("status", status))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
