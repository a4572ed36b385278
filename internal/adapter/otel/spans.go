package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "queryforge"

// StartDispatchSpan starts a span for handling one dispatch request.
func StartDispatchSpan(ctx context.Context, taskID, address string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "dispatch",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("task.address", address),
		),
	)
}

// StartTaskSpan starts a span for one task's run.
func StartTaskSpan(ctx context.Context, taskID string, root bool) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Bool("task.root", root),
		),
	)
}
