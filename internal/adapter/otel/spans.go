package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "ledgersync"

// StartPassSpan starts a span for a reconciliation pass.
func StartPassSpan(ctx context.Context, passID, repository string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "reconcile.pass",
		trace.WithAttributes(
			attribute.String("pass.id", passID),
			attribute.String("repository", repository),
		),
	)
}

// StartCreateSpan starts a span for creating one issue's ledger entry.
func StartCreateSpan(ctx context.Context, repository string, number int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "issue.create",
		trace.WithAttributes(
			attribute.String("repository", repository),
			attribute.Int("issue.number", number),
		),
	)
}

// StartEventSpan starts a span for handling one issue event.
func StartEventSpan(ctx context.Context, action, repository string, number int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "issue.event",
		trace.WithAttributes(
			attribute.String("event.action", action),
			attribute.String("repository", repository),
			attribute.Int("issue.number", number),
		),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
