package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "boardroom"

// StartRoundSpan starts a span for one scoring round of a tree.
func StartRoundSpan(ctx context.Context, treeID string, round int, policy string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "round",
		trace.WithAttributes(
			attribute.String("tree.id", treeID),
			attribute.Int("round", round),
			attribute.String("policy", policy),
		),
	)
}

// StartEvaluationSpan starts a span for one evaluator call.
func StartEvaluationSpan(ctx context.Context, agentID, branchID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "evaluate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("branch.id", branchID),
		),
	)
}

// StartAggregationSpan starts a span for consensus aggregation.
func StartAggregationSpan(ctx context.Context, treeID, mode string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "aggregate",
		trace.WithAttributes(
			attribute.String("tree.id", treeID),
			attribute.String("consensus.mode", mode),
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
