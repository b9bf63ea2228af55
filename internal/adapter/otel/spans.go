package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "responder"

// StartWorkflowSpan starts a span covering one disaster workflow.
func StartWorkflowSpan(ctx context.Context, disasterID, workflowID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "workflow",
		trace.WithAttributes(
			attribute.String("disaster.id", disasterID),
			attribute.String("workflow.id", workflowID),
		),
	)
}

// StartDeliverySpan starts a span for one delivery channel within a dispatch.
func StartDeliverySpan(ctx context.Context, alertID, channel string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "delivery",
		trace.WithAttributes(
			attribute.String("alert.id", alertID),
			attribute.String("delivery.channel", channel),
		),
	)
}
