package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/randalmurphal/askdata/pkg/flowgraph"

// SpanManager opens the run span and one child span per node.
type SpanManager interface {
	StartRunSpan(ctx context.Context, graphName, runID string) (context.Context, trace.Span)
	StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span)
	// EndSpanWithError sets the span status from err and ends it.
	EndSpanWithError(span trace.Span, err error)
}

type otelSpans struct {
	tracer trace.Tracer
}

// NewSpanManager traces through the global tracer provider, so call it
// after Setup.
func NewSpanManager() SpanManager {
	return otelSpans{tracer: otel.Tracer(tracerName)}
}

func (s otelSpans) StartRunSpan(ctx context.Context, graphName, runID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "flowgraph.run", trace.WithAttributes(
		attribute.String("graph.name", graphName),
		attribute.String("run.id", runID),
	))
}

func (s otelSpans) StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "flowgraph.node."+nodeID, trace.WithAttributes(
		attribute.String("node.id", nodeID),
	))
}

func (otelSpans) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent annotates the span carried by ctx. Nodes call it with
// their flowgraph.Context, which carries the node span while tracing is
// on; otherwise it does nothing.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
