package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is the MetricsRecorder used while metrics are off.
type NoopMetrics struct{}

var _ MetricsRecorder = NoopMetrics{}

func (NoopMetrics) RecordNodeExecution(context.Context, string, time.Duration, error)     {}
func (NoopMetrics) RecordGraphRun(context.Context, bool, time.Duration)                   {}
func (NoopMetrics) RecordCheckpoint(context.Context, string, int64)                       {}
func (NoopMetrics) RecordLLMCall(context.Context, string, time.Duration, int, int, error) {}
func (NoopMetrics) RecordQuery(context.Context, int, time.Duration, error)                {}

// NoopSpanManager is the SpanManager used while tracing is off. It
// hands back ctx unchanged.
type NoopSpanManager struct{}

var _ SpanManager = NoopSpanManager{}

func (NoopSpanManager) StartRunSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) StartNodeSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}
