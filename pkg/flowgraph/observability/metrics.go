package observability

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder receives run, node, LLM and SQL measurements.
type MetricsRecorder interface {
	RecordNodeExecution(ctx context.Context, nodeID string, duration time.Duration, err error)
	RecordGraphRun(ctx context.Context, success bool, duration time.Duration)
	RecordCheckpoint(ctx context.Context, nodeID string, sizeBytes int64)
	RecordLLMCall(ctx context.Context, nodeID string, duration time.Duration, inputTokens, outputTokens int, err error)
	RecordQuery(ctx context.Context, rows int, duration time.Duration, err error)
}

type otelMetrics struct {
	nodeRuns, nodeErrors, graphRuns, llmCalls, llmTokens, queries metric.Int64Counter
	nodeMs, graphMs, llmMs, queryMs                               metric.Float64Histogram
	checkpointBytes, queryRows                                    metric.Int64Histogram
}

func newOtelMetricsFrom(meter metric.Meter) (*otelMetrics, error) {
	var (
		m    otelMetrics
		errs []error
	)
	counter := func(dst *metric.Int64Counter, name, desc string) {
		var err error
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
	}
	millis := func(dst *metric.Float64Histogram, name, desc string) {
		var err error
		*dst, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("ms"))
		errs = append(errs, err)
	}
	sizes := func(dst *metric.Int64Histogram, name, desc, unit string) {
		var err error
		*dst, err = meter.Int64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
		errs = append(errs, err)
	}

	counter(&m.nodeRuns, "flowgraph.node.executions", "Node executions")
	counter(&m.nodeErrors, "flowgraph.node.errors", "Node executions that returned an error")
	millis(&m.nodeMs, "flowgraph.node.latency_ms", "Node execution latency")
	counter(&m.graphRuns, "flowgraph.graph.runs", "Graph runs by outcome")
	millis(&m.graphMs, "flowgraph.graph.latency_ms", "Graph run latency")
	sizes(&m.checkpointBytes, "flowgraph.checkpoint.size_bytes", "Encoded checkpoint size", "By")
	counter(&m.llmCalls, "askdata.llm.calls", "LLM calls by node and outcome")
	millis(&m.llmMs, "askdata.llm.latency_ms", "LLM call latency")
	counter(&m.llmTokens, "askdata.llm.tokens", "Tokens consumed, by direction")
	counter(&m.queries, "askdata.sql.queries", "Generated statements executed")
	millis(&m.queryMs, "askdata.sql.latency_ms", "SQL execution latency")
	sizes(&m.queryRows, "askdata.sql.rows", "Rows returned per statement", "{row}")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &m, nil
}

var global = sync.OnceValues(func() (*otelMetrics, error) {
	return newOtelMetricsFrom(otel.Meter(tracerName))
})

// NewMetricsRecorder records through the global meter provider, so call
// it after Setup. The instruments are created once per process; if that
// fails a NoopMetrics is returned.
func NewMetricsRecorder() MetricsRecorder {
	m, err := global()
	if err != nil {
		slog.Warn("metrics disabled", slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// NewMetricsRecorderFromMeter records through meter instead of the
// global provider.
func NewMetricsRecorderFromMeter(meter metric.Meter) (MetricsRecorder, error) {
	return newOtelMetricsFrom(meter)
}

func ms(d time.Duration) float64 { return float64(d.Milliseconds()) }

func (m *otelMetrics) RecordNodeExecution(ctx context.Context, nodeID string, d time.Duration, err error) {
	node := metric.WithAttributes(attribute.String("node_id", nodeID))
	m.nodeRuns.Add(ctx, 1, node)
	m.nodeMs.Record(ctx, ms(d), node)
	if err != nil {
		m.nodeErrors.Add(ctx, 1, node)
	}
}

func (m *otelMetrics) RecordGraphRun(ctx context.Context, success bool, d time.Duration) {
	outcome := metric.WithAttributes(attribute.Bool("success", success))
	m.graphRuns.Add(ctx, 1, outcome)
	m.graphMs.Record(ctx, ms(d), outcome)
}

func (m *otelMetrics) RecordCheckpoint(ctx context.Context, nodeID string, size int64) {
	m.checkpointBytes.Record(ctx, size, metric.WithAttributes(attribute.String("node_id", nodeID)))
}

func (m *otelMetrics) RecordLLMCall(ctx context.Context, nodeID string, d time.Duration, in, out int, err error) {
	node := attribute.String("node_id", nodeID)
	attrs := metric.WithAttributes(node, attribute.Bool("success", err == nil))
	m.llmCalls.Add(ctx, 1, attrs)
	m.llmMs.Record(ctx, ms(d), attrs)

	for dir, n := range map[string]int{"input": in, "output": out} {
		if n > 0 {
			m.llmTokens.Add(ctx, int64(n), metric.WithAttributes(node, attribute.String("direction", dir)))
		}
	}
}

// RecordQuery only observes the row count of successful statements.
func (m *otelMetrics) RecordQuery(ctx context.Context, rows int, d time.Duration, err error) {
	outcome := metric.WithAttributes(attribute.Bool("success", err == nil))
	m.queries.Add(ctx, 1, outcome)
	m.queryMs.Record(ctx, ms(d), outcome)
	if err == nil {
		m.queryRows.Record(ctx, int64(rows))
	}
}
