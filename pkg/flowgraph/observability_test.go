package flowgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// captureLogs returns a debug-level JSON logger and a func decoding what it wrote.
func captureLogs() (*slog.Logger, func() []map[string]any) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() []map[string]any {
		var records []map[string]any
		dec := json.NewDecoder(&buf)
		for dec.More() {
			var m map[string]any
			if err := dec.Decode(&m); err != nil {
				break
			}
			records = append(records, m)
		}
		return records
	}
}

func messages(records []map[string]any) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r["msg"].(string))
	}
	return out
}

func TestRun_ObservabilityLogger(t *testing.T) {
	compiled, err := newPipeline(classifyAfter(1, "chat")).Compile()
	require.NoError(t, err)

	t.Run("success", func(t *testing.T) {
		logger, records := captureLogs()
		store := checkpoint.NewMemoryStore()
		ctx := NewContext(context.Background(), WithContextRunID("run-log"))
		_, err := compiled.Run(ctx, pipelineState{},
			WithObservabilityLogger(logger), WithCheckpointing(store), WithRunID("run-log"))
		require.NoError(t, err)

		got := records()
		assert.Equal(t, []string{
			"graph run starting",
			"node starting", "node completed", "checkpoint saved",
			"node starting", "node completed", "checkpoint saved",
			"graph run completed",
		}, messages(got))
		assert.Equal(t, "run-log", got[0]["run_id"])
		assert.EqualValues(t, 2, got[len(got)-1]["nodes_executed"])
	})

	t.Run("failure names the node", func(t *testing.T) {
		logger, records := captureLogs()
		failingGraph, err := NewGraph[pipelineState]().
			AddNode("execute_sql", failing(errors.New("syntax error"))).
			AddEdge("execute_sql", END).
			SetEntry("execute_sql").
			Compile()
		require.NoError(t, err)

		_, err = failingGraph.Run(testCtx(), pipelineState{}, WithObservabilityLogger(logger))
		require.Error(t, err)

		got := records()
		last := got[len(got)-1]
		assert.Equal(t, "graph run failed", last["msg"])
		assert.Equal(t, "execute_sql", last["last_node"])
		assert.Contains(t, messages(got), "node failed")
	})

	t.Run("nil logger is silent", func(t *testing.T) {
		_, err := compiled.Run(testCtx(), pipelineState{}, WithObservabilityLogger(nil))
		assert.NoError(t, err)
	})
}

func TestRun_MetricsRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	recorder, err := observability.NewMetricsRecorderFromMeter(provider.Meter("test"))
	require.NoError(t, err)

	compiled, err := newPipeline(classifyAfter(2, "database")).Compile()
	require.NoError(t, err)
	_, err = compiled.Run(testCtx(), pipelineState{}, WithMetricsRecorder(recorder))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), totals["flowgraph.node.executions"])
	assert.Equal(t, int64(1), totals["flowgraph.graph.runs"])
}

func TestRun_ToggleOptions(t *testing.T) {
	compiled, err := newPipeline(classifyAfter(1, "chat")).Compile()
	require.NoError(t, err)

	for _, opts := range [][]RunOption{
		{WithMetrics(false), WithTracing(false)},
		{WithMetrics(true), WithTracing(true)},
		{WithMetricsRecorder(nil)},
	} {
		result, err := compiled.Run(testCtx(), pipelineState{}, opts...)
		require.NoError(t, err)
		assert.Equal(t, []string{"classify", "chat"}, result.Steps)
	}

	cfg := defaultRunConfig()
	WithTracing(true)(&cfg)
	assert.True(t, cfg.tracingEnabled)
	WithTracing(false)(&cfg)
	assert.False(t, cfg.tracingEnabled)
	assert.IsType(t, observability.NoopSpanManager{}, cfg.spans)
}

func TestRun_TracingNodeSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})

	annotate := func(ctx Context, s pipelineState) (pipelineState, error) {
		observability.AddSpanEvent(ctx, "answered", attribute.String("node", ctx.NodeID()))
		s.Steps = append(s.Steps, "chat")
		return s, nil
	}
	compiled, err := NewGraph[pipelineState]().
		AddNode("classify", classifyAfter(1, "chat")).
		AddNode("query", step("query")).
		AddNode("chat", annotate).
		AddConditionalEdge("classify", routeByLabel).
		AddEdge("query", END).
		AddEdge("chat", END).
		SetEntry("classify").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Run(NewContext(context.Background(), WithContextRunID("run-trace")), pipelineState{}, WithTracing(true))
	require.NoError(t, err)

	spans := exp.GetSpans()
	require.Len(t, spans, 3)
	names := []string{spans[0].Name, spans[1].Name, spans[2].Name}
	assert.Equal(t, []string{"flowgraph.node.classify", "flowgraph.node.chat", "flowgraph.run"}, names)

	run := spans[2]
	for _, node := range spans[:2] {
		assert.Equal(t, run.SpanContext.SpanID(), node.Parent.SpanID())
	}
	require.Len(t, spans[1].Events, 1)
	assert.Equal(t, "answered", spans[1].Events[0].Name)
}
