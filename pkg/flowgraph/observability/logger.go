// Package observability holds the log helpers, OpenTelemetry metrics and
// tracing used by graph runs and by the askdata pipeline nodes.
//
// Metrics and tracing stay off (no-op) until enabled; Setup installs
// the exporters behind them.
package observability

import (
	"context"
	"log/slog"
)

// All helpers accept a nil logger and then do nothing, which is how a
// run without WithObservabilityLogger stays quiet.

func emit(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

func errAttr(err error) slog.Attr { return slog.String("error", err.Error()) }

// EnrichLogger returns logger with run_id, node_id and attempt attached.
func EnrichLogger(logger *slog.Logger, runID, nodeID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(slog.String("run_id", runID), slog.String("node_id", nodeID), slog.Int("attempt", attempt))
}

func LogRunStart(logger *slog.Logger, runID string) {
	emit(logger, slog.LevelInfo, "graph run starting", slog.String("run_id", runID))
}

func LogRunComplete(logger *slog.Logger, runID string, durationMs float64, nodeCount int) {
	emit(logger, slog.LevelInfo, "graph run completed",
		slog.String("run_id", runID),
		slog.Float64("duration_ms", durationMs),
		slog.Int("nodes_executed", nodeCount))
}

// LogRunError names the node the run stopped at as last_node.
func LogRunError(logger *slog.Logger, runID string, err error, durationMs float64, lastNode string) {
	emit(logger, slog.LevelError, "graph run failed",
		slog.String("run_id", runID),
		errAttr(err),
		slog.Float64("duration_ms", durationMs),
		slog.String("last_node", lastNode))
}

func LogNodeStart(logger *slog.Logger, nodeID string) {
	emit(logger, slog.LevelDebug, "node starting", slog.String("node_id", nodeID))
}

func LogNodeComplete(logger *slog.Logger, nodeID string, durationMs float64) {
	emit(logger, slog.LevelDebug, "node completed", slog.String("node_id", nodeID), slog.Float64("duration_ms", durationMs))
}

func LogNodeError(logger *slog.Logger, nodeID string, err error) {
	emit(logger, slog.LevelError, "node failed", slog.String("node_id", nodeID), errAttr(err))
}

func LogCheckpoint(logger *slog.Logger, nodeID string, sizeBytes int) {
	emit(logger, slog.LevelDebug, "checkpoint saved", slog.String("node_id", nodeID), slog.Int("size_bytes", sizeBytes))
}

// LogCheckpointError is a warning: the run goes on without the checkpoint.
func LogCheckpointError(logger *slog.Logger, nodeID, op string, err error) {
	emit(logger, slog.LevelWarn, "checkpoint failed",
		slog.String("node_id", nodeID),
		slog.String("operation", op),
		errAttr(err))
}

func LogLLMCall(logger *slog.Logger, model string, durationMs float64, inputTokens, outputTokens int) {
	emit(logger, slog.LevelDebug, "llm call completed",
		slog.String("model", model),
		slog.Float64("duration_ms", durationMs),
		slog.Int("input_tokens", inputTokens),
		slog.Int("output_tokens", outputTokens))
}

// LogQuery logs a failed statement at warn since the pipeline usually
// repairs it.
func LogQuery(logger *slog.Logger, sql string, rows int, durationMs float64, err error) {
	if err != nil {
		emit(logger, slog.LevelWarn, "sql execution failed",
			slog.String("sql", sql),
			slog.Float64("duration_ms", durationMs),
			errAttr(err))
		return
	}
	emit(logger, slog.LevelInfo, "sql executed",
		slog.String("sql", sql),
		slog.Int("rows", rows),
		slog.Float64("duration_ms", durationMs))
}
