package flowgraph

import (
	"log/slog"

	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int

	// Checkpointing
	checkpointStore        checkpoint.Store
	runID                  string
	sequence               int
	checkpointFailureFatal bool

	// Observability
	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunConfig returns the default execution configuration.
// Logging is off and metrics and tracing are no-ops until enabled.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 1000,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions.
// Default: 1000
//
// This prevents infinite loops from hanging forever. If a graph
// exceeds this limit, Run returns ErrMaxIterations.
//
// Example:
//
//	result, err := compiled.Run(ctx, state, flowgraph.WithMaxIterations(100))
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithCheckpointing saves a checkpoint to store after every successful node.
// Requires WithRunID.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.checkpointStore = store
	}
}

// WithRunID sets the identifier checkpoints are stored under.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithCheckpointFailureFatal makes a failed checkpoint save abort the run.
// By default failures are logged and execution continues.
func WithCheckpointFailureFatal(fatal bool) RunOption {
	return func(c *runConfig) {
		c.checkpointFailureFatal = fatal
	}
}

// WithObservabilityLogger enables run and node lifecycle logging.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics records OpenTelemetry metrics using the global meter provider.
func WithMetrics(enabled bool) RunOption {
	return func(c *runConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithMetricsRecorder records metrics with a specific recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing creates a span per run and per node using the global
// tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runConfig) {
		c.tracingEnabled = enabled
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// resumeConfig holds configuration for Resume and ResumeFrom.
type resumeConfig struct {
	replayNode    bool
	stateOverride func(any) any
	validateState func(any) error
	runOpts       []RunOption
}

// ResumeOption configures resume behavior.
type ResumeOption func(*resumeConfig)

// WithReplay re-executes the checkpointed node instead of continuing
// with the node after it.
func WithReplay(replay bool) ResumeOption {
	return func(c *resumeConfig) {
		c.replayNode = replay
	}
}

// WithStateOverride modifies the loaded state before execution continues.
// The function receives and must return the graph's state type; any other
// return value is ignored.
func WithStateOverride(fn func(any) any) ResumeOption {
	return func(c *resumeConfig) {
		c.stateOverride = fn
	}
}

// WithStateValidation rejects a loaded state before execution continues.
func WithStateValidation(fn func(any) error) ResumeOption {
	return func(c *resumeConfig) {
		c.validateState = fn
	}
}

// WithRunOptions applies run options (observability, iteration limit) to
// the resumed execution. Checkpointing options are ignored: a resumed run
// always checkpoints to the store it was loaded from.
func WithRunOptions(opts ...RunOption) ResumeOption {
	return func(c *resumeConfig) {
		c.runOpts = append(c.runOpts, opts...)
	}
}
