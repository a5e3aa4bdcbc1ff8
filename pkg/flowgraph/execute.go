package flowgraph

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
)

// Run executes the graph from its entry node until a node routes to END.
//
// The returned state is the last one a node produced, on error as well,
// so a caller can show how far a question got. Before each node the
// context is checked for cancellation; after each node the router (or the
// simple edge) picks the next one and, with WithCheckpointing, the state
// is saved.
//
//	result, err := compiled.Run(ctx, State{Question: q},
//	    flowgraph.WithCheckpointing(store),
//	    flowgraph.WithRunID(runID))
func (cg *CompiledGraph[S]) Run(ctx Context, state S, opts ...RunOption) (S, error) {
	if ctx == nil {
		return state, ErrNilContext
	}

	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.checkpointStore != nil && cfg.runID == "" {
		return state, ErrRunIDRequired
	}
	return cg.start(ctx, state, cg.entry, &cfg)
}

// runner walks one run. spanCtx carries the run span; ctx is handed to
// nodes.
type runner[S any] struct {
	cg      *CompiledGraph[S]
	cfg     *runConfig
	ctx     Context
	spanCtx context.Context
	prev    string
	done    int
}

// start wraps a walk from node `from` in run logging, metrics and tracing.
// Run and Resume both come through here.
func (cg *CompiledGraph[S]) start(ctx Context, state S, from string, cfg *runConfig) (out S, err error) {
	runID := cmp.Or(cfg.runID, ctx.RunID())
	began := time.Now()
	observability.LogRunStart(cfg.logger, runID)

	r := &runner[S]{cg: cg, cfg: cfg, ctx: ctx, spanCtx: ctx}
	if cfg.tracingEnabled {
		var span trace.Span
		r.spanCtx, span = cfg.spans.StartRunSpan(ctx, "flowgraph", runID)
		defer func() { cfg.spans.EndSpanWithError(span, err) }()
	}

	out, err = r.walk(state, from)

	elapsed := time.Since(began)
	cfg.metrics.RecordGraphRun(ctx, err == nil, elapsed)
	if err != nil {
		observability.LogRunError(cfg.logger, runID, err, millis(elapsed), failedNode(err))
	} else {
		observability.LogRunComplete(cfg.logger, runID, millis(elapsed), r.done)
	}
	return out, err
}

func millis(d time.Duration) float64 { return float64(d.Milliseconds()) }

func (r *runner[S]) walk(state S, current string) (S, error) {
	for steps := 1; current != END; steps++ {
		if steps > r.cfg.maxIterations {
			return state, &MaxIterationsError{Max: r.cfg.maxIterations, LastNodeID: current, State: state}
		}
		if err := r.ctx.Err(); err != nil {
			return state, &CancellationError{NodeID: current, State: state, Cause: err}
		}

		var err error
		if state, err = r.step(current, state); err != nil {
			return state, err
		}

		next, err := r.route(current, state)
		if err != nil {
			return state, err
		}
		if r.cfg.checkpointStore != nil {
			if err := r.checkpoint(current, state, next); err != nil {
				return state, err
			}
		}
		r.prev, current = current, next
	}
	return state, nil
}

// step runs a single node with its log lines, metrics and span.
func (r *runner[S]) step(id string, state S) (S, error) {
	observability.LogNodeStart(r.cfg.logger, id)

	spanCtx := r.spanCtx
	var span trace.Span
	if r.cfg.tracingEnabled {
		spanCtx, span = r.cfg.spans.StartNodeSpan(r.spanCtx, id)
	}

	began := time.Now()
	out, err := r.cg.invoke(r.nodeContext(id, spanCtx), id, state)
	elapsed := time.Since(began)

	r.cfg.metrics.RecordNodeExecution(spanCtx, id, elapsed, err)
	if r.cfg.tracingEnabled {
		r.cfg.spans.EndSpanWithError(span, err)
	}
	if err != nil {
		observability.LogNodeError(r.cfg.logger, id, err)
		return out, err
	}
	observability.LogNodeComplete(r.cfg.logger, id, millis(elapsed))
	r.done++
	return out, nil
}

// nodeContext positions the run's Context at node id. Contexts from
// other implementations are passed through as they are.
func (r *runner[S]) nodeContext(id string, parent context.Context) Context {
	if rc, ok := r.ctx.(*runContext); ok {
		return rc.at(id, parent)
	}
	return r.ctx
}

// invoke calls the node, turning a panic into *PanicError and an error
// into *NodeError.
func (cg *CompiledGraph[S]) invoke(ctx Context, id string, state S) (out S, err error) {
	fn, ok := cg.nodes[id]
	if !ok {
		return state, &NodeError{NodeID: id, Op: "lookup", Err: fmt.Errorf("node not found: %s", id)}
	}

	defer func() {
		if v := recover(); v != nil {
			out, err = state, &PanicError{NodeID: id, Value: v, Stack: string(debug.Stack())}
		}
	}()

	out, err = fn(ctx, state)
	if err != nil {
		return out, &NodeError{NodeID: id, Op: "execute", Err: err}
	}
	return out, nil
}

// route picks the node after from. A router wins over simple edges.
func (r *runner[S]) route(from string, state S) (string, error) {
	if router, ok := r.cg.routers[from]; ok {
		next := router(r.nodeContext(from, r.spanCtx), state)
		switch {
		case next == "":
			return "", &RouterError{FromNode: from, Returned: next, Err: ErrInvalidRouterResult}
		case next != END && !r.cg.HasNode(next):
			return "", &RouterError{FromNode: from, Returned: next, Err: ErrRouterTargetNotFound}
		}
		return next, nil
	}

	targets := r.cg.edges[from]
	if len(targets) == 0 {
		return "", &NodeError{NodeID: from, Op: "routing", Err: fmt.Errorf("no outgoing edge from node %s", from)}
	}
	return targets[0], nil
}

// checkpoint saves the state reached after node id. A failure is logged
// and ignored unless the run set WithCheckpointFailureFatal.
func (r *runner[S]) checkpoint(id string, state S, next string) error {
	cfg := r.cfg
	fail := func(op string, err error) error {
		if cfg.checkpointFailureFatal {
			return &CheckpointError{NodeID: id, Op: op, Err: err}
		}
		observability.LogCheckpointError(cfg.logger, id, op, err)
		return nil
	}

	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fail("serialize", err)
	}

	cfg.sequence++
	data, err := checkpoint.New(cfg.runID, id, cfg.sequence, stateJSON, next).
		WithPrevNode(r.prev).
		WithAttempt(r.ctx.Attempt()).
		Marshal()
	if err != nil {
		return fail("marshal", err)
	}
	if err := cfg.checkpointStore.Save(cfg.runID, id, data); err != nil {
		return fail("save", err)
	}

	observability.LogCheckpoint(cfg.logger, id, len(data))
	cfg.metrics.RecordCheckpoint(r.ctx, id, int64(len(data)))
	return nil
}

// failedNode returns the node a run stopped at, taken from its error.
func failedNode(err error) string {
	var (
		nodeErr   *NodeError
		panicErr  *PanicError
		routerErr *RouterError
		maxErr    *MaxIterationsError
		cancelErr *CancellationError
		cpErr     *CheckpointError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &cpErr):
		return cpErr.NodeID
	}
	return ""
}
