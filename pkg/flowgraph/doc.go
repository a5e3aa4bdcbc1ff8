/*
Package flowgraph runs typed state through a directed graph of nodes.

A graph is built with NewGraph, validated by Compile and executed by Run.
Each node is a NodeFunc that receives the state by value and returns the
updated state. Edges are either simple (AddEdge) or decided at runtime by a
RouterFunc (AddConditionalEdge), which may route a node back to itself.

	graph := flowgraph.NewGraph[State]().
	    AddNode("classify", classify).
	    AddNode("answer", answer).
	    AddConditionalEdge("classify", func(ctx flowgraph.Context, s State) string {
	        if s.Label == "" {
	            return "classify"
	        }
	        return "answer"
	    }).
	    AddEdge("answer", flowgraph.END).
	    SetEntry("classify")

	compiled, err := graph.Compile()
	if err != nil {
	    return err
	}
	result, err := compiled.Run(flowgraph.NewContext(ctx), State{Question: q})

# Errors

Node failures are returned as *NodeError, panics as *PanicError, bad router
results as *RouterError. Cancellation between nodes yields a
*CancellationError and a run that never reaches END within the iteration
limit (WithMaxIterations, default 1000) yields a *MaxIterationsError. All of
them carry enough context to find the failing node; the returned state is
the state at the point of failure.

# Checkpoints

With WithCheckpointing and WithRunID the state is saved as JSON after every
successful node. Resume continues a run from its latest checkpoint and
ResumeFrom from the checkpoint of a given node. The state type must
therefore round-trip through encoding/json.

# Observability

WithObservabilityLogger, WithMetrics and WithTracing enable slog lifecycle
logs, OpenTelemetry metrics and spans for a run. See the observability
subpackage.
*/
package flowgraph
