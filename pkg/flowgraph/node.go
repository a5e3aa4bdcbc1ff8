package flowgraph

// END is the pseudo-node that finishes a run. It may be an edge target
// or a router result but never a node ID.
const END = "__end__"

// NodeFunc does one step of work. It receives the state by value and
// returns the state the next node sees.
//
//	func sanitize(ctx flowgraph.Context, s State) (State, error) {
//	    s.SQL = strings.TrimSpace(s.RawSQL)
//	    return s, nil
//	}
type NodeFunc[S any] func(ctx Context, state S) (S, error)

// RouterFunc picks the node after the one it is attached to. It must
// return a node ID or END.
//
//	func afterExecute(ctx flowgraph.Context, s State) string {
//	    if s.QueryError != "" && s.Repairs < 1 {
//	        return "generate_sql"
//	    }
//	    return "summarize"
//	}
type RouterFunc[S any] func(ctx Context, state S) string
