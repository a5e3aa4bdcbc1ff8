package flowgraph

// CompiledGraph is the frozen, runnable form of a Graph. It is never
// modified after Compile, so one value can serve concurrent runs.
type CompiledGraph[S any] struct {
	entry   string
	nodes   map[string]NodeFunc[S]
	edges   map[string][]string
	routers map[string]RouterFunc[S]
	preds   map[string][]string
}

// EntryPoint returns the ID of the first node.
func (cg *CompiledGraph[S]) EntryPoint() string { return cg.entry }

// NodeIDs returns every node ID in no particular order.
func (cg *CompiledGraph[S]) NodeIDs() []string {
	ids := make([]string, 0, len(cg.nodes))
	for id := range cg.nodes {
		ids = append(ids, id)
	}
	return ids
}

// HasNode reports whether id names a node. END is not a node.
func (cg *CompiledGraph[S]) HasNode(id string) bool {
	_, ok := cg.nodes[id]
	return ok
}

// Successors returns the simple-edge targets of id, END included. Targets
// a router may pick are only known at run time and are not listed.
func (cg *CompiledGraph[S]) Successors(id string) []string {
	if id == END {
		return nil
	}
	return cg.edges[id]
}

// Predecessors returns the nodes with a simple edge into id.
func (cg *CompiledGraph[S]) Predecessors(id string) []string {
	return cg.preds[id]
}

// IsConditional reports whether a router picks the node after id.
func (cg *CompiledGraph[S]) IsConditional(id string) bool {
	_, ok := cg.routers[id]
	return ok
}
