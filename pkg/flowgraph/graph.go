package flowgraph

import (
	"fmt"
	"strings"
	"sync"
)

// Graph collects nodes and edges before Compile freezes them.
//
// Builder methods return the graph so calls chain:
//
//	compiled, err := flowgraph.NewGraph[State]().
//	    AddNode("classify", classify).
//	    AddNode("chat", chat).
//	    AddConditionalEdge("classify", route).
//	    AddEdge("chat", flowgraph.END).
//	    SetEntry("classify").
//	    Compile()
//
// Misuse that can only be a programming error (a bad node ID, a nil
// function) panics. Everything about how the pieces connect is checked by
// Compile, so edges may be added before the nodes they name.
type Graph[S any] struct {
	mu      sync.Mutex
	nodes   map[string]NodeFunc[S]
	edges   map[string][]string
	routers map[string]RouterFunc[S]
	entry   string
}

// NewGraph returns an empty graph over state type S.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		nodes:   map[string]NodeFunc[S]{},
		edges:   map[string][]string{},
		routers: map[string]RouterFunc[S]{},
	}
}

// AddNode registers fn under id. It panics if id is empty, contains
// whitespace, is a spelling of END, or is already taken, and if fn is nil.
func (g *Graph[S]) AddNode(id string, fn NodeFunc[S]) *Graph[S] {
	if msg := invalidNodeID(id); msg != "" {
		panic("flowgraph: " + msg)
	}
	if fn == nil {
		panic("flowgraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, taken := g.nodes[id]; taken {
		panic(fmt.Sprintf("flowgraph: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	return g
}

func invalidNodeID(id string) string {
	switch {
	case id == "":
		return "node ID cannot be empty"
	case strings.EqualFold(id, "end") || strings.EqualFold(id, END):
		return "node ID cannot be reserved word 'END'"
	case strings.ContainsAny(id, " \t\r\n"):
		return "node ID cannot contain whitespace"
	}
	return ""
}

// AddEdge always moves from one node to another (or to END).
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdge lets router pick the node after from each time from
// completes. A router replaces any simple edges of the same node. It
// must return a node ID or END; anything else fails the run.
func (g *Graph[S]) AddConditionalEdge(from string, router RouterFunc[S]) *Graph[S] {
	if router == nil {
		panic("flowgraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.routers[from] = router
	return g
}

// SetEntry names the first node of every run.
func (g *Graph[S]) SetEntry(id string) *Graph[S] {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entry = id
	return g
}
