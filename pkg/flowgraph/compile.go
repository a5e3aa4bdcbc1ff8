package flowgraph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compile checks the wiring and returns an immutable copy of the graph.
// Every problem found is reported, joined into one error:
//
//   - the entry is unset or names no node (ErrNoEntryPoint, ErrEntryNotFound)
//   - an edge starts or ends at an unknown node (ErrNodeNotFound)
//   - END cannot be reached from the entry (ErrNoPathToEnd)
//
// Nodes the entry can never reach are only logged.
func (g *Graph[S]) Compile() (*CompiledGraph[S], error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	missing := func(kind, id string) {
		errs = append(errs, fmt.Errorf("%w: %s '%s' does not exist", ErrNodeNotFound, kind, id))
	}

	entryOK := false
	switch _, ok := g.nodes[g.entry]; {
	case g.entry == "":
		errs = append(errs, ErrNoEntryPoint)
	case !ok:
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entry))
	default:
		entryOK = true
	}

	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		_, known := g.nodes[from]
		_, routed := g.routers[from]
		if !known && !routed {
			missing("edge source", from)
		}
		for _, to := range g.edges[from] {
			if _, ok := g.nodes[to]; !ok && to != END {
				missing("edge target", to)
			}
		}
	}
	for _, from := range slices.Sorted(maps.Keys(g.routers)) {
		if _, ok := g.nodes[from]; !ok {
			missing("conditional edge source", from)
		}
	}

	if entryOK {
		if !g.endReachable()[g.entry] {
			errs = append(errs, ErrNoPathToEnd)
		}
		for _, id := range g.unreachable() {
			slog.Warn("node is unreachable from entry", slog.String("node_id", id))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return g.freeze(), nil
}

// endReachable returns the nodes from which END can be reached. A router
// may return END, so every routed node counts.
func (g *Graph[S]) endReachable() map[string]bool {
	reaches := map[string]bool{END: true}
	for id := range g.routers {
		reaches[id] = true
	}

	for grew := true; grew; {
		grew = false
		for from, targets := range g.edges {
			if reaches[from] {
				continue
			}
			if slices.ContainsFunc(targets, func(to string) bool { return reaches[to] }) {
				reaches[from] = true
				grew = true
			}
		}
	}
	return reaches
}

// unreachable lists nodes no run can visit. A router can return any node,
// so one routed node on the way makes everything reachable.
func (g *Graph[S]) unreachable() []string {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, routed := g.routers[id]; routed {
			return nil
		}
		for _, to := range g.edges[id] {
			if to != END && !seen[to] {
				seen[to] = true
				queue = append(queue, to)
			}
		}
	}

	var out []string
	for id := range g.nodes {
		if !seen[id] {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// freeze copies the builder so later builder calls cannot reach the
// compiled graph.
func (g *Graph[S]) freeze() *CompiledGraph[S] {
	cg := &CompiledGraph[S]{
		entry:   g.entry,
		nodes:   maps.Clone(g.nodes),
		routers: maps.Clone(g.routers),
		edges:   make(map[string][]string, len(g.edges)),
		preds:   map[string][]string{},
	}
	for from, targets := range g.edges {
		cg.edges[from] = slices.Clone(targets)
		for _, to := range targets {
			if to != END {
				cg.preds[to] = append(cg.preds[to], from)
			}
		}
	}
	return cg
}
