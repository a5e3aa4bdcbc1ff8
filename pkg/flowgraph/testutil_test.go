package flowgraph

import (
	"context"
)

// pipelineState mimics the shape of a question flowing through a pipeline.
type pipelineState struct {
	Question string   `json:"question"`
	Label    string   `json:"label"`
	Attempts int      `json:"attempts"`
	Repairs  int      `json:"repairs"`
	Failed   bool     `json:"failed"`
	Steps    []string `json:"steps"`
}

func step(name string) NodeFunc[pipelineState] {
	return func(_ Context, s pipelineState) (pipelineState, error) {
		s.Steps = append(s.Steps, name)
		return s, nil
	}
}

func failing(err error) NodeFunc[pipelineState] {
	return func(_ Context, s pipelineState) (pipelineState, error) {
		s.Steps = append(s.Steps, "failing")
		return s, err
	}
}

func panicking(value any) NodeFunc[pipelineState] {
	return func(Context, pipelineState) (pipelineState, error) {
		panic(value)
	}
}

// classifyAfter returns a node that produces a label only on the nth attempt.
func classifyAfter(n int, label string) NodeFunc[pipelineState] {
	return func(_ Context, s pipelineState) (pipelineState, error) {
		s.Attempts++
		s.Steps = append(s.Steps, "classify")
		if s.Attempts >= n {
			s.Label = label
		}
		return s, nil
	}
}

func routeByLabel(_ Context, s pipelineState) string {
	switch s.Label {
	case "database":
		return "query"
	case "chat":
		return "chat"
	default:
		return "classify"
	}
}

// newPipeline builds classify -> (query | chat) -> END with a classify self-loop.
func newPipeline(classify NodeFunc[pipelineState]) *Graph[pipelineState] {
	return NewGraph[pipelineState]().
		AddNode("classify", classify).
		AddNode("query", step("query")).
		AddNode("chat", step("chat")).
		AddConditionalEdge("classify", routeByLabel).
		AddEdge("query", END).
		AddEdge("chat", END).
		SetEntry("classify")
}

func testCtx() Context {
	return NewContext(context.Background())
}
