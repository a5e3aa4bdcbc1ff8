package askdata

import "github.com/randalmurphal/askdata/pkg/flowgraph"

func (b *Bot) buildGraph() (*flowgraph.CompiledGraph[State], error) {
	return flowgraph.NewGraph[State]().
		AddNode(NodeClassify, b.classify).
		AddNode(NodeChat, b.chat).
		AddNode(NodeGenerateSQL, b.generateSQL).
		AddNode(NodeSanitizeSQL, b.sanitizeSQL).
		AddNode(NodeExecuteSQL, b.executeSQL).
		AddNode(NodeSummarize, b.summarize).
		AddConditionalEdge(NodeClassify, b.routeQuestion).
		AddEdge(NodeChat, flowgraph.END).
		AddEdge(NodeGenerateSQL, NodeSanitizeSQL).
		AddEdge(NodeSanitizeSQL, NodeExecuteSQL).
		AddConditionalEdge(NodeExecuteSQL, b.routeResult).
		AddEdge(NodeSummarize, flowgraph.END).
		SetEntry(NodeClassify).
		Compile()
}

// routeQuestion compares the classifier label with the configured labels.
// Anything else sends the question through the classifier again.
func (b *Bot) routeQuestion(_ flowgraph.Context, s State) string {
	switch s.QuestionType {
	case b.labels.Database:
		return NodeGenerateSQL
	case b.labels.Chat:
		return NodeChat
	default:
		return NodeClassify
	}
}

// routeResult sends a failed statement back for regeneration while repairs
// remain.
func (b *Bot) routeResult(_ flowgraph.Context, s State) string {
	if s.QueryError != "" && s.Repairs < b.maxSQLRepairs {
		return NodeGenerateSQL
	}
	return NodeSummarize
}
