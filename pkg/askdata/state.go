package askdata

import (
	"strings"

	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

// Node IDs. They are stored in checkpoints, so renaming one orphans the
// checkpoints of existing runs.
const (
	NodeClassify    = "classify"
	NodeChat        = "chat"
	NodeGenerateSQL = "generate_sql"
	NodeSanitizeSQL = "sanitize_sql"
	NodeExecuteSQL  = "execute_sql"
	NodeSummarize   = "summarize"
)

// Step entries appended to State.FinalAnswer.
const (
	stepGenerated   = "sql generated"
	stepSanitized   = "sql sanitized"
	stepExecuted    = "sql executed"
	stepNotExecuted = "sql not executed"
	prefixAnswer    = "answer: "
	prefixChat      = "chat: "
)

// State flows through the graph. It is checkpointed as JSON after every
// node.
type State struct {
	Question string `json:"question"`

	// QuestionType is the matched classifier label, empty until the
	// classifier produced one.
	QuestionType     string `json:"question_type,omitempty"`
	RawLabel         string `json:"raw_label,omitempty"`
	ClassifyAttempts int    `json:"classify_attempts,omitempty"`

	RawSQL       string        `json:"raw_sql,omitempty"`
	SQL          string        `json:"sql,omitempty"`
	SearchResult string        `json:"search_result,omitempty"`
	Result       *sqldb.Result `json:"result,omitempty"`
	QueryError   string        `json:"query_error,omitempty"`
	Repairs      int           `json:"repairs,omitempty"`

	// FinalAnswer only grows. Every node appends one entry and the last
	// entry is the answer.
	FinalAnswer []string `json:"final_answer"`

	Usage llm.TokenUsage `json:"usage"`
}

func (s *State) appendStep(step string) {
	s.FinalAnswer = append(s.FinalAnswer, step)
}

// Kind tells which branch answered a question.
type Kind string

// Answer kinds.
const (
	KindDatabase Kind = "database"
	KindChat     Kind = "chat"
)

// Answer is what Ask returns.
type Answer struct {
	RunID      string         `json:"run_id"`
	Question   string         `json:"question"`
	Kind       Kind           `json:"kind"`
	Text       string         `json:"text"`
	Steps      []string       `json:"steps"`
	SQL        string         `json:"sql,omitempty"`
	Result     *sqldb.Result  `json:"result,omitempty"`
	QueryError string         `json:"query_error,omitempty"`
	Usage      llm.TokenUsage `json:"usage"`
}

func newAnswer(runID string, s State, labels Labels) *Answer {
	a := &Answer{
		RunID:      runID,
		Question:   s.Question,
		Kind:       KindChat,
		Steps:      s.FinalAnswer,
		SQL:        s.SQL,
		Result:     s.Result,
		QueryError: s.QueryError,
		Usage:      s.Usage,
	}
	if s.QuestionType == labels.Database {
		a.Kind = KindDatabase
	}
	if n := len(s.FinalAnswer); n > 0 {
		a.Text = stripStepPrefix(s.FinalAnswer[n-1])
	}
	return a
}

func stripStepPrefix(step string) string {
	for _, p := range []string{prefixAnswer, prefixChat} {
		if rest, ok := strings.CutPrefix(step, p); ok {
			return rest
		}
	}
	return step
}
