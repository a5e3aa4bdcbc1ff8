package askdata

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

// model is a scripted LLM that answers by prompt kind. Each reply list is
// consumed in order and its last entry repeats.
type model struct {
	mu sync.Mutex

	labels  []string
	sql     []string
	chat    []string
	summary []string

	// failSummary makes the next n summary calls fail.
	failSummary int

	prompts map[string][]string
}

func promptKind(text string) string {
	switch {
	case strings.HasPrefix(text, "Classify the user's question"):
		return PromptClassify
	case strings.HasPrefix(text, "Write one "):
		return PromptSQL
	case strings.HasPrefix(text, "The user is making small talk"):
		return PromptChat
	case strings.HasPrefix(text, "Answer the user's question completely"):
		return PromptSummary
	default:
		return "other"
	}
}

func pop(list *[]string) string {
	if len(*list) == 0 {
		return "OK"
	}
	v := (*list)[0]
	if len(*list) > 1 {
		*list = (*list)[1:]
	}
	return v
}

func (m *model) client() *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		text := req.Messages[0].Content
		kind := promptKind(text)
		if m.prompts == nil {
			m.prompts = make(map[string][]string)
		}
		m.prompts[kind] = append(m.prompts[kind], text)

		var reply string
		switch kind {
		case PromptClassify:
			reply = pop(&m.labels)
		case PromptSQL:
			reply = pop(&m.sql)
		case PromptChat:
			reply = pop(&m.chat)
		case PromptSummary:
			if m.failSummary > 0 {
				m.failSummary--
				return nil, llm.NewError("complete", errors.New("status code: 503"), true)
			}
			reply = pop(&m.summary)
		default:
			reply = "OK"
		}

		return &llm.CompletionResponse{
			Content: reply,
			Model:   "mock",
			Usage:   llm.TokenUsage{InputTokens: 10, OutputTokens: 2, TotalTokens: 12},
		}, nil
	})
}

func (m *model) calls(kind string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[kind]
}

func seededDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqldb.Open(sqldb.Config{Driver: "sqlite"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqldb.Seed(context.Background(), db))
	return db
}

func newBot(t *testing.T, m *model, opts ...Option) (*Bot, *sqlx.DB) {
	t.Helper()
	db := seededDB(t)
	bot, err := New(m.client(), db, opts...)
	require.NoError(t, err)
	return bot, db
}

func rowCount(t *testing.T, db *sqlx.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, "SELECT COUNT(*) FROM product_sales_monthly"))
	return n
}
