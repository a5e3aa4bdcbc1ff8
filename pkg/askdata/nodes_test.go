package askdata

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"database", "database"},
		{"  Database\n", "database"},
		{`"chat"`, "chat"},
		{"`chat`.", "chat"},
		{"Type: database", "database"},
		{"“database”。", "database"},
		{"database\nbecause it asks for sales figures", "database"},
		{"database question", "database question"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeLabel(tt.reply))
		})
	}
}

func TestNewAnswer(t *testing.T) {
	labels := DefaultLabels()

	a := newAnswer("run-1", State{
		Question:     "q",
		QuestionType: "database",
		SQL:          "SELECT 1",
		FinalAnswer:  []string{stepGenerated, stepSanitized, stepExecuted, "answer: one"},
	}, labels)
	assert.Equal(t, KindDatabase, a.Kind)
	assert.Equal(t, "one", a.Text)
	assert.Equal(t, "SELECT 1", a.SQL)

	a = newAnswer("run-2", State{Question: "hi", QuestionType: "chat", FinalAnswer: []string{"chat: hello"}}, labels)
	assert.Equal(t, KindChat, a.Kind)
	assert.Equal(t, "hello", a.Text)

	a = newAnswer("run-3", State{Question: "hi"}, labels)
	assert.Empty(t, a.Text)
	assert.Nil(t, a.Steps)
}

func TestRouting(t *testing.T) {
	bot := &Bot{labels: DefaultLabels(), maxSQLRepairs: 1}

	assert.Equal(t, NodeGenerateSQL, bot.routeQuestion(nil, State{QuestionType: "database"}))
	assert.Equal(t, NodeChat, bot.routeQuestion(nil, State{QuestionType: "chat"}))
	assert.Equal(t, NodeClassify, bot.routeQuestion(nil, State{QuestionType: ""}))

	assert.Equal(t, NodeSummarize, bot.routeResult(nil, State{}))
	assert.Equal(t, NodeGenerateSQL, bot.routeResult(nil, State{QueryError: "no such column"}))
	assert.Equal(t, NodeSummarize, bot.routeResult(nil, State{QueryError: "no such column", Repairs: 1}))
}

func TestLoadPrompts(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		p := DefaultPrompts()
		assert.Equal(t, []string{"chat_label", "database_label", "question"}, sortedCopy(p.Classify.Variables()))
		assert.Equal(t, []string{"dialect", "feedback", "question", "tables"}, sortedCopy(p.SQL.Variables()))
		assert.Equal(t, PromptSummary, p.Summary.Name())
	})

	t.Run("directory overrides single prompts", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chat.tmpl"), []byte("Be brief: {question}"), 0o600))

		p, err := LoadPrompts(dir)
		require.NoError(t, err)
		assert.Equal(t, "Be brief: {question}", p.Chat.Text())
		assert.Equal(t, DefaultPrompts().SQL.Text(), p.SQL.Text())
	})

	t.Run("override missing a placeholder", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.tmpl"), []byte("Summarize {search_result}"), 0o600))

		_, err := LoadPrompts(dir)
		assert.ErrorContains(t, err, "prompt summary: missing placeholder {question}")
	})

	t.Run("override with bad syntax", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "repair.tmpl"), []byte("{sql} {error"), 0o600))

		_, err := LoadPrompts(dir)
		assert.Error(t, err)
	})
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	slices.Sort(out)
	return out
}
