package askdata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/askdata/pkg/flowgraph"
	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	fgerrors "github.com/randalmurphal/askdata/pkg/flowgraph/errors"
	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

const totalWaterSQL = "```sql\n" + `SELECT SUM("amount") AS "total"
FROM "product_sales_monthly"
WHERE "category" = 'bottled water'
  AND "region_name" IS NULL AND "province_name" IS NULL
  AND "channel" IS NULL AND "product_name" IS NULL;` + "\n```"

func TestAsk_DatabaseQuestion(t *testing.T) {
	m := &model{
		labels:  []string{"database"},
		sql:     []string{totalWaterSQL},
		summary: []string{"Bottled water sold about 14.6 million."},
	}
	bot, _ := newBot(t, m)

	answer, err := bot.Ask(context.Background(), "  How much bottled water did we sell in 2024?  ")
	require.NoError(t, err)

	assert.Equal(t, KindDatabase, answer.Kind)
	assert.Equal(t, "How much bottled water did we sell in 2024?", answer.Question)
	assert.Equal(t, "Bottled water sold about 14.6 million.", answer.Text)
	assert.Equal(t, []string{
		"sql generated",
		"sql sanitized",
		"sql executed",
		"answer: Bottled water sold about 14.6 million.",
	}, answer.Steps)
	assert.NotEmpty(t, answer.RunID)
	assert.NotContains(t, answer.SQL, "```")
	assert.Contains(t, answer.SQL, `SELECT SUM("amount")`)
	assert.Empty(t, answer.QueryError)
	require.NotNil(t, answer.Result)
	assert.Equal(t, []string{"total"}, answer.Result.Columns)
	assert.Len(t, answer.Result.Rows, 1)
	assert.Equal(t, 36, answer.Usage.TotalTokens)

	sqlPrompts := m.calls(PromptSQL)
	require.Len(t, sqlPrompts, 1)
	assert.Contains(t, sqlPrompts[0], "Write one SQLite query")
	assert.Contains(t, sqlPrompts[0], "CREATE TABLE product_sales_monthly (")
	assert.Contains(t, sqlPrompts[0], "question: How much bottled water did we sell in 2024?")
	assert.NotContains(t, sqlPrompts[0], "previous query")

	summaries := m.calls(PromptSummary)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], "result:\n+-")
	assert.Contains(t, summaries[0], `SELECT SUM("amount") AS "total"`)
}

func TestAsk_Chat(t *testing.T) {
	m := &model{
		labels: []string{"  \"Chat.\"\n"},
		chat:   []string{"Hi! Ask me about sales."},
	}
	bot, _ := newBot(t, m)

	answer, err := bot.Ask(context.Background(), "hello there")
	require.NoError(t, err)

	assert.Equal(t, KindChat, answer.Kind)
	assert.Equal(t, "Hi! Ask me about sales.", answer.Text)
	assert.Equal(t, []string{"chat: Hi! Ask me about sales."}, answer.Steps)
	assert.Empty(t, answer.SQL)
	assert.Nil(t, answer.Result)
	assert.Empty(t, m.calls(PromptSQL))
	assert.Contains(t, m.calls(PromptChat)[0], "hello there")
}

func TestAsk_ClassifierRetry(t *testing.T) {
	t.Run("unknown label asks again", func(t *testing.T) {
		m := &model{
			labels:  []string{"database question", "database"},
			sql:     []string{"SELECT COUNT(*) AS n FROM product_sales_monthly"},
			summary: []string{"288 rows."},
		}
		bot, _ := newBot(t, m)

		answer, err := bot.Ask(context.Background(), "how many rows are there?")
		require.NoError(t, err)
		assert.Equal(t, KindDatabase, answer.Kind)
		assert.Len(t, m.calls(PromptClassify), 2)
	})

	t.Run("exhausted attempts fall back to chat", func(t *testing.T) {
		m := &model{
			labels: []string{"no idea"},
			chat:   []string{"Could you rephrase?"},
		}
		bot, _ := newBot(t, m, WithMaxClassifyAttempts(2))

		answer, err := bot.Ask(context.Background(), "???")
		require.NoError(t, err)
		assert.Equal(t, KindChat, answer.Kind)
		assert.Equal(t, "Could you rephrase?", answer.Text)
		assert.Len(t, m.calls(PromptClassify), 2)
	})

	t.Run("custom labels", func(t *testing.T) {
		m := &model{
			labels:  []string{"DATA"},
			sql:     []string{"SELECT 1 AS one"},
			summary: []string{"one"},
		}
		bot, _ := newBot(t, m, WithLabels(Labels{Database: "Data", Chat: "Talk"}))

		answer, err := bot.Ask(context.Background(), "q")
		require.NoError(t, err)
		assert.Equal(t, KindDatabase, answer.Kind)
		assert.Contains(t, m.calls(PromptClassify)[0], "The types are: talk, data.")
	})
}

func TestAsk_SQLRepair(t *testing.T) {
	t.Run("failed statement is regenerated with its error", func(t *testing.T) {
		m := &model{
			labels: []string{"database"},
			sql: []string{
				"SELECT revenue FROM product_sales_monthly",
				"SELECT COUNT(*) AS n FROM product_sales_monthly",
			},
			summary: []string{"There are 288 rows."},
		}
		bot, _ := newBot(t, m)

		answer, err := bot.Ask(context.Background(), "how many rows?")
		require.NoError(t, err)

		assert.Equal(t, []string{
			"sql generated", "sql sanitized", "sql executed",
			"sql generated", "sql sanitized", "sql executed",
			"answer: There are 288 rows.",
		}, answer.Steps)
		assert.Empty(t, answer.QueryError)
		require.NotNil(t, answer.Result)
		assert.EqualValues(t, 288, answer.Result.Rows[0][0])

		sqlPrompts := m.calls(PromptSQL)
		require.Len(t, sqlPrompts, 2)
		assert.Contains(t, sqlPrompts[1], "previous query:\nSELECT revenue FROM product_sales_monthly")
		assert.Contains(t, sqlPrompts[1], "no such column")
	})

	t.Run("repairs exhausted summarizes the failure", func(t *testing.T) {
		m := &model{
			labels:  []string{"database"},
			sql:     []string{"SELECT revenue FROM product_sales_monthly"},
			summary: []string{"The database has no matching data."},
		}
		bot, _ := newBot(t, m, WithMaxSQLRepairs(2))

		answer, err := bot.Ask(context.Background(), "revenue?")
		require.NoError(t, err)
		assert.Len(t, m.calls(PromptSQL), 3)
		assert.Contains(t, answer.QueryError, "no such column")
		assert.Nil(t, answer.Result)
		assert.Contains(t, m.calls(PromptSummary)[0], "query failed: ")
	})

	t.Run("unsafe statement is never executed", func(t *testing.T) {
		m := &model{
			labels:  []string{"database"},
			sql:     []string{"DELETE FROM product_sales_monthly"},
			summary: []string{"I can only read data."},
		}
		bot, db := newBot(t, m, WithMaxSQLRepairs(0))

		answer, err := bot.Ask(context.Background(), "delete everything")
		require.NoError(t, err)
		assert.Equal(t, []string{
			"sql generated", "sql sanitized", "sql not executed", "answer: I can only read data.",
		}, answer.Steps)
		assert.Contains(t, answer.QueryError, "DELETE statements are not allowed")
		assert.Contains(t, m.calls(PromptSummary)[0], "query not executed: ")
		assert.Equal(t, 288, rowCount(t, db))
	})

	t.Run("model declines", func(t *testing.T) {
		m := &model{
			labels:  []string{"database"},
			sql:     []string{"IMPOSSIBLE"},
			summary: []string{"The database has no matching data."},
		}
		bot, _ := newBot(t, m, WithMaxSQLRepairs(0))

		answer, err := bot.Ask(context.Background(), "what is the weather on mars?")
		require.NoError(t, err)
		assert.Equal(t, errNoStatement.Error(), answer.QueryError)
		assert.Empty(t, answer.SQL)
	})
}

func TestAsk_Errors(t *testing.T) {
	t.Run("empty question", func(t *testing.T) {
		bot, _ := newBot(t, &model{})
		_, err := bot.Ask(context.Background(), " \n\t")
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	})

	t.Run("model failure names the node", func(t *testing.T) {
		db := seededDB(t)
		boom := errors.New("boom")
		bot, err := New(llm.NewMockClient("").WithError(boom), db)
		require.NoError(t, err)

		_, err = bot.Ask(context.Background(), "hello")
		require.Error(t, err)

		var runErr *RunError
		require.ErrorAs(t, err, &runErr)
		assert.NotEmpty(t, runErr.RunID)
		assert.ErrorIs(t, err, boom)

		var nodeErr *flowgraph.NodeError
		require.ErrorAs(t, err, &nodeErr)
		assert.Equal(t, NodeClassify, nodeErr.NodeID)
	})

	t.Run("canceled context", func(t *testing.T) {
		bot, _ := newBot(t, &model{labels: []string{"chat"}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := bot.Ask(ctx, "hello")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestResume(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	m := &model{
		labels:      []string{"database"},
		sql:         []string{"SELECT COUNT(*) AS n FROM product_sales_monthly"},
		summary:     []string{"288 rows."},
		failSummary: 1,
	}
	bot, _ := newBot(t, m, WithCheckpointStore(store))
	ctx := context.Background()

	_, err := bot.Ask(ctx, "how many rows?")
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)

	runs, err := bot.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runErr.RunID, runs[0].RunID)
	assert.Equal(t, "how many rows?", runs[0].Question)
	assert.Equal(t, StatusInterrupted, runs[0].Status)
	assert.Equal(t, NodeExecuteSQL, runs[0].LastNode)
	assert.Equal(t, 4, runs[0].Checkpoints)
	assert.Empty(t, runs[0].Answer)

	answer, err := bot.Resume(ctx, runErr.RunID)
	require.NoError(t, err)
	assert.Equal(t, runErr.RunID, answer.RunID)
	assert.Equal(t, "288 rows.", answer.Text)
	assert.Len(t, answer.Steps, 4)
	assert.Len(t, m.calls(PromptSQL), 1, "resume must not regenerate the statement")
	assert.Len(t, m.calls(PromptSummary), 2)

	runs, err = bot.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusCompleted, runs[0].Status)
	assert.Equal(t, NodeSummarize, runs[0].LastNode)
	assert.Equal(t, "288 rows.", runs[0].Answer)

	// A completed run answers again without calling the model.
	again, err := bot.Resume(ctx, runErr.RunID)
	require.NoError(t, err)
	assert.Equal(t, "288 rows.", again.Text)
	assert.Len(t, m.calls(PromptSummary), 2)

	require.NoError(t, bot.DeleteRun(runErr.RunID))
	runs, err = bot.Runs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	assert.ErrorIs(t, bot.DeleteRun(runErr.RunID), ErrRunNotFound)
	_, err = bot.Resume(ctx, runErr.RunID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestResume_AfterTransientDatabaseError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "sales.db")
	db, err := sqldb.Open(sqldb.Config{Driver: "sqlite", DSN: "file:" + path + "?_pragma=busy_timeout(0)"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, sqldb.Seed(ctx, db))

	m := &model{
		labels:  []string{"database"},
		sql:     []string{"SELECT COUNT(*) AS n FROM product_sales_monthly"},
		summary: []string{"288 rows."},
	}
	bot, err := New(m.client(), db, WithCheckpointStore(checkpoint.NewMemoryStore()))
	require.NoError(t, err)
	_, err = bot.Schema(ctx)
	require.NoError(t, err)

	// A second connection holding an exclusive lock makes reads fail with
	// SQLITE_BUSY until it lets go.
	other, err := sqlx.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { other.Close() })
	lock, err := other.Conn(ctx)
	require.NoError(t, err)
	_, err = lock.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	_, err = bot.Ask(ctx, "how many rows?")
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	var queryErr *sqldb.QueryError
	require.ErrorAs(t, err, &queryErr)
	assert.Equal(t, fgerrors.CategoryTransient, queryErr.Category)
	var nodeErr *flowgraph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, NodeExecuteSQL, nodeErr.NodeID)
	assert.Len(t, m.calls(PromptSQL), 1, "a busy database is not the statement's fault")
	assert.Empty(t, m.calls(PromptSummary))

	runs, err := bot.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusInterrupted, runs[0].Status)
	assert.Equal(t, NodeSanitizeSQL, runs[0].LastNode)

	_, err = lock.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)
	require.NoError(t, lock.Close())

	answer, err := bot.Resume(ctx, runErr.RunID)
	require.NoError(t, err)
	assert.Equal(t, "288 rows.", answer.Text)
	require.NotNil(t, answer.Result)
	assert.Equal(t, []string{"n"}, answer.Result.Columns)
	assert.Empty(t, answer.QueryError)
	assert.Len(t, m.calls(PromptSQL), 1, "resume must not regenerate the statement")
	assert.Len(t, m.calls(PromptSummary), 1)
}

func TestAsk_ClosedDatabaseFailsRun(t *testing.T) {
	m := &model{
		labels: []string{"database"},
		sql:    []string{"SELECT COUNT(*) AS n FROM product_sales_monthly"},
	}
	bot, db := newBot(t, m, WithCheckpointStore(checkpoint.NewMemoryStore()))
	ctx := context.Background()
	_, err := bot.Schema(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = bot.Ask(ctx, "how many rows?")
	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Contains(t, err.Error(), "database is closed")
	assert.Equal(t, fgerrors.CategoryTransient, fgerrors.Categorize(err))
	assert.Len(t, m.calls(PromptSQL), 1)
	assert.Empty(t, m.calls(PromptSummary))
}

func TestRunManagement_NoStore(t *testing.T) {
	bot, _ := newBot(t, &model{})
	ctx := context.Background()

	_, err := bot.Resume(ctx, "run-1")
	assert.ErrorIs(t, err, ErrNoCheckpointStore)
	_, err = bot.Runs(ctx, 10)
	assert.ErrorIs(t, err, ErrNoCheckpointStore)
	assert.ErrorIs(t, bot.DeleteRun("run-1"), ErrNoCheckpointStore)
}

func TestSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("loaded from catalog", func(t *testing.T) {
		bot, db := newBot(t, &model{}, WithSchemaOptions(sqldb.SchemaOptions{SampleRows: 1}))

		text, err := bot.Schema(ctx)
		require.NoError(t, err)
		assert.Contains(t, text, "CREATE TABLE product_sales_monthly (")
		assert.Contains(t, text, "1 rows from product_sales_monthly table:")

		_, err = db.Exec("CREATE TABLE targets (category TEXT, goal REAL)")
		require.NoError(t, err)

		cached, err := bot.Schema(ctx)
		require.NoError(t, err)
		assert.NotContains(t, cached, "targets")

		refreshed, err := bot.RefreshSchema(ctx)
		require.NoError(t, err)
		assert.Contains(t, refreshed, "CREATE TABLE targets (")
	})

	t.Run("fixed text", func(t *testing.T) {
		bot, _ := newBot(t, &model{}, WithSchemaText("CREATE TABLE t (x INT);"))

		text, err := bot.RefreshSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, "CREATE TABLE t (x INT);", text)
	})

	t.Run("empty database", func(t *testing.T) {
		db, err := sqldb.Open(sqldb.Config{Driver: "sqlite"})
		require.NoError(t, err)
		defer db.Close()

		bot, err := New(llm.NewMockClient("ok"), db)
		require.NoError(t, err)
		_, err = bot.Schema(ctx)
		assert.ErrorContains(t, err, "no tables found")
	})
}

func TestCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy", func(t *testing.T) {
		bot, _ := newBot(t, &model{})

		h := bot.Check(ctx)
		assert.True(t, h.OK())
		assert.Equal(t, sqldb.SQLite, h.Dialect)
		assert.Equal(t, "product_sales_monthly", h.Schema.Detail)
		assert.Equal(t, "mock", h.LLM.Detail)
	})

	t.Run("database down", func(t *testing.T) {
		db, err := sqldb.Open(sqldb.Config{Driver: "sqlite"})
		require.NoError(t, err)
		bot, err := New(llm.NewMockClient("ok"), db)
		require.NoError(t, err)
		require.NoError(t, db.Close())

		cctx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
		defer cancel()
		h := bot.Check(cctx)
		assert.False(t, h.OK())
		assert.False(t, h.Database.OK)
		assert.NotEmpty(t, h.Database.Error)
		assert.Equal(t, "database unavailable", h.Schema.Error)
	})

	t.Run("model down", func(t *testing.T) {
		db := seededDB(t)
		bot, err := New(llm.NewMockClient("").WithError(errors.New("401 unauthorized")), db)
		require.NoError(t, err)

		h := bot.Check(ctx)
		assert.False(t, h.OK())
		assert.True(t, h.Database.OK)
		assert.Equal(t, "401 unauthorized", h.LLM.Error)
	})
}

func TestNew(t *testing.T) {
	db := seededDB(t)
	client := llm.NewMockClient("ok")

	_, err := New(nil, db)
	assert.Error(t, err)
	_, err = New(client, nil)
	assert.Error(t, err)
	_, err = New(client, db, WithLabels(Labels{Database: "x", Chat: "X"}))
	assert.ErrorContains(t, err, "labels must be distinct")
	_, err = New(client, db, WithLabels(Labels{Database: "db", Chat: "db."}))
	assert.ErrorContains(t, err, "labels must be distinct")

	bot, err := New(client, db)
	require.NoError(t, err)
	assert.Equal(t, sqldb.SQLite, bot.Dialect())

	g := bot.Graph()
	assert.Equal(t, NodeClassify, g.EntryPoint())
	assert.ElementsMatch(t, []string{
		NodeClassify, NodeChat, NodeGenerateSQL, NodeSanitizeSQL, NodeExecuteSQL, NodeSummarize,
	}, g.NodeIDs())
	assert.True(t, g.IsConditional(NodeClassify))
	assert.True(t, g.IsConditional(NodeExecuteSQL))
	assert.Equal(t, []string{NodeSanitizeSQL}, g.Successors(NodeGenerateSQL))
	assert.Equal(t, []string{flowgraph.END}, g.Successors(NodeSummarize))
}
