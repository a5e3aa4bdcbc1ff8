package benchmarks

import (
	"context"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

const totalsSQL = `SELECT brand, SUM(amount) AS total
FROM product_sales_monthly
WHERE category = 'ready-to-drink tea' AND brand IS NOT NULL AND product_name IS NULL
  AND region_name IS NULL AND channel IS NULL
GROUP BY brand
ORDER BY total DESC`

// seededDB returns an in-memory SQLite database holding the sample table.
func seededDB(b *testing.B) *sqlx.DB {
	b.Helper()
	db, err := sqldb.Open(sqldb.Config{Driver: "sqlite"})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })
	if err := sqldb.Seed(context.Background(), db); err != nil {
		b.Fatal(err)
	}
	return db
}

// scriptedModel answers each pipeline prompt with a fixed reply.
func scriptedModel(label string) *llm.MockClient {
	return llm.NewMockClient("").WithCompleteFunc(func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
		text := req.Messages[len(req.Messages)-1].Content
		reply := "Master Kong sold the most ready-to-drink tea."
		switch {
		case strings.HasPrefix(text, "Classify"):
			reply = label
		case strings.HasPrefix(text, "Write one"):
			reply = "```sql\n" + totalsSQL + "\n```"
		case strings.HasPrefix(text, "The user is making small talk"):
			reply = "Hello! Ask me about drink sales."
		}
		return &llm.CompletionResponse{
			Content: reply,
			Usage:   llm.TokenUsage{InputTokens: 100, OutputTokens: 20, TotalTokens: 120},
			Model:   "mock",
		}, nil
	})
}
