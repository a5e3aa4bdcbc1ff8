package askdata

import (
	"context"
	"strings"
	"time"

	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

// Status is the outcome of one health probe.
type Status struct {
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Latency time.Duration `json:"latency"`
	Detail  string        `json:"detail,omitempty"`
}

// Health reports whether the bot can answer database questions.
type Health struct {
	Dialect  sqldb.Dialect `json:"dialect"`
	Database Status        `json:"database"`
	Schema   Status        `json:"schema"`
	LLM      Status        `json:"llm"`
}

// OK reports whether every probe passed.
func (h Health) OK() bool {
	return h.Database.OK && h.Schema.OK && h.LLM.OK
}

// Check probes the database connection, the schema and the model. The
// model probe is a one-token completion.
func (b *Bot) Check(ctx context.Context) Health {
	h := Health{Dialect: b.dialect}

	h.Database = probe(func() (string, error) {
		return "", sqldb.StatusCheck(ctx, b.db)
	})

	if h.Database.OK {
		h.Schema = probe(func() (string, error) {
			text, err := b.RefreshSchema(ctx)
			if err != nil {
				return "", err
			}
			return tableSummary(text), nil
		})
	} else {
		h.Schema = Status{Error: "database unavailable"}
	}

	h.LLM = probe(func() (string, error) {
		req := llm.UserPrompt("Reply with OK.")
		req.MaxTokens = 1
		resp, err := b.client.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		return resp.Model, nil
	})

	return h
}

func probe(fn func() (string, error)) Status {
	start := time.Now()
	detail, err := fn()
	st := Status{Latency: time.Since(start), Detail: detail}
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.OK = true
	return st
}

// tableSummary lists the table names of a rendered schema.
func tableSummary(schema string) string {
	var names []string
	for line := range strings.Lines(schema) {
		if rest, ok := strings.CutPrefix(line, "CREATE TABLE "); ok {
			name, _, _ := strings.Cut(rest, " ")
			names = append(names, name)
		}
	}
	return strings.Join(names, ", ")
}
