package askdata

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/askdata/pkg/flowgraph"
	fgerrors "github.com/randalmurphal/askdata/pkg/flowgraph/errors"
	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
	"github.com/randalmurphal/askdata/pkg/sqldb"
	"github.com/randalmurphal/askdata/pkg/sqltext"
)

// errNoStatement is recorded when the model declined to write a query.
var errNoStatement = errors.New("the model did not produce a SQL statement")

func normalizeQuestion(q string) string {
	return strings.TrimSpace(q)
}

// normalizeLabel trims the decoration models put around a one-word answer:
// whitespace, quotes, trailing punctuation and a "type:" prefix.
func normalizeLabel(reply string) string {
	label := strings.TrimSpace(reply)
	if i := strings.IndexByte(label, '\n'); i >= 0 {
		label = label[:i]
	}
	label = strings.ToLower(label)
	label = strings.TrimPrefix(label, "type:")
	return strings.TrimFunc(label, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '`'
	})
}

func (b *Bot) classify(ctx flowgraph.Context, s State) (State, error) {
	text, err := b.prompts.Classify.Format(map[string]any{
		"question":       s.Question,
		"database_label": b.labels.Database,
		"chat_label":     b.labels.Chat,
	})
	if err != nil {
		return s, err
	}

	reply, err := b.complete(ctx, &s, text)
	if err != nil {
		return s, err
	}

	s.ClassifyAttempts++
	s.RawLabel = reply
	s.QuestionType = ""

	switch label := normalizeLabel(reply); label {
	case b.labels.Database, b.labels.Chat:
		s.QuestionType = label
	default:
		if s.ClassifyAttempts >= b.maxClassifyAttempts {
			ctx.Logger().Warn("classifier label not recognized, answering as chat",
				slog.String("label", reply),
				slog.Int("attempts", s.ClassifyAttempts),
			)
			s.QuestionType = b.labels.Chat
			break
		}
		ctx.Logger().Info("classifier label not recognized, asking again",
			slog.String("label", reply),
			slog.Int("attempts", s.ClassifyAttempts),
		)
	}
	return s, nil
}

func (b *Bot) chat(ctx flowgraph.Context, s State) (State, error) {
	text, err := b.prompts.Chat.Format(map[string]any{"question": s.Question})
	if err != nil {
		return s, err
	}

	reply, err := b.complete(ctx, &s, text)
	if err != nil {
		return s, err
	}
	s.appendStep(prefixChat + reply)
	return s, nil
}

func (b *Bot) generateSQL(ctx flowgraph.Context, s State) (State, error) {
	tables, err := b.Schema(ctx)
	if err != nil {
		return s, fmt.Errorf("load schema: %w", err)
	}

	feedback := ""
	if s.QueryError != "" {
		feedback, err = b.prompts.Repair.Format(map[string]any{
			"sql":   firstNonEmpty(s.SQL, s.RawSQL),
			"error": s.QueryError,
		})
		if err != nil {
			return s, err
		}
		s.Repairs++
		ctx.Logger().Info("regenerating sql",
			slog.Int("repair", s.Repairs),
			slog.String("error", s.QueryError),
		)
	}

	text, err := b.prompts.SQL.
		WithPartial("tables", tables).
		WithPartial("dialect", b.dialect.Name()).
		Format(map[string]any{
			"question": s.Question,
			"feedback": feedback,
		})
	if err != nil {
		return s, err
	}

	reply, err := b.complete(ctx, &s, text)
	if err != nil {
		return s, err
	}

	s.RawSQL = reply
	s.SQL = ""
	s.QueryError = ""
	s.SearchResult = ""
	s.Result = nil
	s.appendStep(stepGenerated)
	return s, nil
}

func (b *Bot) sanitizeSQL(ctx flowgraph.Context, s State) (State, error) {
	s.SQL = sqltext.Clean(s.RawSQL)

	switch {
	case s.SQL == "":
		s.QueryError = errNoStatement.Error()
	default:
		if err := sqltext.CheckReadOnly(s.SQL); err != nil {
			s.QueryError = err.Error()
		}
	}

	if s.QueryError != "" {
		observability.AddSpanEvent(ctx, "sql_rejected", attribute.String("reason", s.QueryError))
		ctx.Logger().Warn("generated sql rejected",
			slog.String("sql", firstNonEmpty(s.SQL, s.RawSQL)),
			slog.String("reason", s.QueryError),
		)
	}
	s.appendStep(stepSanitized)
	return s, nil
}

func (b *Bot) executeSQL(ctx flowgraph.Context, s State) (State, error) {
	if s.QueryError != "" {
		s.SearchResult = "query not executed: " + s.QueryError
		s.appendStep(stepNotExecuted)
		return s, nil
	}

	start := time.Now()
	res, err := sqldb.Query(ctx, b.db, b.dialect, s.SQL, b.queryOpts)
	duration := time.Since(start)

	rows := 0
	if res != nil {
		rows = len(res.Rows)
	}
	observability.LogQuery(ctx.Logger(), s.SQL, rows, float64(duration.Milliseconds()), err)
	b.metrics.RecordQuery(ctx, rows, duration, err)
	observability.AddSpanEvent(ctx, "sql_executed",
		attribute.Int("rows", rows),
		attribute.Bool("success", err == nil))

	if err != nil {
		// Only a statement the model can fix goes back to it. Anything
		// else fails the run, which can be resumed from here.
		if fgerrors.Categorize(err) != fgerrors.CategoryRepairable {
			return s, err
		}
		s.QueryError = err.Error()
		s.SearchResult = "query failed: " + s.QueryError
		s.appendStep(stepExecuted)
		return s, nil
	}

	s.Result = res
	s.SearchResult = res.Text()
	s.appendStep(stepExecuted)
	return s, nil
}

func (b *Bot) summarize(ctx flowgraph.Context, s State) (State, error) {
	text, err := b.prompts.Summary.Format(map[string]any{
		"question":      s.Question,
		"sql":           firstNonEmpty(s.SQL, s.RawSQL),
		"search_result": s.SearchResult,
	})
	if err != nil {
		return s, err
	}

	reply, err := b.complete(ctx, &s, text)
	if err != nil {
		return s, err
	}
	s.appendStep(prefixAnswer + reply)
	return s, nil
}

// complete sends a single-turn prompt and accounts for its usage.
func (b *Bot) complete(ctx flowgraph.Context, s *State, text string) (string, error) {
	client := ctx.LLM()
	if client == nil {
		client = b.client
	}

	start := time.Now()
	resp, err := client.Complete(ctx, llm.UserPrompt(text))
	duration := time.Since(start)
	if err != nil {
		b.metrics.RecordLLMCall(ctx, ctx.NodeID(), duration, 0, 0, err)
		return "", err
	}

	b.metrics.RecordLLMCall(ctx, ctx.NodeID(), duration, resp.Usage.InputTokens, resp.Usage.OutputTokens, nil)
	observability.LogLLMCall(ctx.Logger(), resp.Model, float64(duration.Milliseconds()),
		resp.Usage.InputTokens, resp.Usage.OutputTokens)
	observability.AddSpanEvent(ctx, "llm_call",
		attribute.String("model", resp.Model),
		attribute.Int("input_tokens", resp.Usage.InputTokens),
		attribute.Int("output_tokens", resp.Usage.OutputTokens))
	s.Usage.Add(resp.Usage)
	return strings.TrimSpace(resp.Content), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
