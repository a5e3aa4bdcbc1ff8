package askdata

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

// Labels are the literal classifier outputs routed to each branch.
type Labels struct {
	Database string
	Chat     string
}

// DefaultLabels returns the labels the built-in classify prompt asks for.
func DefaultLabels() Labels {
	return Labels{Database: "database", Chat: "chat"}
}

// Normalize returns the labels in the form classifier replies are
// compared in.
func (l Labels) Normalize() Labels {
	return Labels{Database: normalizeLabel(l.Database), Chat: normalizeLabel(l.Chat)}
}

// Validate reports labels that are empty or equal once normalized.
func (l Labels) Validate() error {
	n := l.Normalize()
	if n.Database == "" || n.Chat == "" || n.Database == n.Chat {
		return fmt.Errorf("labels must be distinct and non-empty, got %q and %q", n.Database, n.Chat)
	}
	return nil
}

// Option configures a Bot.
type Option func(*Bot)

// WithDialect overrides the dialect detected from the connection.
func WithDialect(d sqldb.Dialect) Option {
	return func(b *Bot) { b.dialect = d }
}

// WithLogger sets the logger for the bot and its graph runs.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bot) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithCheckpointStore saves a checkpoint after every node so failed runs
// can be resumed and past runs listed.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(b *Bot) { b.store = store }
}

// WithPrompts replaces the prompt templates.
func WithPrompts(p Prompts) Option {
	return func(b *Bot) { b.prompts = p }
}

// WithLabels sets the classifier labels. Replies and labels are compared
// after trimming punctuation and lower casing both.
func WithLabels(l Labels) Option {
	return func(b *Bot) { b.labels = l }
}

// WithMaxClassifyAttempts bounds how often the classifier is asked again
// after an unrecognized label. When exhausted the question is treated as
// chat.
func WithMaxClassifyAttempts(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.maxClassifyAttempts = n
		}
	}
}

// WithMaxSQLRepairs bounds how often a failed statement is sent back to
// the model with its error. Zero disables repairs.
func WithMaxSQLRepairs(n int) Option {
	return func(b *Bot) {
		if n >= 0 {
			b.maxSQLRepairs = n
		}
	}
}

// WithMaxIterations bounds the number of node executions per run.
func WithMaxIterations(n int) Option {
	return func(b *Bot) {
		if n > 0 {
			b.maxIterations = n
		}
	}
}

// WithSchemaOptions selects the tables described to the model.
func WithSchemaOptions(opts sqldb.SchemaOptions) Option {
	return func(b *Bot) { b.schemaOpts = opts }
}

// WithSchemaText uses text as the schema description instead of reading
// the database catalog.
func WithSchemaText(text string) Option {
	return func(b *Bot) {
		b.schemaText = text
		b.schemaFixed = text != ""
	}
}

// WithQueryOptions bounds generated queries.
func WithQueryOptions(opts sqldb.QueryOptions) Option {
	return func(b *Bot) { b.queryOpts = opts }
}

// WithMetrics records OpenTelemetry metrics for runs, LLM calls and
// queries.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(b *Bot) {
		if m != nil {
			b.metrics = m
		}
	}
}

// WithTracing emits a span per run and per node.
func WithTracing(enabled bool) Option {
	return func(b *Bot) { b.tracing = enabled }
}
