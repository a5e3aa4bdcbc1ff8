// Package askdata answers natural language questions about a SQL database.
//
// A question first goes through a classifier. Small talk is answered
// directly; database questions go through a pipeline that generates a
// SQL statement, cleans and guards it, runs it read-only and summarizes
// the rows:
//
//	classify ─┬─ chat ────────────────────────────────────────────── END
//	          └─ generate_sql ─ sanitize_sql ─ execute_sql ─ summarize ─ END
//
// classify loops back to itself when the model replies with an unknown
// label, and execute_sql loops back to generate_sql with the error when a
// statement fails.
package askdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/randalmurphal/askdata/pkg/flowgraph"
	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

// Defaults for the pipeline limits.
const (
	DefaultMaxClassifyAttempts = 3
	DefaultMaxSQLRepairs       = 1
	DefaultMaxIterations       = 50
)

// Bot answers questions. It is safe for concurrent use.
type Bot struct {
	client  llm.Client
	db      *sqlx.DB
	dialect sqldb.Dialect
	logger  *slog.Logger
	store   checkpoint.Store
	prompts Prompts
	labels  Labels
	metrics observability.MetricsRecorder
	tracing bool

	maxClassifyAttempts int
	maxSQLRepairs       int
	maxIterations       int
	schemaOpts          sqldb.SchemaOptions
	queryOpts           sqldb.QueryOptions

	schemaMu    sync.Mutex
	schemaText  string
	schemaFixed bool

	graph *flowgraph.CompiledGraph[State]
}

// New builds a Bot that prompts client and queries db.
func New(client llm.Client, db *sqlx.DB, opts ...Option) (*Bot, error) {
	if client == nil {
		return nil, errors.New("askdata: llm client is required")
	}
	if db == nil {
		return nil, errors.New("askdata: database is required")
	}

	b := &Bot{
		client:              client,
		db:                  db,
		dialect:             sqldb.DialectOf(db),
		logger:              slog.Default(),
		prompts:             DefaultPrompts(),
		labels:              DefaultLabels(),
		metrics:             observability.NoopMetrics{},
		maxClassifyAttempts: DefaultMaxClassifyAttempts,
		maxSQLRepairs:       DefaultMaxSQLRepairs,
		maxIterations:       DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.labels.Validate(); err != nil {
		return nil, fmt.Errorf("askdata: %w", err)
	}
	b.labels = b.labels.Normalize()

	graph, err := b.buildGraph()
	if err != nil {
		return nil, fmt.Errorf("askdata: build graph: %w", err)
	}
	b.graph = graph
	return b, nil
}

// Graph returns the compiled pipeline.
func (b *Bot) Graph() *flowgraph.CompiledGraph[State] {
	return b.graph
}

// Dialect returns the SQL dialect statements are generated for.
func (b *Bot) Dialect() sqldb.Dialect {
	return b.dialect
}

// Ask answers a question. A failed run returns *RunError; when a
// checkpoint store is configured the run can be continued with Resume.
func (b *Bot) Ask(ctx context.Context, question string) (*Answer, error) {
	question = normalizeQuestion(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	runID := uuid.NewString()
	b.logger.Info("question received",
		slog.String("run_id", runID),
		slog.String("question", question),
	)

	opts := b.runOptions()
	if b.store != nil {
		opts = append(opts, flowgraph.WithCheckpointing(b.store), flowgraph.WithRunID(runID))
	}

	final, err := b.graph.Run(b.newContext(ctx, runID), State{Question: question}, opts...)
	if err != nil {
		return nil, &RunError{RunID: runID, Err: err}
	}
	return newAnswer(runID, final, b.labels), nil
}

// Resume continues a run from its latest checkpoint. Resuming a completed
// run returns its answer without calling the model again.
func (b *Bot) Resume(ctx context.Context, runID string) (*Answer, error) {
	if b.store == nil {
		return nil, ErrNoCheckpointStore
	}

	final, err := b.graph.Resume(b.newContext(ctx, runID), b.store, runID,
		flowgraph.WithRunOptions(b.runOptions()...))
	if err != nil {
		if errors.Is(err, flowgraph.ErrNoCheckpoints) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil, &RunError{RunID: runID, Err: err}
	}
	return newAnswer(runID, final, b.labels), nil
}

// Run statuses reported by Runs.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
)

// RunInfo describes a past run.
type RunInfo struct {
	RunID       string    `json:"run_id"`
	Question    string    `json:"question"`
	Status      string    `json:"status"`
	LastNode    string    `json:"last_node"`
	Checkpoints int       `json:"checkpoints"`
	UpdatedAt   time.Time `json:"updated_at"`
	Answer      string    `json:"answer,omitempty"`
}

// Runs lists the most recently updated runs, newest first. A limit <= 0
// lists every run.
func (b *Bot) Runs(ctx context.Context, limit int) ([]RunInfo, error) {
	if b.store == nil {
		return nil, ErrNoCheckpointStore
	}

	summaries, err := b.store.ListRuns(limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]RunInfo, 0, len(summaries))
	for _, sum := range summaries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info := RunInfo{
			RunID:       sum.RunID,
			LastNode:    sum.LastNodeID,
			Checkpoints: sum.Checkpoints,
			UpdatedAt:   sum.UpdatedAt,
			Status:      StatusInterrupted,
		}

		cp, state, err := b.loadCheckpoint(sum.RunID, sum.LastNodeID)
		if err != nil {
			b.logger.Warn("unreadable checkpoint",
				slog.String("run_id", sum.RunID),
				slog.String("node_id", sum.LastNodeID),
				slog.String("error", err.Error()),
			)
			runs = append(runs, info)
			continue
		}

		info.Question = state.Question
		if cp.NextNode == flowgraph.END {
			info.Status = StatusCompleted
			if n := len(state.FinalAnswer); n > 0 {
				info.Answer = stripStepPrefix(state.FinalAnswer[n-1])
			}
		}
		runs = append(runs, info)
	}
	return runs, nil
}

// DeleteRun removes every checkpoint of a run.
func (b *Bot) DeleteRun(runID string) error {
	if b.store == nil {
		return ErrNoCheckpointStore
	}
	infos, err := b.store.List(runID)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	if len(infos) == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return b.store.DeleteRun(runID)
}

func (b *Bot) loadCheckpoint(runID, nodeID string) (*checkpoint.Checkpoint, State, error) {
	data, err := b.store.Load(runID, nodeID)
	if err != nil {
		return nil, State{}, err
	}
	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, State{}, err
	}
	var state State
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, State{}, err
	}
	return cp, state, nil
}

// Schema returns the schema text embedded in SQL prompts. The catalog is
// read on first use and cached.
func (b *Bot) Schema(ctx context.Context) (string, error) {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	if b.schemaText != "" {
		return b.schemaText, nil
	}
	return b.loadSchemaLocked(ctx)
}

// RefreshSchema reads the catalog again, replacing the cached schema.
// A schema set with WithSchemaText is returned unchanged.
func (b *Bot) RefreshSchema(ctx context.Context) (string, error) {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	if b.schemaFixed {
		return b.schemaText, nil
	}
	return b.loadSchemaLocked(ctx)
}

func (b *Bot) loadSchemaLocked(ctx context.Context) (string, error) {
	schema, err := sqldb.LoadSchema(ctx, b.db, b.dialect, b.schemaOpts)
	if err != nil {
		return "", err
	}
	if len(schema.Tables) == 0 {
		return "", errors.New("no tables found in the database")
	}

	b.schemaText = schema.String()
	b.logger.Info("schema loaded",
		slog.Int("tables", len(schema.Tables)),
		slog.Any("names", schema.TableNames()),
	)
	return b.schemaText, nil
}

func (b *Bot) newContext(ctx context.Context, runID string) flowgraph.Context {
	return flowgraph.NewContext(ctx,
		flowgraph.WithLogger(b.logger),
		flowgraph.WithLLM(b.client),
		flowgraph.WithCheckpointer(b.store),
		flowgraph.WithContextRunID(runID),
	)
}

func (b *Bot) runOptions() []flowgraph.RunOption {
	return []flowgraph.RunOption{
		flowgraph.WithMaxIterations(b.maxIterations),
		flowgraph.WithObservabilityLogger(b.logger),
		flowgraph.WithMetricsRecorder(b.metrics),
		flowgraph.WithTracing(b.tracing),
	}
}
