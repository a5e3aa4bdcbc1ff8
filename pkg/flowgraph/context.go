package flowgraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
)

// Context is what nodes and routers receive: the caller's context.Context
// plus the services and identity of the run.
type Context interface {
	context.Context

	// Logger never returns nil. Inside a node it carries run_id, node_id
	// and attempt.
	Logger() *slog.Logger

	// LLM returns the completion client, or nil if none was configured.
	LLM() llm.Client

	// Checkpointer returns the checkpoint store, or nil.
	Checkpointer() checkpoint.Store

	RunID() string

	// NodeID is empty outside a node.
	NodeID() string

	// Attempt is 1 on the first attempt.
	Attempt() int
}

type runContext struct {
	context.Context

	base    *slog.Logger
	logger  *slog.Logger
	client  llm.Client
	store   checkpoint.Store
	runID   string
	nodeID  string
	attempt int
}

func (c *runContext) Logger() *slog.Logger           { return c.logger }
func (c *runContext) LLM() llm.Client                { return c.client }
func (c *runContext) Checkpointer() checkpoint.Store { return c.store }
func (c *runContext) RunID() string                  { return c.runID }
func (c *runContext) NodeID() string                 { return c.nodeID }
func (c *runContext) Attempt() int                   { return c.attempt }

// at returns a copy of c positioned at node id, carrying parent's values
// (the node span among them).
func (c *runContext) at(id string, parent context.Context) *runContext {
	n := *c
	n.Context = parent
	n.nodeID = id
	n.logger = observability.EnrichLogger(c.base, c.runID, id, c.attempt)
	return &n
}

// ContextOption configures NewContext.
type ContextOption func(*runContext)

// WithLogger sets the logger nodes log through. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *runContext) {
		if logger != nil {
			c.base = logger
		}
	}
}

// WithLLM sets the client returned by Context.LLM.
func WithLLM(client llm.Client) ContextOption {
	return func(c *runContext) { c.client = client }
}

// WithCheckpointer sets the store returned by Context.Checkpointer.
func WithCheckpointer(store checkpoint.Store) ContextOption {
	return func(c *runContext) { c.store = store }
}

// WithContextRunID sets the run ID used in logs and spans. Checkpoints
// are keyed by the RunOption WithRunID instead.
func WithContextRunID(id string) ContextOption {
	return func(c *runContext) { c.runID = id }
}

// NewContext wraps ctx for a run. Without WithContextRunID a random UUID
// is used.
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(logger),
//	    flowgraph.WithLLM(client))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	c := &runContext{
		Context: ctx,
		base:    slog.Default(),
		attempt: 1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.runID == "" {
		c.runID = uuid.NewString()
	}
	c.logger = c.base
	return c
}
