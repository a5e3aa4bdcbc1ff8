package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/randalmurphal/askdata/pkg/askdata"
	"github.com/randalmurphal/askdata/pkg/askdata/config"
	"github.com/randalmurphal/askdata/pkg/flowgraph/checkpoint"
	fgerrors "github.com/randalmurphal/askdata/pkg/flowgraph/errors"
	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/flowgraph/observability"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

const telemetryShutdownTimeout = 5 * time.Second

// app holds everything a command needs. Close releases it.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sqlx.DB
	store     checkpoint.Store
	telemetry *observability.Telemetry
	bot       *askdata.Bot
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	telemetry, err := observability.Setup(ctx, observability.SetupConfig{
		ServiceName:  "askdata",
		Metrics:      cfg.Telemetry.Metrics,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	a.telemetry = telemetry

	client, err := newClient(cfg.LLM, a.logger)
	if err != nil {
		return err
	}

	db, err := sqldb.Open(cfg.DB())
	if err != nil {
		return err
	}
	a.db = db

	opts := []askdata.Option{
		askdata.WithLogger(a.logger),
		askdata.WithLabels(cfg.Labels()),
		askdata.WithMaxClassifyAttempts(cfg.Graph.MaxClassifyAttempts),
		askdata.WithMaxSQLRepairs(cfg.Graph.MaxSQLRepairs),
		askdata.WithMaxIterations(cfg.Graph.MaxIterations),
		askdata.WithSchemaOptions(cfg.SchemaOptions()),
		askdata.WithQueryOptions(cfg.QueryOptions()),
	}

	if cfg.Prompts.Dir != "" {
		prompts, err := askdata.LoadPrompts(cfg.Prompts.Dir)
		if err != nil {
			return err
		}
		opts = append(opts, askdata.WithPrompts(prompts))
	}

	if cfg.Checkpoint.Path != "" {
		store, err := checkpoint.NewSQLiteStore(cfg.Checkpoint.Path)
		if err != nil {
			return fmt.Errorf("checkpoint store: %w", err)
		}
		a.store = store
		opts = append(opts, askdata.WithCheckpointStore(store))
	}

	if cfg.Telemetry.Metrics {
		opts = append(opts, askdata.WithMetrics(observability.NewMetricsRecorder()))
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		opts = append(opts, askdata.WithTracing(true))
	}

	bot, err := askdata.New(client, db, opts...)
	if err != nil {
		return err
	}
	a.bot = bot
	return nil
}

// Close releases the checkpoint store and database and flushes telemetry.
func (a *app) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// newClient builds the model client for the configured provider.
func newClient(cfg config.LLMConfig, logger *slog.Logger) (llm.Client, error) {
	if cfg.Provider == config.ProviderMock {
		client := llm.NewMockClient("")
		if len(cfg.MockResponses) > 0 {
			client = client.WithResponses(cfg.MockResponses...)
		}
		return client, nil
	}

	opts := []llm.OpenAIOption{
		llm.WithToken(cfg.APIKey),
		llm.WithBaseURL(cfg.BaseURL),
		llm.WithModel(cfg.Model),
		llm.WithTemperature(cfg.Temperature),
		llm.WithTimeout(cfg.Timeout.Std()),
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(cfg.MaxTokens))
	}

	client, err := llm.NewOpenAIClient(opts...)
	if err != nil {
		return nil, err
	}
	retry := fgerrors.NewRetryConfig(fgerrors.WithMaxAttempts(cfg.RetryAttempts))
	return llm.NewRetryClient(client, retry, logger), nil
}
