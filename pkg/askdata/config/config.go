package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/askdata/pkg/askdata"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

// Config is the complete application configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm" json:"llm"`
	Database   DatabaseConfig   `yaml:"database" json:"database"`
	Graph      GraphConfig      `yaml:"graph" json:"graph"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Prompts    PromptsConfig    `yaml:"prompts" json:"prompts"`
	Log        LogConfig        `yaml:"log" json:"log"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
}

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// LLMConfig selects and tunes the model.
type LLMConfig struct {
	// Provider is "openai" for any OpenAI-compatible endpoint or "mock"
	// for scripted replies.
	Provider      string   `yaml:"provider" json:"provider"`
	BaseURL       string   `yaml:"base_url" json:"base_url"`
	APIKey        string   `yaml:"api_key" json:"api_key"`
	Model         string   `yaml:"model" json:"model"`
	Temperature   float64  `yaml:"temperature" json:"temperature"`
	MaxTokens     int      `yaml:"max_tokens" json:"max_tokens"`
	Timeout       Duration `yaml:"timeout" json:"timeout"`
	RetryAttempts int      `yaml:"retry_attempts" json:"retry_attempts"`

	// MockResponses are returned in turn by the mock provider.
	MockResponses []string `yaml:"mock_responses" json:"mock_responses"`
}

// DatabaseConfig describes the database questions are answered from.
type DatabaseConfig struct {
	Driver       string `yaml:"driver" json:"driver"`
	DSN          string `yaml:"dsn" json:"dsn"`
	Host         string `yaml:"host" json:"host"`
	User         string `yaml:"user" json:"user"`
	Password     string `yaml:"password" json:"password"`
	Name         string `yaml:"name" json:"name"`
	Schema       string `yaml:"schema" json:"schema"`
	DisableTLS   bool   `yaml:"disable_tls" json:"disable_tls"`
	MaxIdleConns int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns"`

	IncludeTables []string `yaml:"include_tables" json:"include_tables"`
	ExcludeTables []string `yaml:"exclude_tables" json:"exclude_tables"`
	SampleRows    int      `yaml:"sample_rows" json:"sample_rows"`

	MaxRows      int      `yaml:"max_rows" json:"max_rows"`
	QueryTimeout Duration `yaml:"query_timeout" json:"query_timeout"`
}

// GraphConfig bounds the pipeline.
type GraphConfig struct {
	MaxIterations       int    `yaml:"max_iterations" json:"max_iterations"`
	MaxClassifyAttempts int    `yaml:"max_classify_attempts" json:"max_classify_attempts"`
	MaxSQLRepairs       int    `yaml:"max_sql_repairs" json:"max_sql_repairs"`
	DatabaseLabel       string `yaml:"database_label" json:"database_label"`
	ChatLabel           string `yaml:"chat_label" json:"chat_label"`
}

// CheckpointConfig locates the checkpoint database. An empty path
// disables checkpointing.
type CheckpointConfig struct {
	Path string `yaml:"path" json:"path"`
}

// PromptsConfig points at a directory of prompt overrides.
type PromptsConfig struct {
	Dir string `yaml:"dir" json:"dir"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// TelemetryConfig configures metrics and trace export.
type TelemetryConfig struct {
	Metrics      bool   `yaml:"metrics" json:"metrics"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlp_insecure"`
}

// Default returns the configuration used for every unset value.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:      ProviderOpenAI,
			BaseURL:       "https://api.deepseek.com/v1",
			Model:         "deepseek-chat",
			Timeout:       Duration(2 * time.Minute),
			RetryAttempts: 3,
		},
		Database: DatabaseConfig{
			Driver:       string(sqldb.Postgres),
			Host:         "localhost:5432",
			User:         "postgres",
			Name:         "postgres",
			MaxIdleConns: 2,
			MaxOpenConns: 10,
			MaxRows:      sqldb.DefaultMaxRows,
			QueryTimeout: Duration(30 * time.Second),
		},
		Graph: GraphConfig{
			MaxIterations:       50,
			MaxClassifyAttempts: 3,
			MaxSQLRepairs:       1,
			DatabaseLabel:       "database",
			ChatLabel:           "chat",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			add("llm.api_key is required (set ASKDATA_LLM_API_KEY or DEEPSEEK_API_KEY)")
		}
		if c.LLM.BaseURL == "" {
			add("llm.base_url is required")
		}
		if c.LLM.Model == "" {
			add("llm.model is required")
		}
	case ProviderMock:
	default:
		add("llm.provider must be %q or %q, got %q", ProviderOpenAI, ProviderMock, c.LLM.Provider)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		add("llm.temperature must be between 0 and 2, got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.max_tokens must not be negative")
	}
	if c.LLM.RetryAttempts < 1 {
		add("llm.retry_attempts must be at least 1")
	}

	dialect, err := sqldb.ParseDialect(c.Database.Driver)
	if err != nil {
		add("database.driver: %v", err)
	}
	if dialect == sqldb.Postgres && c.Database.DSN == "" {
		if c.Database.Host == "" {
			add("database.host is required when database.dsn is empty")
		}
		if c.Database.Name == "" {
			add("database.name is required when database.dsn is empty")
		}
	}
	if c.Database.MaxRows < 1 {
		add("database.max_rows must be at least 1")
	}
	if c.Database.SampleRows < 0 {
		add("database.sample_rows must not be negative")
	}

	if c.Graph.MaxIterations < 1 {
		add("graph.max_iterations must be at least 1")
	}
	if c.Graph.MaxClassifyAttempts < 1 {
		add("graph.max_classify_attempts must be at least 1")
	}
	if c.Graph.MaxSQLRepairs < 0 {
		add("graph.max_sql_repairs must not be negative")
	}
	if c.Graph.DatabaseLabel == "" || c.Graph.ChatLabel == "" {
		add("graph.database_label and graph.chat_label are required")
	} else if err := c.Labels().Validate(); err != nil {
		add("graph.database_label and graph.chat_label must differ: %v", err)
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		add("log.format must be \"json\" or \"text\", got %q", c.Log.Format)
	}

	return errors.Join(errs...)
}

// Labels returns the classifier labels.
func (c *Config) Labels() askdata.Labels {
	return askdata.Labels{Database: c.Graph.DatabaseLabel, Chat: c.Graph.ChatLabel}
}

// DB returns the connection settings.
func (c *Config) DB() sqldb.Config {
	return sqldb.Config{
		Driver:       c.Database.Driver,
		DSN:          c.Database.DSN,
		User:         c.Database.User,
		Password:     c.Database.Password,
		Host:         c.Database.Host,
		Name:         c.Database.Name,
		Schema:       c.Database.Schema,
		MaxIdleConns: c.Database.MaxIdleConns,
		MaxOpenConns: c.Database.MaxOpenConns,
		DisableTLS:   c.Database.DisableTLS,
	}
}

// SchemaOptions returns the catalog filter.
func (c *Config) SchemaOptions() sqldb.SchemaOptions {
	return sqldb.SchemaOptions{
		Schema:     c.Database.Schema,
		Include:    c.Database.IncludeTables,
		Exclude:    c.Database.ExcludeTables,
		SampleRows: c.Database.SampleRows,
	}
}

// QueryOptions returns the bounds for generated queries.
func (c *Config) QueryOptions() sqldb.QueryOptions {
	return sqldb.QueryOptions{
		MaxRows: c.Database.MaxRows,
		Timeout: c.Database.QueryTimeout.Std(),
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}
