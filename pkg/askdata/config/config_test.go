package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/randalmurphal/askdata/pkg/askdata"
	"github.com/randalmurphal/askdata/pkg/askdata/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noDotEnv(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

// TestDefault verifies the defaults only lack the API key.
func TestDefault(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, "deepseek-chat", cfg.LLM.Model)
	assert.Equal(t, 2*time.Minute, cfg.LLM.Timeout.Std())
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 1, cfg.Graph.MaxSQLRepairs)
	assert.Empty(t, cfg.Checkpoint.Path)

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.api_key is required")

	cfg.LLM.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}

// TestParseDuration verifies duration strings and plain seconds.
func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30s", 30 * time.Second, false},
		{"1m30s", 90 * time.Second, false},
		{"15", 15 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{" 2m ", 2 * time.Minute, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := config.ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Std())
		})
	}
}

// TestFromFile verifies YAML and JSON decoding over the defaults.
func TestFromFile(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		path := writeFile(t, "askdata.yaml", `
llm:
  model: deepseek-reasoner
  timeout: 90
database:
  driver: sqlite
  dsn: sales.db
  include_tables: [product_sales_monthly]
  query_timeout: 15s
graph:
  max_sql_repairs: 0
`)
		cfg := config.Default()
		require.NoError(t, config.FromFile(path, cfg))

		assert.Equal(t, "deepseek-reasoner", cfg.LLM.Model)
		assert.Equal(t, 90*time.Second, cfg.LLM.Timeout.Std())
		assert.Equal(t, "https://api.deepseek.com/v1", cfg.LLM.BaseURL, "unset keys keep defaults")
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, []string{"product_sales_monthly"}, cfg.Database.IncludeTables)
		assert.Equal(t, 15*time.Second, cfg.Database.QueryTimeout.Std())
		assert.Equal(t, 0, cfg.Graph.MaxSQLRepairs)
	})

	t.Run("json", func(t *testing.T) {
		path := writeFile(t, "askdata.json", `{"llm": {"provider": "mock", "timeout": "5s"}, "log": {"format": "text"}}`)
		cfg := config.Default()
		require.NoError(t, config.FromFile(path, cfg))

		assert.Equal(t, config.ProviderMock, cfg.LLM.Provider)
		assert.Equal(t, 5*time.Second, cfg.LLM.Timeout.Std())
		assert.Equal(t, "text", cfg.Log.Format)
	})

	t.Run("empty yaml", func(t *testing.T) {
		cfg := config.Default()
		require.NoError(t, config.FromYAML(nil, cfg))
		assert.Equal(t, config.Default(), cfg)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			name    string
			file    string
			content string
			errMsg  string
		}{
			{"unknown key", "a.yaml", "llm:\n  modle: x\n", "parse yaml"},
			{"bad duration", "a.yml", "llm:\n  timeout: soon\n", "invalid duration"},
			{"bad json", "a.json", "{", "parse json"},
			{"unknown json key", "a.json", `{"extra": 1}`, "parse json"},
			{"unsupported extension", "a.toml", "", "unsupported config file extension: .toml"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := config.FromFile(writeFile(t, tt.file, tt.content), config.Default())
				assert.ErrorContains(t, err, tt.errMsg)
			})
		}

		err := config.FromFile(filepath.Join(t.TempDir(), "missing.yaml"), config.Default())
		assert.ErrorContains(t, err, "read config file")
	})
}

// TestLoad verifies the precedence of file, environment and .env values.
func TestLoad(t *testing.T) {
	t.Run("environment overrides file", func(t *testing.T) {
		path := writeFile(t, "askdata.yaml", "llm:\n  model: from-file\ndatabase:\n  max_rows: 10\n")
		cfg, err := config.Load(config.Options{
			File:   path,
			DotEnv: noDotEnv(t),
			LookupEnv: envMap(map[string]string{
				"ASKDATA_LLM_MODEL":         "from-env",
				"ASKDATA_DB_QUERY_TIMEOUT":  "3",
				"ASKDATA_DB_EXCLUDE_TABLES": "audit_log, tmp_*",
				"ASKDATA_DB_DISABLE_TLS":    "true",
				"ASKDATA_METRICS":           "1",
			}),
		})
		require.NoError(t, err)

		assert.Equal(t, "from-env", cfg.LLM.Model)
		assert.Equal(t, 10, cfg.Database.MaxRows)
		assert.Equal(t, 3*time.Second, cfg.Database.QueryTimeout.Std())
		assert.Equal(t, []string{"audit_log", "tmp_*"}, cfg.Database.ExcludeTables)
		assert.True(t, cfg.Database.DisableTLS)
		assert.True(t, cfg.Telemetry.Metrics)
	})

	t.Run("api key fallbacks", func(t *testing.T) {
		cfg, err := config.Load(config.Options{
			DotEnv: noDotEnv(t),
			LookupEnv: envMap(map[string]string{
				"DEEPSEEK_API_KEY": "sk-deepseek",
				"OPENAI_API_KEY":   "sk-openai",
				"DATABASE_URL":     "postgres://db/sales",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, "sk-deepseek", cfg.LLM.APIKey)
		assert.Equal(t, "postgres://db/sales", cfg.Database.DSN)

		cfg, err = config.Load(config.Options{
			DotEnv: noDotEnv(t),
			LookupEnv: envMap(map[string]string{
				"ASKDATA_LLM_API_KEY": "sk-askdata",
				"DEEPSEEK_API_KEY":    "sk-deepseek",
			}),
		})
		require.NoError(t, err)
		assert.Equal(t, "sk-askdata", cfg.LLM.APIKey)
	})

	t.Run("dotenv fills missing variables", func(t *testing.T) {
		dotenv := writeFile(t, ".env", "DEEPSEEK_API_KEY=sk-dotenv\nASKDATA_LOG_LEVEL=debug\n")
		cfg, err := config.Load(config.Options{
			DotEnv:    dotenv,
			LookupEnv: envMap(map[string]string{"ASKDATA_LOG_LEVEL": "warn"}),
		})
		require.NoError(t, err)
		assert.Equal(t, "sk-dotenv", cfg.LLM.APIKey)
		assert.Equal(t, "warn", cfg.Log.Level, "process environment wins over .env")
	})

	t.Run("invalid values are all reported", func(t *testing.T) {
		_, err := config.Load(config.Options{
			DotEnv: noDotEnv(t),
			LookupEnv: envMap(map[string]string{
				"ASKDATA_DB_MAX_ROWS":    "many",
				"ASKDATA_LLM_TIMEOUT":    "later",
				"ASKDATA_DB_DISABLE_TLS": "maybe",
			}),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ASKDATA_DB_MAX_ROWS")
		assert.Contains(t, err.Error(), "ASKDATA_LLM_TIMEOUT")
		assert.Contains(t, err.Error(), "ASKDATA_DB_DISABLE_TLS")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(config.Options{File: filepath.Join(t.TempDir(), "nope.yaml"), DotEnv: noDotEnv(t)})
		assert.Error(t, err)
	})
}

// TestValidate verifies that every problem is reported.
func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		errMsg string
	}{
		{"unknown provider", func(c *config.Config) { c.LLM.Provider = "bard" }, `llm.provider must be "openai" or "mock"`},
		{"temperature", func(c *config.Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"driver", func(c *config.Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"postgres host", func(c *config.Config) { c.Database.Host = "" }, "database.host is required"},
		{"max rows", func(c *config.Config) { c.Database.MaxRows = 0 }, "database.max_rows"},
		{"classify attempts", func(c *config.Config) { c.Graph.MaxClassifyAttempts = 0 }, "graph.max_classify_attempts"},
		{"same labels", func(c *config.Config) { c.Graph.ChatLabel = "DATABASE" }, "must differ"},
		{"same labels after punctuation", func(c *config.Config) {
			c.Graph.DatabaseLabel = "db"
			c.Graph.ChatLabel = "db."
		}, "must differ"},
		{"punctuation only label", func(c *config.Config) { c.Graph.ChatLabel = "?!" }, "must differ"},
		{"log level", func(c *config.Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.LLM.APIKey = "sk-test"
			tt.modify(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}

	t.Run("mock needs no key", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.Provider = config.ProviderMock
		assert.NoError(t, cfg.Validate())
	})

	t.Run("dsn replaces host and name", func(t *testing.T) {
		cfg := config.Default()
		cfg.LLM.APIKey = "sk-test"
		cfg.Database.Host = ""
		cfg.Database.Name = ""
		cfg.Database.DSN = "postgres://db/sales"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("joined", func(t *testing.T) {
		cfg := config.Default()
		cfg.Log.Format = "xml"
		err := cfg.Validate()
		assert.ErrorContains(t, err, "llm.api_key")
		assert.ErrorContains(t, err, "log.format")
	})
}

// TestDerivedOptions verifies the settings handed to sqldb.
func TestDerivedOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:sales.db"
	cfg.Database.IncludeTables = []string{"product_*"}
	cfg.Database.SampleRows = 3
	cfg.Database.MaxRows = 25

	db := cfg.DB()
	assert.Equal(t, "sqlite", db.Driver)
	assert.Equal(t, "file:sales.db", db.DSN)

	so := cfg.SchemaOptions()
	assert.Equal(t, []string{"product_*"}, so.Include)
	assert.Equal(t, 3, so.SampleRows)

	assert.Equal(t, askdata.DefaultLabels(), cfg.Labels())

	qo := cfg.QueryOptions()
	assert.Equal(t, 25, qo.MaxRows)
	assert.Equal(t, 30*time.Second, qo.Timeout)
}

// TestNewLogger verifies level and format selection.
func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.Default()
	cfg.Log.Level = "warn"
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	cfg.Log.Format = "text"
	cfg.Log.Level = "debug"
	cfg.NewLogger(&buf).Debug("detail")
	assert.Contains(t, buf.String(), "msg=detail")
}
