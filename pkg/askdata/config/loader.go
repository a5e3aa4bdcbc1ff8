package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Options controls where Load reads from.
type Options struct {
	// File is a YAML or JSON configuration file. Empty skips it.
	File string

	// DotEnv is a .env file read for variables missing from the process
	// environment. A missing file is ignored. Empty means ".env".
	DotEnv string

	// LookupEnv reads the environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from defaults, then the file, then
// environment variables, later sources winning. It does not validate.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		if err := FromFile(opts.File, cfg); err != nil {
			return nil, err
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	dotenvPath := opts.DotEnv
	if dotenvPath == "" {
		dotenvPath = ".env"
	}
	dotenv, err := godotenv.Read(dotenvPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
	}

	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile decodes a file into cfg, detecting the format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		return FromYAML(data, cfg)
	case ".json":
		return FromJSON(data, cfg)
	default:
		return fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML decodes YAML into cfg. Unknown keys are rejected.
func FromYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

// FromJSON decodes JSON into cfg. Unknown keys are rejected.
func FromJSON(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	return nil
}

type envVar struct {
	name string
	set  func(c *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func duration(dst func(*Config) *Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

func list(dst func(*Config) *[]string) func(*Config, string) error {
	return func(c *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst(c) = out
		return nil
	}
}

// envVars are applied in order, so the generic API key variables only
// fill in a key that is still empty.
var envVars = []envVar{
	{"ASKDATA_LLM_PROVIDER", str(func(c *Config) *string { return &c.LLM.Provider })},
	{"ASKDATA_LLM_BASE_URL", str(func(c *Config) *string { return &c.LLM.BaseURL })},
	{"ASKDATA_LLM_API_KEY", str(func(c *Config) *string { return &c.LLM.APIKey })},
	{"ASKDATA_LLM_MODEL", str(func(c *Config) *string { return &c.LLM.Model })},
	{"ASKDATA_LLM_TEMPERATURE", func(c *Config, v string) error {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		c.LLM.Temperature = f
		return nil
	}},
	{"ASKDATA_LLM_MAX_TOKENS", integer(func(c *Config) *int { return &c.LLM.MaxTokens })},
	{"ASKDATA_LLM_TIMEOUT", duration(func(c *Config) *Duration { return &c.LLM.Timeout })},
	{"ASKDATA_LLM_RETRY_ATTEMPTS", integer(func(c *Config) *int { return &c.LLM.RetryAttempts })},
	{"DEEPSEEK_API_KEY", fillEmpty(func(c *Config) *string { return &c.LLM.APIKey })},
	{"OPENAI_API_KEY", fillEmpty(func(c *Config) *string { return &c.LLM.APIKey })},

	{"ASKDATA_DB_DRIVER", str(func(c *Config) *string { return &c.Database.Driver })},
	{"ASKDATA_DB_DSN", str(func(c *Config) *string { return &c.Database.DSN })},
	{"DATABASE_URL", fillEmpty(func(c *Config) *string { return &c.Database.DSN })},
	{"ASKDATA_DB_HOST", str(func(c *Config) *string { return &c.Database.Host })},
	{"ASKDATA_DB_USER", str(func(c *Config) *string { return &c.Database.User })},
	{"ASKDATA_DB_PASSWORD", str(func(c *Config) *string { return &c.Database.Password })},
	{"ASKDATA_DB_NAME", str(func(c *Config) *string { return &c.Database.Name })},
	{"ASKDATA_DB_SCHEMA", str(func(c *Config) *string { return &c.Database.Schema })},
	{"ASKDATA_DB_DISABLE_TLS", boolean(func(c *Config) *bool { return &c.Database.DisableTLS })},
	{"ASKDATA_DB_INCLUDE_TABLES", list(func(c *Config) *[]string { return &c.Database.IncludeTables })},
	{"ASKDATA_DB_EXCLUDE_TABLES", list(func(c *Config) *[]string { return &c.Database.ExcludeTables })},
	{"ASKDATA_DB_SAMPLE_ROWS", integer(func(c *Config) *int { return &c.Database.SampleRows })},
	{"ASKDATA_DB_MAX_ROWS", integer(func(c *Config) *int { return &c.Database.MaxRows })},
	{"ASKDATA_DB_QUERY_TIMEOUT", duration(func(c *Config) *Duration { return &c.Database.QueryTimeout })},

	{"ASKDATA_GRAPH_MAX_ITERATIONS", integer(func(c *Config) *int { return &c.Graph.MaxIterations })},
	{"ASKDATA_GRAPH_MAX_CLASSIFY_ATTEMPTS", integer(func(c *Config) *int { return &c.Graph.MaxClassifyAttempts })},
	{"ASKDATA_GRAPH_MAX_SQL_REPAIRS", integer(func(c *Config) *int { return &c.Graph.MaxSQLRepairs })},

	{"ASKDATA_CHECKPOINT_PATH", str(func(c *Config) *string { return &c.Checkpoint.Path })},
	{"ASKDATA_PROMPTS_DIR", str(func(c *Config) *string { return &c.Prompts.Dir })},
	{"ASKDATA_LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"ASKDATA_LOG_FORMAT", str(func(c *Config) *string { return &c.Log.Format })},
	{"ASKDATA_SERVER_ADDR", str(func(c *Config) *string { return &c.Server.Addr })},
	{"ASKDATA_METRICS", boolean(func(c *Config) *bool { return &c.Telemetry.Metrics })},
	{"ASKDATA_OTLP_ENDPOINT", str(func(c *Config) *string { return &c.Telemetry.OTLPEndpoint })},
}

func fillEmpty(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		if p := dst(c); *p == "" {
			*p = v
		}
		return nil
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.name, err))
		}
	}
	return errors.Join(errs...)
}
