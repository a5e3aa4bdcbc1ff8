package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/askdata/pkg/askdata/config"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configFile string
	dotEnv     string
	verbose    bool
	logFormat  string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:   "askdata",
		Short: "Ask questions about a SQL database in plain language",
		Long: `askdata turns questions into read-only SQL, runs them, and answers
from the result. Small talk is answered directly.

Configuration is read from the file given with --config, then .env, then
ASKDATA_* environment variables. Run "askdata seed" to load the sample
sales table into the configured database.`,
		Version:      version,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&g.configFile, "config", "c", "", "configuration file (YAML or JSON)")
	flags.StringVar(&g.dotEnv, "env-file", ".env", "dotenv file read for unset variables")
	flags.BoolVarP(&g.verbose, "verbose", "v", false, "log at debug level")
	flags.StringVar(&g.logFormat, "log-format", "", `log format, "json" or "text" (overrides config)`)

	root.AddCommand(
		newAskCmd(g),
		newChatCmd(g),
		newServeCmd(g),
		newMCPCmd(g),
		newSchemaCmd(g),
		newCheckCmd(g),
		newRunsCmd(g),
		newResumeCmd(g),
		newSeedCmd(g),
		newGraphCmd(g),
	)
	return root
}

// config loads the configuration and applies the global flags. Commands
// that never call the model pass validate=false.
func (g *globalFlags) config(validate bool) (*config.Config, error) {
	cfg, err := config.Load(config.Options{File: g.configFile, DotEnv: g.dotEnv})
	if err != nil {
		return nil, err
	}
	if g.verbose {
		cfg.Log.Level = "debug"
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration:\n%w", err)
		}
	}
	return cfg, nil
}

// logger writes to the command's stderr. Interactive commands are quiet
// at the default level so logs do not interleave with answers.
func (g *globalFlags) logger(cmd *cobra.Command, cfg *config.Config, interactive bool) *slog.Logger {
	if interactive && !g.verbose && strings.EqualFold(cfg.Log.Level, "info") {
		cfg.Log.Level = "warn"
	}
	return cfg.NewLogger(cmd.ErrOrStderr())
}

// open loads and validates the configuration and builds the app.
func (g *globalFlags) open(cmd *cobra.Command, interactive bool) (*app, error) {
	cfg, err := g.config(true)
	if err != nil {
		return nil, err
	}
	return newApp(cmd.Context(), cfg, g.logger(cmd, cfg, interactive))
}
