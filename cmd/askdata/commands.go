package main

import (
	"bufio"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/askdata/pkg/askdata"
	"github.com/randalmurphal/askdata/pkg/flowgraph"
	"github.com/randalmurphal/askdata/pkg/flowgraph/llm"
	"github.com/randalmurphal/askdata/pkg/sqldb"
)

// exampleQuestions match the sample table loaded by "askdata seed".
var exampleQuestions = []string{
	"What were total bottled water sales in the East region in March 2024?",
	"Which brand sold the most ready-to-drink tea in the first half of 2024?",
	"How did e-commerce sales of carbonated drinks change from January to June 2024?",
	"Which products launched in 2024, and how much did each sell?",
	"Hi! What can you help me with?",
}

func newAskCmd(g *globalFlags) *cobra.Command {
	var view answerView

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question",
		Example: `  askdata ask "How much bottled water was sold in March 2024?"
  askdata ask --show-sql --show-result "Top 3 brands by sales in June"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			answer, err := a.bot.Ask(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return view.print(cmd.OutOrStdout(), answer)
		},
	}

	cmd.Flags().BoolVar(&view.showSQL, "show-sql", false, "print the executed SQL")
	cmd.Flags().BoolVar(&view.showResult, "show-result", false, "print the query result table")
	cmd.Flags().BoolVar(&view.asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func newChatCmd(g *globalFlags) *cobra.Command {
	var view answerView

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()
			return chatLoop(cmd, a.bot, view)
		},
	}

	cmd.Flags().BoolVar(&view.showSQL, "show-sql", false, "print the executed SQL")
	cmd.Flags().BoolVar(&view.showResult, "show-result", false, "print the query result table")
	return cmd
}

func chatLoop(cmd *cobra.Command, bot *askdata.Bot, view answerView) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	chatColor.Fprintf(out, "Connected to %s. Ask a question, or type \"exit\" to quit.\n", bot.Dialect().Name())
	dimColor.Fprintln(out, "Try:")
	for _, q := range exampleQuestions {
		dimColor.Fprintf(out, "  - %s\n", q)
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		question := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(question) {
		case "":
			continue
		case "exit", "quit", "q":
			return nil
		}

		answer, err := bot.Ask(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			errorColor.Fprintf(out, "error: %v\n", err)
			continue
		}
		if err := view.print(out, answer); err != nil {
			return err
		}
	}
}

func newSchemaCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the schema description sent to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			text, err := a.bot.Schema(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newCheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Test the database and model connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			h := a.bot.Check(cmd.Context())
			if err := printHealth(cmd.OutOrStdout(), h); err != nil {
				return err
			}
			if !h.OK() {
				return errors.New("health check failed")
			}
			return nil
		},
	}
}

func newRunsCmd(g *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List checkpointed runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.bot.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list (0 for all)")

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <run-id>...",
		Short: "Delete the checkpoints of runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var errs []error
			for _, id := range args {
				if err := a.bot.DeleteRun(id); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", id, err))
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			}
			return errors.Join(errs...)
		},
	})
	return cmd
}

func newResumeCmd(g *globalFlags) *cobra.Command {
	var view answerView

	cmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Continue an interrupted run from its last checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			answer, err := a.bot.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return view.print(cmd.OutOrStdout(), answer)
		},
	}

	cmd.Flags().BoolVar(&view.showSQL, "show-sql", false, "print the executed SQL")
	cmd.Flags().BoolVar(&view.showResult, "show-result", false, "print the query result table")
	cmd.Flags().BoolVar(&view.asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func newSeedCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the sample sales table into the database",
		Long: `Creates the ` + sqldb.SampleTable + ` table in the configured database,
replacing it if it exists, and fills it with six months of sample data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config(false)
			if err != nil {
				return err
			}
			logger := g.logger(cmd, cfg, true)

			db, err := sqldb.Open(cfg.DB())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqldb.StatusCheck(cmd.Context(), db); err != nil {
				return fmt.Errorf("database unavailable: %w", err)
			}
			if err := sqldb.Seed(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info("sample data loaded", "table", sqldb.SampleTable)
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", sqldb.SampleTable)
			return nil
		},
	}
}

func newGraphCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the nodes and edges of the question pipeline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.config(false)
			if err != nil {
				return err
			}

			// Only the graph shape is needed; nothing is called or queried.
			db, err := sqldb.Open(cfg.DB())
			if err != nil {
				return err
			}
			defer db.Close()

			bot, err := askdata.New(llm.NewMockClient(""), db,
				askdata.WithLabels(askdata.Labels{Database: cfg.Graph.DatabaseLabel, Chat: cfg.Graph.ChatLabel}),
				askdata.WithLogger(g.logger(cmd, cfg, true)),
			)
			if err != nil {
				return err
			}
			printGraph(cmd, bot.Graph())
			return nil
		},
	}
}

func printGraph(cmd *cobra.Command, graph *flowgraph.CompiledGraph[askdata.State]) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "entry: %s\n", graph.EntryPoint())

	ids := graph.NodeIDs()
	slices.Sort(ids)
	for _, id := range ids {
		if graph.IsConditional(id) {
			fmt.Fprintf(out, "%s -> (conditional)\n", id)
			continue
		}
		fmt.Fprintf(out, "%s -> %s\n", id, strings.Join(graph.Successors(id), ", "))
	}
}
