package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wolfgrid/sherlock/internal/collect"
	"github.com/wolfgrid/sherlock/internal/config"
	"github.com/wolfgrid/sherlock/internal/cycle"
	"github.com/wolfgrid/sherlock/internal/focus"
	"github.com/wolfgrid/sherlock/internal/render"
	"github.com/wolfgrid/sherlock/internal/schema"
	"github.com/wolfgrid/sherlock/internal/task"
)

// errSubmission marks a cycle that completed but failed to submit; it maps
// to exit code 1 without a second error print (the summary already carries
// the detail).
var errSubmission = errors.New("submission failed")

func main() {
	root := &cobra.Command{
		Use:           "sherlock",
		Short:         "Incident discovery, enrichment, and submission pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCycleCmd())

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errSubmission) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

type cycleFlags struct {
	mode              string
	taskID            string
	taskName          string
	taskDescription   string
	dryRun            bool
	jsonOut           bool
	stateFile         string
	focusLocations    string
	minIncidents      int
	maxPasses         int
	xQuery            string
	perplexityQueries string
	debug             bool
}

func newCycleCmd() *cobra.Command {
	var f cycleFlags

	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one discovery cycle: collect, enrich, submit, commit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCycle(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.mode, "mode", "autonomous", "run mode: autonomous or directed")
	cmd.Flags().StringVar(&f.taskID, "task-id", "", "directed-task id driving this cycle")
	cmd.Flags().StringVar(&f.taskName, "task-name", "", "directed-task name")
	cmd.Flags().StringVar(&f.taskDescription, "task-description", "", "directed-task brief text for the planner")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "suppress submission network I/O and state persistence")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "emit the full run summary as JSON on stdout")
	cmd.Flags().StringVar(&f.stateFile, "state-file", "sherlock-state.json", "path of the persisted run state")
	cmd.Flags().StringVar(&f.focusLocations, "focus-locations", "", "focus locations (JSON array, ||-joined, or newline-joined)")
	cmd.Flags().IntVar(&f.minIncidents, "min-incidents", 0, "stop passes early once this many incidents normalize")
	cmd.Flags().IntVar(&f.maxPasses, "max-passes", 2, "pass limit, clamped to [1,4]")
	cmd.Flags().StringVar(&f.xQuery, "x-query", "", "override the X search query")
	cmd.Flags().StringVar(&f.perplexityQueries, "perplexity-queries", "", "override retrieval queries, ||-joined")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "verbose logging")

	return cmd
}

func runCycle(ctx context.Context, f cycleFlags) error {
	mode := schema.Mode(f.mode)
	if mode != schema.ModeAutonomous && mode != schema.ModeDirected {
		return fmt.Errorf("invalid --mode %q (want autonomous or directed)", f.mode)
	}

	logger, err := newLogger(f.debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := config.Load()
	if f.xQuery == "" {
		f.xQuery = cfg.XQuery
	}
	if f.focusLocations == "" {
		f.focusLocations = cfg.FocusLocations
	}

	opts := cycle.Options{
		Mode:           mode,
		DryRun:         f.dryRun,
		TaskID:         f.taskID,
		StateFile:      f.stateFile,
		FocusLocations: focus.ParseLocations(f.focusLocations),
		MinIncidents:   f.minIncidents,
		MaxPasses:      f.maxPasses,
	}
	if err := applyOverrides(ctx, &opts, f); err != nil {
		return err
	}

	summary, runErr := cycle.NewRunner(cfg, logger).Run(ctx, opts)
	if summary != nil {
		if f.jsonOut {
			b, err := render.JSON(summary)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
		} else {
			fmt.Println(render.Text(summary))
		}
	}
	if runErr != nil {
		return runErr
	}
	if summary.SubmissionError != "" {
		return errSubmission
	}
	return nil
}

// applyOverrides resolves the pass-1 query overrides: explicit flags win
// (manual_override); in directed mode a task brief runs through the planner
// (task_hypothesis).
func applyOverrides(ctx context.Context, opts *cycle.Options, f cycleFlags) error {
	if f.xQuery != "" || f.perplexityQueries != "" {
		opts.Overrides = collect.Overrides{
			XQuery:      f.xQuery,
			QueryFamily: schema.FamilyManualOverride,
		}
		if f.perplexityQueries != "" {
			opts.Overrides.PerplexityQueries = splitQueries(f.perplexityQueries)
		}
		return nil
	}

	if opts.Mode != schema.ModeDirected || f.taskDescription == "" {
		return nil
	}

	planner := &task.KeywordPlanner{}
	plan, err := planner.Plan(ctx, task.Brief{
		TaskID:              f.taskID,
		TaskName:            f.taskName,
		Description:         f.taskDescription,
		FocusLocations:      opts.FocusLocations,
		DefaultMinIncidents: opts.MinIncidents,
		DefaultMaxPasses:    opts.MaxPasses,
	})
	if err != nil {
		return err
	}
	opts.FocusLocations = plan.FocusLocations
	opts.MinIncidents = plan.RunConfig.MinIncidents
	opts.MaxPasses = plan.RunConfig.MaxPasses
	opts.Overrides = collect.Overrides{
		XQuery:            plan.QueryPlan.XQuery,
		PerplexityQueries: plan.QueryPlan.PerplexityQueries,
		QueryFamily:       plan.QueryPlan.QueryFamily,
	}
	return nil
}

func splitQueries(raw string) []string {
	var out []string
	for _, q := range strings.Split(raw, "||") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

// newLogger builds the stderr console logger; stdout stays reserved for the
// run summary.
func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
