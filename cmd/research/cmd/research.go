package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/report"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/research"
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Research a query and print the report",
	Long: `Research a query end to end: plan subtasks, search, evaluate the
evidence and write a cited Markdown report.

Interrupting a run (Ctrl+C) stores a checkpoint; continue it with
'research resume <run-id>'.

Presets (--preset) size the run: quick, balanced, deep, academic,
technical, deep_research and express_deep. --express is shorthand for
--preset express_deep. Explicit config values win over a preset.

Examples:
  research run "impact of retrieval augmented generation on factuality"
  research run --preset deep_research "mechanisms of CRISPR off-target effects"
  research run --json "state of solid-state batteries" > result.json
  research run -o report.md "history of the transistor"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		preset, err := selectedPreset(runPreset, runExpress)
		if err != nil {
			return err
		}
		return execResearch(cmd, preset, func(ctx context.Context, o *research.Orchestrator) (*research.Result, error) {
			return o.Run(ctx, query)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id|checkpoint-id>",
	Short: "Resume an interrupted run from its latest checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ref := args[0]
		return execResearch(cmd, "", func(ctx context.Context, o *research.Orchestrator) (*research.Result, error) {
			return o.Resume(ctx, ref)
		})
	},
}

var (
	runJSON       bool
	runOutput     string
	runNoProgress bool
	runMetrics    bool
	runPreset     string
	runExpress    bool
)

func init() {
	for _, c := range []*cobra.Command{runCmd, resumeCmd} {
		c.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON")
		c.Flags().StringVarP(&runOutput, "output", "o", "", "also write the report to this file")
		c.Flags().BoolVar(&runNoProgress, "no-progress", false, "do not print progress lines")
		c.Flags().BoolVar(&runMetrics, "metrics", false, "print run metrics after the report")
		rootCmd.AddCommand(c)
	}
	runCmd.Flags().StringVar(&runPreset, "preset", "", "size the run with a preset ("+strings.Join(config.PresetNames(), ", ")+")")
	runCmd.Flags().BoolVar(&runExpress, "express", false, "one fast iteration (same as --preset "+config.PresetExpress+")")
}

// selectedPreset resolves the --preset and --express flags.
func selectedPreset(preset string, express bool) (string, error) {
	if !express {
		return preset, nil
	}
	if preset != "" && preset != config.PresetExpress {
		return "", fmt.Errorf("--express conflicts with --preset %s", preset)
	}
	return config.PresetExpress, nil
}

type runFunc func(ctx context.Context, o *research.Orchestrator) (*research.Result, error)

func execResearch(cmd *cobra.Command, preset string, fn runFunc) error {
	cfg, err := loadConfigWithPreset(preset)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	engine, err := NewEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	st := newStyles(!noColor && isTerminal(stderr))

	stopProgress := func() {}
	if !quiet && !runNoProgress {
		ch := engine.Bus.Subscribe()
		done := make(chan struct{})
		go func() {
			defer close(done)
			streamProgress(stderr, st, ch)
		}()
		stopProgress = func() {
			engine.Bus.Unsubscribe(ch)
			<-done
			if n := engine.Bus.DroppedCount(); n > 0 {
				logger.Debug("progress events dropped", "count", n)
			}
		}
	}

	res, runErr := fn(ctx, engine.Orchestrator)
	stopProgress()
	if res == nil {
		return runErr
	}

	if cfg.Research.ReportsDir != "" && res.Phase == core.PhaseDone {
		path, err := archiveRun(ctx, engine, cfg.Research.ReportsDir, res)
		if err != nil {
			logger.Warn("archiving run failed", "run_id", res.RunID, "error", err)
		} else {
			logger.Info("run archived", "run_id", res.RunID, "path", path)
		}
	}

	if runOutput != "" && res.Report != "" {
		if err := config.AtomicWrite(runOutput, []byte(res.Report)); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	if runJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else {
		printResult(stdout, stderr, st, res, !noColor && isTerminal(stdout))
		if runMetrics {
			if err := service.NewReportGenerator(res.MetricsSnapshot()).GenerateTextReport(stderr); err != nil {
				return err
			}
		}
	}

	if runErr != nil && res.Phase != core.PhaseFailed && engine.Checkpoints.Enabled() {
		fmt.Fprintln(stderr, st.muted.Render("resume with: research resume "+res.RunID))
	}
	return runErr
}

// archiveRun writes the report, sources and result of a finished run.
func archiveRun(ctx context.Context, engine *Engine, dir string, res *research.Result) (string, error) {
	store, err := engine.OpenEvidence()(ctx, res.RunID)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()
	return report.NewArchive(dir).Write(res, store.ListSources())
}

// commandContext returns the command context, or a background context
// when the command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
