package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/service/report"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "List archived reports, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		archive, err := openArchive()
		if err != nil {
			return err
		}
		ids, err := archive.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(ids) == 0 {
			fmt.Fprintln(out, "No archived reports")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSCORE\tFINDINGS\tQUERY")
		fmt.Fprintln(w, "---\t-----\t--------\t-----")
		for _, id := range ids {
			res, err := archive.Load(id)
			if err != nil {
				fmt.Fprintf(w, "%s\t-\t-\t(unreadable: %v)\n", id, err)
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", id, res.Score, res.Findings, res.Query)
		}
		return w.Flush()
	},
}

var reportsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print an archived report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		archive, err := openArchive()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(archive.RunDir(args[0]), report.ReportFile))
		if err != nil {
			return fmt.Errorf("reading report of run %s: %w", args[0], err)
		}
		_, body, err := report.ParseFrontmatter(string(data))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !noColor && isTerminal(out) {
			fmt.Fprint(out, renderReport(body))
			return nil
		}
		fmt.Fprint(out, body)
		return nil
	},
}

var reportsRegenerateCmd = &cobra.Command{
	Use:   "regenerate <run-id>",
	Short: "Rebuild the report of a finished run from its stored evidence",
	Long: `Rebuild the report of a finished run without searching again. The
run's evidence and final checkpoint are read back, the report is written
anew and the run's archive is replaced. Metrics of the original run are
kept when it was archived before.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Research.ReportsDir == "" {
			return fmt.Errorf("report archiving is disabled (research.reports_dir)")
		}
		logger := newLogger(cfg)
		engine, err := NewEngine(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = engine.Close() }()

		ctx := commandContext(cmd)
		res, err := engine.Orchestrator.Regenerate(ctx, args[0])
		if err != nil {
			return err
		}
		if prev, err := report.NewArchive(cfg.Research.ReportsDir).Load(res.RunID); err == nil {
			res.Metrics, res.PhaseDurations, res.SubtaskMetrics = prev.Metrics, prev.PhaseDurations, prev.SubtaskMetrics
		}
		path, err := archiveRun(ctx, engine, cfg.Research.ReportsDir, res)
		if err != nil {
			return fmt.Errorf("archiving run %s: %w", res.RunID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Regenerated report of run %s in %s\n", res.RunID, path)
		return nil
	},
}

func init() {
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsRegenerateCmd)
	rootCmd.AddCommand(reportsCmd)
}

func openArchive() (*report.Archive, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Research.ReportsDir == "" {
		return nil, fmt.Errorf("report archiving is disabled (research.reports_dir)")
	}
	return report.NewArchive(cfg.Research.ReportsDir), nil
}
