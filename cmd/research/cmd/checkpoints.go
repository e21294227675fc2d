package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/service"
)

var checkpointsCmd = &cobra.Command{
	Use:     "checkpoints",
	Aliases: []string{"cp"},
	Short:   "Inspect and purge run checkpoints",
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list [run-id]",
	Short: "List runs, or the checkpoints of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(func(m *service.CheckpointManager) error {
			if len(args) == 0 {
				return listRuns(cmd, m)
			}
			return listCheckpoints(cmd, m, args[0])
		})
	},
}

var checkpointsPurgeCmd = &cobra.Command{
	Use:   "purge <run-id>",
	Short: "Delete every checkpoint of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(func(m *service.CheckpointManager) error {
			n, err := m.Purge(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d checkpoints of run %s\n", n, args[0])
			return nil
		})
	},
}

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd, checkpointsPurgeCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

func withCheckpoints(fn func(m *service.CheckpointManager) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Checkpoint.Enabled {
		return fmt.Errorf("checkpoints are disabled (checkpoint.enabled)")
	}
	stores, err := OpenStores(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()
	return fn(stores.Checkpoints)
}

func listRuns(cmd *cobra.Command, m *service.CheckpointManager) error {
	runs, err := m.Runs(commandContext(cmd))
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No checkpointed runs")
		return nil
	}
	for _, id := range runs {
		fmt.Fprintln(out, id)
	}
	return nil
}

func listCheckpoints(cmd *cobra.Command, m *service.CheckpointManager, runID string) error {
	cps, err := m.List(commandContext(cmd), runID)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(cps) == 0 {
		fmt.Fprintf(out, "No checkpoints for run %s\n", runID)
		return nil
	}
	writeCheckpointTable(out, cps)
	return nil
}

func writeCheckpointTable(out io.Writer, cps []*core.Checkpoint) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tPHASE\tITER\tFINDINGS\tSCORE\tCREATED\tID")
	fmt.Fprintln(w, "---\t-----\t----\t--------\t-----\t-------\t--")
	for _, cp := range cps {
		score := "-"
		if n := len(cp.Evaluations); n > 0 {
			score = fmt.Sprintf("%d", cp.Evaluations[n-1].OverallScore)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%s\t%s\n",
			cp.Seq, cp.Phase, cp.Iteration, len(cp.FindingIDs), score,
			cp.CreatedAt.Local().Format(time.DateTime), cp.ID)
	}
	_ = w.Flush()
}
