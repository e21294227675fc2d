package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/logging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, stores and host resources",
	Long: `Verify that provider keys are configured, that the evidence and
checkpoint stores open, and that the host has room for a run.`,
	RunE: runDoctor,
}

var doctorJSON bool

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "print checks as JSON")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	checks := doctorChecks(cfg, diagnostics.Collect(), diagnostics.DefaultThresholds())

	out := cmd.OutOrStdout()
	if doctorJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(checks); err != nil {
			return err
		}
	} else {
		st := newStyles(!noColor && isTerminal(out))
		if f := viper.ConfigFileUsed(); f != "" {
			fmt.Fprintln(out, st.muted.Render("config: "+f))
		}
		for _, c := range checks {
			fmt.Fprintln(out, formatCheck(st, c))
		}
	}

	if diagnostics.Worst(checks) == diagnostics.StatusFail {
		return errors.New("doctor found blocking problems")
	}
	return nil
}

// doctorChecks runs every check that does not need the network.
func doctorChecks(cfg *config.Config, host diagnostics.SystemMetrics, th diagnostics.Thresholds) []diagnostics.Check {
	gw := cfg.Gateways
	checks := []diagnostics.Check{
		keyCheck("search", gw.Search.APIKey != "", "set PERPLEXITY_API_KEY"),
		optionalCheck("llm", gw.LLM.BaseURL != "", gw.LLM.Model, "heuristic planner and fallback report"),
		optionalCheck("embedding", gw.Embedding.BaseURL != "", gw.Embedding.Model, "lexical ranking only"),
		optionalCheck("review", gw.Review.WebhookURL != "", gw.Review.WebhookURL, "no human review"),
	}

	stores, err := OpenStores(cfg, logging.NewNop())
	if err != nil {
		checks = append(checks, diagnostics.Check{Name: "stores", Status: diagnostics.StatusFail, Detail: err.Error()})
	} else {
		detail := "evidence " + cfg.Evidence.Backend
		if cfg.Checkpoint.Enabled {
			detail += ", checkpoints " + cfg.Checkpoint.Backend
		} else {
			detail += ", checkpoints disabled"
		}
		checks = append(checks, diagnostics.Check{Name: "stores", Status: diagnostics.StatusOK, Detail: detail})
		_ = stores.Close()
	}

	checks = append(checks, diagnostics.HostChecks(host, th, cfg.Pool.MaxConcurrency)...)

	if cfg.Evidence.Backend != config.BackendMemory {
		checks = append(checks, diskCheck("evidence disk", cfg.Evidence.Path, th))
	}
	if cfg.Checkpoint.Enabled && cfg.Checkpoint.Backend != config.BackendMemory {
		checks = append(checks, diskCheck("checkpoint disk", cfg.Checkpoint.Path, th))
	}
	return checks
}

func keyCheck(name string, ok bool, hint string) diagnostics.Check {
	if ok {
		return diagnostics.Check{Name: name, Status: diagnostics.StatusOK, Detail: "api key configured"}
	}
	return diagnostics.Check{Name: name, Status: diagnostics.StatusFail, Detail: "api key missing, " + hint}
}

func optionalCheck(name string, enabled bool, detail, fallback string) diagnostics.Check {
	if enabled {
		return diagnostics.Check{Name: name, Status: diagnostics.StatusOK, Detail: detail}
	}
	return diagnostics.Check{Name: name, Status: diagnostics.StatusWarn, Detail: "not configured, " + fallback}
}

func diskCheck(name, path string, th diagnostics.Thresholds) diagnostics.Check {
	u, err := diagnostics.Usage(path)
	if err != nil {
		return diagnostics.Check{Name: name, Status: diagnostics.StatusWarn, Detail: err.Error()}
	}
	return diagnostics.DiskCheck(name, u, th)
}

func formatCheck(st outputStyles, c diagnostics.Check) string {
	switch c.Status {
	case diagnostics.StatusOK:
		return st.success.Render("  ✓ "+c.Name) + " " + c.Detail
	case diagnostics.StatusWarn:
		return st.warning.Render("  ○ "+c.Name) + " " + c.Detail
	default:
		return st.errorText.Render("  ✗ "+c.Name) + " " + c.Detail
	}
}
