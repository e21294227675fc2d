package cmd

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/adapters/evidence"
	"github.com/hugo-lorenzo-mato/quorum-research/internal/core"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources <run-id>",
	Short: "List the distinct sources gathered by a run",
	Long: `List the distinct source URLs stored for a run.

Examples:
  research sources 3f0c... --mode academic
  research sources 3f0c... --filter arxiv`,
	Args: cobra.ExactArgs(1),
	RunE: runSources,
}

var (
	sourcesMode   string
	sourcesFilter string
)

func init() {
	rootCmd.AddCommand(sourcesCmd)
	sourcesCmd.Flags().StringVar(&sourcesMode, "mode", "", "only sources found in this search mode (academic, general)")
	sourcesCmd.Flags().StringVar(&sourcesFilter, "filter", "", "fuzzy filter on the source URL, best matches first")
}

func runSources(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(sourcesMode)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	stores, err := OpenStores(cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	store, err := evidence.NewStore(commandContext(cmd), args[0], stores.Repository)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var sources []string
	if mode == "" {
		sources = store.ListSources()
	} else {
		sources = store.ListSourcesByMode(mode)
	}
	sources = filterSources(sources, sourcesFilter)

	out := cmd.OutOrStdout()
	if len(sources) == 0 {
		fmt.Fprintf(out, "No sources for run %s\n", args[0])
		return nil
	}
	for _, s := range sources {
		fmt.Fprintln(out, s)
	}
	return nil
}

func parseMode(s string) (core.SearchMode, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	m, err := core.ParseSearchMode(s)
	if err != nil {
		return "", fmt.Errorf("unknown search mode %q: want academic or general", s)
	}
	return m, nil
}

// filterSources keeps the sources matching pattern, best match first.
// An empty pattern keeps every source in order.
func filterSources(sources []string, pattern string) []string {
	if pattern == "" {
		return sources
	}
	matches := fuzzy.Find(pattern, sources)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
	}
	return out
}
