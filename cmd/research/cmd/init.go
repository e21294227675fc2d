package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/quorum-research/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a research workspace",
	Long: `Initialize a research workspace in the current directory.
Creates .research/config.yaml with the default configuration. Provider
keys are read from the environment or a .env file and are never written.`,
	RunE: runInit,
}

var (
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	path, err := initWorkspace(cwd, initForce)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

// initWorkspace writes the default config under dir and returns its path.
func initWorkspace(dir string, force bool) (string, error) {
	path := filepath.Join(dir, config.DefaultConfigDir, "config.yaml")
	if err := config.WriteDefault(path, force); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("configuration already exists at %s, use --force to overwrite", path)
		}
		return "", fmt.Errorf("writing config: %w", err)
	}
	return path, nil
}
