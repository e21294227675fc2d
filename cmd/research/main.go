package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/hugo-lorenzo-mato/quorum-research/cmd/research/cmd"
)

// Version information - set by goreleaser at build time
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Provider keys usually live in a local .env; a missing file is fine.
	_ = godotenv.Load()

	cmd.SetVersion(version, commit, date)

	if err := cmd.Execute(); err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
}
