// Package main implements the fairiagent command line tool. It processes
// documents through the FAIR metadata pipeline, inspects and resumes
// checkpointed sessions, manages session memory, and serves the HTTP API.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version information
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "fairiagent",
		Short: "Extract FAIR metadata from research documents",
		Long: `fairiagent runs documents through a checkpointed pipeline of gated stages
(parse, retrieve-knowledge, generate-output). Every stage transition is
persisted, so interrupted sessions resume where they stopped.

Configuration is read from --config (YAML) and FAIRI_ environment variables,
for example FAIRI_CHECKPOINT_BACKEND=redis or FAIRI_LOG_LEVEL=debug.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	cmd.AddCommand(
		newProcessCmd(opts),
		newResumeCmd(opts),
		newStatusCmd(opts),
		newListCmd(opts),
		newMemoryCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}
