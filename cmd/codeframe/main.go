// Command codeframe is a thin local CLI over the agent core: it loads a
// task description from a YAML file, assembles the task context from the
// target workspace, and drives one ReAct Loop run to completion.
//
// # Basic usage
//
//	codeframe run --workspace /path/to/repo --task task.yaml
//
// ANTHROPIC_API_KEY must be set in the environment; codeframe ships only the
// Anthropic provider.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "codeframe",
		Short: "Run the CodeFRAME agent loop against a workspace",
		Long: `codeframe drives a single ReAct-style agent run against a local repository:
assembling the system prompt from a task file, dispatching the seven
workspace tools, and verifying the result against the project's detected
gates (lint, type-check, tests) before declaring the run complete.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}
