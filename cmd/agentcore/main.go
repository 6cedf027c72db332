// Command agentcore runs the autonomous agent execution core: the job
// queue, Agent Runtime, CRON scheduler, and HTTP API described by this
// repository's internal packages.
//
// # Basic Usage
//
// Start the server:
//
//	agentcore serve --config agentcore.yaml
//
// Inspect configuration and dependencies:
//
//	agentcore doctor --config agentcore.yaml
//
// Manage CRON schedules:
//
//	agentcore schedule list
//	agentcore schedule run <id>
//
// # Environment Variables
//
//   - AGENTCORE_HOST: HTTP listen host override
//   - AGENTCORE_HTTP_PORT: HTTP listen port override
//   - AGENTCORE_STORE_PATH: SQLite database path override
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY: provider credentials
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
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentcore",
		Short: "agentcore - autonomous AI agent execution core",
		Long: `agentcore runs an autonomous agent over a durable job queue: capability
routing, context compression, tool invocation with a blocking ask_user
bridge, sub-agent delegation, and CRON-scheduled runs.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildDoctorCmd(),
		buildScheduleCmd(),
		buildJobsCmd(),
	)
	return rootCmd
}
