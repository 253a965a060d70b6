// Package main provides the CLI entry point for the aria runtime
// control plane.
//
// # Basic Usage
//
// Start the runtime:
//
//	aria serve --config aria.yaml
//
// Inspect a running instance:
//
//	aria status
//	aria session close <session-id>
//	aria agent terminate <agent-id>
//	aria breaker reset <endpoint>
//
// # Environment Variables
//
//   - ARIA_CONFIG: path to the configuration file (default: aria.yaml)
//   - ARIA_DATABASE_URL: postgres connection string
//   - ARIA_GATEWAY_URL: LLM gateway base URL
//   - ARIA_GATEWAY_API_KEY: LLM gateway bearer token
//   - ARIA_ADMIN_TOKEN: admin API token for the CLI verbs
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		if isUsageError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "aria",
		Short: "Aria - runtime control plane for a persistent agent",
		Long: `Aria runs the agent runtime: the agent pool, session lifecycle,
cron scheduler, tool-calling chat engine and work-cycle orchestrator,
with an admin API the other subcommands talk to.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
		buildSessionCmd(),
		buildAgentCmd(),
		buildBreakerCmd(),
	)
	return rootCmd
}

// isUsageError separates bad invocations (exit 2) from runtime failures
// (exit 1).
func isUsageError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unknown command") ||
		strings.Contains(msg, "unknown flag") ||
		strings.Contains(msg, "accepts") ||
		strings.Contains(msg, "requires") ||
		strings.Contains(msg, "invalid argument")
}

// defaultConfigPath resolves the config file path from the environment.
func defaultConfigPath() string {
	if path := os.Getenv("ARIA_CONFIG"); path != "" {
		return path
	}
	return "aria.yaml"
}
