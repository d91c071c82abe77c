// Package main implements the des CLI — the driver adapter that exposes
// the Orchestrator, the Pre-Tool-Use Validator, the Subagent-Stop
// Service, the Turn & Timeout Governor, and hook installation to the
// host assistant.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build information (set via ldflags).
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var projectRoot string

	rootCmd := &cobra.Command{
		Use:     "des",
		Short:   "Deterministic Execution System — TDD phase-gating engine",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", "", "project root (defaults to git toplevel, then cwd)")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	rootCmd.AddCommand(
		newPreToolUseCommand(&projectRoot, logger),
		newSubagentStopCommand(&projectRoot, logger),
		newExecuteStepCommand(&projectRoot, logger),
		newExtensionCommand(&projectRoot, logger),
		newHooksCommand(),
		newWatchCommand(&projectRoot, logger),
		newMetricsServerCommand(&projectRoot, logger),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}
