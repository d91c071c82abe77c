package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nwave-ai/des/internal/des/config"
)

// newWatchCommand tails a project's step-file directory for externally
// made edits (the host runtime writing step files concurrently while DES
// observes), the same event-loop shape as the teacher's
// processor/source-ingester/watcher.go and processor/ast/watcher.go.
func newWatchCommand(projectRoot *string, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the project's step-file directory and log step file changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if logger == nil {
				logger = slog.Default()
			}

			root := *projectRoot
			if root == "" {
				root = detectProjectRoot()
			}
			stepsDir := filepath.Join(root, config.ProjectConfigDir, "steps")
			if err := os.MkdirAll(stepsDir, 0o755); err != nil {
				return fmt.Errorf("create steps directory: %w", err)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(stepsDir); err != nil {
				return fmt.Errorf("watch %s: %w", stepsDir, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", stepsDir)
			ctx := cmd.Context()
			for {
				select {
				case <-ctx.Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Ext(event.Name) != ".json" {
						continue
					}
					logger.Info("step file changed", "path", event.Name, "op", event.Op.String())
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Error("watcher error", "error", err)
				}
			}
		},
	}
}
