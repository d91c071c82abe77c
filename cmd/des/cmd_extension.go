package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nwave-ai/des/internal/des/governor"
	"github.com/nwave-ai/des/internal/des/phase"
)

func newExtensionCommand(projectRoot *string, logger *slog.Logger) *cobra.Command {
	var (
		stepID           string
		phaseName        string
		requestedTurns   int
		requestedMinutes float64
		justification    string
	)

	cmd := &cobra.Command{
		Use:   "extension",
		Short: "Request a turn/time budget extension for the active phase of a step",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stepID == "" || phaseName == "" {
				return fmt.Errorf("--step-id and --phase are required")
			}

			app, err := NewApp(*projectRoot, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			req := governor.NewExtensionRequest(phase.Name(phaseName), requestedTurns, requestedMinutes, justification)
			decision := app.orch.RequestExtension(stepID, req)

			fmt.Fprintf(cmd.OutOrStdout(), "granted=%t reason=%q\n", decision.Granted, decision.Reason)
			if !decision.Granted {
				return fmt.Errorf("extension denied: %s", decision.Reason)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stepID, "step-id", "", "step identifier")
	cmd.Flags().StringVar(&phaseName, "phase", "", "phase the extension applies to")
	cmd.Flags().IntVar(&requestedTurns, "turns", 0, "requested turn budget")
	cmd.Flags().Float64Var(&requestedMinutes, "minutes", 0, "requested minute budget")
	cmd.Flags().StringVar(&justification, "justification", "", "why the extension is needed")
	return cmd
}
