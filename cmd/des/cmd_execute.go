package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nwave-ai/des/internal/des/governor"
)

func newExecuteStepCommand(projectRoot *string, logger *slog.Logger) *cobra.Command {
	var (
		stepFile   string
		maxTurns   int
		maxMinutes float64
	)

	cmd := &cobra.Command{
		Use:   "execute-step",
		Short: "Run the next mandatory phase of a step to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stepFile == "" {
				return fmt.Errorf("--step-file is required")
			}

			app, err := NewApp(*projectRoot, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.orch.ExecuteStep(cmd.Context(), stepFile, governor.Budget{
				MaxTurns:   maxTurns,
				MaxMinutes: maxMinutes,
			})
			if err != nil {
				return err
			}

			status := "PASS"
			if !result.Passed {
				status = "FAIL"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "phase=%s status=%s\n", result.FinalPhase, status)
			if !result.Passed {
				return fmt.Errorf("phase %s failed: %v", result.FinalPhase, result.Outcome.ValidationErrors)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stepFile, "step-file", "", "path to the step file")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "turn budget for the phase (0 disables the turn limit)")
	cmd.Flags().Float64Var(&maxMinutes, "max-minutes", 0, "minute budget for the phase (0 disables the time limit)")
	return cmd
}
