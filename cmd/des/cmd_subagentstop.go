package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nwave-ai/des/internal/des/config"
	"github.com/nwave-ai/des/internal/des/subagentstop"
)

// subagentStopRequest mirrors spec.md §6 "Subagent-stop invocation".
type subagentStopRequest struct {
	ProjectID      string    `json:"project_id"`
	StepID         string    `json:"step_id"`
	StartedAt      time.Time `json:"started_at"`
	ModifiedFiles  []string  `json:"modified_files"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
}

type subagentStopResponse struct {
	Outcome          string   `json:"outcome"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

// stepFilePath resolves a step_id to its on-disk location, following the
// project's .nwave layout convention (spec.md §6 names the project config
// directory as .nwave; step files live alongside it under .nwave/steps,
// one file per step_id).
func stepFilePath(projectRoot, stepID string) string {
	return filepath.Join(projectRoot, config.ProjectConfigDir, "steps", stepID+".json")
}

func newSubagentStopCommand(projectRoot *string, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "subagent-stop",
		Short: "Evaluate a completed agent turn against its step file (reads a request on stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req subagentStopRequest
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&req); err != nil {
				return fmt.Errorf("decode subagent-stop request: %w", err)
			}

			app, err := NewApp(*projectRoot, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			projectID := req.ProjectID
			if projectID == "" {
				projectID = app.projectRoot
			}

			outcome, err := app.orch.HandleSubagentStop(stepFilePath(projectID, req.StepID), subagentstop.Context{
				ProjectID:      projectID,
				StepID:         req.StepID,
				StartedAt:      req.StartedAt,
				ModifiedFiles:  req.ModifiedFiles,
				TranscriptPath: req.TranscriptPath,
			})
			if err != nil {
				return err
			}

			resp := subagentStopResponse{ValidationErrors: outcome.ValidationErrors}
			if outcome.Passed {
				resp.Outcome = "PASS"
			} else {
				resp.Outcome = "FAIL"
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
}
