package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nwave-ai/des/internal/des/orchestrator"
)

// preToolUseRequest mirrors spec.md §6 "Pre-tool-use invocation".
type preToolUseRequest struct {
	Command      string `json:"command"`
	StepFilePath string `json:"step_file_path,omitempty"`
	Agent        string `json:"agent,omitempty"`
	ProjectID    string `json:"project_id,omitempty"`
}

type preToolUseResponse struct {
	Allowed bool     `json:"allowed"`
	Errors  []string `json:"errors,omitempty"`
}

func newPreToolUseCommand(projectRoot *string, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "pretool",
		Short: "Validate a tool invocation before the agent runs (reads a request on stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req preToolUseRequest
			if err := json.NewDecoder(cmd.InOrStdin()).Decode(&req); err != nil {
				return fmt.Errorf("decode pretool request: %w", err)
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

			_, renderErr := app.orch.RenderPrompt(orchestrator.Command{
				Command:      req.Command,
				StepFilePath: req.StepFilePath,
				Agent:        req.Agent,
				ProjectID:    projectID,
			})

			resp := preToolUseResponse{Allowed: renderErr == nil}
			if renderErr != nil {
				var rej *orchestrator.Rejection
				if errors.As(renderErr, &rej) {
					for _, e := range rej.Errors {
						resp.Errors = append(resp.Errors, e.Error())
					}
				} else {
					resp.Errors = append(resp.Errors, renderErr.Error())
				}
			}

			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	return enc.Encode(v)
}
