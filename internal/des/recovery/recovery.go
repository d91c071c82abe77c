// Package recovery implements the Recovery Guidance Handler (spec.md
// §4.6): given a failure type chosen by the caller, it synthesises
// WHY/HOW/ACTION suggestions from templates and persists them into the
// step file atomically.
// Modeled on the teacher's workflow-orchestrator/rules.go YAML-loaded
// template convention plus workflow/validation.Validator's Result
// accumulation style.
package recovery

import (
	"fmt"

	"github.com/nwave-ai/des/internal/des/stepfile"
)

// Context carries the substitution fields available when formatting a
// suggestion (spec.md §4.6 "Templates substitute available context
// fields").
type Context struct {
	Phase          string
	StepID         string
	TranscriptPath string
	ArtifactType   string
}

func (c Context) fields() map[string]string {
	return map[string]string{
		"phase":           c.Phase,
		"step_id":         c.StepID,
		"transcript_path": c.TranscriptPath,
		"artifact_type":   c.ArtifactType,
	}
}

// Handler generates and persists recovery suggestions.
type Handler struct {
	templates *TemplateSet
}

// New returns a Handler using ts, or DefaultTemplates() if ts is nil.
func New(ts *TemplateSet) *Handler {
	if ts == nil {
		ts = DefaultTemplates()
	}
	return &Handler{templates: ts}
}

// FormatSuggestion renders why/how/action as the three-section string
// contract from spec.md §4.6: "WHY: …\n\nHOW: …\n\nACTION: …".
func FormatSuggestion(why, how, action string) string {
	return fmt.Sprintf("WHY: %s\n\nHOW: %s\n\nACTION: %s", why, how, action)
}

// GenerateRecoverySuggestions returns formatted suggestions for
// failureType using ctx's substitution fields.
func (h *Handler) GenerateRecoverySuggestions(failureType FailureType, ctx Context) []string {
	templates, ok := h.templates.Templates[failureType]
	if !ok || len(templates) == 0 {
		templates = DefaultTemplates().Templates[Unknown]
	}

	fields := ctx.fields()
	suggestions := make([]string, 0, len(templates))
	for _, t := range templates {
		suggestions = append(suggestions, FormatSuggestion(
			substitute(t.Why, fields),
			substitute(t.How, fields),
			substitute(t.Action, fields),
		))
	}
	return suggestions
}

// HandleFailure reads the step file at path, generates suggestions for
// failureType, writes them to state.recovery_suggestions (replacing any
// prior content — spec.md §5 "Idempotence": repeated invocation with the
// same arguments overwrites with the latest templates), and saves the
// file back atomically. Returns the updated StepFile.
func (h *Handler) HandleFailure(path string, failureType FailureType, ctx Context) (*stepfile.StepFile, error) {
	sf, err := stepfile.Load(path)
	if err != nil {
		return nil, fmt.Errorf("handle failure: %w", err)
	}

	if ctx.StepID == "" {
		ctx.StepID = sf.StepID
	}

	sf.State.RecoverySuggestions = h.GenerateRecoverySuggestions(failureType, ctx)

	if err := stepfile.Save(path, sf); err != nil {
		return nil, fmt.Errorf("handle failure: %w", err)
	}
	return sf, nil
}
