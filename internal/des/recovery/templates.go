package recovery

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FailureType is the failure taxonomy from spec.md §4.6.
type FailureType string

const (
	AbandonedPhase      FailureType = "abandoned_phase"
	MissingArtifacts    FailureType = "missing_artifacts"
	Timeout             FailureType = "timeout"
	ScopeViolation      FailureType = "scope_violation"
	QualityGateFailure  FailureType = "quality_gate_failure"
	Unknown             FailureType = "unknown"
)

// Template is one WHY/HOW/ACTION suggestion with substitution
// placeholders (e.g. "{{phase}}", "{{step_id}}", "{{transcript_path}}",
// "{{artifact_type}}") that substitute fills in, degrading to a
// generic phrase when a field is unavailable (spec.md §4.6 "Output
// contract").
type Template struct {
	Why    string `yaml:"why"`
	How    string `yaml:"how"`
	Action string `yaml:"action"`
}

// TemplateSet is the on-disk shape of the recovery-suggestions YAML file,
// modeled on the teacher's workflow-orchestrator/rules.go RulesFile/
// LoadRules convention (a versioned YAML document keyed by a top-level
// map, loaded with gopkg.in/yaml.v3).
type TemplateSet struct {
	Version   string                   `yaml:"version"`
	Templates map[FailureType][]Template `yaml:"templates"`
}

// LoadTemplates reads a recovery-suggestions YAML file from path.
func LoadTemplates(path string) (*TemplateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read recovery templates %s: %w", path, err)
	}
	var ts TemplateSet
	if err := yaml.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("parse recovery templates %s: %w", path, err)
	}
	return &ts, nil
}

// DefaultTemplates returns the built-in templates used when no project
// override file is present, satisfying spec.md §4.6's minimum-suggestion
// counts (at least three for abandoned_phase/unknown, at least two
// otherwise).
func DefaultTemplates() *TemplateSet {
	return &TemplateSet{
		Version: "1",
		Templates: map[FailureType][]Template{
			AbandonedPhase: {
				{
					Why:    "Phase {{phase}} was left IN_PROGRESS when the agent terminated, with no recorded PASS, FAIL, or SKIPPED outcome.",
					How:    "The Orchestrator resets an abandoned phase to NOT_EXECUTED so it can be re-entered cleanly.",
					Action: "Re-run step {{step_id}} from phase {{phase}}; inspect {{transcript_path}} if the agent appears to have hung.",
				},
				{
					Why:    "An abandoned phase usually means the agent process exited without calling back into the Subagent-Stop Service.",
					How:    "Check whether the agent crashed, was killed for exceeding its turn/time budget, or lost its connection mid-run.",
					Action: "Review the transcript at {{transcript_path}} for the last tool call before termination.",
				},
				{
					Why:    "Repeated abandonment of the same phase suggests the phase's instructions or budget are miscalibrated.",
					How:    "Compare the phase's turn/time budget against how much work it actually requires.",
					Action: "Consider requesting a budget extension for phase {{phase}} before the next attempt.",
				},
			},
			MissingArtifacts: {
				{
					Why:    "Phase {{phase}} declared artefacts of type {{artifact_type}} as created or modified, but they were not found on disk.",
					How:    "An artefact can go missing if the agent's write failed silently or wrote to the wrong path.",
					Action: "Verify the expected output path for {{artifact_type}} and re-run phase {{phase}}.",
				},
				{
					Why:    "Missing artefacts block downstream phases that depend on them as predecessors.",
					How:    "Confirm the step file's declared artefact paths match what the agent actually produced.",
					Action: "Correct the artefact path in the step file or re-run the phase that should have created it.",
				},
			},
			Timeout: {
				{
					Why:    "Phase {{phase}} exceeded its turn or time budget before reaching a terminal status.",
					How:    "A budget can be too tight for genuinely complex work, or the agent may be looping.",
					Action: "Request an extension for phase {{phase}} with a concrete justification, or inspect {{transcript_path}} for a loop.",
				},
				{
					Why:    "Timeouts recorded against the same phase across multiple steps point to a systemic budget issue.",
					How:    "Compare this phase's budget against the project's historical turn/time usage for similar phases.",
					Action: "Adjust the default budget for phase {{phase}} in the project configuration.",
				},
			},
			ScopeViolation: {
				{
					Why:    "One or more modified files fell outside step {{step_id}}'s declared scope allow-list.",
					How:    "Scope violations are fatal to the phase regardless of whether the change was otherwise correct.",
					Action: "Either revert the out-of-scope change or add the path to scope.allow_paths and re-run phase {{phase}}.",
				},
				{
					Why:    "A broad allow-list pattern may not actually cover the path the agent needed to touch.",
					How:    "A bare directory pattern covers every file beneath it, but a \"*\" wildcard matches within a single path segment only.",
					Action: "Review the allow_paths patterns for step {{step_id}} against the actual modified file paths.",
				},
			},
			QualityGateFailure: {
				{
					Why:    "Phase {{phase}}'s quality gate (e.g. acceptance_test_must_fail_first or no_mocks_inside_hexagon) evaluated false.",
					How:    "A must-fail-first gate requires the referenced tests to have failed before this phase; a mocks gate requires no mock boundaries inside the hexagon.",
					Action: "Re-examine the test results and mock boundaries recorded against phase {{phase}} before re-running it.",
				},
				{
					Why:    "Quality gates encode TDD discipline; bypassing them undermines the guarantees later phases depend on.",
					How:    "Confirm the gate's precondition genuinely holds before disabling it in quality_gates for this step.",
					Action: "Fix the underlying test or mock boundary rather than relaxing the gate.",
				},
			},
			Unknown: {
				{
					Why:    "The failure in phase {{phase}} did not match any recognised failure taxonomy.",
					How:    "An unrecognised failure often indicates a bug in the component that reported it rather than in the step itself.",
					Action: "Inspect {{transcript_path}} and the audit log for step {{step_id}} for more detail before retrying.",
				},
				{
					Why:    "Unknown failures are not automatically retried by the Subagent-Stop Service's retry policy.",
					How:    "Manual triage is required to classify the failure before a safe retry can proceed.",
					Action: "File the failure details for step {{step_id}} for manual investigation.",
				},
				{
					Why:    "A classification gap here means a future Recovery Handler revision should add a dedicated failure type.",
					How:    "Recognise the pattern in this failure so it can be added to the taxonomy.",
					Action: "Note the observed symptom and propose a new FailureType if it recurs.",
				},
			},
		},
	}
}

// substitute fills {{field}} placeholders in s from fields, degrading
// unavailable fields to a generic phrase (spec.md §4.6 "missing fields
// degrade gracefully to generic phrasing").
func substitute(s string, fields map[string]string) string {
	for _, key := range []string{"phase", "step_id", "transcript_path", "artifact_type"} {
		placeholder := "{{" + key + "}}"
		if !strings.Contains(s, placeholder) {
			continue
		}
		value, ok := fields[key]
		if !ok || value == "" {
			value = "an unspecified " + strings.ReplaceAll(key, "_", " ")
		}
		s = strings.ReplaceAll(s, placeholder, value)
	}
	return s
}
