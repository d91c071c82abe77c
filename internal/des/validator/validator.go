// Package validator implements the Pre-Tool-Use Validator (spec.md §4.2):
// validate_prompt checks a rendered agent prompt and its referenced step
// file against seven rules before the agent is allowed to run. Modeled on
// the teacher's workflow/validation.Validator — a table of named checks,
// each contributing to a single Result — generalised from markdown
// section-presence regexes to DES's step-file/prompt rule set.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nwave-ai/des/internal/des/phase"
	"github.com/nwave-ai/des/internal/des/stepfile"
)

// RecognisedAgents is the set of agent identifiers rule 3 accepts. Callers
// may replace this (e.g. from project config) before calling Validate.
var RecognisedAgents = map[string]bool{
	"implementer": true,
	"reviewer":    true,
	"refactorer":  true,
	"validator":   true,
}

// RuleID names one of the seven validate_prompt rules: the six of spec.md
// §4.2 plus the cross-step feature-mapping count.
type RuleID string

const (
	RuleStepFileResolves     RuleID = "step_file_resolves"
	RuleTaskIDMatchesPath    RuleID = "task_id_matches_path"
	RuleAgentRecognised      RuleID = "agent_recognised"
	RuleScenarioFunction     RuleID = "scenario_function_exists"
	RuleMandatorySections    RuleID = "mandatory_sections_present"
	RulePhaseNotTerminalFail RuleID = "phase_not_terminal_failure"
	RuleFeatureMappingCount  RuleID = "feature_mapping_count"
)

// fatalRules are rules 1-3: violations here carry no recovery hint,
// matching spec.md §4.2 "Edge policy".
var fatalRules = map[RuleID]bool{
	RuleStepFileResolves:  true,
	RuleTaskIDMatchesPath: true,
	RuleAgentRecognised:   true,
}

// ValidationError is one failed rule, with an optional recovery hint for
// rules 4-6 (spec.md §4.2 "Edge policy": rules 4-6 are fatal but carry
// recovery hints).
type ValidationError struct {
	Rule         RuleID `json:"rule"`
	Message      string `json:"message"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Message)
}

// Result is validate_prompt's return value.
type Result struct {
	Allowed bool              `json:"allowed"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

// mandatorySections is the fixed checklist from spec.md §4.2 rule 5.
var mandatorySections = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"task specification", regexp.MustCompile(`(?mi)task[\s_-]*spec`)},
	{"phase tracking reference", regexp.MustCompile(`(?mi)phase[\s_-]*tracking`)},
	{"scope declaration", regexp.MustCompile(`(?mi)scope`)},
}

// Prompt is the rendered agent prompt plus the context the Orchestrator
// composed it from.
type Prompt struct {
	Text         string
	StepFilePath string
}

// stepIDFromPath derives the step_id a path implies: the filename without
// extension, e.g. ".../03-02.json" → "03-02".
func stepIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// acceptanceTestFunctionExists reports whether fn appears as a function
// name within the Go source file at path. It is a textual check (not a
// parse), adequate for the "does this identifier appear as a func" rule.
func acceptanceTestFunctionExists(path, fn string) (bool, error) {
	if fn == "" {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read acceptance test file %s: %w", path, err)
	}
	pattern := regexp.MustCompile(`func\s+` + regexp.QuoteMeta(fn) + `\s*\(`)
	return pattern.Match(data), nil
}

// topLevelFuncCount counts top-level Go function declarations in the file
// at path, textually, mirroring acceptanceTestFunctionExists's approach.
func topLevelFuncCount(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read acceptance test file %s: %w", path, err)
	}
	pattern := regexp.MustCompile(`(?m)^func\s+\w+\s*\(`)
	return len(pattern.FindAll(data, -1)), nil
}

// siblingFeatureSteps loads every step file in dir that belongs to the
// same feature as sf (including sf itself), for the cross-step
// feature-mapping-count invariant (spec.md §3 invariant 2).
func siblingFeatureSteps(dir string, sf *stepfile.StepFile) ([]*stepfile.StepFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read step directory %s: %w", dir, err)
	}

	var steps []*stepfile.StepFile
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		sibling, err := stepfile.Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		if sibling.FeatureName == sf.FeatureName {
			steps = append(steps, sibling)
		}
	}
	return steps, nil
}

// Validate runs the seven validate_prompt rules against prompt and returns
// the structured outcome. basePath is the directory the step file's
// acceptance-test-file reference is resolved relative to.
func Validate(prompt Prompt, basePath string) Result {
	var errs []ValidationError

	sf, err := stepfile.Load(prompt.StepFilePath)
	if err != nil {
		errs = append(errs, ValidationError{
			Rule:    RuleStepFileResolves,
			Message: err.Error(),
		})
		return Result{Allowed: false, Errors: errs}
	}

	wantStepID := stepIDFromPath(prompt.StepFilePath)
	if sf.TaskSpecification.TaskID != wantStepID {
		errs = append(errs, ValidationError{
			Rule:    RuleTaskIDMatchesPath,
			Message: fmt.Sprintf("task_specification.task_id %q does not match step_id %q derived from path", sf.TaskSpecification.TaskID, wantStepID),
		})
	}

	if !RecognisedAgents[sf.TaskSpecification.Agent] {
		errs = append(errs, ValidationError{
			Rule:    RuleAgentRecognised,
			Message: fmt.Sprintf("agent %q is not recognised", sf.TaskSpecification.Agent),
		})
	}

	scenario := sf.TDDCycle.AcceptanceTest.MappedScenario
	if scenario.MappingType == stepfile.MappingFeature {
		testFile := sf.TaskSpecification.AcceptanceTestFile
		if testFile != "" && basePath != "" {
			testFile = filepath.Join(basePath, testFile)
		}
		exists, err := acceptanceTestFunctionExists(testFile, scenario.ScenarioFunction)
		if err != nil || !exists {
			errs = append(errs, ValidationError{
				Rule:         RuleScenarioFunction,
				Message:      fmt.Sprintf("scenario_function %q not found in %q", scenario.ScenarioFunction, testFile),
				RecoveryHint: "WHY: the acceptance test function referenced by this step could not be located.\n\nHOW: confirm acceptance_test_file and scenario_function point at an existing Go test function.\n\nACTION: update task_specification.acceptance_test_file or mapped_scenario.scenario_function and retry.",
			})
		} else if funcCount, err := topLevelFuncCount(testFile); err == nil {
			steps, err := siblingFeatureSteps(filepath.Dir(prompt.StepFilePath), sf)
			if err == nil {
				if countErr := stepfile.ValidateFeatureCount(steps, funcCount); countErr != nil {
					errs = append(errs, ValidationError{
						Rule:         RuleFeatureMappingCount,
						Message:      countErr.Error(),
						RecoveryHint: "WHY: the number of feature-mapped steps for this feature no longer matches the acceptance test file's function count.\n\nHOW: every acceptance-test function must correspond to exactly one feature-mapped step, and vice versa.\n\nACTION: add or remove a step file, or correct a mapped_scenario.mapping_type, so the two counts agree.",
					})
				}
			}
		}
	}

	for _, section := range mandatorySections {
		if !section.pattern.MatchString(prompt.Text) {
			errs = append(errs, ValidationError{
				Rule:         RuleMandatorySections,
				Message:      fmt.Sprintf("prompt is missing the %q section", section.name),
				RecoveryHint: fmt.Sprintf("WHY: the composed prompt omits the mandatory %q section.\n\nHOW: the Orchestrator's prompt template must include every mandatory section.\n\nACTION: re-render the prompt; if the omission persists, inspect the template.", section.name),
			})
		}
	}

	if sf.State.CurrentPhase != "" {
		if p := sf.TDDCycle.PhaseTracking.Get(sf.State.CurrentPhase); p != nil && p.Status == phase.Fail {
			errs = append(errs, ValidationError{
				Rule:         RulePhaseNotTerminalFail,
				Message:      fmt.Sprintf("current_phase %q is in terminal failure state", sf.State.CurrentPhase),
				RecoveryHint: "WHY: the step's current phase already failed terminally.\n\nHOW: a failed phase must be explicitly reset or recovered before re-invoking the agent.\n\nACTION: consult state.recovery_suggestions and re-run the Recovery Handler if needed.",
			})
		}
	}

	return Result{Allowed: len(errs) == 0, Errors: errs}
}

// IsFatal reports whether err belongs to one of rules 1-3, which admit no
// recovery hint (spec.md §4.2 "Edge policy").
func IsFatal(e ValidationError) bool {
	return fatalRules[e.Rule]
}
