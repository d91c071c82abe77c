// Package subagentstop implements the Subagent-Stop Service (spec.md
// §4.3): after an agent terminates, on_agent_complete runs five ordered
// checks against the step file and the filesystem diff it produced, then
// returns a pass/fail Outcome, from which the Orchestrator emits
// HOOK_SUBAGENT_STOP_PASSED or HOOK_SUBAGENT_STOP_FAILED.
// Modeled on the teacher's processor/structural-validator.Executor — an
// ordered list of checks accumulated into one Result — generalised from
// checklist-driven file checks to DES's fixed five-check sequence.
package subagentstop

import (
	"os"
	"time"

	"github.com/nwave-ai/des/internal/des/phase"
	"github.com/nwave-ai/des/internal/des/scope"
	"github.com/nwave-ai/des/internal/des/stepfile"
)

// Context is on_agent_complete's input (spec.md §4.3 "Contract").
type Context struct {
	ProjectID      string
	StepID         string
	StartedAt      time.Time
	ModifiedFiles  []string
	TranscriptPath string
}

// Outcome is on_agent_complete's result.
type Outcome struct {
	Passed           bool
	AbandonedPhases  []phase.Name
	ScopeViolations  []string
	ValidationErrors []string
	RetryEligible    bool
}

// Check runs the five ordered checks from spec.md §4.3 against sf using
// ctx, mutating sf in place (abandoning stuck phases, recording the
// outcome in sf.State) and returning the Outcome. completedPhase is the
// phase the agent was expected to finish; its declared
// artifacts_created/modified are checked for existence.
func Check(sf *stepfile.StepFile, ctx Context, completedPhase phase.Name, budgetExceeded bool) Outcome {
	outcome := Outcome{Passed: true}

	// 1. Abandoned phases: any phase other than the one just completed
	// that is still IN_PROGRESS. completedPhase itself is excluded here —
	// it is still IN_PROGRESS at this point (the Orchestrator starts it
	// before calling Check and only finishes it below, once all five
	// checks have run), so including it would abandon every phase Check
	// is ever asked to evaluate.
	for _, p := range sf.TDDCycle.PhaseTracking.All() {
		if p.Name == completedPhase {
			continue
		}
		if p.Status == phase.InProgress {
			outcome.AbandonedPhases = append(outcome.AbandonedPhases, p.Name)
			p.Abandon(ctx.StartedAt)
			outcome.Passed = false
		}
	}

	// 2. Missing artefacts: for the completed phase, everything it
	// declares as created/modified must exist on disk.
	if p := sf.TDDCycle.PhaseTracking.Get(completedPhase); p != nil {
		for _, artefact := range append(append([]string{}, p.ArtifactsCreated...), p.ArtifactsModified...) {
			if _, err := os.Stat(artefact); err != nil {
				outcome.ValidationErrors = append(outcome.ValidationErrors, "missing artefact: "+artefact)
				outcome.Passed = false
			}
		}
	}

	// 3. Scope violations: every modified file must realpath-match the
	// scope allow-list. An empty allow-list matches nothing (spec.md §8
	// "Boundary behaviours": "Empty scope allow-list means no
	// modifications permitted"), so every modified file becomes a
	// violation in that case without any special-casing here.
	matcher := scope.NewMatcher(ctx.ProjectID, sf.Scope.AllowPaths)
	if violations, err := matcher.Violations(ctx.ModifiedFiles); err == nil {
		outcome.ScopeViolations = violations
		if len(violations) > 0 {
			outcome.Passed = false
		}
	}

	// 4. Quality gates: phase-specific toggles must evaluate true. This
	// package only checks the toggles that are self-contained in the step
	// file; acceptance_test_must_fail_first/unit_tests_must_fail_first are
	// evaluated against test_results recorded on the completed phase.
	if !evaluateQualityGates(sf, completedPhase) {
		outcome.ValidationErrors = append(outcome.ValidationErrors, "quality gate failed")
		outcome.Passed = false
	}

	// 5. Turn/time budget: no outstanding budget_exceeded flag.
	if budgetExceeded {
		outcome.ValidationErrors = append(outcome.ValidationErrors, "turn/time budget exceeded")
		outcome.Passed = false
	}

	if outcome.Passed {
		if p := sf.TDDCycle.PhaseTracking.Get(completedPhase); p != nil {
			_ = p.Finish(phase.Pass, ctx.StartedAt)
		}
		sf.State.LastOutcome = "PASS"
	} else {
		if p := sf.TDDCycle.PhaseTracking.Get(completedPhase); p != nil && p.Status == phase.InProgress {
			_ = p.Finish(phase.Fail, ctx.StartedAt)
		}
		sf.State.LastOutcome = "FAIL"
		outcome.RetryEligible = true
	}

	return outcome
}

// evaluateQualityGates checks acceptance_test_must_fail_first,
// unit_tests_must_fail_first, and no_mocks_inside_hexagon against the
// completed phase's recorded test results (spec.md §4.3 check 4).
func evaluateQualityGates(sf *stepfile.StepFile, completedPhase phase.Name) bool {
	qg := sf.QualityGates
	p := sf.TDDCycle.PhaseTracking.Get(completedPhase)
	if p == nil {
		return true
	}

	if qg.AcceptanceTestMustFailFirst && completedPhase == phase.RedAcceptance {
		if !allTestsFailed(p.TestResults) {
			return false
		}
	}
	if qg.UnitTestsMustFailFirst && completedPhase == phase.RedUnit {
		if !allTestsFailed(p.TestResults) {
			return false
		}
	}
	if qg.NoMocksInsideHexagon {
		for _, boundary := range sf.TDDCycle.MockBoundaries {
			if boundary == "" {
				return false
			}
		}
	}
	return true
}

func allTestsFailed(results []phase.TestResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Passed {
			return false
		}
	}
	return true
}
