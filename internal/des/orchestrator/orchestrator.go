// Package orchestrator is DES's composition root (spec.md §4.1): it wires
// the Pre-Tool-Use Validator, the Turn & Timeout Governor, the Audit Log
// Writer, the Subagent-Stop Service, and the Recovery Guidance Handler
// behind three operations — render_prompt, execute_step, and
// request_extension — and is the sole driver of phase transitions. Modeled
// on the teacher's processor/workflow-orchestrator.Component: a struct of
// injected collaborators with one method per externally-triggered
// operation, generalised from NATS-subject dispatch to DES's synchronous
// call/return contract.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/nwave-ai/des/internal/clock"
	"github.com/nwave-ai/des/internal/des/audit"
	"github.com/nwave-ai/des/internal/des/governor"
	"github.com/nwave-ai/des/internal/des/phase"
	"github.com/nwave-ai/des/internal/des/recovery"
	"github.com/nwave-ai/des/internal/des/stepfile"
	"github.com/nwave-ai/des/internal/des/subagentstop"
	"github.com/nwave-ai/des/internal/des/validator"
)

// Command is render_prompt's input (spec.md §6 "Pre-tool-use invocation").
type Command struct {
	Command      string
	StepFilePath string
	Agent        string
	ProjectID    string
}

// Rejection is render_prompt's structured failure (spec.md §4.1 "On
// rejection, returns a structured error naming the offending rule").
type Rejection struct {
	Errors []validator.ValidationError
}

func (r *Rejection) Error() string {
	if len(r.Errors) == 0 {
		return "orchestrator: prompt rejected"
	}
	return r.Errors[0].Error()
}

// AgentInvocation is what the Orchestrator hands to the AgentRunner port
// for one phase attempt.
type AgentInvocation struct {
	Prompt       validator.Prompt
	Phase        phase.Name
	StepFilePath string
	ProjectID    string
}

// AgentResult is what the AgentRunner port reports back after a phase
// attempt (spec.md §4.3 "Contract" input fields, minus project/step
// identifiers the Orchestrator already has).
type AgentResult struct {
	ModifiedFiles    []string
	TranscriptPath   string
	TestResults      []phase.TestResult
	ArtifactsCreated []string
}

// Tick is offered to the AgentRunner so it can report each agent tool use
// back to the Governor; the runner decides whether to keep going when Tick
// reports the budget is exhausted (spec.md §5 "on budget exceedance ...
// the Orchestrator stops issuing new turns").
type Tick func() ([]governor.Warning, error)

// AgentRunner is the driven port running the out-of-process agent for one
// phase. DES only observes its start/stop (spec.md §5); running inference
// itself is out of scope (spec.md §1 "Non-goals").
type AgentRunner interface {
	RunPhase(ctx context.Context, inv AgentInvocation, tick Tick) (AgentResult, error)
}

// StepResult is execute_step's return value.
type StepResult struct {
	Passed     bool
	FinalPhase phase.Name
	Outcome    subagentstop.Outcome
}

// Orchestrator composes DES's leaf and mid-level components behind the
// three operations spec.md §4.1 names.
type Orchestrator struct {
	clock       clock.Clock
	writer      *audit.Writer
	governor    *governor.Governor
	recovery    *recovery.Handler
	runner      AgentRunner
	projectRoot string
}

// New wires an Orchestrator from its collaborators. projectRoot is passed
// to the validator as the base path that resolves a step file's
// acceptance-test-file reference (spec.md §4.2 rule 4).
func New(c clock.Clock, w *audit.Writer, g *governor.Governor, r *recovery.Handler, runner AgentRunner, projectRoot string) *Orchestrator {
	return &Orchestrator{clock: c, writer: w, governor: g, recovery: r, runner: runner, projectRoot: projectRoot}
}

// RenderPrompt loads the step referenced by cmd, composes the agent
// prompt, validates it, and emits the TASK_INVOCATION_* lifecycle events
// (spec.md §4.1).
func (o *Orchestrator) RenderPrompt(cmd Command) (validator.Prompt, error) {
	o.logEvent(audit.Event{
		Event:       audit.TaskInvocationStarted,
		StepID:      stepIDFromCommand(cmd),
		FeatureName: "",
		Fields: map[string]any{
			"command":        cmd.Command,
			"agent":          cmd.Agent,
			"step_file_path": cmd.StepFilePath,
		},
	})

	sf, err := stepfile.Load(cmd.StepFilePath)
	if err != nil {
		rej := &Rejection{Errors: []validator.ValidationError{{
			Rule:    validator.RuleStepFileResolves,
			Message: err.Error(),
		}}}
		o.logRejection(cmd, rej)
		return validator.Prompt{}, rej
	}

	prompt := composePrompt(sf, cmd)
	result := validator.Validate(prompt, o.projectRoot)
	if !result.Allowed {
		rej := &Rejection{Errors: result.Errors}
		o.logRejection(cmd, rej)
		return validator.Prompt{}, rej
	}

	o.logEvent(audit.Event{
		Event:       audit.TaskInvocationValidated,
		StepID:      sf.StepID,
		FeatureName: sf.FeatureName,
	})
	return prompt, nil
}

func (o *Orchestrator) logRejection(cmd Command, rej *Rejection) {
	fields := map[string]any{"step_file_path": cmd.StepFilePath}
	if len(rej.Errors) > 0 {
		fields["rule"] = string(rej.Errors[0].Rule)
		fields["message"] = rej.Errors[0].Message
	}
	o.logEvent(audit.Event{
		Event:       audit.TaskInvocationRejected,
		StepID:      stepIDFromCommand(cmd),
		Fields:      fields,
	})
}

// composePrompt renders the fixed-checklist prompt text validate_prompt
// rule 5 requires (spec.md §4.2): a task specification section, a phase
// tracking reference, and a scope declaration.
func composePrompt(sf *stepfile.StepFile, cmd Command) validator.Prompt {
	text := fmt.Sprintf(
		"# Task Specification\nagent: %s\ndescription: %s\ncommand: %s\n\n# Phase Tracking\ncurrent_phase: %s\n\n# Scope\nallow_paths: %v\n",
		sf.TaskSpecification.Agent,
		sf.TaskSpecification.Description,
		sf.TaskSpecification.Command,
		sf.State.CurrentPhase,
		sf.Scope.AllowPaths,
	)
	return validator.Prompt{Text: text, StepFilePath: cmd.StepFilePath}
}

// ExecuteStep runs the next mandatory phase of the step at stepFilePath to
// completion, then hands off to the Subagent-Stop Service (spec.md §4.1).
func (o *Orchestrator) ExecuteStep(ctx context.Context, stepFilePath string, budget governor.Budget) (StepResult, error) {
	sf, err := stepfile.Load(stepFilePath)
	if err != nil {
		return StepResult{}, fmt.Errorf("execute step: %w", err)
	}

	next, err := sf.TDDCycle.PhaseTracking.NextMandatory()
	if err != nil {
		return StepResult{}, fmt.Errorf("execute step: select next phase: %w", err)
	}
	if next == nil {
		return StepResult{Passed: true}, nil
	}

	startedAt := o.clock.Now()
	if err := o.beginPhase(sf, next, budget, startedAt); err != nil {
		return StepResult{}, err
	}

	runner := o.runner
	if runner == nil {
		runner = noopRunner{}
	}

	result, runErr := runner.RunPhase(ctx, AgentInvocation{
		Phase:        next.Name,
		StepFilePath: stepFilePath,
		ProjectID:    o.projectRoot,
	}, func() ([]governor.Warning, error) {
		return o.governor.Tick(next.Name)
	})

	budgetExceeded, _ := o.governor.BudgetExceeded(next.Name)
	if runErr != nil {
		budgetExceeded = true
	}

	next.TestResults = result.TestResults
	next.ArtifactsCreated = result.ArtifactsCreated

	outcome := subagentstop.Check(sf, subagentstop.Context{
		ProjectID:      o.projectRoot,
		StepID:         sf.StepID,
		StartedAt:      startedAt,
		ModifiedFiles:  result.ModifiedFiles,
		TranscriptPath: result.TranscriptPath,
	}, next.Name, budgetExceeded)

	finishStatus := phase.Fail
	if outcome.Passed {
		finishStatus = phase.Pass
	}
	_ = o.governor.Finish(next.Name, finishStatus)
	if log := sf.TDDCycle.PhaseExecutionLog; len(log) > 0 && log[len(log)-1].Phase == next.Name {
		log[len(log)-1].Status = finishStatus
	}

	if err := stepfile.Save(stepFilePath, sf); err != nil {
		return StepResult{}, fmt.Errorf("execute step: save step file: %w", err)
	}

	if outcome.Passed {
		o.logEvent(audit.Event{
			Event:       audit.PhaseExecuted,
			StepID:      sf.StepID,
			FeatureName: sf.FeatureName,
			Fields:      map[string]any{"phase": string(next.Name)},
		})
		o.logEvent(audit.Event{
			Event:       audit.HookSubagentStopPassed,
			StepID:      sf.StepID,
			FeatureName: sf.FeatureName,
		})
		if next.Name == phase.Commit {
			o.logEvent(audit.Event{Event: audit.CommitSuccess, StepID: sf.StepID, FeatureName: sf.FeatureName})
		}
		return StepResult{Passed: true, FinalPhase: next.Name, Outcome: outcome}, nil
	}

	o.logEvent(audit.Event{
		Event:       audit.PhaseFailed,
		StepID:      sf.StepID,
		FeatureName: sf.FeatureName,
		Fields:      map[string]any{"phase": string(next.Name), "validation_errors": outcome.ValidationErrors},
	})
	for _, violation := range outcome.ScopeViolations {
		o.logEvent(audit.Event{
			Event:       audit.ScopeViolation,
			StepID:      sf.StepID,
			FeatureName: sf.FeatureName,
			Fields:      map[string]any{"phase": string(next.Name), "path": violation},
		})
	}
	o.logEvent(audit.Event{
		Event:       audit.HookSubagentStopFailed,
		StepID:      sf.StepID,
		FeatureName: sf.FeatureName,
		Fields:      map[string]any{"validation_errors": outcome.ValidationErrors},
	})

	if o.recovery != nil {
		if _, err := o.recovery.HandleFailure(stepFilePath, classifyFailure(outcome), recovery.Context{
			Phase:          string(next.Name),
			StepID:         sf.StepID,
			TranscriptPath: result.TranscriptPath,
		}); err != nil {
			return StepResult{}, fmt.Errorf("execute step: handle failure: %w", err)
		}
	}

	if next.Name == phase.Commit {
		o.logEvent(audit.Event{Event: audit.CommitFailure, StepID: sf.StepID, FeatureName: sf.FeatureName})
	}

	return StepResult{Passed: false, FinalPhase: next.Name, Outcome: outcome}, nil
}

func (o *Orchestrator) beginPhase(sf *stepfile.StepFile, p *phase.Phase, budget governor.Budget, startedAt time.Time) error {
	if p.Status == phase.NotExecuted {
		if err := p.Start(startedAt); err != nil {
			return fmt.Errorf("execute step: start phase %s: %w", p.Name, err)
		}
		if err := sf.AppendLogEntry(stepfile.LogEntry{Phase: p.Name, Status: phase.InProgress}); err != nil {
			return fmt.Errorf("execute step: append log entry: %w", err)
		}
	}
	sf.State.CurrentPhase = p.Name

	if err := o.governor.Begin(p.Name, budget); err != nil {
		return fmt.Errorf("execute step: begin governor: %w", err)
	}
	o.logEvent(audit.Event{
		Event:       audit.PhaseStarted,
		StepID:      sf.StepID,
		FeatureName: sf.FeatureName,
		Fields:      map[string]any{"phase": string(p.Name)},
	})
	return nil
}

// RequestExtension forwards req to the Governor's adjudicator and audits
// the decision as a TASK_INVOCATION_VALIDATED-adjacent event (spec.md §4.4
// "Decisions are audited via TASK_INVOCATION_VALIDATED-adjacent events").
func (o *Orchestrator) RequestExtension(stepID string, req governor.ExtensionRequest) governor.ExtensionDecision {
	decision := o.governor.Decide(req)

	event := audit.TaskInvocationRejected
	if decision.Granted {
		event = audit.TaskInvocationValidated
	}
	o.logEvent(audit.Event{
		Event:  event,
		StepID: stepID,
		Fields: map[string]any{
			"extension_request_id": req.ID,
			"phase":                string(req.Phase),
			"granted":              decision.Granted,
			"reason":               decision.Reason,
		},
	})
	return decision
}

// HandleSubagentStop runs the Subagent-Stop Service against a step whose
// agent ran outside an injected AgentRunner (spec.md §6 "Subagent-stop
// invocation": a standalone host-triggered check, independent of
// ExecuteStep's own agent-driven path).
func (o *Orchestrator) HandleSubagentStop(stepFilePath string, sctx subagentstop.Context) (subagentstop.Outcome, error) {
	sf, err := stepfile.Load(stepFilePath)
	if err != nil {
		return subagentstop.Outcome{}, fmt.Errorf("handle subagent stop: %w", err)
	}

	active, err := sf.TDDCycle.PhaseTracking.ActivePhase()
	if err != nil {
		return subagentstop.Outcome{}, fmt.Errorf("handle subagent stop: %w", err)
	}
	completed := sf.State.CurrentPhase
	if active != nil {
		completed = active.Name
	}

	outcome := subagentstop.Check(sf, sctx, completed, false)

	if err := stepfile.Save(stepFilePath, sf); err != nil {
		return outcome, fmt.Errorf("handle subagent stop: save step file: %w", err)
	}

	if outcome.Passed {
		o.logEvent(audit.Event{Event: audit.HookSubagentStopPassed, StepID: sf.StepID, FeatureName: sf.FeatureName})
		return outcome, nil
	}

	for _, violation := range outcome.ScopeViolations {
		o.logEvent(audit.Event{
			Event:       audit.ScopeViolation,
			StepID:      sf.StepID,
			FeatureName: sf.FeatureName,
			Fields:      map[string]any{"phase": string(completed), "path": violation},
		})
	}
	o.logEvent(audit.Event{
		Event:       audit.HookSubagentStopFailed,
		StepID:      sf.StepID,
		FeatureName: sf.FeatureName,
		Fields:      map[string]any{"validation_errors": outcome.ValidationErrors},
	})

	if o.recovery != nil {
		if _, err := o.recovery.HandleFailure(stepFilePath, classifyFailure(outcome), recovery.Context{
			Phase:          string(completed),
			StepID:         sf.StepID,
			TranscriptPath: sctx.TranscriptPath,
		}); err != nil {
			return outcome, fmt.Errorf("handle subagent stop: handle failure: %w", err)
		}
	}
	return outcome, nil
}

func (o *Orchestrator) logEvent(e audit.Event) {
	if o.writer == nil {
		return
	}
	_ = o.writer.LogEvent(e)
}

// stepIDFromCommand derives the step_id a step file path implies, mirroring
// validator's own (unexported) derivation so the earliest lifecycle events
// can be tagged even before the step file has been loaded.
func stepIDFromCommand(cmd Command) string {
	base := filepath.Base(cmd.StepFilePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// classifyFailure maps a Subagent-Stop outcome onto the Recovery Handler's
// failure taxonomy (spec.md §4.6).
func classifyFailure(outcome subagentstop.Outcome) recovery.FailureType {
	switch {
	case len(outcome.AbandonedPhases) > 0:
		return recovery.AbandonedPhase
	case len(outcome.ScopeViolations) > 0:
		return recovery.ScopeViolation
	case containsPrefix(outcome.ValidationErrors, "missing artefact"):
		return recovery.MissingArtifacts
	case containsPrefix(outcome.ValidationErrors, "turn/time budget exceeded"):
		return recovery.Timeout
	case containsPrefix(outcome.ValidationErrors, "quality gate failed"):
		return recovery.QualityGateFailure
	default:
		return recovery.Unknown
	}
}

func containsPrefix(errs []string, prefix string) bool {
	for _, e := range errs {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// noopRunner is used when no AgentRunner is supplied, so ExecuteStep
// degrades to a deterministic no-op attempt (useful for exercising the
// Subagent-Stop Service in isolation, e.g. from tests or from the
// `des execute-step` command, which wires no runner).
type noopRunner struct{}

func (noopRunner) RunPhase(context.Context, AgentInvocation, Tick) (AgentResult, error) {
	return AgentResult{}, nil
}
