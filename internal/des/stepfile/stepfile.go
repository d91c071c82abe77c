// Package stepfile models the Step File entity (spec.md §3): the unit of
// work identified by the composite key (feature_name, step_id), containing
// the task specification, TDD cycle tracking, scope allow-list, quality
// gates, and live state. A StepFile is created by a planning collaborator,
// mutated only by the Orchestrator and the Recovery Handler, and never
// deleted during a run.
package stepfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/nwave-ai/des/internal/des/phase"
)

// Sentinel errors for step file validation (checked with errors.Is).
var (
	ErrInvalidStepID         = errors.New("step_id must match \\d{2}-\\d{2}")
	ErrInvalidMappingType    = errors.New("mapped_scenario.mapping_type must be one of feature, infrastructure, refactoring")
	ErrScenarioFunctionUnset = errors.New("mapped_scenario.scenario_function is required when mapping_type is feature")
	ErrScenarioFunctionSet   = errors.New("mapped_scenario.scenario_function must be empty when mapping_type is not feature")
	ErrCorrupt               = errors.New("step file is corrupt")
	ErrLogEntryImmutable     = errors.New("phase_execution_log entries before the tail are immutable")
	ErrLogEntryNonTerminal   = errors.New("only the final phase_execution_log entry may be non-terminal")
)

var stepIDPattern = regexp.MustCompile(`^\d{2}-\d{2}$`)

// MappingType classifies how a step's acceptance test maps onto the
// referenced acceptance-test file (spec.md §3 invariant 2).
type MappingType string

const (
	MappingFeature        MappingType = "feature"
	MappingInfrastructure MappingType = "infrastructure"
	MappingRefactoring    MappingType = "refactoring"
)

func (m MappingType) valid() bool {
	switch m {
	case MappingFeature, MappingInfrastructure, MappingRefactoring:
		return true
	default:
		return false
	}
}

// TaskSpecification names the agent, description, and acceptance-test
// reference for a step (spec.md §6 "task_specification").
type TaskSpecification struct {
	TaskID                 string `json:"task_id"`
	Agent                  string `json:"agent"`
	Description            string `json:"description,omitempty"`
	Command                string `json:"command,omitempty"`
	AcceptanceTestScenario string `json:"acceptance_test_scenario,omitempty"`
	AcceptanceTestFile     string `json:"acceptance_test_file,omitempty"`
}

// MappedScenario links an acceptance test to its classification (spec.md
// §3 invariant 2, §6).
type MappedScenario struct {
	MappingType        MappingType `json:"mapping_type"`
	ScenarioFunction   string      `json:"scenario_function,omitempty"`
	ScenarioDescription string     `json:"scenario_description,omitempty"`
}

// Validate enforces the mapping_type/scenario_function coupling invariant.
func (m MappedScenario) Validate() error {
	if !m.MappingType.valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidMappingType, m.MappingType)
	}
	if m.MappingType == MappingFeature && m.ScenarioFunction == "" {
		return ErrScenarioFunctionUnset
	}
	if m.MappingType != MappingFeature && m.ScenarioFunction != "" {
		return ErrScenarioFunctionSet
	}
	return nil
}

// AcceptanceTest is the acceptance-test half of the TDD cycle.
type AcceptanceTest struct {
	MappedScenario MappedScenario `json:"mapped_scenario"`
}

// LogEntry is one immutable (except-for-the-tail) record appended to
// phase_execution_log whenever a phase enters IN_PROGRESS (spec.md §4.1
// "Algorithms").
type LogEntry struct {
	Phase     phase.Name   `json:"phase"`
	Status    phase.Status `json:"status"`
	StartedAt string       `json:"started_at,omitempty"`
	EndedAt   string       `json:"ended_at,omitempty"`
	Notes     string       `json:"notes,omitempty"`
}

// TDDCycle carries the acceptance test mapping, expected unit tests, mock
// boundaries, per-phase tracking, and the append-only execution log
// (spec.md §3 "tdd_cycle").
type TDDCycle struct {
	AcceptanceTest    AcceptanceTest    `json:"acceptance_test"`
	ExpectedUnitTests []string          `json:"expected_unit_tests,omitempty"`
	MockBoundaries    []string          `json:"mock_boundaries,omitempty"`
	PhaseTracking     *phase.Set        `json:"tdd_phase_tracking,omitempty"`
	PhaseExecutionLog []LogEntry        `json:"phase_execution_log,omitempty"`
}

// Scope is the allow-list of paths and globs the step may modify (spec.md
// §3 "Scope Declaration").
type Scope struct {
	AllowPaths []string `json:"allow_paths"`
}

// QualityGates are the boolean/threshold toggles gating phase transitions
// and the Subagent-Stop Service's quality checks (spec.md §4.3).
type QualityGates struct {
	AcceptanceTestMustFailFirst bool `json:"acceptance_test_must_fail_first"`
	UnitTestsMustFailFirst      bool `json:"unit_tests_must_fail_first"`
	NoMocksInsideHexagon        bool `json:"no_mocks_inside_hexagon"`
	RefactorLevel               int  `json:"refactor_level"`
	AllPhasesMandatory          bool `json:"all_phases_mandatory"`
}

// State carries live status fields mutated as the step progresses
// (spec.md §3 "state").
type State struct {
	CurrentPhase        phase.Name `json:"current_phase,omitempty"`
	RecoverySuggestions []string   `json:"recovery_suggestions,omitempty"`
	TurnsUsed            int       `json:"turns_used,omitempty"`
	MinutesElapsed       float64   `json:"minutes_elapsed,omitempty"`
	LastOutcome          string    `json:"last_outcome,omitempty"`
}

// StepFile is the unit of work, keyed by (FeatureName, StepID).
//
// Unknown fields written by the host runtime but not modeled here survive
// a Load/Save round-trip via the extra side-channel (see codec.go).
type StepFile struct {
	FeatureName       string             `json:"feature_name"`
	StepID            string             `json:"step_id"`
	TaskSpecification TaskSpecification  `json:"task_specification"`
	TDDCycle          TDDCycle           `json:"tdd_cycle"`
	Scope             Scope              `json:"scope"`
	QualityGates      QualityGates       `json:"quality_gates"`
	State             State              `json:"state"`

	extra map[string]json.RawMessage
}

// New returns a StepFile with its phase tracking initialised per
// QualityGates.RefactorLevel and AllPhasesMandatory, and CurrentPhase set
// to the first phase in the canonical order.
func New(featureName, stepID string, qg QualityGates) (*StepFile, error) {
	if !stepIDPattern.MatchString(stepID) {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidStepID, stepID)
	}
	sf := &StepFile{
		FeatureName:  featureName,
		StepID:       stepID,
		QualityGates: qg,
	}
	sf.TDDCycle.PhaseTracking = phase.NewSet(qg.RefactorLevel, qg.AllPhasesMandatory)
	sf.State.CurrentPhase = phase.Order[0]
	return sf, nil
}

// Validate checks the invariants this package can check in isolation:
// step_id shape and the mapped_scenario mapping_type/scenario_function
// coupling. The cross-step invariant (feature count equals acceptance-test
// function count) needs every step of the feature and is checked by
// ValidateFeatureCount (see feature.go).
func (sf *StepFile) Validate() error {
	if !stepIDPattern.MatchString(sf.StepID) {
		return fmt.Errorf("%w: got %q", ErrInvalidStepID, sf.StepID)
	}
	if err := sf.TDDCycle.AcceptanceTest.MappedScenario.Validate(); err != nil {
		return err
	}
	return sf.validateLog()
}

// validateLog enforces that every entry but the last has a terminal
// status (spec.md §3 invariant 4, §8 invariant "only the final entry may
// be in a non-terminal status").
func (sf *StepFile) validateLog() error {
	log := sf.TDDCycle.PhaseExecutionLog
	for i, entry := range log {
		if i == len(log)-1 {
			continue
		}
		if !entry.Status.Terminal() {
			return fmt.Errorf("%w: entry %d (phase %s) has status %s", ErrLogEntryNonTerminal, i, entry.Phase, entry.Status)
		}
	}
	return nil
}

// AppendLogEntry appends entry to the tail of phase_execution_log. It
// refuses to append if the current tail is non-terminal, since
// phase_execution_log entries are immutable once a new one follows them
// (spec.md §3 invariant 4) — callers must Finish the in-flight phase
// before starting the next one.
func (sf *StepFile) AppendLogEntry(entry LogEntry) error {
	log := sf.TDDCycle.PhaseExecutionLog
	if len(log) > 0 {
		tail := log[len(log)-1]
		if !tail.Status.Terminal() {
			return fmt.Errorf("%w: tail entry for phase %s is %s", ErrLogEntryImmutable, tail.Phase, tail.Status)
		}
	}
	sf.TDDCycle.PhaseExecutionLog = append(log, entry)
	return nil
}
