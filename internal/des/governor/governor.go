// Package governor implements the Turn & Timeout Governor (spec.md §4.4):
// it bounds resource use per phase, counting agent turns and tracking
// monotonic wall-clock elapsed time, emitting threshold warnings, and
// adjudicating extension requests. Modeled on the teacher's
// workflow/validation.RetryManager (a mutex-guarded map of per-key state
// with a narrow, explicit public surface) generalised from per-step retry
// counts to per-phase turn/time budgets.
package governor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nwave-ai/des/internal/clock"
	"github.com/nwave-ai/des/internal/des/metrics"
	"github.com/nwave-ai/des/internal/des/phase"
)

// ErrBudgetExceeded is returned by Tick/Elapsed once a phase's turn or time
// budget has been exhausted.
var ErrBudgetExceeded = errors.New("governor: budget exceeded")

// ErrConcurrentPhase is returned by Begin when another phase is already
// active; the Governor holds a single active-phase reference (spec.md
// §4.4 "Ordering").
var ErrConcurrentPhase = errors.New("governor: a phase is already active")

// ErrNoActivePhase is returned by Tick/Elapsed when the named phase is not
// the one currently started with Begin.
var ErrNoActivePhase = errors.New("governor: no active phase")

// ErrUnknownPhase is returned when an operation names a phase the
// Governor has no budget recorded for.
var ErrUnknownPhase = errors.New("governor: unknown phase")

// DefaultWarningThresholds are the fractions of budget consumed at which
// TIMEOUT_WARNING fires, absent an override (spec.md §4.4 "Inputs").
var DefaultWarningThresholds = []float64{0.50, 0.75, 0.90}

// DefaultExtensionHardCapMultiplier is the default ceiling on a requested
// total budget relative to the original (spec.md §4.4 "Approval
// criteria").
const DefaultExtensionHardCapMultiplier = 2.0

// Budget is the turn/time allowance for one phase.
type Budget struct {
	MaxTurns          int
	MaxMinutes        float64
	WarningThresholds []float64
}

func (b Budget) thresholds() []float64 {
	if len(b.WarningThresholds) == 0 {
		return DefaultWarningThresholds
	}
	return b.WarningThresholds
}

// phaseState tracks live consumption against a Budget for one phase.
type phaseState struct {
	budget          Budget
	originalBudget  Budget
	turnsUsed       int
	startedAt       time.Time
	finished        bool
	budgetExceeded  bool
	warnedThreshold map[float64]bool
	extensions      int
}

// Warning describes one threshold crossing, for callers that want to
// surface it (e.g. as a TIMEOUT_WARNING audit event).
type Warning struct {
	Phase     phase.Name
	Threshold float64
	Kind      string // "turns" or "minutes"
}

// ExtensionRequest mirrors spec.md §3 "Extension Request".
type ExtensionRequest struct {
	ID              string
	Phase           phase.Name
	RequestedTurns  int
	RequestedMinutes float64
	Justification   string
}

// ExtensionDecision is the adjudicator's verdict.
type ExtensionDecision struct {
	Granted   bool
	Reason    string
	NewBudget Budget
}

// Governor bounds turn and time consumption for the single phase active
// at any moment within one step.
type Governor struct {
	clock   clock.Clock
	metrics *metrics.Metrics

	mu     sync.Mutex
	active phase.Name
	states map[phase.Name]*phaseState

	extensionHardCap float64
}

// New returns a Governor. m may be nil (metrics become a no-op).
func New(c clock.Clock, m *metrics.Metrics) *Governor {
	return &Governor{
		clock:            c,
		metrics:          m,
		states:           make(map[phase.Name]*phaseState),
		extensionHardCap: DefaultExtensionHardCapMultiplier,
	}
}

// Begin starts tracking name against budget, recording the start time.
// Returns ErrConcurrentPhase if another phase is already active,
// enforcing spec.md §4.4's single-active-phase rule.
func (g *Governor) Begin(name phase.Name, budget Budget) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active != "" && g.active != name {
		return fmt.Errorf("%w: %s is active", ErrConcurrentPhase, g.active)
	}

	g.states[name] = &phaseState{
		budget:          budget,
		originalBudget:  budget,
		startedAt:       g.clock.Now(),
		warnedThreshold: make(map[float64]bool),
	}
	g.active = name
	if g.metrics != nil {
		g.metrics.TurnsUsed.WithLabelValues(string(name)).Set(0)
	}
	return nil
}

// Tick increments the turn counter for the active phase by one (called on
// every agent tool use, spec.md §4.4 "Behaviour") and returns any newly
// crossed warning thresholds plus whether the turn budget is now exceeded.
func (g *Governor) Tick(name phase.Name) ([]Warning, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, err := g.activeStateLocked(name)
	if err != nil {
		return nil, err
	}

	st.turnsUsed++
	if g.metrics != nil {
		g.metrics.TurnsUsed.WithLabelValues(string(name)).Set(float64(st.turnsUsed))
	}

	warnings := g.crossedThresholdsLocked(name, st)

	if st.budget.MaxTurns > 0 && st.turnsUsed >= st.budget.MaxTurns {
		st.budgetExceeded = true
		if g.metrics != nil {
			g.metrics.BudgetExceededTotal.WithLabelValues(string(name), "turns").Inc()
		}
		return warnings, ErrBudgetExceeded
	}
	return warnings, nil
}

// Elapsed reports the monotonic elapsed time for the active phase and any
// newly crossed minute-based warning thresholds, returning
// ErrBudgetExceeded if the time budget is now exceeded.
func (g *Governor) Elapsed(name phase.Name) (time.Duration, []Warning, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, err := g.activeStateLocked(name)
	if err != nil {
		return 0, nil, err
	}

	elapsed := g.clock.Since(st.startedAt)
	warnings := g.crossedThresholdsLocked(name, st)

	if st.budget.MaxMinutes > 0 && elapsed.Minutes() >= st.budget.MaxMinutes {
		st.budgetExceeded = true
		if g.metrics != nil {
			g.metrics.BudgetExceededTotal.WithLabelValues(string(name), "minutes").Inc()
		}
		return elapsed, warnings, ErrBudgetExceeded
	}
	return elapsed, warnings, nil
}

// crossedThresholdsLocked returns, in ascending order, any thresholds
// crossed since the last check and marks them emitted so each fires
// exactly once (spec.md §4.4 "Behaviour", §8 "Threshold crossings").
func (g *Governor) crossedThresholdsLocked(name phase.Name, st *phaseState) []Warning {
	var out []Warning

	turnFraction := 0.0
	if st.budget.MaxTurns > 0 {
		turnFraction = float64(st.turnsUsed) / float64(st.budget.MaxTurns)
	}
	minuteFraction := 0.0
	if st.budget.MaxMinutes > 0 {
		minuteFraction = g.clock.Since(st.startedAt).Minutes() / st.budget.MaxMinutes
	}

	for _, th := range st.budget.thresholds() {
		if st.warnedThreshold[th] {
			continue
		}
		var kind string
		switch {
		case turnFraction >= th:
			kind = "turns"
		case minuteFraction >= th:
			kind = "minutes"
		default:
			continue
		}
		st.warnedThreshold[th] = true
		out = append(out, Warning{Phase: name, Threshold: th, Kind: kind})
		if g.metrics != nil {
			g.metrics.ThresholdWarnings.WithLabelValues(string(name), fmt.Sprintf("%.0f", th*100)).Inc()
		}
	}
	return out
}

// BudgetExceeded reports whether name's turn or time budget has been
// exceeded.
func (g *Governor) BudgetExceeded(name phase.Name) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownPhase, name)
	}
	return st.budgetExceeded, nil
}

// Finish releases name as the active phase, recording its duration in
// metrics, and permits a different phase to Begin.
func (g *Governor) Finish(name phase.Name, status phase.Status) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPhase, name)
	}
	st.finished = true
	if g.metrics != nil {
		g.metrics.PhaseDuration.WithLabelValues(string(name), string(status)).Observe(g.clock.Since(st.startedAt).Minutes())
	}
	if g.active == name {
		g.active = ""
	}
	return nil
}

func (g *Governor) activeStateLocked(name phase.Name) (*phaseState, error) {
	if g.active != name {
		return nil, fmt.Errorf("%w: %s", ErrNoActivePhase, name)
	}
	st, ok := g.states[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPhase, name)
	}
	return st, nil
}

// NewExtensionRequest builds an ExtensionRequest stamped with a fresh ID,
// mirroring the teacher's pervasive use of uuid.New().String()
// for request/response identifiers.
func NewExtensionRequest(name phase.Name, requestedTurns int, requestedMinutes float64, justification string) ExtensionRequest {
	return ExtensionRequest{
		ID:               uuid.New().String(),
		Phase:            name,
		RequestedTurns:   requestedTurns,
		RequestedMinutes: requestedMinutes,
		Justification:    justification,
	}
}

// Decide adjudicates req against the approval criteria in spec.md §4.4:
// the phase must not be terminal, this must be the first or second
// extension request within the step for that phase, the justification
// must be non-empty, and the requested total must not exceed
// extensionHardCap times the phase's original budget. A granted request
// adds to the phase's current budget rather than replacing it (spec.md
// §8 S5: a second request of 5 minutes after one prior extension yields
// a new budget of 15, not 5).
func (g *Governor) Decide(req ExtensionRequest) ExtensionDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	st, ok := g.states[req.Phase]
	if !ok {
		return g.deny("unknown phase")
	}
	if st.finished {
		return g.deny("phase is terminal")
	}
	if st.extensions >= 2 {
		return g.deny("maximum of two extension requests per phase already used")
	}
	if req.Justification == "" {
		return g.deny("justification is required")
	}

	hardCap := g.extensionHardCap
	if hardCap <= 0 {
		hardCap = DefaultExtensionHardCapMultiplier
	}

	newBudget := st.budget
	if req.RequestedTurns > 0 {
		candidateTurns := st.budget.MaxTurns + req.RequestedTurns
		if st.originalBudget.MaxTurns > 0 && float64(candidateTurns) > float64(st.originalBudget.MaxTurns)*hardCap {
			return g.deny("requested turns exceed the hard cap")
		}
		newBudget.MaxTurns = candidateTurns
	}
	if req.RequestedMinutes > 0 {
		candidateMinutes := st.budget.MaxMinutes + req.RequestedMinutes
		if st.originalBudget.MaxMinutes > 0 && candidateMinutes > st.originalBudget.MaxMinutes*hardCap {
			return g.deny("requested minutes exceed the hard cap")
		}
		newBudget.MaxMinutes = candidateMinutes
	}

	st.extensions++
	st.budget = newBudget
	st.budgetExceeded = false
	if g.metrics != nil {
		g.metrics.ExtensionsGranted.Inc()
	}
	return ExtensionDecision{Granted: true, Reason: "approved", NewBudget: newBudget}
}

func (g *Governor) deny(reason string) ExtensionDecision {
	if g.metrics != nil {
		g.metrics.ExtensionsDenied.Inc()
	}
	return ExtensionDecision{Granted: false, Reason: reason}
}

// SetExtensionHardCapMultiplier overrides the default 2x hard cap
// (spec.md §4.4 "configurable hard cap").
func (g *Governor) SetExtensionHardCapMultiplier(m float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.extensionHardCap = m
}
