// Package phase models a single named node in the TDD workflow state
// machine that every DES step walks through (spec.md §3, "Phase").
package phase

import "time"

// Status is the lifecycle state of a Phase.
type Status string

const (
	NotExecuted Status = "NOT_EXECUTED"
	InProgress  Status = "IN_PROGRESS"
	Pass        Status = "PASS"
	Fail        Status = "FAIL"
	Skipped     Status = "SKIPPED"
)

// Terminal reports whether s is one of the statuses a phase cannot leave
// without an explicit reset (PASS, FAIL, SKIPPED).
func (s Status) Terminal() bool {
	switch s {
	case Pass, Fail, Skipped:
		return true
	default:
		return false
	}
}

// Name identifies a phase within the core TDD cycle. The order below is the
// canonical phase order named in spec.md §3.
type Name string

const (
	Prepare          Name = "PREPARE"
	RedAcceptance    Name = "RED_ACCEPTANCE"
	RedUnit          Name = "RED_UNIT"
	GreenUnit        Name = "GREEN_UNIT"
	Review           Name = "REVIEW"
	RefactorL1       Name = "REFACTOR_L1"
	RefactorL2       Name = "REFACTOR_L2"
	RefactorL3       Name = "REFACTOR_L3"
	RefactorL4       Name = "REFACTOR_L4"
	Validate         Name = "VALIDATE"
	GreenAcceptance  Name = "GREEN_ACCEPTANCE"
	Commit           Name = "COMMIT"
)

// Order is the canonical, declared phase order. Phase selection in the
// Orchestrator breaks ties against this order (spec.md §4.1).
var Order = []Name{
	Prepare,
	RedAcceptance,
	RedUnit,
	GreenUnit,
	Review,
	RefactorL1,
	RefactorL2,
	RefactorL3,
	RefactorL4,
	Validate,
	GreenAcceptance,
	Commit,
}

// IndexOf returns the position of name in Order, or -1 if unknown.
func IndexOf(name Name) int {
	for i, n := range Order {
		if n == name {
			return i
		}
	}
	return -1
}

// Attempt records one historical execution of a phase, appended to History
// whenever a phase is re-entered after any terminal status, and when it is
// abandoned.
type Attempt struct {
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	FailureType string     `json:"failure_type,omitempty"`
}

// TestResult captures the outcome of a single test run recorded against a
// phase (acceptance or unit test suite execution).
type TestResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Output   string `json:"output,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// Phase is a named node in the TDD state machine for one step.
type Phase struct {
	Name              Name          `json:"name"`
	Status            Status        `json:"status"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	DurationMinutes   float64       `json:"duration_minutes,omitempty"`
	TestResults       []TestResult  `json:"test_results,omitempty"`
	ArtifactsCreated  []string      `json:"artifacts_created,omitempty"`
	ArtifactsModified []string      `json:"artifacts_modified,omitempty"`
	Notes             string        `json:"notes,omitempty"`
	BlockedBy         []string      `json:"blocked_by,omitempty"`
	History           []Attempt     `json:"history,omitempty"`
}

// NewPhase returns a phase in its initial NOT_EXECUTED state.
func NewPhase(name Name) Phase {
	return Phase{Name: name, Status: NotExecuted}
}

// Start transitions the phase to IN_PROGRESS, recording startedAt and
// pushing the prior terminal attempt (if any) onto History. Returns an
// error if the phase is already IN_PROGRESS, mirroring the invariant that
// at most one phase may be IN_PROGRESS at a time (spec.md §3, §8 invariant 1)
// — callers enforce the single-active-phase rule across phases; Start only
// guards re-entrancy on the same phase.
func (p *Phase) Start(now time.Time) error {
	if p.Status == InProgress {
		return ErrAlreadyInProgress
	}
	if p.Status.Terminal() {
		p.History = append(p.History, Attempt{
			Status:    p.Status,
			StartedAt: p.StartedAt,
			EndedAt:   p.EndedAt,
			Notes:     p.Notes,
		})
	}
	p.Status = InProgress
	p.StartedAt = &now
	p.EndedAt = nil
	p.DurationMinutes = 0
	return nil
}

// Finish transitions an IN_PROGRESS phase to a terminal status, recording
// endedAt and duration.
func (p *Phase) Finish(status Status, now time.Time) error {
	if !status.Terminal() {
		return ErrNonTerminalFinish
	}
	if p.Status != InProgress {
		return ErrNotInProgress
	}
	p.Status = status
	p.EndedAt = &now
	if p.StartedAt != nil {
		p.DurationMinutes = now.Sub(*p.StartedAt).Minutes()
	}
	return nil
}

// Abandon marks an IN_PROGRESS phase as abandoned without a normal Finish
// call — used by the Subagent-Stop Service when it discovers a phase left
// IN_PROGRESS after agent termination (spec.md §4.3 check 1). The phase is
// reset to NOT_EXECUTED so the Orchestrator can re-enter it, per the
// Recovery Handler's ACTION suggestion (spec.md §7).
func (p *Phase) Abandon(now time.Time) {
	p.History = append(p.History, Attempt{
		Status:    InProgress,
		StartedAt: p.StartedAt,
		EndedAt:   &now,
		Notes:     "abandoned: left IN_PROGRESS after agent termination",
	})
	p.Status = NotExecuted
	p.StartedAt = nil
	p.EndedAt = nil
	p.DurationMinutes = 0
}
