package subagentstop

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nwave-ai/des/internal/des/phase"
	"github.com/nwave-ai/des/internal/des/stepfile"
)

// runningStepFile returns a step file whose Prepare phase is left
// IN_PROGRESS, simulating an agent that has not yet reported completion.
func runningStepFile(t *testing.T) *stepfile.StepFile {
	t.Helper()
	sf, err := stepfile.New("auth", "03-02", stepfile.QualityGates{})
	require.NoError(t, err)
	sf.Scope.AllowPaths = []string{"src/**"}
	p := sf.TDDCycle.PhaseTracking.Get(phase.Prepare)
	require.NoError(t, p.Start(time.Now()))
	return sf
}

// completedStepFile returns a step file whose Prepare phase already
// reached PASS, simulating an agent that finished normally and is now
// awaiting the Subagent-Stop Service's checks.
func completedStepFile(t *testing.T) *stepfile.StepFile {
	t.Helper()
	sf := runningStepFile(t)
	p := sf.TDDCycle.PhaseTracking.Get(phase.Prepare)
	require.NoError(t, p.Finish(phase.Pass, time.Now()))
	return sf
}

func TestCheckDetectsAbandonedPhase(t *testing.T) {
	repo := t.TempDir()
	sf := runningStepFile(t)

	// The phase under evaluation is exempt from the abandoned scan, so
	// Check is asked about RED_ACCEPTANCE while PREPARE is still running.
	outcome := Check(sf, Context{ProjectID: repo}, phase.RedAcceptance, false)
	require.False(t, outcome.Passed)
	require.Contains(t, outcome.AbandonedPhases, phase.Prepare)
	require.Equal(t, phase.NotExecuted, sf.TDDCycle.PhaseTracking.Get(phase.Prepare).Status)
}

func TestCheckDetectsMissingArtefact(t *testing.T) {
	repo := t.TempDir()
	sf := completedStepFile(t)
	p := sf.TDDCycle.PhaseTracking.Get(phase.Prepare)
	p.ArtifactsCreated = []string{filepath.Join(repo, "missing.go")}

	outcome := Check(sf, Context{ProjectID: repo}, phase.Prepare, false)
	require.False(t, outcome.Passed)
	require.Empty(t, outcome.AbandonedPhases)
	require.Contains(t, outcome.ValidationErrors[0], "missing artefact")
}

func TestCheckDetectsScopeViolation(t *testing.T) {
	repo := t.TempDir()
	sf := completedStepFile(t)
	outOfScope := filepath.Join(repo, "README.md")
	require.NoError(t, os.WriteFile(outOfScope, []byte("x"), 0o644))

	outcome := Check(sf, Context{ProjectID: repo, ModifiedFiles: []string{outOfScope}}, phase.Prepare, false)
	require.False(t, outcome.Passed)
	require.Contains(t, outcome.ScopeViolations, outOfScope)
}

func TestCheckEmptyScopeRejectsAnyModification(t *testing.T) {
	repo := t.TempDir()
	sf := completedStepFile(t)
	sf.Scope.AllowPaths = nil
	modified := filepath.Join(repo, "src", "main.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(modified), 0o755))
	require.NoError(t, os.WriteFile(modified, []byte("x"), 0o644))

	outcome := Check(sf, Context{ProjectID: repo, ModifiedFiles: []string{modified}}, phase.Prepare, false)
	require.False(t, outcome.Passed)
	require.Contains(t, outcome.ScopeViolations, modified)
}

func TestCheckPassesHappyPath(t *testing.T) {
	repo := t.TempDir()
	sf := completedStepFile(t)
	inScope := filepath.Join(repo, "src", "main.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(inScope), 0o755))
	require.NoError(t, os.WriteFile(inScope, []byte("x"), 0o644))

	outcome := Check(sf, Context{ProjectID: repo, ModifiedFiles: []string{inScope}, StartedAt: time.Now()}, phase.Prepare, false)
	require.True(t, outcome.Passed, "%+v", outcome)
	require.Equal(t, phase.Pass, sf.TDDCycle.PhaseTracking.Get(phase.Prepare).Status)
	require.Equal(t, "PASS", sf.State.LastOutcome)
}

func TestCheckFailsOnBudgetExceeded(t *testing.T) {
	repo := t.TempDir()
	sf := completedStepFile(t)

	outcome := Check(sf, Context{ProjectID: repo, StartedAt: time.Now()}, phase.Prepare, true)
	require.False(t, outcome.Passed)
	require.True(t, outcome.RetryEligible)
	require.Contains(t, outcome.ValidationErrors, "turn/time budget exceeded")
}

func TestCheckEnforcesMustFailFirst(t *testing.T) {
	repo := t.TempDir()
	sf, err := stepfile.New("auth", "03-02", stepfile.QualityGates{AcceptanceTestMustFailFirst: true})
	require.NoError(t, err)
	sf.Scope.AllowPaths = []string{"src/**"}

	p := sf.TDDCycle.PhaseTracking.Get(phase.RedAcceptance)
	require.NoError(t, p.Start(time.Now()))
	require.NoError(t, p.Finish(phase.Pass, time.Now()))
	p.TestResults = []phase.TestResult{{Name: "scenario", Passed: true}}

	outcome := Check(sf, Context{ProjectID: repo, StartedAt: time.Now()}, phase.RedAcceptance, false)
	require.False(t, outcome.Passed)
	require.Contains(t, outcome.ValidationErrors, "quality gate failed")
}
