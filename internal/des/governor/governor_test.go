package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nwave-ai/des/internal/clock"
	"github.com/nwave-ai/des/internal/des/phase"
)

func TestBeginRejectsConcurrentPhase(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)

	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 5}))
	err := g.Begin(phase.RedAcceptance, Budget{MaxTurns: 5})
	require.ErrorIs(t, err, ErrConcurrentPhase)

	require.NoError(t, g.Finish(phase.Prepare, phase.Pass))
	require.NoError(t, g.Begin(phase.RedAcceptance, Budget{MaxTurns: 5}))
}

func TestTickExceedsTurnBudget(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 2}))

	_, err := g.Tick(phase.Prepare)
	require.NoError(t, err)

	_, err = g.Tick(phase.Prepare)
	require.ErrorIs(t, err, ErrBudgetExceeded)

	exceeded, err := g.BudgetExceeded(phase.Prepare)
	require.NoError(t, err)
	require.True(t, exceeded)
}

func TestThresholdWarningsFireExactlyOnceAscending(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 10}))

	var allWarnings []Warning
	for i := 0; i < 9; i++ {
		warnings, err := g.Tick(phase.Prepare)
		require.NoError(t, err)
		allWarnings = append(allWarnings, warnings...)
	}

	require.Len(t, allWarnings, 3, "expected exactly one warning per threshold at 50%%/75%%/90%%")
	require.Equal(t, 0.50, allWarnings[0].Threshold)
	require.Equal(t, 0.75, allWarnings[1].Threshold)
	require.Equal(t, 0.90, allWarnings[2].Threshold)

	// 10th tick crosses the max and exceeds budget but must not re-emit 90%.
	warnings, err := g.Tick(phase.Prepare)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	require.Empty(t, warnings)
}

func TestElapsedExceedsMinuteBudget(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxMinutes: 10}))

	fc.Advance(6 * time.Minute)
	_, warnings, err := g.Elapsed(phase.Prepare)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, 0.50, warnings[0].Threshold)

	fc.Advance(5 * time.Minute)
	_, _, err = g.Elapsed(phase.Prepare)
	require.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestDecideRequiresJustification(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 5}))

	req := NewExtensionRequest(phase.Prepare, 8, 0, "")
	decision := g.Decide(req)
	require.False(t, decision.Granted)
}

func TestDecideGrantsWithinHardCap(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 5}))

	// Original budget is 5 turns; the default hard cap is 2x, so the
	// accumulated total (current + requested) may rise to 10.
	req := NewExtensionRequest(phase.Prepare, 5, 0, "need more turns for edge cases")
	decision := g.Decide(req)
	require.True(t, decision.Granted)
	require.Equal(t, 10, decision.NewBudget.MaxTurns)
}

func TestDecideAccumulatesAcrossExtensions(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxMinutes: 10}))

	first := g.Decide(NewExtensionRequest(phase.Prepare, 0, 0, "external API flaky"))
	require.True(t, first.Granted)

	second := g.Decide(NewExtensionRequest(phase.Prepare, 0, 5, "external API flaky"))
	require.True(t, second.Granted)
	require.Equal(t, 15.0, second.NewBudget.MaxMinutes)
}

func TestDecideRejectsBeyondHardCap(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 5}))

	// 5 (current) + 6 (requested) = 11, which exceeds 5*2.
	req := NewExtensionRequest(phase.Prepare, 6, 0, "too many turns")
	decision := g.Decide(req)
	require.False(t, decision.Granted)
}

func TestDecideRejectsThirdRequest(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 5}))

	for i := 0; i < 2; i++ {
		d := g.Decide(NewExtensionRequest(phase.Prepare, 2, 0, "reasonable ask"))
		require.True(t, d.Granted)
	}
	d := g.Decide(NewExtensionRequest(phase.Prepare, 7, 0, "third ask"))
	require.False(t, d.Granted)
}

func TestDecideRejectsTerminalPhase(t *testing.T) {
	fc := clock.NewFake(time.Now())
	g := New(fc, nil)
	require.NoError(t, g.Begin(phase.Prepare, Budget{MaxTurns: 5}))
	require.NoError(t, g.Finish(phase.Prepare, phase.Pass))

	d := g.Decide(NewExtensionRequest(phase.Prepare, 10, 0, "too late"))
	require.False(t, d.Granted)
}
