package audit

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/nwave-ai/des/internal/clock"
	"github.com/nwave-ai/des/internal/des/metrics"
)

func expectedSequence(events []Event) bool {
	for i, e := range events {
		if e.SequenceNumber != uint64(i+1) {
			return false
		}
	}
	return true
}

func TestLogEventAssignsContiguousSequence(t *testing.T) {
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 2, 5, 14, 30, 0, 0, time.UTC))
	w, err := NewWriter(dir, fc, nil)
	require.NoError(t, err)
	defer w.Close()

	for i := 0; i < 3; i++ {
		err := w.LogEvent(Event{
			Event:       HookSubagentStopPassed,
			FeatureName: "auth",
			StepID:      "03-02",
		})
		require.NoError(t, err)
	}

	events, err := w.ReadEventsForStep("03-02")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, expectedSequence(events), "expected contiguous sequence starting at 1, got %+v", events)
}

func TestContentHashRoundTrips(t *testing.T) {
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 2, 5, 14, 30, 0, 0, time.UTC))
	w, err := NewWriter(dir, fc, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.LogEvent(Event{
		Event:       ScopeViolation,
		FeatureName: "auth",
		StepID:      "03-02",
		Fields:      map[string]any{"path": "README.md"},
	}))

	events, err := w.ReadEventsForStep("03-02")
	require.NoError(t, err)
	require.Len(t, events, 1)

	ok, err := events[0].VerifyHash()
	require.NoError(t, err)
	require.True(t, ok, "expected recomputed hash to match stored content_hash")
}

func TestRotationCreatesNewDailyFile(t *testing.T) {
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 2, 5, 23, 59, 0, 0, time.UTC))
	w, err := NewWriter(dir, fc, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.LogEvent(Event{Event: PhaseStarted, StepID: "01-01"}))

	fc.Advance(2 * time.Minute) // crosses UTC midnight

	require.NoError(t, w.LogEvent(Event{Event: PhaseExecuted, StepID: "01-01"}))

	events, err := w.ReadEventsForStep("01-01")
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Both events' sequence numbers start fresh per file (rotation resets
	// the counter), so the second event, written to the new file, must be
	// sequence 1 in its own file even though it is globally the second
	// event observed.
	require.Equal(t, uint64(1), events[0].SequenceNumber)
	require.Equal(t, uint64(1), events[1].SequenceNumber)

	for _, e := range events {
		d := e.Timestamp.UTC().Format(dateSuffixLayout)
		if d != "2026-02-05" && d != "2026-02-06" {
			t.Fatalf("unexpected event date %s", d)
		}
	}
}

func TestSequenceNumberRecoveredAcrossWriterRestart(t *testing.T) {
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC))

	w1, err := NewWriter(dir, fc, nil)
	require.NoError(t, err)
	require.NoError(t, w1.LogEvent(Event{Event: PhaseStarted, StepID: "01-01"}))
	require.NoError(t, w1.LogEvent(Event{Event: PhaseExecuted, StepID: "01-01"}))
	require.NoError(t, w1.Close())

	w2, err := NewWriter(dir, fc, nil)
	require.NoError(t, err)
	defer w2.Close()
	require.NoError(t, w2.LogEvent(Event{Event: CommitSuccess, StepID: "01-01"}))

	events, err := w2.ReadEventsForStep("01-01")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.True(t, expectedSequence(events))
}

func TestFieldsCannotCollideWithCoreKeys(t *testing.T) {
	e := Event{Event: PhaseStarted, Fields: map[string]any{"event": "nope"}}
	_, err := e.ComputeHash()
	require.Error(t, err)
}

func TestRangeHash(t *testing.T) {
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC))
	w, err := NewWriter(dir, fc, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.LogEvent(Event{Event: PhaseStarted, StepID: "01-01"}))
	require.NoError(t, w.LogEvent(Event{Event: PhaseExecuted, StepID: "01-01"}))

	events, err := w.ReadEventsForStep("01-01")
	require.NoError(t, err)

	h1, err := RangeHash(events)
	require.NoError(t, err)
	h2, err := RangeHash(events)
	require.NoError(t, err)
	require.Equal(t, h1, h2, "range hash must be deterministic")
}

func TestLogEventIncrementsMetrics(t *testing.T) {
	dir := t.TempDir()
	fc := clock.NewFake(time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC))
	w, err := NewWriter(dir, fc, nil)
	require.NoError(t, err)
	defer w.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	w.WithMetrics(m)

	require.NoError(t, w.LogEvent(Event{Event: PhaseStarted, StepID: "01-01"}))

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, f := range families {
		if f.GetName() == "des_audit_events_total" {
			found = true
			require.Equal(t, float64(1), f.Metric[0].Counter.GetValue())
		}
	}
	require.True(t, found)
}
