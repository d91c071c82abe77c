package recovery

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nwave-ai/des/internal/des/stepfile"
)

func TestGenerateRecoverySuggestionsMinimumCounts(t *testing.T) {
	h := New(nil)

	for _, ft := range []FailureType{AbandonedPhase, Unknown} {
		suggestions := h.GenerateRecoverySuggestions(ft, Context{Phase: "PREPARE"})
		require.GreaterOrEqual(t, len(suggestions), 3, "failure type %s", ft)
	}

	for _, ft := range []FailureType{MissingArtifacts, Timeout, ScopeViolation, QualityGateFailure} {
		suggestions := h.GenerateRecoverySuggestions(ft, Context{Phase: "PREPARE"})
		require.GreaterOrEqual(t, len(suggestions), 2, "failure type %s", ft)
	}
}

func TestFormatSuggestionThreeSections(t *testing.T) {
	s := FormatSuggestion("w", "h", "a")
	require.Equal(t, "WHY: w\n\nHOW: h\n\nACTION: a", s)
}

func TestGenerateRecoverySuggestionsSubstitutesFields(t *testing.T) {
	h := New(nil)
	suggestions := h.GenerateRecoverySuggestions(AbandonedPhase, Context{
		Phase:          "RED_ACCEPTANCE",
		StepID:         "03-02",
		TranscriptPath: "/tmp/transcript.json",
	})
	require.Contains(t, suggestions[0], "RED_ACCEPTANCE")
	require.Contains(t, suggestions[0], "03-02")
}

func TestGenerateRecoverySuggestionsDegradesGracefully(t *testing.T) {
	h := New(nil)
	suggestions := h.GenerateRecoverySuggestions(AbandonedPhase, Context{})
	for _, s := range suggestions {
		require.NotContains(t, s, "{{")
	}
}

func TestHandleFailureIsIdempotent(t *testing.T) {
	sf, err := stepfile.New("auth", "03-02", stepfile.QualityGates{})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "03-02.json")
	require.NoError(t, stepfile.Save(path, sf))

	h := New(nil)
	ctx := Context{Phase: "PREPARE", TranscriptPath: "/tmp/t.json"}

	_, err = h.HandleFailure(path, AbandonedPhase, ctx)
	require.NoError(t, err)

	first, err := stepfile.Load(path)
	require.NoError(t, err)

	_, err = h.HandleFailure(path, AbandonedPhase, ctx)
	require.NoError(t, err)

	second, err := stepfile.Load(path)
	require.NoError(t, err)

	require.Equal(t, first.State.RecoverySuggestions, second.State.RecoverySuggestions)
}

func TestHandleFailureDefaultsStepIDFromFile(t *testing.T) {
	sf, err := stepfile.New("auth", "03-02", stepfile.QualityGates{})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "03-02.json")
	require.NoError(t, stepfile.Save(path, sf))

	h := New(nil)
	updated, err := h.HandleFailure(path, AbandonedPhase, Context{Phase: "PREPARE"})
	require.NoError(t, err)
	require.True(t, strings.Contains(updated.State.RecoverySuggestions[0], "03-02"))
}
