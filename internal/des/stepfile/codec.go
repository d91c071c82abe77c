package stepfile

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/nwave-ai/des/internal/fsatomic"
)

// knownTopLevelKeys lists the StepFile fields encoding/json already knows
// about, so MarshalJSON/UnmarshalJSON can separate them from whatever
// extra fields a host runtime has added (the "Ambient addition:
// unknown-field preservation" note in SPEC_FULL.md §3).
var knownTopLevelKeys = map[string]bool{
	"feature_name":       true,
	"step_id":            true,
	"task_specification": true,
	"tdd_cycle":          true,
	"scope":              true,
	"quality_gates":      true,
	"state":              true,
}

// alias avoids infinite recursion into StepFile's own MarshalJSON/
// UnmarshalJSON, following the teacher's Alias-struct convention
// (workflow/entity.go WorkflowEntityPayload.MarshalJSON).
type alias StepFile

// MarshalJSON emits the known fields plus any preserved unknown fields,
// so that Load followed by Save is lossless even for fields DES does not
// model.
func (sf *StepFile) MarshalJSON() ([]byte, error) {
	knownBytes, err := json.Marshal((*alias)(sf))
	if err != nil {
		return nil, fmt.Errorf("marshal step file: %w", err)
	}

	merged := make(map[string]json.RawMessage, len(sf.extra)+len(knownTopLevelKeys))
	for k, v := range sf.extra {
		merged[k] = v
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(knownBytes, &known); err != nil {
		return nil, fmt.Errorf("marshal step file: %w", err)
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON populates the known fields and stashes any remaining
// top-level keys into extra so a subsequent MarshalJSON reproduces them.
func (sf *StepFile) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, (*alias)(sf)); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	extra := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		if knownTopLevelKeys[k] {
			continue
		}
		extra[k] = v
	}
	if len(extra) > 0 {
		sf.extra = extra
	}
	return nil
}

// Load reads and parses a step file from path.
func Load(path string) (*StepFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read step file %s: %w", path, err)
	}
	var sf StepFile
	if err := sf.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse step file %s: %w", path, err)
	}
	return &sf, nil
}

// Save atomically writes sf to path (temp file + rename, via fsatomic),
// so a crash mid-write never leaves a torn step file.
func Save(path string, sf *StepFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal step file: %w", err)
	}
	if err := fsatomic.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write step file %s: %w", path, err)
	}
	return nil
}
