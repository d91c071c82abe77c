// Package hooks installs and removes DES's entries in the host assistant's
// settings document (spec.md §6 "Hook-installation contract"). Modeled on
// the teacher pack's fyrsmithlabs-contextd/internal/hooks.Config JSON
// load/default/save convention, generalised from a single config struct to
// in-place manipulation of an arbitrary settings document so that non-DES
// keys and hook entries are always preserved untouched.
package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// EventName identifies a hook event in the settings document.
type EventName string

const (
	PreToolUse   EventName = "PreToolUse"
	SubagentStop EventName = "SubagentStop"
)

// legacyMarker and moduleMarker identify the two command forms a DES hook
// entry may take (spec.md §6 "detection must match both legacy (script-path)
// and modern (module-invocation) command forms"). Detection matches either
// substring so both forms are recognised symmetrically regardless of which
// one install writes going forward.
const (
	legacyMarker = "des-hook.sh"
	moduleMarker = "github.com/nwave-ai/des/cmd/des"
)

// hookEntry mirrors one element of settings.hooks.<Event>[].hooks[].
type hookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// matcherEntry mirrors one element of settings.hooks.<Event>[].
type matcherEntry struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []hookEntry `json:"hooks"`
}

// isDESCommand reports whether command was installed by DES, under either
// the legacy or the modern command form.
func isDESCommand(command string) bool {
	return strings.Contains(command, legacyMarker) || strings.Contains(command, moduleMarker)
}

// Load reads the settings document at path, returning an empty document if
// the file does not yet exist.
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file %s: %w", path, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings file %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// Save writes doc back to path as indented JSON.
func Save(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings document: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings file %s: %w", path, err)
	}
	return nil
}

// Install ensures doc contains exactly one DES entry for each of
// PreToolUse and SubagentStop, using command for the hook's command string.
// Calling Install any number of times leaves the document with exactly one
// DES entry per event (spec.md §8 invariant 7); pre-existing non-DES
// entries are preserved untouched.
func Install(doc map[string]any, command string) map[string]any {
	doc = Uninstall(doc)

	hooksSection, _ := doc["hooks"].(map[string]any)
	if hooksSection == nil {
		hooksSection = map[string]any{}
	}

	for _, event := range []EventName{PreToolUse, SubagentStop} {
		entries := decodeMatchers(hooksSection[string(event)])
		entries = append(entries, matcherEntry{
			Hooks: []hookEntry{{Type: "command", Command: command}},
		})
		hooksSection[string(event)] = encodeMatchers(entries)
	}

	doc["hooks"] = hooksSection
	return doc
}

// Uninstall removes every DES-originated hook entry (matching either
// command form) from doc, across every matcher group, leaving non-DES
// entries and matcher groups with remaining hooks intact. Matcher groups
// that end up with zero hooks are dropped.
func Uninstall(doc map[string]any) map[string]any {
	hooksSection, ok := doc["hooks"].(map[string]any)
	if !ok {
		return doc
	}

	for _, event := range []EventName{PreToolUse, SubagentStop} {
		raw, ok := hooksSection[string(event)]
		if !ok {
			continue
		}
		entries := decodeMatchers(raw)

		filtered := make([]matcherEntry, 0, len(entries))
		for _, m := range entries {
			kept := m.Hooks[:0:0]
			for _, h := range m.Hooks {
				if h.Type == "command" && isDESCommand(h.Command) {
					continue
				}
				kept = append(kept, h)
			}
			if len(kept) > 0 {
				m.Hooks = kept
				filtered = append(filtered, m)
			}
		}
		if len(filtered) == 0 {
			delete(hooksSection, string(event))
		} else {
			hooksSection[string(event)] = encodeMatchers(filtered)
		}
	}

	if len(hooksSection) == 0 {
		delete(doc, "hooks")
	} else {
		doc["hooks"] = hooksSection
	}
	return doc
}

// CountDESEntries reports how many DES command entries exist for event
// across all matcher groups, used by tests to assert idempotence.
func CountDESEntries(doc map[string]any, event EventName) int {
	hooksSection, ok := doc["hooks"].(map[string]any)
	if !ok {
		return 0
	}
	entries := decodeMatchers(hooksSection[string(event)])
	count := 0
	for _, m := range entries {
		for _, h := range m.Hooks {
			if h.Type == "command" && isDESCommand(h.Command) {
				count++
			}
		}
	}
	return count
}

// decodeMatchers normalises the raw hooks.<Event> value (which after a
// json.Unmarshal round trip through map[string]any is []any of
// map[string]any) into []matcherEntry, regardless of whether it originated
// from json decoding or from a prior in-process Install/Uninstall call.
func decodeMatchers(raw any) []matcherEntry {
	switch v := raw.(type) {
	case []matcherEntry:
		return v
	case []any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var entries []matcherEntry
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil
		}
		return entries
	default:
		return nil
	}
}

func encodeMatchers(entries []matcherEntry) []matcherEntry {
	return entries
}
