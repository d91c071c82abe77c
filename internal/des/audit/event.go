// Package audit implements the append-only JSONL audit trail: the closed
// universe of DES event types, daily log rotation, per-file sequence
// ordering, and SHA-256 content hashing (spec.md §3 "Audit Event", §4.5).
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Type is the closed event-type enum from spec.md §4.5. Modeled as a tagged
// sum type per the design note in spec.md §9 ("Event enum & variants: use a
// tagged sum type with per-variant payload rather than a free-form map") —
// Type plus Event.Fields together play that role in Go, since Go has no
// native sum types; Fields keys are chosen by the code that emits each
// Type (the Orchestrator), and only the core event keys are reserved.
type Type string

const (
	TaskInvocationStarted   Type = "TASK_INVOCATION_STARTED"
	TaskInvocationValidated Type = "TASK_INVOCATION_VALIDATED"
	TaskInvocationRejected  Type = "TASK_INVOCATION_REJECTED"

	PhaseStarted  Type = "PHASE_STARTED"
	PhaseExecuted Type = "PHASE_EXECUTED"
	PhaseSkipped  Type = "PHASE_SKIPPED"
	PhaseFailed   Type = "PHASE_FAILED"

	HookSubagentStopPassed Type = "HOOK_SUBAGENT_STOP_PASSED"
	HookSubagentStopFailed Type = "HOOK_SUBAGENT_STOP_FAILED"
	SubagentStopValidation Type = "SUBAGENT_STOP_VALIDATION"
	SubagentStopFailure    Type = "SUBAGENT_STOP_FAILURE"

	ScopeViolation Type = "SCOPE_VIOLATION"

	CommitSuccess Type = "COMMIT_SUCCESS"
	CommitFailure Type = "COMMIT_FAILURE"
	CommitCreated Type = "COMMIT_CREATED"

	ValidationRejected Type = "VALIDATION_REJECTED"

	TimeoutWarning Type = "TIMEOUT_WARNING"
)

// Event is a single immutable audit record.
type Event struct {
	Event          Type
	Timestamp      time.Time
	SequenceNumber uint64
	FeatureName    string
	StepID         string
	// Fields holds the event-specific payload, merged at the top level of
	// the serialized JSON object (spec.md §6: "feature_name and step_id are
	// direct top-level fields ... not nested under data"). Keys must not
	// collide with the core field names above.
	Fields      map[string]any
	ContentHash string
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// coreKeys are reserved and may not appear in Fields.
var coreKeys = map[string]bool{
	"event":           true,
	"timestamp":       true,
	"sequence_number": true,
	"feature_name":    true,
	"step_id":         true,
	"content_hash":    true,
}

// toMap renders the event (optionally including the content hash) as a
// map ready for canonical JSON marshaling. Go's encoding/json marshals
// map[string]any keys in sorted order, which is exactly the "keys sorted"
// requirement in spec.md §6.
func (e Event) toMap(includeHash bool) (map[string]any, error) {
	m := map[string]any{
		"event":           string(e.Event),
		"timestamp":       e.Timestamp.UTC().Format(timestampLayout),
		"sequence_number": e.SequenceNumber,
	}
	if e.FeatureName != "" {
		m["feature_name"] = e.FeatureName
	}
	if e.StepID != "" {
		m["step_id"] = e.StepID
	}
	for k, v := range e.Fields {
		if coreKeys[k] {
			return nil, fmt.Errorf("audit: field %q collides with a reserved core key", k)
		}
		m[k] = v
	}
	if includeHash {
		if e.ContentHash == "" {
			return nil, fmt.Errorf("audit: content hash requested but not computed")
		}
		m["content_hash"] = e.ContentHash
	}
	return m, nil
}

// canonicalJSON returns the canonical JSON encoding of the event excluding
// content_hash, used both to compute ContentHash and to verify it.
func (e Event) canonicalJSON() ([]byte, error) {
	m, err := e.toMap(false)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// ComputeHash returns the SHA-256 hex digest of the event's canonical JSON,
// excluding content_hash itself (spec.md §3, §4.5 "Integrity").
//
// Open question resolved (spec.md §9): sequence_number IS included in the
// hash input. DES allocates sequence_number before computing the hash
// (under the writer's append lock, so it is stable and known at hash time),
// and the testable property in spec.md §8 item 4 reads literally as "every
// field except content_hash", which includes sequence_number.
func (e Event) ComputeHash() (string, error) {
	data, err := e.canonicalJSON()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyHash recomputes the content hash and reports whether it matches
// e.ContentHash (spec.md §8 invariant 4).
func (e Event) VerifyHash() (bool, error) {
	want, err := e.ComputeHash()
	if err != nil {
		return false, err
	}
	return want == e.ContentHash, nil
}

// MarshalJSON renders the event as the JSONL line described in spec.md §6,
// with content_hash included and keys sorted.
func (e Event) MarshalJSON() ([]byte, error) {
	m, err := e.toMap(true)
	if err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses a JSONL line back into an Event, separating the core
// fields from event-specific Fields.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if v, ok := raw["event"].(string); ok {
		e.Event = Type(v)
	}
	if v, ok := raw["timestamp"].(string); ok {
		ts, err := time.Parse(timestampLayout, v)
		if err != nil {
			// Tolerate RFC3339Nano for forward-compatibility with readers
			// of logs written by a different DES version.
			ts, err = time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return fmt.Errorf("parse timestamp %q: %w", v, err)
			}
		}
		e.Timestamp = ts
	}
	if v, ok := raw["sequence_number"].(float64); ok {
		e.SequenceNumber = uint64(v)
	}
	if v, ok := raw["feature_name"].(string); ok {
		e.FeatureName = v
	}
	if v, ok := raw["step_id"].(string); ok {
		e.StepID = v
	}
	if v, ok := raw["content_hash"].(string); ok {
		e.ContentHash = v
	}

	e.Fields = make(map[string]any)
	for k, v := range raw {
		if coreKeys[k] {
			continue
		}
		e.Fields[k] = v
	}
	return nil
}

// RangeHash computes the SHA-256 over the concatenation of each event's
// content_hash, in order (spec.md §4.5 "a range hash").
func RangeHash(events []Event) (string, error) {
	h := sha256.New()
	for _, e := range events {
		if e.ContentHash == "" {
			return "", fmt.Errorf("audit: event at sequence %d has no content hash", e.SequenceNumber)
		}
		h.Write([]byte(e.ContentHash))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
