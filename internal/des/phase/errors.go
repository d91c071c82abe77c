package phase

import "errors"

var (
	// ErrAlreadyInProgress is returned by Start when the phase is already
	// IN_PROGRESS.
	ErrAlreadyInProgress = errors.New("phase: already in progress")

	// ErrNonTerminalFinish is returned by Finish when asked to finish into a
	// non-terminal status.
	ErrNonTerminalFinish = errors.New("phase: finish status must be terminal")

	// ErrNotInProgress is returned by Finish when the phase is not currently
	// IN_PROGRESS.
	ErrNotInProgress = errors.New("phase: not in progress")

	// ErrPredecessorsUnmet is returned when entering a phase whose mandatory
	// predecessors have not all reached PASS or SKIPPED.
	ErrPredecessorsUnmet = errors.New("phase: mandatory predecessors not satisfied")

	// ErrConcurrentPhase is returned when more than one phase is found
	// IN_PROGRESS at rest, violating spec.md §8 invariant 1.
	ErrConcurrentPhase = errors.New("phase: more than one phase in progress")

	// ErrUnknownPhase is returned for a phase name outside the canonical
	// Order.
	ErrUnknownPhase = errors.New("phase: unknown phase name")
)
