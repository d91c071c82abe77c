package audit

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nwave-ai/des/internal/clock"
	"github.com/nwave-ai/des/internal/des/metrics"
)

const dateSuffixLayout = "2006-01-02"

// Writer is the Audit Log Writer (spec.md §4.5): an append-only JSONL event
// sink with daily rotation, per-file sequence ordering, and SHA-256 content
// hashing. A Writer owns one directory; rotation opens/closes files within
// it as UTC dates change.
type Writer struct {
	dir    string
	clock  clock.Clock
	logger *slog.Logger

	mu           sync.Mutex
	file         *os.File
	activeDate   string
	nextSequence uint64

	// writeFailures counts log_event calls that failed to persist, for
	// operator visibility (spec.md §4.5 "Failure semantics").
	writeFailures atomic.Int64

	metrics *metrics.Metrics
}

// WithMetrics attaches a Prometheus collector holder; afterward every
// successful LogEvent call increments des_audit_events_total and every
// failed one increments des_audit_write_failures_total. Optional: a nil-metrics Writer behaves
// exactly as before.
func (w *Writer) WithMetrics(m *metrics.Metrics) *Writer {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.metrics = m
	return w
}

// NewWriter opens (or creates) the active log file in dir, determining the
// next sequence number by inspecting any existing file for today's date.
func NewWriter(dir string, c clock.Clock, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir %s: %w", dir, err)
	}
	w := &Writer{dir: dir, clock: c, logger: logger}
	if err := w.rotateLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// pathForDate returns the log file path for the given UTC date suffix.
func (w *Writer) pathForDate(date string) string {
	return filepath.Join(w.dir, fmt.Sprintf("audit-%s.log", date))
}

// RotateIfNeeded closes the active file and opens the file for the current
// UTC date if the date has changed since the active file was opened
// (spec.md §4.5 "Rotation"). Safe to call before every write.
func (w *Writer) RotateIfNeeded() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateIfNeededLocked()
}

func (w *Writer) rotateIfNeededLocked() error {
	today := w.clock.Now().UTC().Format(dateSuffixLayout)
	if today == w.activeDate && w.file != nil {
		return nil
	}
	return w.rotateLocked()
}

// rotateLocked closes any open file and opens/creates today's file,
// recovering the next sequence number from its last line if it already has
// content (process restart on the same UTC day).
func (w *Writer) rotateLocked() error {
	if w.file != nil {
		w.file.Close()
		w.file = nil
	}

	today := w.clock.Now().UTC().Format(dateSuffixLayout)
	path := w.pathForDate(today)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log %s: %w", path, err)
	}

	seq, err := lastSequenceNumber(path)
	if err != nil {
		f.Close()
		return fmt.Errorf("recover sequence number from %s: %w", path, err)
	}

	w.file = f
	w.activeDate = today
	w.nextSequence = seq + 1
	return nil
}

// lastSequenceNumber scans path for its final line's sequence_number,
// tolerating a partially-flushed last line per spec.md §4.5 "Concurrency".
func lastSequenceNumber(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	lines := bytes.Split(bytes.TrimRight(data, "\n"), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := e.UnmarshalJSON(line); err != nil {
			// Tolerate a torn final line by skipping it and trying the
			// previous one.
			continue
		}
		return e.SequenceNumber, nil
	}
	return 0, nil
}

// LogEvent appends event to the active log file, assigning its sequence
// number and content hash. A write failure is logged to stderr, counted,
// and returned to the caller; the Orchestrator ignores the returned error
// so an audit failure never aborts a phase.
func (w *Writer) LogEvent(e Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.rotateIfNeededLocked(); err != nil {
		w.recordFailure("rotate", err)
		return err
	}

	e.SequenceNumber = w.nextSequence
	if e.Timestamp.IsZero() {
		e.Timestamp = w.clock.Now()
	}

	hash, err := e.ComputeHash()
	if err != nil {
		w.recordFailure("hash", err)
		return err
	}
	e.ContentHash = hash

	line, err := e.MarshalJSON()
	if err != nil {
		w.recordFailure("marshal", err)
		return err
	}

	if err := flockExclusive(w.file); err != nil {
		w.recordFailure("flock", err)
		return err
	}
	defer funlock(w.file)

	if _, err := w.file.Write(append(line, '\n')); err != nil {
		w.recordFailure("write", err)
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.recordFailure("sync", err)
		return err
	}

	w.nextSequence++
	if w.metrics != nil {
		w.metrics.AuditEventsTotal.WithLabelValues(string(e.Event)).Inc()
	}
	return nil
}

func (w *Writer) recordFailure(stage string, err error) {
	w.writeFailures.Add(1)
	fmt.Fprintf(os.Stderr, "des: audit log %s failed: %v\n", stage, err)
	w.logger.Error("audit log write failed", "stage", stage, "error", err)
	if w.metrics != nil {
		w.metrics.AuditWriteFailures.Inc()
	}
}

// WriteFailures returns the number of failed LogEvent calls since Writer
// was constructed, for operator visibility.
func (w *Writer) WriteFailures() int64 {
	return w.writeFailures.Load()
}

// Close flushes and closes the active file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadEventsForStep scans every audit-*.log file in the writer's directory
// and returns events matching stepID, in sequence order within each file
// and file-date order across files (spec.md §4.5 contract).
func (w *Writer) ReadEventsForStep(stepID string) ([]Event, error) {
	return ReadEventsForStep(w.dir, stepID)
}

// ReadEventsForStep is the package-level form usable without an open
// Writer.
func ReadEventsForStep(dir, stepID string) ([]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read audit dir %s: %w", dir, err)
	}

	var names []string
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		if strings.HasPrefix(ent.Name(), "audit-") && strings.HasSuffix(ent.Name(), ".log") {
			names = append(names, ent.Name())
		}
	}
	sort.Strings(names)

	var events []Event
	for _, name := range names {
		fileEvents, err := readLogFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		for _, e := range fileEvents {
			if stepID == "" || e.StepID == stepID {
				events = append(events, e)
			}
		}
	}
	return events, nil
}

func readLogFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Event
		if err := e.UnmarshalJSON(line); err != nil {
			// Tolerate a torn final line (spec.md §4.5 "Concurrency").
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return events, nil
}
