// Package status publishes the session state to the file system.
//
// The status file is a JSON snapshot rewritten atomically on every session
// transition and every new record, so a dashboard polling the file never sees
// a torn write. The summary file holds the final record of the last call.
// [StopFlag] turns the appearance of a flag file into a stop request.
package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/callpilot/pkg/types"
)

// State is the lifecycle state of the call session.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Status is the document written to the status file.
type Status struct {
	State      State                 `json:"state"`
	CallID     string                `json:"call_id,omitempty"`
	StartedAt  time.Time             `json:"started_at,omitzero"`
	UpdatedAt  time.Time             `json:"updated_at"`
	Utterances int                   `json:"utterances"`
	Records    int                   `json:"records"`
	LastRecord *types.AnalysisRecord `json:"last_record,omitempty"`

	// Message carries a human-readable note, e.g. "capture stopped
	// unexpectedly".
	Message string `json:"message,omitempty"`
}

// WriteFileAtomic marshals v as indented JSON and replaces path with it via a
// temporary file in the same directory and a rename.
func WriteFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("status: marshal: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("status: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("status: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("status: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("status: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("status: close: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("status: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("status: rename: %w", err)
	}
	return nil
}

// Writer publishes [Status] snapshots to a fixed path. An empty path turns
// every write into a no-op.
type Writer struct {
	path string
}

// NewWriter returns a Writer for path.
func NewWriter(path string) *Writer { return &Writer{path: path} }

// Path returns the status file path.
func (w *Writer) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Write replaces the status file with st.
func (w *Writer) Write(st Status) error {
	if w == nil || w.path == "" {
		return nil
	}
	return WriteFileAtomic(w.path, st)
}

// Read loads a status file.
func Read(path string) (Status, error) {
	var st Status
	data, err := os.ReadFile(path)
	if err != nil {
		return st, fmt.Errorf("status: read: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("status: decode: %w", err)
	}
	return st, nil
}

// ReadSummary loads a summary file written with [WriteFileAtomic].
func ReadSummary(path string) (types.SummaryRecord, error) {
	var rec types.SummaryRecord
	data, err := os.ReadFile(path)
	if err != nil {
		return rec, fmt.Errorf("status: read summary: %w", err)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("status: decode summary: %w", err)
	}
	return rec, nil
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Event kinds published on the live feed.
const (
	EventStatus  = "status"
	EventRecord  = "record"
	EventSummary = "summary"
)

// Event is one entry on the live feed. Status is always set; Record or
// Summary accompany the matching kinds.
type Event struct {
	Type    string                `json:"type"`
	Status  Status                `json:"status"`
	Record  *types.AnalysisRecord `json:"record,omitempty"`
	Summary *types.SummaryRecord  `json:"summary,omitempty"`
}
