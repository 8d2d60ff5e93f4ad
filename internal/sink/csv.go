package sink

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/callpilot/pkg/types"
)

// CSVHeader is the column layout of the call log.
var CSVHeader = []string{"Timestamp", "Transcript", "Sentiment", "Customer Summary", "Intent", "Suggestion"}

// CSV appends records to a CSV file, writing [CSVHeader] when the file is
// new or empty. The file is opened and closed on every append.
type CSV struct {
	path string
	mu   sync.Mutex
}

var _ RecordSink = (*CSV)(nil)

// NewCSV creates a CSV sink writing to path. Parent directories are created
// on first append.
func NewCSV(path string) (*CSV, error) {
	if path == "" {
		return nil, errors.New("sink: csv path must not be empty")
	}
	return &CSV{path: path}, nil
}

// Name implements [RecordSink].
func (s *CSV) Name() string { return "csv" }

// Path returns the file path.
func (s *CSV) Path() string { return s.path }

// Append implements [RecordSink].
func (s *CSV) Append(_ context.Context, rec types.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sink: csv mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("sink: csv open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("sink: csv stat: %w", err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(CSVHeader); err != nil {
			f.Close()
			return fmt.Errorf("sink: csv header: %w", err)
		}
	}
	if err := w.Write(csvRow(rec)); err != nil {
		f.Close()
		return fmt.Errorf("sink: csv append: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("sink: csv flush: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("sink: csv close: %w", err)
	}
	return nil
}

// Close implements [RecordSink]. The CSV sink holds no open handles.
func (s *CSV) Close() error { return nil }

func csvRow(rec types.AnalysisRecord) []string {
	return []string{
		rec.Timestamp.Format(time.RFC3339Nano),
		rec.Transcript,
		string(rec.Sentiment),
		rec.Summary,
		rec.Intent,
		rec.Suggestion,
	}
}

// ReadCSV loads every record from a call log written by [CSV]. A missing
// file yields no records and no error. CallID and Seq are not part of the
// log and stay zero.
func ReadCSV(path string) ([]types.AnalysisRecord, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sink: csv read: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(CSVHeader)

	var out []types.AnalysisRecord
	for line := 0; ; line++ {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("sink: csv read: %w", err)
		}
		if line == 0 && row[0] == CSVHeader[0] {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("sink: csv read line %d: %w", line+1, err)
		}
		out = append(out, types.AnalysisRecord{
			Timestamp:  ts,
			Transcript: row[1],
			Sentiment:  types.Sentiment(row[2]),
			Summary:    row[3],
			Intent:     row[4],
			Suggestion: row[5],
		})
	}
}
