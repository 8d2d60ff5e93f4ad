package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MrWong99/callpilot/pkg/types"
)

// JSONL appends one JSON document per line. It accepts both analysis
// records and call summaries; each line carries a "type" discriminator.
type JSONL struct {
	path string

	mu     sync.Mutex
	f      *os.File
	closed bool
}

var (
	_ RecordSink  = (*JSONL)(nil)
	_ SummarySink = (*JSONL)(nil)
)

// jsonlLine is the on-disk envelope.
type jsonlLine struct {
	Type    string                `json:"type"`
	Record  *types.AnalysisRecord `json:"record,omitempty"`
	Summary *types.SummaryRecord  `json:"summary,omitempty"`
}

// NewJSONL opens (or creates) path for appending.
func NewJSONL(path string) (*JSONL, error) {
	if path == "" {
		return nil, errors.New("sink: jsonl path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sink: jsonl mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: jsonl open: %w", err)
	}
	return &JSONL{path: path, f: f}, nil
}

// Name implements [RecordSink].
func (s *JSONL) Name() string { return "jsonl" }

// Append implements [RecordSink].
func (s *JSONL) Append(_ context.Context, rec types.AnalysisRecord) error {
	return s.write(jsonlLine{Type: "record", Record: &rec})
}

// AppendSummary implements [SummarySink].
func (s *JSONL) AppendSummary(_ context.Context, rec types.SummaryRecord) error {
	return s.write(jsonlLine{Type: "summary", Summary: &rec})
}

func (s *JSONL) write(line jsonlLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("sink: jsonl marshal: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("sink: jsonl closed")
	}
	if _, err := s.f.Write(data); err != nil {
		return fmt.Errorf("sink: jsonl append: %w", err)
	}
	return nil
}

// Close implements [RecordSink].
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

// ReadJSONL loads a file written by [JSONL].
func ReadJSONL(path string) ([]types.AnalysisRecord, []types.SummaryRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("sink: jsonl read: %w", err)
	}
	defer f.Close()

	var (
		records   []types.AnalysisRecord
		summaries []types.SummaryRecord
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		var line jsonlLine
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			return nil, nil, fmt.Errorf("sink: jsonl read line %d: %w", n, err)
		}
		switch {
		case line.Record != nil:
			records = append(records, *line.Record)
		case line.Summary != nil:
			summaries = append(summaries, *line.Summary)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("sink: jsonl read: %w", err)
	}
	return records, summaries, nil
}
