// Package sink persists analysis results.
//
// A [RecordSink] receives one [types.AnalysisRecord] per analysed utterance;
// a [SummarySink] receives one [types.SummaryRecord] when a call ends. The
// CSV log mirrors the spreadsheet layout sales teams already use, the JSONL
// file is the machine-readable archive, and the postgres subpackage feeds
// dashboards and CRM sync jobs.
//
// Sink failures never stop a call: the session controller logs them, counts
// them and moves on. [Multi] isolates sinks from each other in the same way.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/callpilot/pkg/types"
)

// RecordSink stores per-utterance analysis records.
//
// Append must be safe to call repeatedly and from multiple goroutines.
type RecordSink interface {
	// Name identifies the sink in logs and metric attributes.
	Name() string

	// Append durably stores rec.
	Append(ctx context.Context, rec types.AnalysisRecord) error

	// Close flushes and releases resources. Safe to call more than once.
	Close() error
}

// SummarySink stores the final per-call record. Sinks that support it
// implement this in addition to [RecordSink].
type SummarySink interface {
	AppendSummary(ctx context.Context, rec types.SummaryRecord) error
}

// Multi fans records out to several sinks. Every sink is attempted even if
// an earlier one fails; the failures are joined.
type Multi struct {
	sinks []RecordSink
}

var (
	_ RecordSink  = (*Multi)(nil)
	_ SummarySink = (*Multi)(nil)
)

// NewMulti creates a fan-out over sinks. Nil entries are skipped.
func NewMulti(sinks ...RecordSink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Name implements [RecordSink].
func (m *Multi) Name() string { return "multi" }

// Len returns the number of wrapped sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Append implements [RecordSink].
func (m *Multi) Append(ctx context.Context, rec types.AnalysisRecord) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// AppendSummary forwards rec to every wrapped sink that implements
// [SummarySink].
func (m *Multi) AppendSummary(ctx context.Context, rec types.SummaryRecord) error {
	var errs []error
	for _, s := range m.sinks {
		ss, ok := s.(SummarySink)
		if !ok {
			continue
		}
		if err := ss.AppendSummary(ctx, rec); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Close closes every wrapped sink.
func (m *Multi) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Persisted reports whether rec reached at least one sink given the error
// Append on s returned. A [Multi] with a healthy member still persisted it.
func Persisted(s RecordSink, err error) bool {
	if err == nil {
		return true
	}
	m, ok := s.(*Multi)
	if !ok {
		return false
	}
	return len(FailedSinks(err)) < m.Len()
}

// Error attributes a failure to a named sink.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("sink %s: %v", e.Sink, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// FailedSinks returns the names of the sinks that contributed to err, in
// order. It understands errors returned by [Multi].
func FailedSinks(err error) []string {
	var names []string
	var walk func(error)
	walk = func(e error) {
		switch x := e.(type) {
		case nil:
		case *Error:
			names = append(names, x.Sink)
		case interface{ Unwrap() []error }:
			for _, inner := range x.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return names
}
