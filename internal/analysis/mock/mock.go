// Package mock provides a test double for the analysis.Analyzer interface.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callpilot/internal/analysis"
	"github.com/MrWong99/callpilot/pkg/types"
)

// Analyzer is a mock implementation of analysis.Analyzer.
type Analyzer struct {
	mu sync.Mutex

	// Result is returned by Analyze when no error is configured.
	Result types.UtteranceAnalysis

	// Err, if non-nil, is returned by every Analyze call.
	Err error

	// Errs, if non-empty, supplies a per-call error for Analyze (nil entries
	// succeed). Calls beyond its length fall back to Err.
	Errs []error

	// Summary is returned by SummarizeCall when SummaryErr is nil.
	Summary types.CallSummary

	// SummaryErr, if non-nil, is returned by SummarizeCall.
	SummaryErr error

	// Delay is slept before answering either method; ctx cancellation aborts it.
	Delay time.Duration

	// AnalyzeCalls and SummaryCalls record the transcripts passed in.
	AnalyzeCalls []string
	SummaryCalls []string
}

var _ analysis.Analyzer = (*Analyzer)(nil)

// Analyze records the call and returns the configured result.
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (types.UtteranceAnalysis, error) {
	a.mu.Lock()
	n := len(a.AnalyzeCalls)
	a.AnalyzeCalls = append(a.AnalyzeCalls, transcript)
	res, err, delay := a.Result, a.Err, a.Delay
	if n < len(a.Errs) {
		err = a.Errs[n]
	}
	a.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return types.UtteranceAnalysis{}, err
	}
	if err != nil {
		return types.UtteranceAnalysis{}, err
	}
	return res, nil
}

// SummarizeCall records the call and returns the configured summary.
func (a *Analyzer) SummarizeCall(ctx context.Context, transcript string) (types.CallSummary, error) {
	a.mu.Lock()
	a.SummaryCalls = append(a.SummaryCalls, transcript)
	res, err, delay := a.Summary, a.SummaryErr, a.Delay
	a.mu.Unlock()

	if err := wait(ctx, delay); err != nil {
		return types.CallSummary{}, err
	}
	if err != nil {
		return types.CallSummary{}, err
	}
	return res, nil
}

// Transcripts returns a copy of the transcripts passed to Analyze.
func (a *Analyzer) Transcripts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.AnalyzeCalls...)
}

// Summaries returns a copy of the transcripts passed to SummarizeCall.
func (a *Analyzer) Summaries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.SummaryCalls...)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
