// Package mock provides a test double for the stt.Provider interface.
//
// Set Text (or Texts for per-call answers) and Err before use; inspect Calls
// afterwards. An optional Delay simulates slow inference and honours ctx.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callpilot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Samples    int
	SampleRate int
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by every call unless Texts has an entry for it.
	Text string

	// Texts, if non-empty, supplies the result of the n-th call (0-based).
	// Calls beyond its length fall back to Text.
	Texts []string

	// Err is returned by every call when non-nil.
	Err error

	// Errs, if non-empty, supplies a per-call error (nil entries succeed).
	Errs []error

	// Delay is slept before answering; ctx cancellation aborts it.
	Delay time.Duration

	// Calls records every invocation.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured answer.
func (p *Provider) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	p.mu.Lock()
	n := len(p.Calls)
	p.Calls = append(p.Calls, TranscribeCall{Samples: len(samples), SampleRate: sampleRate})
	delay := p.Delay
	text, err := p.Text, p.Err
	if n < len(p.Texts) {
		text = p.Texts[n]
	}
	if n < len(p.Errs) && p.Errs[n] != nil {
		err = p.Errs[n]
	}
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
