package resilience

import (
	"context"
	"fmt"

	"github.com/MrWong99/callpilot/pkg/provider/stt"
	"github.com/MrWong99/callpilot/pkg/types"
)

// STTFallback transcribes utterances on the first healthy backend of a
// primary-plus-fallbacks chain. The backend that produced the transcript is
// recorded on the caller's span as "stt.provider".
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback starts the chain with primary, labelled primaryName.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	g := NewFallbackGroup(primary, primaryName, cfg)
	g.OnAnswer(annotateAnswer("stt"))
	return &STTFallback{group: g}
}

// AddFallback appends a backend tried after every earlier one failed or was
// circuit-open.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state of every backend.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// Transcribe returns the transcript of one utterance. An utterance with no
// samples is [types.ErrEmpty] without any backend being asked. An empty
// transcript is a valid answer and does not trigger failover.
func (f *STTFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if len(samples) == 0 {
		return "", fmt.Errorf("stt: %w", types.ErrEmpty)
	}
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, samples, sampleRate)
	})
}
