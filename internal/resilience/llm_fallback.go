package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/callpilot/pkg/provider/llm"
)

// errNoMessages is returned without contacting any backend.
var errNoMessages = errors.New("llm: completion request has no messages")

// LLMFallback runs analysis completions on the first healthy model of a
// primary-plus-fallbacks chain. The model that answered is recorded on the
// caller's span as "llm.provider", so utterance and summary traces show
// which backend produced each analysis.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback starts the chain with primary, labelled primaryName.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	g := NewFallbackGroup(primary, primaryName, cfg)
	g.OnAnswer(annotateAnswer("llm"))
	return &LLMFallback{group: g}
}

// AddFallback appends a model tried after every earlier one failed or was
// circuit-open.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// States reports the breaker state of every model.
func (f *LLMFallback) States() map[string]State { return f.group.States() }

// Complete sends req to the chain. Every fallback receives the same request,
// JSON mode and token limit included.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errNoMessages
	}
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
