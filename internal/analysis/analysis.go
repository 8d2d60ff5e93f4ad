// Package analysis turns transcripts into sales-coaching insights using an
// LLM provider.
//
// [LLMAnalyzer] issues two kinds of request: [LLMAnalyzer.Analyze] runs once
// per utterance and returns sentiment, intent, a short summary and a
// suggestion for the salesperson; [LLMAnalyzer.SummarizeCall] runs once when
// the call ends and produces a CRM note for the whole transcript.
//
// Model replies are parsed leniently: surrounding prose and markdown code
// fences are stripped, and missing or blank fields fall back to the values
// of [DefaultUtteranceAnalysis] and [DefaultCallSummary] individually. A reply
// without any JSON object yields [ErrMalformedResponse].
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/callpilot/pkg/provider/llm"
	"github.com/MrWong99/callpilot/pkg/types"
)

var (
	// ErrMalformedResponse is returned when the model reply contains no
	// decodable JSON object. It wraps [types.ErrMalformed].
	ErrMalformedResponse = fmt.Errorf("analysis: %w", types.ErrMalformed)

	// ErrEmptyTranscript is returned for blank input. It wraps [types.ErrEmpty].
	ErrEmptyTranscript = fmt.Errorf("analysis: transcript: %w", types.ErrEmpty)
)

// Analyzer produces per-utterance and per-call insights.
//
// Implementations must be safe for concurrent use.
type Analyzer interface {
	// Analyze classifies a single customer utterance.
	Analyze(ctx context.Context, transcript string) (types.UtteranceAnalysis, error)

	// SummarizeCall condenses the full call transcript into a CRM note.
	SummarizeCall(ctx context.Context, transcript string) (types.CallSummary, error)
}

const (
	utteranceSystemPrompt = "You are an AI sales assistant providing actionable advice."
	summarySystemPrompt   = "You summarize sales calls into structured, actionable CRM notes."

	// utterancePrompt takes the customer utterance as its only verb.
	utterancePrompt = `You are an AI sales assistant. A customer just said: %q

Perform the following tasks:
1. Detect sentiment (positive, neutral, negative)
2. Detect the main intent of the customer
3. Summarize in 1-2 sentences what the customer wants
4. Suggest a practical, real-time action the salesperson should say next to the customer

Respond ONLY in this JSON format:
{
    "sentiment": "<positive/neutral/negative>",
    "intent": "<main intent>",
    "summary": "<1-2 sentence summary of customer need>",
    "suggestion": "<short, clear action for salesperson>"
}`

	// summaryPrompt takes the full transcript as its only verb.
	summaryPrompt = `You are an expert sales call summarizer. Analyze the FULL call transcript below (customer and salesperson) and produce a concise, executive-ready summary for a CRM note.

Important rules:
- Focus on the CUSTOMER's needs, intents, objections, and decisions.
- Do NOT invent details not present in the transcript.
- Keep each field short and skimmable.

Transcript:
---BEGIN TRANSCRIPT---
%s
---END TRANSCRIPT---

Respond ONLY in this EXACT JSON object with these keys:
{
  "sentiment": "positive|neutral|negative",
  "summary": "2-3 sentences on customer need and outcome",
  "customer_intent": "short phrase of what customer wants",
  "key_topics": ["topic1", "topic2", "topic3"],
  "objections": ["if any, else empty"],
  "resolutions": ["how objections were handled, else empty"],
  "next_steps": ["clear next actions with owner/time if present"],
  "recommended_follow_up": "what salesperson should do next",
  "win_risk": "low|medium|high",
  "call_score": 1-10
}`

	defaultUtteranceTemperature = 0.7
	defaultSummaryTemperature   = 0.4
)

// DefaultUtteranceAnalysis is substituted when an utterance cannot be
// analysed and the controller's policy asks for a record anyway.
func DefaultUtteranceAnalysis() types.UtteranceAnalysis {
	return types.UtteranceAnalysis{
		Sentiment:  types.SentimentNeutral,
		Intent:     "unknown",
		Summary:    "No summary provided",
		Suggestion: "Listen carefully and respond appropriately.",
	}
}

// DefaultCallSummary is substituted when the call summary request fails.
func DefaultCallSummary() types.CallSummary {
	s := fieldDefaults()
	s.Summary = "No summary available"
	return s
}

// fieldDefaults fills individual missing fields of a parsed call summary.
func fieldDefaults() types.CallSummary {
	return types.CallSummary{
		Sentiment:           types.SentimentNeutral,
		Summary:             "No summary provided",
		CustomerIntent:      "unknown",
		KeyTopics:           []string{},
		Objections:          []string{},
		Resolutions:         []string{},
		NextSteps:           []string{},
		RecommendedFollowUp: "",
		WinRisk:             types.WinRiskMedium,
		CallScore:           7,
	}
}

// Option configures an [LLMAnalyzer].
type Option func(*LLMAnalyzer)

// WithUtteranceTemperature overrides the per-utterance sampling temperature
// (default 0.7).
func WithUtteranceTemperature(t float64) Option {
	return func(a *LLMAnalyzer) { a.utteranceTemp = t }
}

// WithSummaryTemperature overrides the call summary sampling temperature
// (default 0.4).
func WithSummaryTemperature(t float64) Option {
	return func(a *LLMAnalyzer) { a.summaryTemp = t }
}

// WithMaxTokens caps completion length for both request kinds. Zero keeps the
// provider default.
func WithMaxTokens(n int) Option {
	return func(a *LLMAnalyzer) { a.maxTokens = n }
}

// WithJSONMode toggles the provider's native JSON response mode (default on).
func WithJSONMode(on bool) Option {
	return func(a *LLMAnalyzer) { a.jsonMode = on }
}

// LLMAnalyzer implements [Analyzer] on top of an [llm.Provider].
type LLMAnalyzer struct {
	llm           llm.Provider
	utteranceTemp float64
	summaryTemp   float64
	maxTokens     int
	jsonMode      bool
}

var _ Analyzer = (*LLMAnalyzer)(nil)

// NewLLMAnalyzer creates an analyzer backed by provider.
func NewLLMAnalyzer(provider llm.Provider, opts ...Option) *LLMAnalyzer {
	a := &LLMAnalyzer{
		llm:           provider,
		utteranceTemp: defaultUtteranceTemperature,
		summaryTemp:   defaultSummaryTemperature,
		jsonMode:      true,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze implements [Analyzer].
func (a *LLMAnalyzer) Analyze(ctx context.Context, transcript string) (types.UtteranceAnalysis, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return types.UtteranceAnalysis{}, ErrEmptyTranscript
	}

	content, err := a.complete(ctx, utteranceSystemPrompt, fmt.Sprintf(utterancePrompt, transcript), a.utteranceTemp)
	if err != nil {
		return types.UtteranceAnalysis{}, fmt.Errorf("analysis: analyze utterance: %w", err)
	}
	return ParseUtteranceAnalysis(content)
}

// SummarizeCall implements [Analyzer].
func (a *LLMAnalyzer) SummarizeCall(ctx context.Context, transcript string) (types.CallSummary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return types.CallSummary{}, ErrEmptyTranscript
	}

	content, err := a.complete(ctx, summarySystemPrompt, fmt.Sprintf(summaryPrompt, transcript), a.summaryTemp)
	if err != nil {
		return types.CallSummary{}, fmt.Errorf("analysis: summarize call: %w", err)
	}
	return ParseCallSummary(content)
}

func (a *LLMAnalyzer) complete(ctx context.Context, system, prompt string, temperature float64) (string, error) {
	resp, err := a.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature:  temperature,
		MaxTokens:    a.maxTokens,
		JSONMode:     a.jsonMode,
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", errors.New("provider returned no response")
	}
	return resp.Content, nil
}
