// Package types defines the shared types used across all callpilot packages.
//
// These types are the lingua franca between the segmentation pipeline, the
// provider adapters, the record sinks, and the control plane. Each package
// keeps its own domain types; cross-cutting data structures live here to
// avoid circular imports.
package types

import (
	"strings"
	"time"
)

// Sentiment is the customer sentiment attached to an utterance or a call.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// IsValid reports whether s is one of the three recognised sentiments.
func (s Sentiment) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// ParseSentiment normalises free-form model output ("Positive", " NEGATIVE ")
// to a [Sentiment]. Anything unrecognised maps to [SentimentNeutral].
func ParseSentiment(s string) Sentiment {
	v := Sentiment(strings.ToLower(strings.TrimSpace(s)))
	if v.IsValid() {
		return v
	}
	return SentimentNeutral
}

// UtteranceAnalysis is the structured output of per-utterance analysis.
type UtteranceAnalysis struct {
	Sentiment  Sentiment `json:"sentiment"`
	Intent     string    `json:"intent"`
	Summary    string    `json:"summary"`
	Suggestion string    `json:"suggestion"`
}

// AnalysisRecord is one analysed utterance as persisted by a record sink.
// Records are never mutated after creation.
type AnalysisRecord struct {
	// CallID identifies the call the utterance belongs to.
	CallID string `json:"call_id,omitempty"`

	// Seq is the utterance sequence number within the call, starting at 1.
	Seq int `json:"seq,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	Transcript string    `json:"transcript"`
	Sentiment  Sentiment `json:"sentiment"`
	Intent     string    `json:"intent"`
	Summary    string    `json:"summary"`
	Suggestion string    `json:"suggestion"`
}

// NewAnalysisRecord combines a transcript with its analysis.
func NewAnalysisRecord(callID string, seq int, ts time.Time, transcript string, a UtteranceAnalysis) AnalysisRecord {
	return AnalysisRecord{
		CallID:     callID,
		Seq:        seq,
		Timestamp:  ts,
		Transcript: transcript,
		Sentiment:  a.Sentiment,
		Intent:     a.Intent,
		Summary:    a.Summary,
		Suggestion: a.Suggestion,
	}
}

// WinRisk is the estimated risk of losing the deal.
type WinRisk string

const (
	WinRiskLow    WinRisk = "low"
	WinRiskMedium WinRisk = "medium"
	WinRiskHigh   WinRisk = "high"
)

// CallSummary is the call-level synthesis produced at the end of a call.
type CallSummary struct {
	Sentiment           Sentiment `json:"sentiment"`
	Summary             string    `json:"summary"`
	CustomerIntent      string    `json:"customer_intent"`
	KeyTopics           []string  `json:"key_topics"`
	Objections          []string  `json:"objections"`
	Resolutions         []string  `json:"resolutions"`
	NextSteps           []string  `json:"next_steps"`
	RecommendedFollowUp string    `json:"recommended_follow_up"`
	WinRisk             WinRisk   `json:"win_risk"`
	CallScore           int       `json:"call_score"`
}

// SummaryRecord is the final per-call record. NoData is set when the call
// ended without a single transcribed utterance; Summary then holds defaults.
type SummaryRecord struct {
	CallID     string      `json:"call_id"`
	StartedAt  time.Time   `json:"started_at"`
	EndedAt    time.Time   `json:"ended_at"`
	Utterances int         `json:"utterances"`
	Transcript string      `json:"transcript"`
	NoData     bool        `json:"no_data"`
	Degraded   bool        `json:"degraded,omitempty"`
	Summary    CallSummary `json:"summary"`
}
