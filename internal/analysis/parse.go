package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/callpilot/pkg/types"
)

// extractJSON returns the JSON object contained in a model reply. Pure JSON
// is returned as-is; otherwise code fences are stripped and the outermost
// {...} span is taken.
func extractJSON(raw string) ([]byte, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, false
	}
	if json.Valid([]byte(s)) && strings.HasPrefix(s, "{") {
		return []byte(s), true
	}
	s = strings.Trim(s, "`")
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := []byte(s[start : end+1])
	if !json.Valid(candidate) {
		return nil, false
	}
	return candidate, true
}

// ParseUtteranceAnalysis decodes a per-utterance model reply. Missing or
// blank fields take their [DefaultUtteranceAnalysis] value.
func ParseUtteranceAnalysis(raw string) (types.UtteranceAnalysis, error) {
	data, ok := extractJSON(raw)
	if !ok {
		return types.UtteranceAnalysis{}, ErrMalformedResponse
	}
	var reply map[string]any
	if err := json.Unmarshal(data, &reply); err != nil {
		return types.UtteranceAnalysis{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	def := DefaultUtteranceAnalysis()
	out := types.UtteranceAnalysis{
		Sentiment:  def.Sentiment,
		Intent:     stringField(reply, "intent", def.Intent),
		Summary:    stringField(reply, "summary", def.Summary),
		Suggestion: stringField(reply, "suggestion", def.Suggestion),
	}
	if s, ok := reply["sentiment"].(string); ok {
		out.Sentiment = types.ParseSentiment(s)
	}
	return out, nil
}

// ParseCallSummary decodes a call summary reply. Missing fields are filled
// individually; a call_score outside 1..10 is clamped.
func ParseCallSummary(raw string) (types.CallSummary, error) {
	data, ok := extractJSON(raw)
	if !ok {
		return types.CallSummary{}, ErrMalformedResponse
	}
	var reply map[string]any
	if err := json.Unmarshal(data, &reply); err != nil {
		return types.CallSummary{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	def := fieldDefaults()
	out := types.CallSummary{
		Sentiment:           def.Sentiment,
		Summary:             stringField(reply, "summary", def.Summary),
		CustomerIntent:      stringField(reply, "customer_intent", def.CustomerIntent),
		KeyTopics:           listField(reply, "key_topics"),
		Objections:          listField(reply, "objections"),
		Resolutions:         listField(reply, "resolutions"),
		NextSteps:           listField(reply, "next_steps"),
		RecommendedFollowUp: stringField(reply, "recommended_follow_up", def.RecommendedFollowUp),
		WinRisk:             def.WinRisk,
		CallScore:           scoreField(reply, "call_score", def.CallScore),
	}
	if s, ok := reply["sentiment"].(string); ok {
		out.Sentiment = types.ParseSentiment(s)
	}
	if s, ok := reply["win_risk"].(string); ok {
		switch r := types.WinRisk(strings.ToLower(strings.TrimSpace(s))); r {
		case types.WinRiskLow, types.WinRiskMedium, types.WinRiskHigh:
			out.WinRisk = r
		}
	}
	return out, nil
}

func stringField(m map[string]any, key, def string) string {
	switch v := m[key].(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	case float64, bool:
		return fmt.Sprint(v)
	}
	return def
}

// listField accepts a JSON array of strings or a single string. Blank entries
// are dropped; the result is never nil.
func listField(m map[string]any, key string) []string {
	out := []string{}
	add := func(v any) {
		if s, ok := v.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	switch v := m[key].(type) {
	case []any:
		for _, item := range v {
			add(item)
		}
	case string:
		add(v)
	}
	return out
}

func scoreField(m map[string]any, key string, def int) int {
	var f float64
	switch v := m[key].(type) {
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return def
		}
		f = parsed
	default:
		return def
	}
	if math.IsNaN(f) {
		return def
	}
	// Clamp before converting: int() of an out-of-range float is undefined.
	return int(math.Max(1, math.Min(10, math.Round(f))))
}
