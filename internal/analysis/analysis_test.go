package analysis_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/callpilot/internal/analysis"
	"github.com/MrWong99/callpilot/pkg/provider/llm"
	llmmock "github.com/MrWong99/callpilot/pkg/provider/llm/mock"
	"github.com/MrWong99/callpilot/pkg/types"
)

func TestAnalyze_ParsesReply(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content: `{"sentiment":"Positive","intent":"pricing","summary":"Wants a quote.","suggestion":"Offer the annual plan."}`,
	}}
	a := analysis.NewLLMAnalyzer(p)

	got, err := a.Analyze(context.Background(), "  How much is the annual plan? ")
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	want := types.UtteranceAnalysis{
		Sentiment:  types.SentimentPositive,
		Intent:     "pricing",
		Summary:    "Wants a quote.",
		Suggestion: "Offer the annual plan.",
	}
	if got != want {
		t.Errorf("Analyze = %+v, want %+v", got, want)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "You are an AI sales assistant providing actionable advice." {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", req.Temperature)
	}
	if !req.JSONMode {
		t.Error("JSONMode = false, want true")
	}
	if !strings.Contains(req.Messages[0].Content, `"How much is the annual plan?"`) {
		t.Errorf("prompt does not quote the trimmed utterance: %q", req.Messages[0].Content)
	}
}

func TestAnalyze_EmptyTranscript(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{}
	a := analysis.NewLLMAnalyzer(p)

	_, err := a.Analyze(context.Background(), "   ")
	if !errors.Is(err, analysis.ErrEmptyTranscript) || !errors.Is(err, types.ErrEmpty) {
		t.Fatalf("err = %v, want ErrEmptyTranscript", err)
	}
	if p.CallCount() != 0 {
		t.Errorf("provider called %d times for blank input", p.CallCount())
	}
}

func TestAnalyze_ProviderError(t *testing.T) {
	t.Parallel()
	boom := errors.New("connection refused")
	a := analysis.NewLLMAnalyzer(&llmmock.Provider{CompleteErr: boom})

	_, err := a.Analyze(context.Background(), "hello")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

func TestAnalyze_MalformedReply(t *testing.T) {
	t.Parallel()
	a := analysis.NewLLMAnalyzer(&llmmock.Provider{Responses: []string{"I think the customer is happy."}})

	_, err := a.Analyze(context.Background(), "hello")
	if !errors.Is(err, analysis.ErrMalformedResponse) || !errors.Is(err, types.ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestAnalyze_NilResponse(t *testing.T) {
	t.Parallel()
	a := analysis.NewLLMAnalyzer(&llmmock.Provider{})
	if _, err := a.Analyze(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for nil provider response")
	}
}

func TestParseUtteranceAnalysis(t *testing.T) {
	t.Parallel()
	def := analysis.DefaultUtteranceAnalysis()

	tests := []struct {
		name string
		raw  string
		want types.UtteranceAnalysis
	}{
		{
			name: "code fence",
			raw:  "```json\n{\"sentiment\":\"negative\",\"intent\":\"cancel\",\"summary\":\"s\",\"suggestion\":\"x\"}\n```",
			want: types.UtteranceAnalysis{Sentiment: types.SentimentNegative, Intent: "cancel", Summary: "s", Suggestion: "x"},
		},
		{
			name: "prose around object",
			raw:  "Here you go: {\"sentiment\":\"neutral\",\"intent\":\"info\",\"summary\":\"s\",\"suggestion\":\"x\"} Hope that helps.",
			want: types.UtteranceAnalysis{Sentiment: types.SentimentNeutral, Intent: "info", Summary: "s", Suggestion: "x"},
		},
		{
			name: "missing fields take defaults",
			raw:  `{"intent":"demo"}`,
			want: types.UtteranceAnalysis{Sentiment: def.Sentiment, Intent: "demo", Summary: def.Summary, Suggestion: def.Suggestion},
		},
		{
			name: "unknown sentiment normalised",
			raw:  `{"sentiment":"ecstatic","intent":"a","summary":"b","suggestion":"c"}`,
			want: types.UtteranceAnalysis{Sentiment: types.SentimentNeutral, Intent: "a", Summary: "b", Suggestion: "c"},
		},
		{
			name: "blank strings take defaults",
			raw:  `{"sentiment":"positive","intent":"  ","summary":"","suggestion":null}`,
			want: types.UtteranceAnalysis{Sentiment: types.SentimentPositive, Intent: def.Intent, Summary: def.Summary, Suggestion: def.Suggestion},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := analysis.ParseUtteranceAnalysis(tc.raw)
			if err != nil {
				t.Fatalf("ParseUtteranceAnalysis: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestParseUtteranceAnalysis_Malformed(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "no json here", "{broken", "[1,2,3]", "``` {\"a\": } ```"} {
		if _, err := analysis.ParseUtteranceAnalysis(raw); !errors.Is(err, analysis.ErrMalformedResponse) {
			t.Errorf("ParseUtteranceAnalysis(%q) err = %v, want ErrMalformedResponse", raw, err)
		}
	}
}

func TestSummarizeCall_ParsesReply(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{Responses: []string{"```\n" + `{
		"sentiment": "positive",
		"summary": "Customer wants 20 seats.",
		"customer_intent": "buy team plan",
		"key_topics": ["pricing", "seats"],
		"objections": ["too expensive"],
		"resolutions": ["offered discount"],
		"next_steps": ["send quote by Friday"],
		"recommended_follow_up": "Email the quote",
		"win_risk": "LOW",
		"call_score": 9
	}` + "\n```"}}
	a := analysis.NewLLMAnalyzer(p, analysis.WithMaxTokens(600))

	got, err := a.SummarizeCall(context.Background(), "I want twenty seats.\nIs there a discount?")
	if err != nil {
		t.Fatalf("SummarizeCall: %v", err)
	}
	if got.Sentiment != types.SentimentPositive || got.WinRisk != types.WinRiskLow || got.CallScore != 9 {
		t.Errorf("unexpected scalar fields: %+v", got)
	}
	if len(got.KeyTopics) != 2 || got.NextSteps[0] != "send quote by Friday" {
		t.Errorf("unexpected list fields: %+v", got)
	}

	req := p.Calls()[0].Req
	if req.Temperature != 0.4 {
		t.Errorf("Temperature = %v, want 0.4", req.Temperature)
	}
	if req.MaxTokens != 600 {
		t.Errorf("MaxTokens = %d, want 600", req.MaxTokens)
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "---BEGIN TRANSCRIPT---\nI want twenty seats.\nIs there a discount?\n---END TRANSCRIPT---") {
		t.Errorf("prompt does not embed the transcript between markers:\n%s", prompt)
	}
}

func TestParseCallSummary_Defaults(t *testing.T) {
	t.Parallel()
	got, err := analysis.ParseCallSummary(`{"summary":"Short call.","call_score":"42","win_risk":"unsure","key_topics":"pricing"}`)
	if err != nil {
		t.Fatalf("ParseCallSummary: %v", err)
	}
	if got.Summary != "Short call." {
		t.Errorf("Summary = %q", got.Summary)
	}
	if got.Sentiment != types.SentimentNeutral || got.CustomerIntent != "unknown" {
		t.Errorf("defaults not applied: %+v", got)
	}
	if got.CallScore != 10 {
		t.Errorf("CallScore = %d, want clamped 10", got.CallScore)
	}
	if got.WinRisk != types.WinRiskMedium {
		t.Errorf("WinRisk = %q, want medium", got.WinRisk)
	}
	if len(got.KeyTopics) != 1 || got.KeyTopics[0] != "pricing" {
		t.Errorf("KeyTopics = %v, want [pricing]", got.KeyTopics)
	}
	if got.Objections == nil || len(got.Objections) != 0 {
		t.Errorf("Objections = %#v, want empty non-nil", got.Objections)
	}
}

func TestSummarizeCall_Errors(t *testing.T) {
	t.Parallel()
	a := analysis.NewLLMAnalyzer(&llmmock.Provider{Responses: []string{"not json"}})
	if _, err := a.SummarizeCall(context.Background(), "hello"); !errors.Is(err, analysis.ErrMalformedResponse) {
		t.Errorf("malformed: err = %v", err)
	}
	if _, err := a.SummarizeCall(context.Background(), ""); !errors.Is(err, analysis.ErrEmptyTranscript) {
		t.Errorf("empty: err = %v", err)
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	u := analysis.DefaultUtteranceAnalysis()
	if u.Sentiment != types.SentimentNeutral || u.Intent != "unknown" ||
		u.Summary != "No summary provided" || u.Suggestion != "Listen carefully and respond appropriately." {
		t.Errorf("DefaultUtteranceAnalysis = %+v", u)
	}
	s := analysis.DefaultCallSummary()
	if s.Summary != "No summary available" || s.WinRisk != types.WinRiskMedium || s.CallScore != 7 {
		t.Errorf("DefaultCallSummary = %+v", s)
	}
	if s.KeyTopics == nil || s.NextSteps == nil {
		t.Error("DefaultCallSummary lists must be non-nil")
	}
}

func TestParseCallSummary_ScoreOutOfRange(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want int
	}{
		{raw: `1e300`, want: 10},
		{raw: `-1e300`, want: 1},
		{raw: `"Inf"`, want: 10},
		{raw: `"-Inf"`, want: 1},
		{raw: `6.5`, want: 7},
		{raw: `0`, want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := analysis.ParseCallSummary(`{"summary":"ok","call_score":` + tt.raw + `}`)
			if err != nil {
				t.Fatalf("ParseCallSummary: %v", err)
			}
			if got.CallScore != tt.want {
				t.Errorf("CallScore = %d, want %d", got.CallScore, tt.want)
			}
		})
	}
}
