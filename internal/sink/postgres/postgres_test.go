package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callpilot/internal/sink/postgres"
	"github.com/MrWong99/callpilot/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if CALLPILOT_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("CALLPILOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CALLPILOT_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestSink creates a fresh sink on a clean schema.
func newTestSink(t *testing.T) *postgres.Sink {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS call_records CASCADE",
		"DROP TABLE IF EXISTS call_summaries CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema: %v", err)
		}
	}
	pool.Close()

	s, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_InvalidDSN(t *testing.T) {
	if _, err := postgres.New(context.Background(), "not a dsn ://"); err == nil {
		t.Fatal("expected error for invalid DSN")
	}
}

func TestAppend_RoundTrip(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 123456000, time.UTC)
	want := []types.AnalysisRecord{
		{CallID: "c1", Seq: 1, Timestamp: ts, Transcript: "Hi, I'd like a quote.", Sentiment: types.SentimentPositive,
			Intent: "pricing", Summary: "Wants a quote.", Suggestion: "Ask about team size."},
		{CallID: "c1", Seq: 2, Timestamp: ts.Add(time.Second), Transcript: "That's too expensive.", Sentiment: types.SentimentNegative,
			Intent: "objection", Summary: "Price concern.", Suggestion: "Offer annual discount."},
	}
	for _, rec := range want {
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Records(ctx, "c1")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("Records = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("[%d] Timestamp = %v, want %v", i, got[i].Timestamp, want[i].Timestamp)
		}
		got[i].Timestamp = want[i].Timestamp
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAppendSummary_Upsert(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := types.SummaryRecord{
		CallID:     "c2",
		StartedAt:  start,
		EndedAt:    start.Add(5 * time.Minute),
		Utterances: 3,
		Transcript: "a\nb\nc",
		Summary: types.CallSummary{
			Sentiment: types.SentimentPositive, Summary: "Deal likely.", CustomerIntent: "buy",
			KeyTopics: []string{"pricing"}, Objections: []string{}, Resolutions: []string{},
			NextSteps: []string{"send contract"}, WinRisk: types.WinRiskLow, CallScore: 9,
		},
	}
	if err := s.AppendSummary(ctx, rec); err != nil {
		t.Fatalf("AppendSummary: %v", err)
	}
	rec.Utterances = 4
	if err := s.AppendSummary(ctx, rec); err != nil {
		t.Fatalf("AppendSummary (upsert): %v", err)
	}

	got, err := s.Summary(ctx, "c2")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if got.Utterances != 4 {
		t.Errorf("Utterances = %d, want 4 after upsert", got.Utterances)
	}
	if got.Summary.CallScore != 9 || got.Summary.NextSteps[0] != "send contract" {
		t.Errorf("Summary = %+v", got.Summary)
	}

	if _, err := s.Summary(ctx, "missing"); !errors.Is(err, pgx.ErrNoRows) {
		t.Errorf("missing summary err = %v, want pgx.ErrNoRows", err)
	}
}
