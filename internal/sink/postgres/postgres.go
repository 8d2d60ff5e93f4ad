// Package postgres provides a PostgreSQL-backed record sink.
//
// Analysis records land in call_records (one row per utterance) and final
// call summaries in call_summaries, with the structured CRM note stored as
// JSONB so dashboards can query topics, objections and next steps directly.
//
// Usage:
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/callpilot/internal/sink"
	"github.com/MrWong99/callpilot/pkg/types"
)

var (
	_ sink.RecordSink  = (*Sink)(nil)
	_ sink.SummarySink = (*Sink)(nil)
)

const ddlCallRecords = `
CREATE TABLE IF NOT EXISTS call_records (
    id          BIGSERIAL    PRIMARY KEY,
    call_id     TEXT         NOT NULL,
    seq         INTEGER      NOT NULL DEFAULT 0,
    timestamp   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    transcript  TEXT         NOT NULL,
    sentiment   TEXT         NOT NULL,
    intent      TEXT         NOT NULL DEFAULT '',
    summary     TEXT         NOT NULL DEFAULT '',
    suggestion  TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_call_records_call_id
    ON call_records (call_id, seq);

CREATE INDEX IF NOT EXISTS idx_call_records_timestamp
    ON call_records (timestamp);
`

const ddlCallSummaries = `
CREATE TABLE IF NOT EXISTS call_summaries (
    call_id     TEXT         PRIMARY KEY,
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL,
    utterances  INTEGER      NOT NULL DEFAULT 0,
    transcript  TEXT         NOT NULL DEFAULT '',
    no_data     BOOLEAN      NOT NULL DEFAULT false,
    degraded    BOOLEAN      NOT NULL DEFAULT false,
    sentiment   TEXT         NOT NULL,
    win_risk    TEXT         NOT NULL,
    call_score  INTEGER      NOT NULL,
    summary     JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_call_summaries_ended_at
    ON call_summaries (ended_at);
`

// Migrate creates the sink tables if they do not exist. It is idempotent and
// safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCallRecords, ddlCallSummaries} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

// Sink implements [sink.RecordSink] and [sink.SummarySink] on a pgx pool.
// All methods are safe for concurrent use.
type Sink struct {
	pool      *pgxpool.Pool
	closeOnce sync.Once
}

// New connects to dsn, verifies the connection and runs [Migrate].
func New(ctx context.Context, dsn string) (*Sink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: %w", err)
	}
	return &Sink{pool: pool}, nil
}

// Name implements [sink.RecordSink].
func (s *Sink) Name() string { return "postgres" }

// Ping reports whether the database is reachable. Used by the readiness probe.
func (s *Sink) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Append implements [sink.RecordSink].
func (s *Sink) Append(ctx context.Context, rec types.AnalysisRecord) error {
	const q = `
		INSERT INTO call_records
		    (call_id, seq, timestamp, transcript, sentiment, intent, summary, suggestion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		rec.CallID,
		rec.Seq,
		rec.Timestamp,
		rec.Transcript,
		string(rec.Sentiment),
		rec.Intent,
		rec.Summary,
		rec.Suggestion,
	)
	if err != nil {
		return fmt.Errorf("postgres sink: append record: %w", err)
	}
	return nil
}

// AppendSummary implements [sink.SummarySink]. A second summary for the same
// call replaces the first.
func (s *Sink) AppendSummary(ctx context.Context, rec types.SummaryRecord) error {
	note, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("postgres sink: marshal summary: %w", err)
	}
	const q = `
		INSERT INTO call_summaries
		    (call_id, started_at, ended_at, utterances, transcript, no_data, degraded,
		     sentiment, win_risk, call_score, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (call_id) DO UPDATE SET
		    ended_at   = EXCLUDED.ended_at,
		    utterances = EXCLUDED.utterances,
		    transcript = EXCLUDED.transcript,
		    no_data    = EXCLUDED.no_data,
		    degraded   = EXCLUDED.degraded,
		    sentiment  = EXCLUDED.sentiment,
		    win_risk   = EXCLUDED.win_risk,
		    call_score = EXCLUDED.call_score,
		    summary    = EXCLUDED.summary`

	_, err = s.pool.Exec(ctx, q,
		rec.CallID,
		rec.StartedAt,
		rec.EndedAt,
		rec.Utterances,
		rec.Transcript,
		rec.NoData,
		rec.Degraded,
		string(rec.Summary.Sentiment),
		string(rec.Summary.WinRisk),
		rec.Summary.CallScore,
		note,
	)
	if err != nil {
		return fmt.Errorf("postgres sink: append summary: %w", err)
	}
	return nil
}

// Records returns all records of callID ordered by sequence number.
func (s *Sink) Records(ctx context.Context, callID string) ([]types.AnalysisRecord, error) {
	const q = `
		SELECT call_id, seq, timestamp, transcript, sentiment, intent, summary, suggestion
		FROM   call_records
		WHERE  call_id = $1
		ORDER  BY seq, id`

	rows, err := s.pool.Query(ctx, q, callID)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: records: %w", err)
	}
	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.AnalysisRecord, error) {
		var (
			r         types.AnalysisRecord
			sentiment string
		)
		err := row.Scan(&r.CallID, &r.Seq, &r.Timestamp, &r.Transcript, &sentiment, &r.Intent, &r.Summary, &r.Suggestion)
		r.Sentiment = types.Sentiment(sentiment)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres sink: scan records: %w", err)
	}
	return recs, nil
}

// Summary returns the stored summary of callID, or pgx.ErrNoRows.
func (s *Sink) Summary(ctx context.Context, callID string) (types.SummaryRecord, error) {
	const q = `
		SELECT call_id, started_at, ended_at, utterances, transcript, no_data, degraded, summary
		FROM   call_summaries
		WHERE  call_id = $1`

	var (
		rec  types.SummaryRecord
		note []byte
	)
	err := s.pool.QueryRow(ctx, q, callID).Scan(
		&rec.CallID, &rec.StartedAt, &rec.EndedAt, &rec.Utterances,
		&rec.Transcript, &rec.NoData, &rec.Degraded, &note,
	)
	if err != nil {
		return types.SummaryRecord{}, fmt.Errorf("postgres sink: summary: %w", err)
	}
	if err := json.Unmarshal(note, &rec.Summary); err != nil {
		return types.SummaryRecord{}, fmt.Errorf("postgres sink: decode summary: %w", err)
	}
	return rec, nil
}

// Close implements [sink.RecordSink].
func (s *Sink) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}
