package app_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/callpilot/internal/analysis"
	analysismock "github.com/MrWong99/callpilot/internal/analysis/mock"
	"github.com/MrWong99/callpilot/internal/app"
	"github.com/MrWong99/callpilot/internal/config"
	"github.com/MrWong99/callpilot/internal/status"
	"github.com/MrWong99/callpilot/pkg/audio"
	audiomock "github.com/MrWong99/callpilot/pkg/audio/mock"
	sttmock "github.com/MrWong99/callpilot/pkg/provider/stt/mock"
	"github.com/MrWong99/callpilot/pkg/segment"
	"github.com/MrWong99/callpilot/pkg/types"
)

// frameSize is 50 ms at 16 kHz, so 1.2 s of target silence is 24 frames.
const frameSize = 800

// memSink collects records and summaries in memory.
type memSink struct {
	mu        sync.Mutex
	records   []types.AnalysisRecord
	summaries []types.SummaryRecord
	err       error
	closed    int
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Append(_ context.Context, rec types.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *memSink) AppendSummary(_ context.Context, rec types.SummaryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, rec)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *memSink) Records() []types.AnalysisRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.AnalysisRecord(nil), s.records...)
}

func (s *memSink) Summaries() []types.SummaryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.SummaryRecord(nil), s.summaries...)
}

type fixture struct {
	ctl         *app.Controller
	sink        *memSink
	stt         *sttmock.Provider
	analyzer    *analysismock.Analyzer
	statusPath  string
	summaryPath string
	flagPath    string
}

// newFixture builds a controller over src with the fixed-threshold detector
// and mock providers. mutate may adjust the config before construction.
func newFixture(t *testing.T, src *audiomock.Source, mutate func(*app.ControllerConfig)) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		sink: &memSink{},
		stt:  &sttmock.Provider{Text: "  hello   there "},
		analyzer: &analysismock.Analyzer{
			Result: types.UtteranceAnalysis{
				Sentiment:  types.SentimentPositive,
				Intent:     "pricing",
				Summary:    "Customer asks about price.",
				Suggestion: "Offer the annual plan.",
			},
			Summary: types.CallSummary{Sentiment: types.SentimentPositive, Summary: "Good call.", WinRisk: "low", CallScore: 9},
		},
		statusPath:  filepath.Join(dir, "status.json"),
		summaryPath: filepath.Join(dir, "summary.json"),
		flagPath:    filepath.Join(dir, "stop.flag"),
	}
	cfg := app.ControllerConfig{
		Sources: audiomock.Factory(src),
		Detector: segment.DetectorConfig{
			Mode:           segment.ModeFixed,
			FloorThreshold: 0.01,
			FrameDuration:  50 * time.Millisecond,
			TargetSilence:  1200 * time.Millisecond,
		},
		STT:          f.stt,
		STTName:      "mock-stt",
		Analyzer:     f.analyzer,
		AnalyzerName: "mock-llm",
		Sink:         f.sink,
		Status:       status.NewWriter(f.statusPath),
		SummaryPath:  f.summaryPath,
		StopFlag:     status.NewStopFlag(f.flagPath, nil),
		GracePeriod:  200 * time.Millisecond,
		STTTimeout:   time.Second,
		LLMTimeout:   time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.ctl = app.NewController(cfg)
	return f
}

// waitDone waits for the current call to be finalised.
func waitDone(t *testing.T, ctl *app.Controller) {
	t.Helper()
	select {
	case <-ctl.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("call did not finish within 5s")
	}
}

func TestController_EndToEnd_OneUtterance(t *testing.T) {
	t.Parallel()

	frames := audiomock.Constant(50, frameSize, 0.5)
	frames = audiomock.Append(frames, 40, frameSize, 0.001)
	f := newFixture(t, &audiomock.Source{Frames: frames}, nil)

	id, err := f.ctl.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	if got := f.stt.CallCount(); got != 1 {
		t.Fatalf("transcribe calls = %d, want exactly one boundary", got)
	}
	if got := f.stt.Calls[0].Samples; got != 74*frameSize {
		t.Errorf("utterance samples = %d, want %d (74 frames)", got, 74*frameSize)
	}
	if got := f.analyzer.Transcripts(); len(got) != 1 || got[0] != "hello there" {
		t.Errorf("analysed transcripts = %q, want [hello there]", got)
	}

	recs := f.sink.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.CallID != id || rec.Seq != 1 {
		t.Errorf("record call/seq = %q/%d, want %q/1", rec.CallID, rec.Seq, id)
	}
	if rec.Transcript != "hello there" || rec.Sentiment != types.SentimentPositive || rec.Intent != "pricing" {
		t.Errorf("record = %+v", rec)
	}

	sums := f.sink.Summaries()
	if len(sums) != 1 {
		t.Fatalf("summaries = %d, want 1", len(sums))
	}
	if sums[0].NoData || sums[0].Degraded || sums[0].Utterances != 1 || sums[0].Summary.CallScore != 9 {
		t.Errorf("summary = %+v", sums[0])
	}

	st, err := status.Read(f.statusPath)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.State != status.StateIdle || st.Records != 1 || st.Utterances != 1 {
		t.Errorf("status = %+v, want idle with 1 record", st)
	}
	if st.Message != "capture ended" {
		t.Errorf("status message = %q, want %q", st.Message, "capture ended")
	}
	onDisk, err := status.ReadSummary(f.summaryPath)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if onDisk.CallID != id || onDisk.Transcript != "hello there" {
		t.Errorf("summary file = %+v", onDisk)
	}
}

// twoUtterances scripts two 30-frame utterances each confirmed by 24 silent
// frames.
func twoUtterances() *audiomock.Source {
	frames := audiomock.Constant(30, frameSize, 0.5)
	frames = audiomock.Append(frames, 24, frameSize, 0.001)
	frames = audiomock.Append(frames, 30, frameSize, 0.5)
	frames = audiomock.Append(frames, 24, frameSize, 0.001)
	return &audiomock.Source{Frames: frames}
}

func TestController_AnalysisFailureSkipsOnlyThatUtterance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, twoUtterances(), nil)
	f.analyzer.Errs = []error{errors.New("model exploded"), nil}

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	recs := f.sink.Records()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Seq != 2 {
		t.Errorf("record seq = %d, want 2 (the healthy utterance)", recs[0].Seq)
	}
	sums := f.sink.Summaries()
	if len(sums) != 1 || sums[0].Utterances != 2 {
		t.Errorf("summary utterances = %+v, want 2 transcribed", sums)
	}
}

func TestController_MalformedAnalysisUsesDefault(t *testing.T) {
	t.Parallel()

	f := newFixture(t, twoUtterances(), nil)
	f.analyzer.Errs = []error{fmt.Errorf("parse: %w", types.ErrMalformed), nil}

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	recs := f.sink.Records()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	def := analysis.DefaultUtteranceAnalysis()
	if recs[0].Sentiment != def.Sentiment || recs[0].Suggestion != def.Suggestion || recs[0].Intent != def.Intent {
		t.Errorf("first record = %+v, want defaults %+v", recs[0], def)
	}
	if recs[1].Intent != "pricing" {
		t.Errorf("second record intent = %q, want pricing", recs[1].Intent)
	}
}

func TestController_DefaultPolicySubstitutesEveryKind(t *testing.T) {
	t.Parallel()

	f := newFixture(t, twoUtterances(), func(c *app.ControllerConfig) {
		c.AnalysisFailure = config.AnalysisFailureDefault
	})
	f.analyzer.Err = context.DeadlineExceeded

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	recs := f.sink.Records()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.Intent != analysis.DefaultUtteranceAnalysis().Intent {
			t.Errorf("record %d intent = %q, want default", r.Seq, r.Intent)
		}
	}
}

func TestController_TranscriptionFailureSkipsUtterance(t *testing.T) {
	t.Parallel()

	f := newFixture(t, twoUtterances(), nil)
	f.stt.Errs = []error{errors.New("whisper down"), nil}

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	if got := len(f.analyzer.Transcripts()); got != 1 {
		t.Errorf("analyse calls = %d, want 1", got)
	}
	recs := f.sink.Records()
	if len(recs) != 1 || recs[0].Seq != 2 {
		t.Errorf("records = %+v, want only seq 2", recs)
	}
}

func TestController_SinkFailureDoesNotEndCall(t *testing.T) {
	t.Parallel()

	f := newFixture(t, twoUtterances(), nil)
	f.sink.err = errors.New("disk full")

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	if got := len(f.analyzer.Transcripts()); got != 2 {
		t.Errorf("analyse calls = %d, want 2", got)
	}
	if got := len(f.sink.Summaries()); got != 1 {
		t.Errorf("summaries = %d, want 1", got)
	}
	st, err := status.Read(f.statusPath)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.Records != 0 || st.LastRecord != nil {
		t.Errorf("status records = %d last = %+v, want nothing counted for failed appends", st.Records, st.LastRecord)
	}
	if st.Utterances != 2 {
		t.Errorf("status utterances = %d, want 2", st.Utterances)
	}
}

func TestController_StopWhenIdleIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &audiomock.Source{}, nil)
	if err := f.ctl.StopCall(context.Background()); err != nil {
		t.Fatalf("StopCall: %v", err)
	}
	if st := f.ctl.Status(); st.State != status.StateIdle || st.CallID != "" {
		t.Errorf("status = %+v, want idle", st)
	}
	if got := len(f.sink.Summaries()); got != 0 {
		t.Errorf("summaries = %d, want 0", got)
	}
	if f.ctl.Running() {
		t.Error("Running() = true after idle stop")
	}
}

func TestController_StartWhileRunning(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: audiomock.Constant(5, frameSize, 0.001), Hold: true}
	f := newFixture(t, src, nil)

	first, err := f.ctl.StartCall(context.Background())
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if _, err := f.ctl.StartCall(context.Background()); !errors.Is(err, app.ErrAlreadyRunning) {
		t.Fatalf("second StartCall error = %v, want ErrAlreadyRunning", err)
	}
	if st := f.ctl.Status(); st.CallID != first || st.State != status.StateRunning {
		t.Errorf("status = %+v, want first call still running", st)
	}
	if err := f.ctl.StopCall(context.Background()); err != nil {
		t.Fatalf("StopCall: %v", err)
	}
	if starts, closes := src.Calls(); starts != 1 || closes < 1 {
		t.Errorf("source starts/closes = %d/%d, want 1/>=1", starts, closes)
	}
}

func TestController_NoDataSummary(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: audiomock.Constant(10, frameSize, 0.001), Hold: true}
	f := newFixture(t, src, nil)

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if err := f.ctl.StopCall(context.Background()); err != nil {
		t.Fatalf("StopCall: %v", err)
	}

	sums := f.sink.Summaries()
	if len(sums) != 1 {
		t.Fatalf("summaries = %d, want 1", len(sums))
	}
	if !sums[0].NoData || sums[0].Utterances != 0 {
		t.Errorf("summary = %+v, want no-data", sums[0])
	}
	if got := len(f.analyzer.Summaries()); got != 0 {
		t.Errorf("SummarizeCall calls = %d, want 0", got)
	}
	if st := f.ctl.Status(); st.State != status.StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
}

func TestController_SummaryFailureWritesDefaults(t *testing.T) {
	t.Parallel()

	f := newFixture(t, twoUtterances(), nil)
	f.analyzer.SummaryErr = errors.New("rate limited")

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	sums := f.sink.Summaries()
	if len(sums) != 1 {
		t.Fatalf("summaries = %d, want 1", len(sums))
	}
	if !sums[0].Degraded {
		t.Error("summary not marked degraded")
	}
	if sums[0].Summary.Summary != analysis.DefaultCallSummary().Summary {
		t.Errorf("summary text = %q, want default", sums[0].Summary.Summary)
	}
	if sums[0].Transcript != "hello there hello there" {
		t.Errorf("transcript = %q", sums[0].Transcript)
	}
}

func TestController_ForceCancelAfterGracePeriod(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: audiomock.Constant(3, frameSize, 0.001), Hold: true, IgnoreClose: true}
	f := newFixture(t, src, func(c *app.ControllerConfig) {
		c.GracePeriod = 50 * time.Millisecond
	})

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- f.ctl.StopCall(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StopCall: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("StopCall did not return after the grace period")
	}
	if st := f.ctl.Status(); st.State != status.StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
	if got := len(f.sink.Summaries()); got != 1 {
		t.Errorf("summaries = %d, want 1", got)
	}
}

// hungSource delivers its frames and then neither sends nor closes the
// channel, ignoring both ctx and Close, like a device stuck in a blocking read.
type hungSource struct {
	frames []audio.Frame
	ch     chan audio.Frame
}

func (s *hungSource) Start(context.Context) (<-chan audio.Frame, error) {
	s.ch = make(chan audio.Frame, len(s.frames))
	for _, f := range s.frames {
		s.ch <- f
	}
	return s.ch, nil
}

func (s *hungSource) Err() error   { return nil }
func (s *hungSource) Close() error { return nil }

func stopWithin(t *testing.T, ctl *app.Controller, limit time.Duration) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- ctl.StopCall(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("StopCall: %v", err)
		}
	case <-time.After(limit):
		t.Fatalf("StopCall did not return within %v", limit)
	}
}

func TestController_StopWithHungCaptureReturnsToIdle(t *testing.T) {
	t.Parallel()

	src := &hungSource{frames: audiomock.Constant(3, frameSize, 0.001)}
	f := newFixture(t, &audiomock.Source{}, func(c *app.ControllerConfig) {
		c.Sources = func() (audio.Source, error) { return src, nil }
		c.GracePeriod = 50 * time.Millisecond
	})

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	stopWithin(t, f.ctl, 3*time.Second)

	if st := f.ctl.Status(); st.State != status.StateIdle {
		t.Errorf("state = %q, want idle", st.State)
	}
	if f.ctl.Running() {
		t.Error("Running() = true after stop")
	}
	if got := len(f.sink.Summaries()); got != 1 {
		t.Errorf("summaries = %d, want 1", got)
	}
	if _, err := os.Stat(f.summaryPath); err != nil {
		t.Errorf("summary file: %v", err)
	}
}

func TestController_ForceCancelAbortsSlowTranscription(t *testing.T) {
	t.Parallel()

	frames := audiomock.Constant(30, frameSize, 0.5)
	frames = audiomock.Append(frames, 24, frameSize, 0.001)
	src := &hungSource{frames: frames}
	f := newFixture(t, &audiomock.Source{}, func(c *app.ControllerConfig) {
		c.Sources = func() (audio.Source, error) { return src, nil }
		c.GracePeriod = 50 * time.Millisecond
		c.STTTimeout = time.Minute
	})
	f.stt.Delay = time.Minute

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.stt.CallCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	stopWithin(t, f.ctl, 3*time.Second)

	if got := len(f.sink.Records()); got != 0 {
		t.Errorf("records = %d, want 0 for the cancelled utterance", got)
	}
	sums := f.sink.Summaries()
	if len(sums) != 1 || !sums[0].NoData {
		t.Errorf("summaries = %+v, want one no-data summary", sums)
	}
}

func TestController_CaptureFailureSurfacesInStatus(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{
		Frames: audiomock.Constant(3, frameSize, 0.001),
		EndErr: errors.New("device unplugged"),
	}
	f := newFixture(t, src, nil)

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	st, err := status.Read(f.statusPath)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if st.State != status.StateIdle || st.Message != "capture stopped unexpectedly" {
		t.Errorf("status = %+v", st)
	}
}

func TestController_StartErrorLeavesIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &audiomock.Source{StartErr: errors.New("no device")}, nil)
	if _, err := f.ctl.StartCall(context.Background()); err == nil {
		t.Fatal("expected start error")
	}
	if f.ctl.Running() {
		t.Error("Running() = true after failed start")
	}
}

func TestController_ClearsStaleStopFlag(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Hold: true}
	f := newFixture(t, src, nil)
	if err := os.WriteFile(f.flagPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	if _, err := os.Stat(f.flagPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stop flag still present: %v", err)
	}
	_ = f.ctl.StopCall(context.Background())
}

func TestController_FlushOnStop(t *testing.T) {
	t.Parallel()

	src := &audiomock.Source{Frames: audiomock.Constant(10, frameSize, 0.5), Hold: true}
	f := newFixture(t, src, func(c *app.ControllerConfig) { c.FlushOnStop = true })

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	// Let the frames reach the segmenter before stopping.
	time.Sleep(100 * time.Millisecond)
	if err := f.ctl.StopCall(context.Background()); err != nil {
		t.Fatalf("StopCall: %v", err)
	}
	if got := f.stt.CallCount(); got != 1 {
		t.Fatalf("transcribe calls = %d, want the flushed utterance", got)
	}
	if got := f.stt.Calls[0].Samples; got != 10*frameSize {
		t.Errorf("flushed samples = %d, want %d", got, 10*frameSize)
	}
}

func TestController_ListenerReceivesEvents(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []status.Event
	)
	f := newFixture(t, twoUtterances(), func(c *app.ControllerConfig) {
		c.Listener = func(ev status.Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		}
	})

	if _, err := f.ctl.StartCall(context.Background()); err != nil {
		t.Fatalf("StartCall: %v", err)
	}
	waitDone(t, f.ctl)

	mu.Lock()
	defer mu.Unlock()
	var records, summaries int
	for _, ev := range events {
		switch ev.Type {
		case status.EventRecord:
			records++
			if ev.Record == nil {
				t.Error("record event without record")
			}
		case status.EventSummary:
			summaries++
			if ev.Status.State != status.StateIdle {
				t.Errorf("summary event state = %q, want idle", ev.Status.State)
			}
		}
	}
	if records != 2 || summaries != 1 {
		t.Errorf("records/summaries = %d/%d, want 2/1", records, summaries)
	}
	if events[0].Type != status.EventStatus || events[0].Status.State != status.StateRunning {
		t.Errorf("first event = %+v, want running status", events[0])
	}
}
