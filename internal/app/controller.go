package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/callpilot/internal/analysis"
	"github.com/MrWong99/callpilot/internal/config"
	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/resilience"
	"github.com/MrWong99/callpilot/internal/sink"
	"github.com/MrWong99/callpilot/internal/status"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/provider/stt"
	"github.com/MrWong99/callpilot/pkg/segment"
	"github.com/MrWong99/callpilot/pkg/types"
)

// ErrAlreadyRunning is returned by [Controller.StartCall] while a call is in
// progress.
var ErrAlreadyRunning = errors.New("app: a call is already running")

// Status messages set when capture ends without a stop request.
const (
	msgCaptureFailed = "capture stopped unexpectedly"
	msgCaptureEnded  = "capture ended"
)

// ControllerConfig holds the dependencies of a [Controller].
type ControllerConfig struct {
	// Sources opens a fresh capture source for every call.
	Sources audio.SourceFactory

	Detector  segment.DetectorConfig
	MaxLeadIn int

	STT     stt.Provider
	STTName string

	Analyzer     analysis.Analyzer
	AnalyzerName string

	// Sink receives analysis records and, when it implements
	// [sink.SummarySink], the final call summary. Nil disables persistence.
	Sink sink.RecordSink

	Status      *status.Writer
	SummaryPath string

	// StopFlag, if set, is cleared when a call starts.
	StopFlag *status.StopFlag

	QueueSize       int
	GracePeriod     time.Duration
	STTTimeout      time.Duration
	LLMTimeout      time.Duration
	SummaryTimeout  time.Duration
	AnalysisFailure config.AnalysisFailure
	FlushOnStop     bool

	Metrics *observe.Metrics

	// Listener, if set, receives every status transition, record and
	// summary. It is called from the consumer goroutine and must not block.
	Listener func(status.Event)

	// NewCallID and Now are overridable for tests.
	NewCallID func() string
	Now       func() time.Time
}

// Controller runs one call at a time: a producer goroutine moves capture
// frames into a bounded FIFO, and a consumer goroutine segments them and
// transcribes, analyses and persists every utterance in order.
//
// All exported methods are safe for concurrent use.
type Controller struct {
	cfg ControllerConfig

	mu   sync.Mutex
	call *call
	snap status.Status
}

// call is the state owned by one running call.
type call struct {
	id        string
	startedAt time.Time
	src       audio.Source
	seg       *segment.Segmenter
	queue     chan audio.Frame

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	captureCancel context.CancelFunc
	workCtx       context.Context
	workCancel    context.CancelFunc

	// Written by the producer before it closes queue.
	captureErr   error
	captureEnded bool

	// Owned by the consumer.
	transcripts []string
	records     int
	last        *types.AnalysisRecord
}

func (c *call) requestStop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *call) stopRequested() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

func (c *call) forceCancel() {
	c.captureCancel()
	c.workCancel()
}

// NewController creates an idle Controller and publishes the idle status.
func NewController(cfg ControllerConfig) *Controller {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1200
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 3 * time.Second
	}
	if cfg.STTTimeout <= 0 {
		cfg.STTTimeout = 30 * time.Second
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 30 * time.Second
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = 60 * time.Second
	}
	if cfg.AnalysisFailure == "" {
		cfg.AnalysisFailure = config.AnalysisFailureDrop
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.NewCallID == nil {
		cfg.NewCallID = uuid.NewString
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	ctl := &Controller{cfg: cfg}
	ctl.snap = status.Status{State: status.StateIdle, UpdatedAt: cfg.Now()}
	if err := cfg.Status.Write(ctl.snap); err != nil {
		slog.Warn("failed to write status file", "path", cfg.Status.Path(), "err", err)
	}
	return ctl
}

// Status returns a snapshot of the session state.
func (ctl *Controller) Status() status.Status {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.snap
}

// Running reports whether a call is in progress (running or stopping).
func (ctl *Controller) Running() bool {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	return ctl.call != nil
}

// closedCh is returned by Done while idle.
var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// Done returns a channel that is closed when the current call has been
// finalised. While idle the returned channel is already closed.
func (ctl *Controller) Done() <-chan struct{} {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	if ctl.call == nil {
		return closedCh
	}
	return ctl.call.done
}

// StartCall opens a capture source and starts processing a new call. It
// returns the call ID, or [ErrAlreadyRunning] if a call is in progress.
func (ctl *Controller) StartCall(ctx context.Context) (string, error) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	if ctl.call != nil {
		slog.Warn("start requested while a call is running", "call_id", ctl.call.id, "state", ctl.snap.State)
		return "", ErrAlreadyRunning
	}

	if ctl.cfg.StopFlag != nil {
		if err := ctl.cfg.StopFlag.Clear(); err != nil {
			slog.Warn("failed to clear stale stop flag", "path", ctl.cfg.StopFlag.Path(), "err", err)
		}
	}

	det, err := segment.NewDetector(ctl.cfg.Detector)
	if err != nil {
		return "", err
	}
	src, err := ctl.cfg.Sources()
	if err != nil {
		observe.ReportError(ctx, err, map[string]string{"component": "capture"})
		return "", err
	}

	captureCtx, captureCancel := context.WithCancel(context.Background())
	frames, err := src.Start(captureCtx)
	if err != nil {
		captureCancel()
		_ = src.Close()
		observe.ReportError(ctx, err, map[string]string{"component": "capture"})
		return "", err
	}
	id := ctl.cfg.NewCallID()
	workCtx, workCancel := context.WithCancel(observe.WithCallID(context.Background(), id))

	c := &call{
		id:            id,
		startedAt:     ctl.cfg.Now(),
		src:           src,
		seg:           segment.NewSegmenter(det, segment.WithMaxLeadIn(ctl.cfg.MaxLeadIn)),
		queue:         make(chan audio.Frame, ctl.cfg.QueueSize),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		captureCancel: captureCancel,
		workCtx:       workCtx,
		workCancel:    workCancel,
	}
	ctl.call = c
	ctl.snap = status.Status{
		State:     status.StateRunning,
		CallID:    c.id,
		StartedAt: c.startedAt,
		UpdatedAt: c.startedAt,
	}
	ctl.cfg.Metrics.ActiveCalls.Add(ctx, 1)

	go ctl.produce(c, frames)
	go ctl.consume(c)

	slog.Info("call started", "call_id", c.id, "detector", string(ctl.cfg.Detector.Mode), "required_silent_frames", det.RequiredSilentFrames())
	return c.id, nil
}

// StopCall ends the current call and blocks until its final summary has been
// written. Capture is asked to stop cooperatively; if the call has not
// finished within the grace period (or ctx ends first), capture and any
// in-flight provider call are cancelled. StopCall on an idle session is a
// no-op.
func (ctl *Controller) StopCall(ctx context.Context) error {
	ctl.mu.Lock()
	c := ctl.call
	if c == nil {
		ctl.mu.Unlock()
		return nil
	}
	if ctl.snap.State == status.StateRunning {
		ctl.snap.State = status.StateStopping
		ctl.snap.UpdatedAt = ctl.cfg.Now()
	}
	ctl.mu.Unlock()

	slog.Info("stopping call", "call_id", c.id)
	c.requestStop()

	grace := time.NewTimer(ctl.cfg.GracePeriod)
	defer grace.Stop()
	select {
	case <-c.done:
		return nil
	case <-grace.C:
		slog.Warn("grace period elapsed, cancelling capture", "call_id", c.id, "grace", ctl.cfg.GracePeriod)
	case <-ctx.Done():
		slog.Warn("stop deadline reached, cancelling capture", "call_id", c.id, "err", ctx.Err())
	}
	c.forceCancel()
	<-c.done
	return nil
}

// produce forwards capture frames into the queue. A full queue blocks the
// producer until the consumer catches up or stop is requested. On stop the
// queue is closed at once; closing the source and draining its channel happen
// in the background, since a hung device may never close the channel.
func (ctl *Controller) produce(c *call, frames <-chan audio.Frame) {
	defer close(c.queue)

forward:
	for {
		select {
		case <-c.stop:
			break forward
		case f, ok := <-frames:
			if !ok {
				c.captureEnded = true
				c.captureErr = c.src.Err()
				_ = c.src.Close()
				c.captureCancel()
				return
			}
			select {
			case c.queue <- f:
			case <-c.stop:
				break forward
			}
		}
	}

	c.captureCancel()
	go func() {
		if err := c.src.Close(); err != nil {
			slog.Warn("failed to close capture source", "call_id", c.id, "err", err)
		}
		if n := audio.Drain(frames); n > 0 {
			slog.Debug("discarded frames captured after stop", "call_id", c.id, "frames", n)
		}
	}()
}

// consume drives the segmenter until the queue is closed and drained, or the
// call is force-cancelled, then finalises the call.
func (ctl *Controller) consume(c *call) {
	defer close(c.done)

	ctl.publish(status.Event{Type: status.EventStatus})

segment:
	for {
		select {
		case f, ok := <-c.queue:
			if !ok {
				break segment
			}
			if utt, ok := c.seg.Push(f); ok {
				ctl.processUtterance(c, utt)
			}
		case <-c.workCtx.Done():
			slog.Warn("call cancelled, abandoning queued frames", "call_id", c.id, "queued", len(c.queue))
			break segment
		}
	}

	if ctl.cfg.FlushOnStop && c.workCtx.Err() == nil {
		if utt, ok := c.seg.Flush(); ok {
			ctl.processUtterance(c, utt)
		}
	} else if c.seg.Speaking() {
		slog.Debug("discarding unfinished utterance", "call_id", c.id, "frames", c.seg.Buffered())
	}

	var captureErr error
	var captureEnded bool
	if c.workCtx.Err() == nil {
		// The queue is closed, so the producer's writes are visible.
		captureErr, captureEnded = c.captureErr, c.captureEnded
	}

	var msg string
	switch {
	case captureErr != nil:
		msg = msgCaptureFailed
		slog.Error("capture stopped unexpectedly", "call_id", c.id, "err", captureErr)
		observe.ReportError(observe.WithCallID(context.Background(), c.id), captureErr, map[string]string{"component": "capture"})
	case captureEnded && !c.stopRequested():
		msg = msgCaptureEnded
		slog.Info("capture ended", "call_id", c.id)
	}

	ctl.mu.Lock()
	ctl.snap.State = status.StateStopping
	ctl.snap.Message = msg
	ctl.snap.UpdatedAt = ctl.cfg.Now()
	ctl.mu.Unlock()
	ctl.publish(status.Event{Type: status.EventStatus})

	summary := ctl.finalize(c)
	c.workCancel()

	ctl.mu.Lock()
	ctl.snap.State = status.StateIdle
	ctl.snap.UpdatedAt = ctl.cfg.Now()
	ctl.mu.Unlock()
	ctl.cfg.Metrics.ActiveCalls.Add(context.Background(), -1)
	ctl.publish(status.Event{Type: status.EventSummary, Summary: &summary})

	// Only now may a new call start.
	ctl.mu.Lock()
	ctl.call = nil
	ctl.mu.Unlock()

	slog.Info("call finished",
		"call_id", c.id,
		"utterances", len(c.transcripts),
		"records", c.records,
		"discarded", c.seg.Discarded(),
		"no_data", summary.NoData,
		"degraded", summary.Degraded,
	)
}

// processUtterance transcribes and analyses one utterance and persists the
// resulting record. No failure here ends the call.
func (ctl *Controller) processUtterance(c *call, utt segment.Utterance) {
	ctx, span := observe.StartUtteranceSpan(c.workCtx, utt.Seq, utt.Frames)
	defer span.End()
	log := observe.Logger(ctx).With(observe.AttrSeq, utt.Seq)
	m := ctl.cfg.Metrics

	start := time.Now()
	heard := resilience.Outcome(func() (string, error) {
		tctx, cancel := context.WithTimeout(ctx, ctl.cfg.STTTimeout)
		defer cancel()
		return ctl.cfg.STT.Transcribe(tctx, utt.Samples, utt.SampleRate)
	})
	m.STTDuration.Record(ctx, time.Since(start).Seconds())
	m.RecordProviderRequest(ctx, ctl.cfg.STTName, "stt", heard.Kind.String())
	if !heard.OK() {
		m.RecordProviderError(ctx, ctl.cfg.STTName, "stt")
		m.RecordUtterance(ctx, "skipped")
		log.Warn("transcription failed, skipping utterance", "kind", heard.Kind.String(), "err", heard.Err)
		if heard.Kind != types.KindEmpty && c.workCtx.Err() == nil {
			observe.ReportError(ctx, heard.Err, map[string]string{"component": "stt", "kind": heard.Kind.String()})
		}
		return
	}
	text := stt.CleanText(heard.Value)
	if text == "" {
		m.RecordUtterance(ctx, "skipped")
		log.Debug("empty transcript, skipping utterance", "duration", utt.Duration())
		return
	}
	c.transcripts = append(c.transcripts, text)

	start = time.Now()
	analysed := resilience.Outcome(func() (types.UtteranceAnalysis, error) {
		actx, cancel := context.WithTimeout(ctx, ctl.cfg.LLMTimeout)
		defer cancel()
		return ctl.cfg.Analyzer.Analyze(actx, text)
	})
	m.LLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", "utterance")))
	m.RecordProviderRequest(ctx, ctl.cfg.AnalyzerName, "llm", analysed.Kind.String())

	result, outcome, write := resolveAnalysis(analysed, ctl.cfg.AnalysisFailure)
	if !analysed.OK() {
		m.RecordProviderError(ctx, ctl.cfg.AnalyzerName, "llm")
		log.Warn("analysis failed", "kind", analysed.Kind.String(), "outcome", outcome, "err", analysed.Err)
		observe.ReportError(ctx, analysed.Err, map[string]string{"component": "analysis", "kind": analysed.Kind.String()})
	}
	m.RecordUtterance(ctx, outcome)
	if !write {
		ctl.touch(c)
		return
	}

	rec := types.NewAnalysisRecord(c.id, utt.Seq, ctl.cfg.Now(), text, result)
	if ctl.cfg.Sink != nil {
		if err := ctl.cfg.Sink.Append(ctx, rec); err != nil {
			failed := sink.FailedSinks(err)
			if len(failed) == 0 {
				failed = []string{ctl.cfg.Sink.Name()}
			}
			for _, name := range failed {
				m.RecordSinkError(ctx, name)
			}
			log.Error("failed to persist record", "sinks", failed, "err", err)
			observe.ReportError(ctx, err, map[string]string{"component": "sink"})
			if !sink.Persisted(ctl.cfg.Sink, err) {
				ctl.touch(c)
				return
			}
		}
	}
	m.Records.Add(ctx, 1)
	c.records++
	c.last = &rec

	log.Info("utterance analysed",
		"transcript", text,
		"sentiment", string(rec.Sentiment),
		"intent", rec.Intent,
		"suggestion", rec.Suggestion,
	)
	ctl.touch(c)
	ctl.publish(status.Event{Type: status.EventRecord, Record: &rec})
}

// resolveAnalysis applies the substitution policy to an analysis outcome. It
// returns the analysis to record, the outcome label for metrics and whether a
// record is written at all.
func resolveAnalysis(o types.Outcome[types.UtteranceAnalysis], policy config.AnalysisFailure) (types.UtteranceAnalysis, string, bool) {
	switch {
	case o.OK():
		return o.Value, "recorded", true
	case o.Kind == types.KindMalformed, policy == config.AnalysisFailureDefault:
		return analysis.DefaultUtteranceAnalysis(), "defaulted", true
	default:
		return types.UtteranceAnalysis{}, "dropped", false
	}
}

// touch copies the consumer-owned counters into the status snapshot.
func (ctl *Controller) touch(c *call) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.snap.Utterances = len(c.transcripts)
	ctl.snap.Records = c.records
	ctl.snap.LastRecord = c.last
	ctl.snap.UpdatedAt = ctl.cfg.Now()
}

// finalize builds the call summary, persists it and returns it. It always
// produces a record: with no transcribed utterance a no-data record, and on
// summarisation failure the default summary marked as degraded.
func (ctl *Controller) finalize(c *call) types.SummaryRecord {
	rec := types.SummaryRecord{
		CallID:     c.id,
		StartedAt:  c.startedAt,
		EndedAt:    ctl.cfg.Now(),
		Utterances: len(c.transcripts),
		Transcript: strings.Join(c.transcripts, " "),
	}

	ctx, cancel := context.WithTimeout(observe.WithCallID(context.Background(), c.id), ctl.cfg.SummaryTimeout)
	defer cancel()
	ctx, span := observe.StartSummarySpan(ctx, len(c.transcripts))
	defer span.End()
	log := observe.Logger(ctx)

	if len(c.transcripts) == 0 {
		rec.NoData = true
		rec.Summary = analysis.DefaultCallSummary()
		log.Info("no utterances captured, writing no-data summary")
	} else {
		start := time.Now()
		summarised := resilience.Outcome(func() (types.CallSummary, error) {
			return ctl.cfg.Analyzer.SummarizeCall(ctx, rec.Transcript)
		})
		ctl.cfg.Metrics.LLMDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", "summary")))
		ctl.cfg.Metrics.RecordProviderRequest(ctx, ctl.cfg.AnalyzerName, "llm", summarised.Kind.String())
		if summarised.OK() {
			rec.Summary = summarised.Value
		} else {
			rec.Degraded = true
			rec.Summary = analysis.DefaultCallSummary()
			ctl.cfg.Metrics.RecordProviderError(ctx, ctl.cfg.AnalyzerName, "llm")
			log.Warn("call summary failed, using defaults", "kind", summarised.Kind.String(), "err", summarised.Err)
			observe.ReportError(ctx, summarised.Err, map[string]string{"component": "summary", "kind": summarised.Kind.String()})
		}
	}

	if ss, ok := ctl.cfg.Sink.(sink.SummarySink); ok {
		if err := ss.AppendSummary(ctx, rec); err != nil {
			for _, name := range sink.FailedSinks(err) {
				ctl.cfg.Metrics.RecordSinkError(ctx, name)
			}
			log.Error("failed to persist call summary", "err", err)
			observe.ReportError(ctx, err, map[string]string{"component": "sink"})
		}
	}
	if ctl.cfg.SummaryPath != "" {
		if err := status.WriteFileAtomic(ctl.cfg.SummaryPath, rec); err != nil {
			log.Error("failed to write summary file", "path", ctl.cfg.SummaryPath, "err", err)
		}
	}

	log.Info("call summary",
		"sentiment", string(rec.Summary.Sentiment),
		"win_risk", string(rec.Summary.WinRisk),
		"call_score", rec.Summary.CallScore,
		"follow_up", rec.Summary.RecommendedFollowUp,
	)
	return rec
}

// publish writes the current snapshot to the status file and hands ev, with
// the snapshot attached, to the listener. Only the consumer goroutine calls
// it, so status file writes are never concurrent.
func (ctl *Controller) publish(ev status.Event) {
	ctl.mu.Lock()
	snap := ctl.snap
	ctl.mu.Unlock()

	if err := ctl.cfg.Status.Write(snap); err != nil {
		slog.Warn("failed to write status file", "path", ctl.cfg.Status.Path(), "err", err)
	}
	if ctl.cfg.Listener != nil {
		ev.Status = snap
		ctl.cfg.Listener(ev)
	}
}
