// Package app wires the callpilot subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the analyser, the
// record sinks and the session [Controller], Run supervises the stop-flag
// watcher and any extra services (such as the control plane) until the
// process should exit, and Shutdown closes everything in order.
//
// For testing, inject doubles via functional options (WithSink,
// WithAnalyzer, ...). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/callpilot/internal/analysis"
	"github.com/MrWong99/callpilot/internal/config"
	"github.com/MrWong99/callpilot/internal/health"
	"github.com/MrWong99/callpilot/internal/observe"
	"github.com/MrWong99/callpilot/internal/sink"
	"github.com/MrWong99/callpilot/internal/sink/postgres"
	"github.com/MrWong99/callpilot/internal/status"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/provider/llm"
	"github.com/MrWong99/callpilot/pkg/provider/stt"
)

// Providers holds the provider slots. Populated by main.go via the config
// registry.
type Providers struct {
	STT     stt.Provider
	STTName string

	LLM     llm.Provider
	LLMName string

	// Sources opens the capture device or file for each call.
	Sources audio.SourceFactory

	// STTStates and LLMStates report circuit-breaker states by provider
	// label. Nil when the slot has no fallback group.
	STTStates func() map[string]string
	LLMStates func() map[string]string
}

// Service is a long-running component supervised by [App.Run]. It must
// return once ctx is cancelled.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	analyzer analysis.Analyzer
	sink     sink.RecordSink
	pg       *postgres.Sink
	metrics  *observe.Metrics
	listener func(status.Event)
	services []Service

	ctl      *Controller
	stopFlag *status.StopFlag

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects a record sink instead of building the configured ones.
// The injected sink is still closed on Shutdown.
func WithSink(s sink.RecordSink) Option {
	return func(a *App) { a.sink = s }
}

// WithAnalyzer injects an analyser instead of wrapping the LLM provider.
func WithAnalyzer(an analysis.Analyzer) Option {
	return func(a *App) { a.analyzer = an }
}

// WithMetrics injects the metric instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener registers a receiver for session events (e.g. a live-feed hub).
func WithListener(fn func(status.Event)) Option {
	return func(a *App) { a.listener = fn }
}

// WithService adds a component supervised by Run.
func WithService(s Service) Option {
	return func(a *App) { a.services = append(a.services, s) }
}

// New creates an App by wiring all subsystems together.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.STT == nil || providers.Sources == nil {
		return nil, errors.New("app: stt provider and capture source are required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Analyser ─────────────────────────────────────────────────────
	if a.analyzer == nil {
		if providers.LLM == nil {
			return nil, errors.New("app: llm provider or analyzer is required")
		}
		a.analyzer = analysis.NewLLMAnalyzer(providers.LLM,
			analysis.WithUtteranceTemperature(cfg.Analysis.UtteranceTemperature),
			analysis.WithSummaryTemperature(cfg.Analysis.SummaryTemperature),
			analysis.WithMaxTokens(cfg.Analysis.MaxTokens),
			analysis.WithJSONMode(cfg.Analysis.JSONMode),
		)
	}

	// ── 2. Sinks ────────────────────────────────────────────────────────
	if a.sink == nil {
		if err := a.initSinks(ctx); err != nil {
			return nil, fmt.Errorf("app: init sinks: %w", err)
		}
	}
	a.closers = append(a.closers, a.sink.Close)

	// ── 3. Session controller + stop flag ───────────────────────────────
	sess := cfg.Session
	a.stopFlag = status.NewStopFlag(sess.StopFlagPath, a.onStopFlag, status.WithInterval(sess.StopFlagPoll))
	a.ctl = NewController(ControllerConfig{
		Sources:         providers.Sources,
		Detector:        cfg.SegmentConfig(),
		MaxLeadIn:       cfg.Detector.MaxLeadInFrames,
		STT:             providers.STT,
		STTName:         providers.STTName,
		Analyzer:        a.analyzer,
		AnalyzerName:    providers.LLMName,
		Sink:            a.sink,
		Status:          status.NewWriter(sess.StatusPath),
		SummaryPath:     sess.SummaryPath,
		StopFlag:        a.stopFlag,
		QueueSize:       sess.QueueSize,
		GracePeriod:     sess.GracePeriod,
		STTTimeout:      sess.STTTimeout,
		LLMTimeout:      sess.LLMTimeout,
		SummaryTimeout:  sess.SummaryTimeout,
		AnalysisFailure: sess.AnalysisFailure,
		FlushOnStop:     sess.FlushOnStop,
		Metrics:         a.metrics,
		Listener:        a.listener,
	})

	return a, nil
}

// initSinks opens every configured sink and combines them. On failure the
// sinks opened so far are closed again.
func (a *App) initSinks(ctx context.Context) (err error) {
	sc := a.cfg.Sinks
	var sinks []sink.RecordSink
	defer func() {
		if err != nil {
			_ = sink.NewMulti(sinks...).Close()
		}
	}()

	if sc.CSVPath != "" {
		s, err := sink.NewCSV(sc.CSVPath)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	if sc.JSONLPath != "" {
		s, err := sink.NewJSONL(sc.JSONLPath)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
	}
	if sc.PostgresDSN != "" {
		s, err := postgres.New(ctx, sc.PostgresDSN)
		if err != nil {
			return err
		}
		sinks = append(sinks, s)
		a.pg = s
	}
	a.sink = sink.NewMulti(sinks...)
	slog.Info("record sinks ready", "count", len(sinks), "csv", sc.CSVPath, "jsonl", sc.JSONLPath, "postgres", sc.PostgresDSN != "")
	return nil
}

// Controller returns the session controller.
func (a *App) Controller() *Controller { return a.ctl }

// Checkers returns the readiness checks for the wired subsystems.
func (a *App) Checkers() []health.Checker {
	checks := []health.Checker{
		health.WritableDir("status_dir", filepath.Dir(a.cfg.Session.StatusPath)),
	}
	if a.providers.STTStates != nil {
		checks = append(checks, health.AnyClosed("stt", a.providers.STTStates))
	}
	if a.providers.LLMStates != nil {
		checks = append(checks, health.AnyClosed("llm", a.providers.LLMStates))
	}
	if a.pg != nil {
		checks = append(checks, health.Checker{Name: "postgres", Check: a.pg.Ping})
	}
	return checks
}

func (a *App) onStopFlag() {
	if err := a.ctl.StopCall(context.Background()); err != nil {
		slog.Warn("stop via flag failed", "err", err)
	}
}

// Run supervises the stop-flag watcher and the registered services.
//
// With no services (the plain CLI), Run starts a call immediately and
// returns once that call has ended: by ctx cancellation, stop flag or end of
// capture. Otherwise Run keeps serving until ctx is cancelled, starting a
// call up front only when server.auto_start is set. In both cases a call
// still running at exit is stopped, so its final summary is written.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return a.stopFlag.Run(gctx) })
	for _, s := range a.services {
		g.Go(func() error {
			if err := s.Run(gctx); err != nil {
				return fmt.Errorf("app: %s: %w", s.Name, err)
			}
			return nil
		})
	}

	standalone := len(a.services) == 0
	if standalone || a.cfg.Server.AutoStart {
		if _, err := a.ctl.StartCall(gctx); err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("app: start call: %w", err)
		}
	}

	slog.Info("app running", "standalone", standalone, "services", len(a.services))
	if standalone {
		select {
		case <-a.ctl.Done():
		case <-gctx.Done():
		}
	} else {
		<-gctx.Done()
	}

	if err := a.ctl.StopCall(context.Background()); err != nil {
		slog.Warn("final stop failed", "err", err)
	}
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown closes all subsystems in order. It respects the context deadline:
// if ctx expires before all closers finish, remaining closers are skipped and
// the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.ctl != nil {
			if err := a.ctl.StopCall(ctx); err != nil {
				slog.Warn("stop call during shutdown", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
