// Command callpilot listens to a live call, transcribes each utterance and
// writes a per-utterance analysis log plus an end-of-call summary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/callpilot/internal/app"
	"github.com/MrWong99/callpilot/internal/config"
	"github.com/MrWong99/callpilot/internal/control"
	"github.com/MrWong99/callpilot/internal/health"
	"github.com/MrWong99/callpilot/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	input := flag.String("input", "", "replay this WAV file instead of capturing from a device")
	listen := flag.String("listen", "", "control-plane listen address, overrides server.listen_addr")
	logLevel := flag.String("log-level", "", "log level override: debug, info, warn or error")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "callpilot: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "callpilot: %v\n", err)
		}
		return 1
	}
	if *input != "" {
		cfg.Capture.Source = config.SourceWAV
		cfg.Capture.Input = *input
	}
	if *listen != "" {
		cfg.Server.ListenAddr = *listen
	}
	if *logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(*logLevel)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "callpilot: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("callpilot starting",
		"version", version,
		"config", *configPath,
		"capture", cfg.Capture.Source,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceVersion: version,
		Environment:    cfg.Observe.Environment,
		SampleRatio:    cfg.Observe.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	flushSentry, err := observe.InitSentry(observe.SentryConfig{
		DSN:         cfg.Observe.SentryDSN,
		Environment: cfg.Observe.Environment,
		Release:     "callpilot@" + version,
	})
	if err != nil {
		slog.Warn("sentry disabled", "err", err)
	}
	defer flushSentry()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, closers, err := buildProviders(cfg, reg)
	defer closeAll(closers)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Control plane (optional) ──────────────────────────────────────────────
	hub := control.NewHub()
	var srv *control.Server
	opts := []app.Option{app.WithListener(hub.Publish)}
	if cfg.Server.ListenAddr != "" {
		opts = append(opts, app.WithService(app.Service{
			Name: "control",
			Run:  func(ctx context.Context) error { return srv.ListenAndServe(ctx) },
		}))
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	if cfg.Server.ListenAddr != "" {
		srv = control.New(control.Config{
			Addr:    cfg.Server.ListenAddr,
			Session: application.Controller(),
			Hub:     hub,
			Health:  health.New(application.Checkers()...),
			Version: version,
		})
		slog.Info("control plane ready; press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)
	} else {
		slog.Info("listening; touch the stop flag or press Ctrl+C to end the call", "stop_flag", cfg.Session.StopFlagPath)
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			slog.Warn("provider close error", "err", err)
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        callpilot: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Capture", captureLabel(cfg.Capture))
	printRow("Detector", string(cfg.Detector.Mode))
	printRow("STT", cfg.Providers.STT.Label())
	printRow("STT fallbacks", fmt.Sprint(len(cfg.Providers.STTFallbacks)))
	printRow("LLM", cfg.Providers.LLM.Label())
	printRow("LLM fallbacks", fmt.Sprint(len(cfg.Providers.LLMFallbacks)))
	printRow("CSV log", orDisabled(cfg.Sinks.CSVPath))
	printRow("JSONL log", orDisabled(cfg.Sinks.JSONLPath))
	if cfg.Sinks.PostgresDSN != "" {
		printRow("Postgres", "enabled")
	} else {
		printRow("Postgres", "(disabled)")
	}
	printRow("Listen addr", orDisabled(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

func captureLabel(c config.CaptureConfig) string {
	if c.Source == config.SourceWAV {
		return "wav " + c.Input
	}
	if c.Device != "" {
		return c.Source + " " + c.Device
	}
	return c.Source
}

func orDisabled(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
