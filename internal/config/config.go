// Package config provides the configuration schema, loader, and provider
// registry for callpilot.
//
// Every field has a working default ([Default]); a YAML file only needs to
// name the values it changes. Durations are Go duration strings ("1.2s").
package config

import (
	"time"

	"github.com/MrWong99/callpilot/pkg/segment"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// AnalysisFailure selects what happens to an utterance whose analysis fails.
type AnalysisFailure string

const (
	// AnalysisFailureDrop writes the documented default only for malformed
	// model output; every other failure kind drops the record.
	AnalysisFailureDrop AnalysisFailure = "drop"

	// AnalysisFailureDefault writes the documented default for every failure.
	AnalysisFailureDefault AnalysisFailure = "default"
)

// IsValid reports whether a is a recognised policy.
func (a AnalysisFailure) IsValid() bool {
	return a == AnalysisFailureDrop || a == AnalysisFailureDefault
}

// Capture source names understood by the registry.
const (
	SourcePortAudio = "portaudio"
	SourceWAV       = "wav"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Capture    CaptureConfig    `yaml:"capture"`
	Detector   DetectorConfig   `yaml:"detector"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Session    SessionConfig    `yaml:"session"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Observe    ObserveConfig    `yaml:"observe"`
}

// ServerConfig holds the control-plane listener and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control plane (e.g., ":8090").
	// Empty runs a single call without any HTTP surface.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AutoStart starts a call as soon as the process is up. Always true
	// when ListenAddr is empty.
	AutoStart bool `yaml:"auto_start"`
}

// CaptureConfig selects and tunes the audio capture source.
type CaptureConfig struct {
	// Source names the registered capture source: "portaudio" or "wav".
	Source string `yaml:"source"`

	// Device is a case-insensitive substring of the input device name.
	Device string `yaml:"device"`

	// Input is the WAV file replayed by the "wav" source.
	Input string `yaml:"input"`

	// Realtime paces WAV replay at capture speed.
	Realtime bool `yaml:"realtime"`

	SampleRate    int           `yaml:"sample_rate"`
	Channels      int           `yaml:"channels"`
	FrameDuration time.Duration `yaml:"frame_duration"`
}

// DetectorConfig tunes the silence detector.
type DetectorConfig struct {
	// Mode is "adaptive" or "fixed".
	Mode           segment.Mode  `yaml:"mode"`
	FloorThreshold float64       `yaml:"floor_threshold"`
	Multiplier     float64       `yaml:"multiplier"`
	HistoryFrames  int           `yaml:"history_frames"`
	TargetSilence  time.Duration `yaml:"target_silence"`

	// MaxLeadInFrames caps buffered pre-speech silence. Zero keeps all.
	MaxLeadInFrames int `yaml:"max_lead_in_frames"`
}

// ProvidersConfig declares the transcription and language-model providers.
// Each entry selects a named provider registered in the [Registry].
// Fallbacks are tried in order when the primary fails or its circuit is open.
type ProvidersConfig struct {
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all providers.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "whisper", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model within the provider (e.g., "gpt-4o-mini", "whisper-1").
	// For "whisper-native" it is the path of the ggml model file.
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the standard
	// fields above (e.g., "language", "prompt", "threads").
	Options map[string]any `yaml:"options"`
}

// Label returns the name used in logs, metrics, and breaker names.
func (e ProviderEntry) Label() string {
	if e.Model != "" {
		return e.Name + "/" + e.Model
	}
	return e.Name
}

// AnalysisConfig tunes the analysis prompts.
type AnalysisConfig struct {
	UtteranceTemperature float64 `yaml:"utterance_temperature"`
	SummaryTemperature   float64 `yaml:"summary_temperature"`
	MaxTokens            int     `yaml:"max_tokens"`
	JSONMode             bool    `yaml:"json_mode"`
}

// SessionConfig holds the call lifecycle settings.
type SessionConfig struct {
	// QueueSize bounds the frame queue between capture and segmentation.
	QueueSize int `yaml:"queue_size"`

	// GracePeriod is how long StopCall waits for in-flight work before the
	// capture task is force-cancelled.
	GracePeriod time.Duration `yaml:"grace_period"`

	STTTimeout     time.Duration `yaml:"stt_timeout"`
	LLMTimeout     time.Duration `yaml:"llm_timeout"`
	SummaryTimeout time.Duration `yaml:"summary_timeout"`

	// AnalysisFailure is "drop" or "default".
	AnalysisFailure AnalysisFailure `yaml:"analysis_failure"`

	// FlushOnStop emits a pending utterance when the call stops.
	FlushOnStop bool `yaml:"flush_on_stop"`

	StatusPath   string        `yaml:"status_path"`
	SummaryPath  string        `yaml:"summary_path"`
	StopFlagPath string        `yaml:"stop_flag_path"`
	StopFlagPoll time.Duration `yaml:"stop_flag_poll"`
}

// SinksConfig selects where analysis records go. Empty paths disable a sink.
type SinksConfig struct {
	CSVPath     string `yaml:"csv_path"`
	JSONLPath   string `yaml:"jsonl_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ResilienceConfig tunes the per-provider circuit breakers.
type ResilienceConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ObserveConfig holds telemetry settings.
type ObserveConfig struct {
	// SentryDSN enables error reporting when set.
	SentryDSN   string `yaml:"sentry_dsn"`
	Environment string `yaml:"environment"`

	// TraceSampleRatio is the fraction of calls whose spans are sampled,
	// in [0, 1]. Incoming control-plane requests follow the caller's choice.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns a complete configuration that runs with no file at all:
// microphone capture, a local whisper.cpp server, and an OpenAI model.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Capture: CaptureConfig{
			Source:        SourcePortAudio,
			Realtime:      true,
			SampleRate:    16000,
			Channels:      1,
			FrameDuration: segment.DefaultFrameDuration,
		},
		Detector: DetectorConfig{
			Mode:           segment.ModeAdaptive,
			FloorThreshold: segment.DefaultFloorThreshold,
			Multiplier:     segment.DefaultMultiplier,
			HistoryFrames:  segment.DefaultHistoryFrames,
			TargetSilence:  segment.DefaultTargetSilence,
		},
		Providers: ProvidersConfig{
			STT: ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"},
			LLM: ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		Analysis: AnalysisConfig{
			UtteranceTemperature: 0.7,
			SummaryTemperature:   0.4,
			JSONMode:             true,
		},
		Session: SessionConfig{
			QueueSize:       1200,
			GracePeriod:     3 * time.Second,
			STTTimeout:      30 * time.Second,
			LLMTimeout:      30 * time.Second,
			SummaryTimeout:  60 * time.Second,
			AnalysisFailure: AnalysisFailureDrop,
			StatusPath:      "callpilot_status.json",
			SummaryPath:     "call_summary.json",
			StopFlagPath:    "stop_call.flag",
			StopFlagPoll:    500 * time.Millisecond,
		},
		Sinks: SinksConfig{
			CSVPath:   "call_log.csv",
			JSONLPath: "call_summaries.jsonl",
		},
		Resilience: ResilienceConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		},
		Observe: ObserveConfig{
			TraceSampleRatio: 1,
		},
	}
}

// SegmentConfig converts the capture and detector sections into a
// [segment.DetectorConfig].
func (c *Config) SegmentConfig() segment.DetectorConfig {
	return segment.DetectorConfig{
		Mode:           c.Detector.Mode,
		FloorThreshold: c.Detector.FloorThreshold,
		Multiplier:     c.Detector.Multiplier,
		HistoryFrames:  c.Detector.HistoryFrames,
		FrameDuration:  c.Capture.FrameDuration,
		TargetSilence:  c.Detector.TargetSilence,
	}
}
