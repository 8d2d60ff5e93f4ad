package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/callpilot/pkg/segment"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":     {"whisper", "whisper-native", "openai", "groq"},
	"llm":     {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"capture": {SourcePortAudio, SourceWAV},
}

// Load reads the YAML configuration file at path, layers it over [Default]
// and returns the validated result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. Unknown keys are rejected. An empty document yields the
// defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Capture
	switch cfg.Capture.Source {
	case SourcePortAudio:
	case SourceWAV:
		if cfg.Capture.Input == "" {
			errs = append(errs, errors.New("capture.input is required when capture.source is wav"))
		}
	default:
		errs = append(errs, fmt.Errorf("capture.source %q is invalid; valid values: portaudio, wav", cfg.Capture.Source))
	}
	if cfg.Capture.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must be positive", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels <= 0 {
		errs = append(errs, fmt.Errorf("capture.channels %d must be positive", cfg.Capture.Channels))
	}
	if cfg.Capture.FrameDuration <= 0 {
		errs = append(errs, fmt.Errorf("capture.frame_duration %s must be positive", cfg.Capture.FrameDuration))
	}

	// Detector
	if cfg.Detector.Mode != segment.ModeAdaptive && cfg.Detector.Mode != segment.ModeFixed {
		errs = append(errs, fmt.Errorf("detector.mode %q is invalid; valid values: adaptive, fixed", cfg.Detector.Mode))
	}
	if cfg.Detector.FloorThreshold < 0 {
		errs = append(errs, fmt.Errorf("detector.floor_threshold %.4f must not be negative", cfg.Detector.FloorThreshold))
	}
	if cfg.Detector.Multiplier < 0 {
		errs = append(errs, fmt.Errorf("detector.multiplier %.2f must not be negative", cfg.Detector.Multiplier))
	}
	if cfg.Detector.HistoryFrames < 0 {
		errs = append(errs, fmt.Errorf("detector.history_frames %d must not be negative", cfg.Detector.HistoryFrames))
	}
	if cfg.Detector.TargetSilence <= 0 {
		errs = append(errs, fmt.Errorf("detector.target_silence %s must be positive", cfg.Detector.TargetSilence))
	} else if cfg.Capture.FrameDuration > 0 && cfg.Detector.TargetSilence < cfg.Capture.FrameDuration {
		slog.Warn("detector.target_silence is shorter than one frame; every silent frame after speech ends an utterance",
			"target_silence", cfg.Detector.TargetSilence,
			"frame_duration", cfg.Capture.FrameDuration,
		)
	}
	if cfg.Detector.MaxLeadInFrames < 0 {
		errs = append(errs, fmt.Errorf("detector.max_lead_in_frames %d must not be negative", cfg.Detector.MaxLeadInFrames))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", fb.Name)
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}

	// Analysis
	for name, t := range map[string]float64{
		"analysis.utterance_temperature": cfg.Analysis.UtteranceTemperature,
		"analysis.summary_temperature":   cfg.Analysis.SummaryTemperature,
	} {
		if t < 0 || t > 2 {
			errs = append(errs, fmt.Errorf("%s %.2f is out of range [0, 2]", name, t))
		}
	}
	if cfg.Analysis.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_tokens %d must not be negative", cfg.Analysis.MaxTokens))
	}

	// Session
	s := cfg.Session
	if s.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("session.queue_size %d must be positive", s.QueueSize))
	}
	for name, d := range map[string]int64{
		"session.grace_period":    int64(s.GracePeriod),
		"session.stt_timeout":     int64(s.STTTimeout),
		"session.llm_timeout":     int64(s.LLMTimeout),
		"session.summary_timeout": int64(s.SummaryTimeout),
		"session.stop_flag_poll":  int64(s.StopFlagPoll),
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if !s.AnalysisFailure.IsValid() {
		errs = append(errs, fmt.Errorf("session.analysis_failure %q is invalid; valid values: drop, default", s.AnalysisFailure))
	}

	// Sinks
	if cfg.Sinks.CSVPath == "" && cfg.Sinks.JSONLPath == "" && cfg.Sinks.PostgresDSN == "" {
		slog.Warn("no record sink configured; analysis results are only published to the status file and live feed")
	}

	// Resilience
	if cfg.Resilience.MaxFailures < 0 || cfg.Resilience.HalfOpenMax < 0 || cfg.Resilience.ResetTimeout < 0 {
		errs = append(errs, errors.New("resilience values must not be negative"))
	}

	// Observe
	if r := cfg.Observe.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("observe.trace_sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

// OptString returns the string value of key in opts, or "".
func OptString(opts map[string]any, key string) string {
	if v, ok := opts[key].(string); ok {
		return v
	}
	return ""
}

// OptInt returns the integer value of key in opts, or 0. YAML decodes
// integers as int; floats are truncated.
func OptInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
