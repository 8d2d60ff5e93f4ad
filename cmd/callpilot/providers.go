package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/callpilot/internal/app"
	"github.com/MrWong99/callpilot/internal/config"
	"github.com/MrWong99/callpilot/internal/resilience"
	"github.com/MrWong99/callpilot/pkg/audio"
	"github.com/MrWong99/callpilot/pkg/audio/portaudio"
	"github.com/MrWong99/callpilot/pkg/audio/wavfile"
	"github.com/MrWong99/callpilot/pkg/provider/llm"
	"github.com/MrWong99/callpilot/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/callpilot/pkg/provider/llm/openai"
	"github.com/MrWong99/callpilot/pkg/provider/stt"
	oastt "github.com/MrWong99/callpilot/pkg/provider/stt/openai"
	"github.com/MrWong99/callpilot/pkg/provider/stt/whisper"
)

const (
	groqBaseURL  = "https://api.groq.com/openai/v1"
	groqSTTModel = "whisper-large-v3"
)

// Environment variables consulted when a provider entry has no api_key.
const (
	envOpenAIKey = "OPENAI_API_KEY"
	envGroqKey   = "GROQ_API_KEY"
)

// apiKey returns entry.APIKey, or the value of env when the entry has none.
func apiKey(entry config.ProviderEntry, env string) string {
	if entry.APIKey != "" {
		return entry.APIKey
	}
	return os.Getenv(env)
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the provider
// from the real implementation package.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if d := config.OptInt(entry.Options, "timeout_seconds"); d > 0 {
			opts = append(opts, oallm.WithTimeout(time.Duration(d)*time.Second))
		}
		if n := config.OptInt(entry.Options, "max_retries"); n > 0 {
			opts = append(opts, oallm.WithMaxRetries(n))
		}
		key := apiKey(entry, envOpenAIKey)
		if key == "" {
			return nil, fmt.Errorf("openai: no api_key configured and %s is unset", envOpenAIKey)
		}
		return oallm.New(key, entry.Model, opts...)
	})

	// The remaining hosted backends share one pattern: optional APIKey and
	// optional BaseURL.
	for _, name := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if d := config.OptInt(entry.Options, "timeout_seconds"); d > 0 {
			opts = append(opts, whisper.WithTimeout(time.Duration(d)*time.Second))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := config.OptString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		if n := config.OptInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whisper.WithNativeThreads(uint(n)))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		return oastt.New(apiKey(entry, envOpenAIKey), openAISTTOptions(entry, "", "")...)
	})

	// groq serves an OpenAI-compatible transcription endpoint.
	reg.RegisterSTT("groq", func(entry config.ProviderEntry) (stt.Provider, error) {
		return oastt.New(apiKey(entry, envGroqKey), openAISTTOptions(entry, groqBaseURL, groqSTTModel)...)
	})

	// ── Capture ───────────────────────────────────────────────────────────────

	reg.RegisterCapture(config.SourcePortAudio, func(c config.CaptureConfig) (audio.SourceFactory, error) {
		pc := portaudio.Config{
			Device:        c.Device,
			SampleRate:    c.SampleRate,
			Channels:      c.Channels,
			FrameDuration: c.FrameDuration,
		}
		return func() (audio.Source, error) { return portaudio.New(pc), nil }, nil
	})

	reg.RegisterCapture(config.SourceWAV, func(c config.CaptureConfig) (audio.SourceFactory, error) {
		if c.Input == "" {
			return nil, errors.New("wav capture needs an input path")
		}
		wc := wavfile.Config{
			Path:          c.Input,
			SampleRate:    c.SampleRate,
			FrameDuration: c.FrameDuration,
			Realtime:      c.Realtime,
		}
		return func() (audio.Source, error) { return wavfile.New(wc), nil }, nil
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func openAISTTOptions(entry config.ProviderEntry, baseURL, model string) []oastt.Option {
	if entry.BaseURL != "" {
		baseURL = entry.BaseURL
	}
	if entry.Model != "" {
		model = entry.Model
	}
	var opts []oastt.Option
	if baseURL != "" {
		opts = append(opts, oastt.WithBaseURL(baseURL))
	}
	if model != "" {
		opts = append(opts, oastt.WithModel(model))
	}
	if lang := config.OptString(entry.Options, "language"); lang != "" {
		opts = append(opts, oastt.WithLanguage(lang))
	}
	if prompt := config.OptString(entry.Options, "prompt"); prompt != "" {
		opts = append(opts, oastt.WithPrompt(prompt))
	}
	if d := config.OptInt(entry.Options, "timeout_seconds"); d > 0 {
		opts = append(opts, oastt.WithTimeout(time.Duration(d)*time.Second))
	}
	if n := config.OptInt(entry.Options, "max_retries"); n > 0 {
		opts = append(opts, oastt.WithMaxRetries(n))
	}
	return opts
}

// buildProviders instantiates every provider named in cfg and wraps each
// slot in a fallback group. The returned closers release providers holding
// native resources and must be closed even when err is non-nil.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []io.Closer, error) {
	var closers []io.Closer
	track := func(v any) {
		if c, ok := v.(io.Closer); ok {
			closers = append(closers, c)
		}
	}
	fbCfg := resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Resilience.MaxFailures,
		ResetTimeout: cfg.Resilience.ResetTimeout,
		HalfOpenMax:  cfg.Resilience.HalfOpenMax,
	}}

	primarySTT, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, closers, fmt.Errorf("create stt provider %q: %w", cfg.Providers.STT.Name, err)
	}
	track(primarySTT)
	sttGroup := resilience.NewSTTFallback(primarySTT, cfg.Providers.STT.Label(), fbCfg)
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Label())
	for _, entry := range cfg.Providers.STTFallbacks {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		track(p)
		sttGroup.AddFallback(entry.Label(), p)
		slog.Info("provider created", "kind", "stt", "name", entry.Label(), "role", "fallback")
	}

	primaryLLM, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, closers, fmt.Errorf("create llm provider %q: %w", cfg.Providers.LLM.Name, err)
	}
	track(primaryLLM)
	llmGroup := resilience.NewLLMFallback(primaryLLM, cfg.Providers.LLM.Label(), fbCfg)
	slog.Info("provider created", "kind", "llm", "name", cfg.Providers.LLM.Label())
	for _, entry := range cfg.Providers.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		track(p)
		llmGroup.AddFallback(entry.Label(), p)
		slog.Info("provider created", "kind", "llm", "name", entry.Label(), "role", "fallback")
	}

	sources, err := reg.CreateCapture(cfg.Capture)
	if err != nil {
		return nil, closers, fmt.Errorf("create capture source %q: %w", cfg.Capture.Source, err)
	}

	return &app.Providers{
		STT:       sttGroup,
		STTName:   cfg.Providers.STT.Label(),
		LLM:       llmGroup,
		LLMName:   cfg.Providers.LLM.Label(),
		Sources:   sources,
		STTStates: func() map[string]string { return stateNames(sttGroup.States()) },
		LLMStates: func() map[string]string { return stateNames(llmGroup.States()) },
	}, closers, nil
}

func stateNames(states map[string]resilience.State) map[string]string {
	out := make(map[string]string, len(states))
	for name, st := range states {
		out[name] = st.String()
	}
	return out
}
