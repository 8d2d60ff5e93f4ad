// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider turns one finished utterance (a mono float32 waveform) into
// text. Segmentation happens upstream in the session controller, so providers
// are simple batch transcribers: whisper.cpp (HTTP server or in-process cgo
// bindings) and OpenAI-compatible transcription APIs.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"strings"
)

// Provider transcribes a complete utterance.
type Provider interface {
	// Transcribe returns the text spoken in samples (mono, sampleRate Hz). An
	// utterance without recognisable speech yields an empty string and a nil
	// error. Implementations must honour ctx cancellation.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
}

// CleanText trims each segment, drops empty ones and collapses runs of
// whitespace into single spaces.
func CleanText(segments ...string) string {
	var parts []string
	for _, s := range segments {
		if f := strings.Fields(s); len(f) > 0 {
			parts = append(parts, f...)
		}
	}
	return strings.Join(parts, " ")
}
