// Package audio defines the frame type, the capture [Source] abstraction and
// the PCM helpers shared by the callpilot pipeline.
//
// Capture implementations live in sub-packages (audio/portaudio for a live
// microphone, audio/wavfile for replaying recordings). The interface is kept
// narrow so the session controller never depends on device details.
package audio

import "context"

// Source delivers fixed-size mono frames from a capture device.
//
// A Source is single-use: the session controller opens a fresh one for every
// call through a [SourceFactory].
//
// Implementations must be safe for concurrent use: Close may be called while
// the frame channel is still being read.
type Source interface {
	// Start begins capture and returns the frame channel. Frames arrive in
	// capture order. The channel is closed when ctx is cancelled, Close is
	// called, the input is exhausted, or the device fails. After the channel
	// closes, Err reports the failure (nil for a normal end).
	Start(ctx context.Context) (<-chan Frame, error)

	// Err returns the error that ended capture, if any.
	Err() error

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// SourceFactory creates a new, unstarted [Source] for one call.
type SourceFactory func() (Source, error)
