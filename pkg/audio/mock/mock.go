// Package mock provides an in-memory [audio.Source] for unit tests.
//
// Source replays a scripted list of frames and then either closes its channel
// (simulating end of input) or blocks until the context is cancelled or Close
// is called (simulating a live device). It records Start and Close calls.
//
// Typical usage:
//
//	src := &mock.Source{Frames: mock.Constant(50, 800, 0.5), Hold: true}
//	ch, _ := src.Start(ctx)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Frames are delivered in order once Start is called.
	Frames []audio.Frame

	// Hold keeps the channel open after all frames were delivered, until ctx
	// is cancelled or Close is called.
	Hold bool

	// IgnoreClose makes the source keep delivering after Close, which models
	// a capture task that does not respond to cooperative shutdown. Only ctx
	// cancellation stops it.
	IgnoreClose bool

	// Interval, if non-zero, is slept between frames.
	Interval time.Duration

	// StartErr is returned by Start.
	StartErr error

	// EndErr is reported by Err after the frames are exhausted.
	EndErr error

	// StartCalls and CloseCalls count invocations.
	StartCalls int
	CloseCalls int

	err    error
	closed chan struct{}
	once   sync.Once
}

func (s *Source) init() {
	s.once.Do(func() { s.closed = make(chan struct{}) })
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	s.init()
	s.mu.Lock()
	s.StartCalls++
	if s.StartErr != nil {
		s.mu.Unlock()
		return nil, s.StartErr
	}
	frames := s.Frames
	s.mu.Unlock()

	closed := s.closed
	if s.IgnoreClose {
		closed = nil
	}

	out := make(chan audio.Frame)
	go func() {
		defer close(out)
		for _, f := range frames {
			if s.Interval > 0 {
				select {
				case <-time.After(s.Interval):
				case <-ctx.Done():
					return
				case <-closed:
					return
				}
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			case <-closed:
				return
			}
		}
		if s.Hold {
			select {
			case <-ctx.Done():
			case <-closed:
			}
			return
		}
		s.mu.Lock()
		s.err = s.EndErr
		s.mu.Unlock()
	}()
	return out, nil
}

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.init()
	s.mu.Lock()
	s.CloseCalls++
	first := s.CloseCalls == 1
	s.mu.Unlock()
	if first {
		close(s.closed)
	}
	return nil
}

// Calls returns the Start and Close counts. Thread-safe.
func (s *Source) Calls() (starts, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StartCalls, s.CloseCalls
}

// Factory returns an [audio.SourceFactory] that always yields src.
func Factory(src audio.Source) audio.SourceFactory {
	return func() (audio.Source, error) { return src, nil }
}

// Constant builds n frames of frameSize samples, all set to amplitude. The
// frames are sequenced and stamped at 16 kHz starting from seq 0.
func Constant(n, frameSize int, amplitude float32) []audio.Frame {
	return Append(nil, n, frameSize, amplitude)
}

// Append extends frames with n constant-amplitude frames, continuing the
// sequence numbering and timestamps.
func Append(frames []audio.Frame, n, frameSize int, amplitude float32) []audio.Frame {
	const rate = 16000
	start := len(frames)
	for i := range n {
		samples := make([]float32, frameSize)
		for j := range samples {
			samples[j] = amplitude
		}
		seq := start + i
		frames = append(frames, audio.Frame{
			Samples:    samples,
			SampleRate: rate,
			Seq:        seq,
			Timestamp:  audio.SamplesDuration(seq*frameSize, rate),
		})
	}
	return frames
}

var _ audio.Source = (*Source)(nil)
