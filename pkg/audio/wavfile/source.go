// Package wavfile implements an [audio.Source] that replays a 16-bit PCM WAV
// recording as fixed-size frames. It lets the pipeline run against recorded
// calls without a microphone.
package wavfile

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Config configures a replay source.
type Config struct {
	// Path of the WAV file.
	Path string

	// SampleRate is the rate frames are delivered at. The file is resampled
	// when its own rate differs. Default: 16000.
	SampleRate int

	// FrameDuration is the duration of each delivered frame. Default: 50ms.
	FrameDuration time.Duration

	// Realtime paces delivery at one frame per FrameDuration. When false,
	// frames are delivered as fast as the consumer accepts them.
	Realtime bool
}

// Source replays a WAV file.
type Source struct {
	cfg Config

	stopped chan struct{}
	once    sync.Once
}

// New returns an unstarted replay source.
func New(cfg Config) *Source {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 50 * time.Millisecond
	}
	return &Source{cfg: cfg, stopped: make(chan struct{})}
}

// Start decodes the file and begins delivering frames. The last partial frame
// is zero-padded to full length. The channel closes at end of file.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: read %q: %w", s.cfg.Path, err)
	}
	samples, format, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", s.cfg.Path, err)
	}
	samples = audio.Resample(samples, format.SampleRate, s.cfg.SampleRate)

	frames := Split(samples, s.cfg.SampleRate, audio.FrameSize(s.cfg.SampleRate, s.cfg.FrameDuration))
	out := make(chan audio.Frame, 8)
	go s.deliver(ctx, frames, out)
	return out, nil
}

func (s *Source) deliver(ctx context.Context, frames []audio.Frame, out chan<- audio.Frame) {
	defer close(out)

	var tick <-chan time.Time
	if s.cfg.Realtime {
		t := time.NewTicker(s.cfg.FrameDuration)
		defer t.Stop()
		tick = t.C
	}

	for _, f := range frames {
		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
				return
			case <-s.stopped:
				return
			}
		}
		select {
		case out <- f:
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		}
	}
}

// Split cuts samples into frames of frameSize, zero-padding the last one.
func Split(samples []float32, sampleRate, frameSize int) []audio.Frame {
	if frameSize <= 0 {
		return nil
	}
	n := (len(samples) + frameSize - 1) / frameSize
	frames := make([]audio.Frame, 0, n)
	for i := range n {
		chunk := make([]float32, frameSize)
		copy(chunk, samples[i*frameSize:min((i+1)*frameSize, len(samples))])
		frames = append(frames, audio.Frame{
			Samples:    chunk,
			SampleRate: sampleRate,
			Seq:        i,
			Timestamp:  audio.SamplesDuration(i*frameSize, sampleRate),
		})
	}
	return frames
}

// Err always returns nil: end of file is a normal end of capture.
func (s *Source) Err() error { return nil }

// Close stops delivery. Safe to call more than once.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}
