// Package portaudio implements an [audio.Source] that captures a live
// microphone through PortAudio.
//
// Each Source owns one PortAudio input stream. PortAudio is initialised when
// the stream is opened and terminated when capture ends, so sources must not
// overlap in time (the session controller guarantees one call at a time).
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/callpilot/pkg/audio"
)

var _ audio.Source = (*Source)(nil)

// Config configures a capture source.
type Config struct {
	// Device is a case-insensitive substring of the input device name. Empty
	// selects the host's default input device.
	Device string

	// SampleRate in Hz. Default: 16000.
	SampleRate int

	// Channels to open on the device. Multi-channel input is downmixed to
	// mono. Default: 1.
	Channels int

	// FrameDuration is the duration of each delivered frame. Default: 50ms.
	FrameDuration time.Duration
}

// Source captures microphone audio in fixed-size frames.
type Source struct {
	cfg       Config
	frameSize int

	mu      sync.Mutex
	err     error
	started bool
	stopped chan struct{}
	done    chan struct{}
	once    sync.Once
}

// New returns an unstarted capture source.
func New(cfg Config) *Source {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 50 * time.Millisecond
	}
	return &Source{
		cfg:       cfg,
		frameSize: audio.FrameSize(cfg.SampleRate, cfg.FrameDuration),
		stopped:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start opens the input stream and begins delivering frames.
func (s *Source) Start(ctx context.Context) (<-chan audio.Frame, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	dev, err := s.pickDevice()
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}

	buf := make([]float32, s.frameSize*s.cfg.Channels)
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: s.cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(s.cfg.SampleRate),
		FramesPerBuffer: s.frameSize,
	}
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	slog.Info("audio capture started",
		"device", dev.Name,
		"sample_rate", s.cfg.SampleRate,
		"frame_size", s.frameSize,
	)

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	out := make(chan audio.Frame, 8)
	go s.readLoop(ctx, stream, buf, out)
	return out, nil
}

func (s *Source) readLoop(ctx context.Context, stream *pa.Stream, buf []float32, out chan<- audio.Frame) {
	defer close(s.done)
	defer close(out)
	defer func() {
		_ = stream.Stop()
		_ = stream.Close()
		_ = pa.Terminate()
	}()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			// An overflow is a gap in the input, not the end of it.
			if errors.Is(err, pa.InputOverflowed) {
				slog.Debug("audio capture: input overflowed")
				continue
			}
			s.setErr(fmt.Errorf("portaudio: read: %w", err))
			return
		}

		samples := audio.DownmixToMono(append([]float32(nil), buf...), s.cfg.Channels)
		frame := audio.Frame{
			Samples:    samples,
			SampleRate: s.cfg.SampleRate,
			Seq:        seq,
			Timestamp:  audio.SamplesDuration(seq*s.frameSize, s.cfg.SampleRate),
		}
		seq++

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		case <-s.stopped:
			return
		}
	}
}

func (s *Source) pickDevice() (*pa.DeviceInfo, error) {
	if s.cfg.Device == "" {
		dev, err := pa.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("portaudio: default input device: %w", err)
		}
		return dev, nil
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	want := strings.ToLower(s.cfg.Device)
	for _, dev := range devices {
		if dev.MaxInputChannels < s.cfg.Channels {
			continue
		}
		if strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", s.cfg.Device)
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Err returns the read error that ended capture, if any.
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops capture. It waits briefly for the read loop to release the
// device; a blocked device read is abandoned after one second.
func (s *Source) Close() error {
	s.once.Do(func() { close(s.stopped) })
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-s.done:
	case <-time.After(time.Second):
		slog.Warn("audio capture: read loop did not exit within 1s")
	}
	return nil
}
