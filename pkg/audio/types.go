package audio

import (
	"math"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Frame is a fixed-duration slice of mono audio flowing through the pipeline.
// Frames are produced by a [Source], transferred into the frame queue and
// never mutated afterwards.
type Frame struct {
	// Samples holds mono float32 amplitudes in the range [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g. 16000).
	SampleRate int

	// Seq is the zero-based index of the frame since capture start.
	Seq int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the time span covered by the frame.
func (f Frame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// SamplesDuration returns the duration of n mono samples at sampleRate.
func SamplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(sampleRate))
}

// FrameSize returns the number of samples per frame for the given duration.
func FrameSize(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}

// RMS returns the root-mean-square amplitude of samples. An empty slice has
// zero energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Concat joins the samples of frames, in order, into one waveform.
func Concat(frames []Frame) []float32 {
	n := 0
	for _, f := range frames {
		n += len(f.Samples)
	}
	out := make([]float32, 0, n)
	for _, f := range frames {
		out = append(out, f.Samples...)
	}
	return out
}

// IsZero reports whether every sample is exactly zero.
func IsZero(samples []float32) bool {
	for _, s := range samples {
		if s != 0 {
			return false
		}
	}
	return true
}
