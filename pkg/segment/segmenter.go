package segment

import (
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

// Utterance is a finished segment of speech handed to transcription.
type Utterance struct {
	// Seq numbers emitted utterances within a call, starting at 1.
	Seq int

	// Samples is the concatenated waveform, including the trailing silent
	// frames that confirmed the boundary.
	Samples []float32

	SampleRate int

	// Frames is the number of frames the waveform was built from.
	Frames int

	// Start and End are the capture offsets of the first frame and of the end
	// of the last frame.
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the waveform.
func (u Utterance) Duration() time.Duration {
	return audio.SamplesDuration(len(u.Samples), u.SampleRate)
}

// Segmenter accumulates frames into utterances.
//
// State machine: idle → speaking on any non-silent frame; speaking → idle
// once RequiredSilentFrames consecutive silent frames have been seen. Silent
// frames are buffered in either state but only counted while speaking, so
// background noise before speech never produces an utterance.
type Segmenter struct {
	det      Classifier
	required int
	maxLead  int

	buf       []audio.Frame
	speaking  bool
	silentRun int
	seq       int
	discarded int
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithMaxLeadIn caps the number of silent frames kept in the buffer while
// idle; older lead-in frames are dropped first. Zero (the default) keeps every
// frame since the last boundary.
func WithMaxLeadIn(frames int) Option {
	return func(s *Segmenter) {
		if frames > 0 {
			s.maxLead = frames
		}
	}
}

// NewSegmenter returns an idle Segmenter classifying frames with det.
func NewSegmenter(det Classifier, opts ...Option) *Segmenter {
	s := &Segmenter{det: det, required: det.RequiredSilentFrames()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Push feeds one frame. It returns a completed utterance exactly when the
// frame triggers a boundary. Utterances whose waveform is entirely zero are
// discarded: the boundary still resets the state but Push returns false.
func (s *Segmenter) Push(f audio.Frame) (Utterance, bool) {
	silent := s.det.IsSilent(f.Samples)
	s.buf = append(s.buf, f)

	switch {
	case !silent:
		s.speaking = true
		s.silentRun = 0
	case s.speaking:
		s.silentRun++
	default:
		s.silentRun = 0
		if s.maxLead > 0 && len(s.buf) > s.maxLead {
			s.buf = append(s.buf[:0:0], s.buf[len(s.buf)-s.maxLead:]...)
		}
	}

	if !s.speaking || s.silentRun < s.required {
		return Utterance{}, false
	}
	return s.cut()
}

// Flush ends the current utterance early. It returns an utterance only when
// speech was in progress; buffered pre-speech silence is dropped.
func (s *Segmenter) Flush() (Utterance, bool) {
	if !s.speaking || len(s.buf) == 0 {
		s.Reset()
		return Utterance{}, false
	}
	return s.cut()
}

func (s *Segmenter) cut() (Utterance, bool) {
	frames := s.buf
	s.buf = nil
	s.speaking = false
	s.silentRun = 0

	samples := audio.Concat(frames)
	if audio.IsZero(samples) {
		s.discarded++
		return Utterance{}, false
	}

	first, last := frames[0], frames[len(frames)-1]
	s.seq++
	return Utterance{
		Seq:        s.seq,
		Samples:    samples,
		SampleRate: first.SampleRate,
		Frames:     len(frames),
		Start:      first.Timestamp,
		End:        last.Timestamp + last.Duration(),
	}, true
}

// Speaking reports whether an utterance is in progress.
func (s *Segmenter) Speaking() bool { return s.speaking }

// Buffered returns the number of frames held in the utterance buffer.
func (s *Segmenter) Buffered() int { return len(s.buf) }

// SilentRun returns the consecutive silent frames counted since speech.
func (s *Segmenter) SilentRun() int { return s.silentRun }

// Discarded returns how many all-zero utterances were dropped.
func (s *Segmenter) Discarded() int { return s.discarded }

// Reset drops the buffer and returns to idle. Sequence numbering continues.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.speaking = false
	s.silentRun = 0
}
