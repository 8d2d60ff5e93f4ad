// Package segment turns a stream of fixed-size audio frames into utterances.
//
// A [Detector] classifies each frame as silent or not using an energy
// threshold that adapts to the ambient level. A [Segmenter] accumulates frames
// and declares an utterance boundary once enough consecutive silent frames
// follow speech.
//
// Both types are plain state machines: they are deterministic for a given
// frame sequence and configuration, perform no I/O, and are not safe for
// concurrent use. The session controller owns one of each per call.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/callpilot/pkg/audio"
)

// Mode selects how the silence threshold is computed.
type Mode string

const (
	// ModeAdaptive uses max(floor, mean(recent RMS) × multiplier).
	ModeAdaptive Mode = "adaptive"

	// ModeFixed uses the floor threshold alone.
	ModeFixed Mode = "fixed"
)

// Defaults for [DetectorConfig].
const (
	DefaultFloorThreshold = 0.01
	DefaultMultiplier     = 1.5
	DefaultHistoryFrames  = 20
	DefaultFrameDuration  = 50 * time.Millisecond
	DefaultTargetSilence  = 1200 * time.Millisecond
)

// Classifier decides whether a frame is silent. [Detector] is the production
// implementation; tests may script their own.
type Classifier interface {
	IsSilent(samples []float32) bool
	RequiredSilentFrames() int
}

// DetectorConfig configures a [Detector]. Zero values take the defaults.
type DetectorConfig struct {
	Mode           Mode
	FloorThreshold float64
	Multiplier     float64
	HistoryFrames  int
	FrameDuration  time.Duration
	TargetSilence  time.Duration
}

func (c *DetectorConfig) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAdaptive
	}
	if c.FloorThreshold == 0 {
		c.FloorThreshold = DefaultFloorThreshold
	}
	if c.Multiplier == 0 {
		c.Multiplier = DefaultMultiplier
	}
	if c.HistoryFrames == 0 {
		c.HistoryFrames = DefaultHistoryFrames
	}
	if c.FrameDuration == 0 {
		c.FrameDuration = DefaultFrameDuration
	}
	if c.TargetSilence == 0 {
		c.TargetSilence = DefaultTargetSilence
	}
}

// Detector is an adaptive RMS silence detector.
type Detector struct {
	cfg      DetectorConfig
	required int

	// history is a ring of the most recent frame energies.
	history []float64
	next    int
	count   int

	lastRMS       float64
	lastThreshold float64
}

var _ Classifier = (*Detector)(nil)

// NewDetector validates cfg and returns a Detector.
func NewDetector(cfg DetectorConfig) (*Detector, error) {
	cfg.applyDefaults()

	var errs []error
	if cfg.Mode != ModeAdaptive && cfg.Mode != ModeFixed {
		errs = append(errs, fmt.Errorf("segment: unknown detector mode %q", cfg.Mode))
	}
	if cfg.FloorThreshold < 0 {
		errs = append(errs, errors.New("segment: floor threshold must not be negative"))
	}
	if cfg.Multiplier < 0 {
		errs = append(errs, errors.New("segment: multiplier must not be negative"))
	}
	if cfg.HistoryFrames < 0 {
		errs = append(errs, errors.New("segment: history frames must not be negative"))
	}
	if cfg.FrameDuration < 0 || cfg.TargetSilence < 0 {
		errs = append(errs, errors.New("segment: durations must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	required := int(cfg.TargetSilence / cfg.FrameDuration)
	if required < 1 {
		required = 1
	}

	return &Detector{
		cfg:      cfg,
		required: required,
		history:  make([]float64, cfg.HistoryFrames),
	}, nil
}

// RequiredSilentFrames is the number of consecutive silent frames that end an
// utterance: target silence divided by frame duration (1.2s / 50ms = 24).
func (d *Detector) RequiredSilentFrames() int { return d.required }

// IsSilent records the frame's energy in the history and reports whether it
// falls below the current threshold. The history is updated on every call,
// whatever the classification, so the threshold follows the ambient level.
func (d *Detector) IsSilent(samples []float32) bool {
	rms := audio.RMS(samples)
	d.record(rms)

	threshold := d.cfg.FloorThreshold
	if d.cfg.Mode == ModeAdaptive {
		threshold = max(threshold, d.mean()*d.cfg.Multiplier)
	}

	d.lastRMS = rms
	d.lastThreshold = threshold
	return rms < threshold
}

func (d *Detector) record(rms float64) {
	if len(d.history) == 0 {
		return
	}
	d.history[d.next] = rms
	d.next = (d.next + 1) % len(d.history)
	if d.count < len(d.history) {
		d.count++
	}
}

// mean averages however many energies have been collected; zero when none.
func (d *Detector) mean() float64 {
	if d.count == 0 {
		return 0
	}
	var sum float64
	for i := range d.count {
		sum += d.history[i]
	}
	return sum / float64(d.count)
}

// Last returns the RMS and threshold of the most recent frame.
func (d *Detector) Last() (rms, threshold float64) {
	return d.lastRMS, d.lastThreshold
}

// Reset clears the energy history.
func (d *Detector) Reset() {
	clear(d.history)
	d.next = 0
	d.count = 0
	d.lastRMS = 0
	d.lastThreshold = 0
}
