// Package vad defines the Classifier interface for Voice Activity Detection
// backends.
//
// A classifier labels one fixed-size PCM frame as speech or non-speech at a
// configured aggressiveness and reports the frame's loudness for diagnostics.
// Loudness is always the mean absolute sample value and never feeds into the
// speech decision.
//
// Classification is synchronous: Classify returns immediately, making it
// suitable for the single consumer loop that drains the capture queue. A
// Classifier is used by one goroutine at a time; Engines are safe for
// concurrent use.
package vad

import (
	"errors"
	"fmt"
)

// ErrFrameSize is returned by Classify when the frame length does not match
// the configured frame size. It signals a programming error upstream, not a
// device fault.
var ErrFrameSize = errors.New("vad: frame has wrong number of samples")

// ErrInvalidConfig is returned by Engine.NewClassifier for out-of-range
// parameters.
var ErrInvalidConfig = errors.New("vad: invalid config")

// Aggressiveness bounds. 0 is the most permissive (more frames are speech),
// 3 the most strict.
const (
	MinAggressiveness = 0
	MaxAggressiveness = 3
)

// Config holds the parameters for one classifier.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the frames passed
	// to Classify.
	SampleRate int

	// FrameDurationMs is the frame duration in milliseconds (10, 20 or 30).
	FrameDurationMs int

	// Aggressiveness is the sensitivity level in [MinAggressiveness,
	// MaxAggressiveness].
	Aggressiveness int
}

// FrameSize returns the number of samples per frame.
func (c Config) FrameSize() int {
	return c.SampleRate * c.FrameDurationMs / 1000
}

// Validate checks the fields every engine relies on.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.FrameDurationMs <= 0 || c.FrameSize() == 0 {
		return fmt.Errorf("%w: frame duration %d ms", ErrInvalidConfig, c.FrameDurationMs)
	}
	if c.Aggressiveness < MinAggressiveness || c.Aggressiveness > MaxAggressiveness {
		return fmt.Errorf("%w: aggressiveness %d outside [%d, %d]", ErrInvalidConfig,
			c.Aggressiveness, MinAggressiveness, MaxAggressiveness)
	}
	return nil
}

// Verdict is the classification of one frame.
type Verdict struct {
	// Speech reports whether the frame contains voice activity.
	Speech bool

	// Loudness is the mean absolute sample magnitude.
	Loudness float64
}

// Classifier labels frames. Implementations must be deterministic for a given
// frame sequence.
type Classifier interface {
	// Classify returns the verdict for one frame of exactly Config.FrameSize
	// samples. A wrong length returns ErrFrameSize.
	Classify(frame []int16) (Verdict, error)

	// Close releases engine resources. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for classifiers. It is the top-level interface
// implemented by each VAD backend.
type Engine interface {
	// NewClassifier returns a classifier for cfg, or an error wrapping
	// ErrInvalidConfig when the backend cannot handle cfg.
	NewClassifier(cfg Config) (Classifier, error)
}
