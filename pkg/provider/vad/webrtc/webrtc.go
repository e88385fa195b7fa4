// Package webrtc provides a VAD engine backed by the WebRTC Gaussian mixture
// model voice activity detector via cgo. Its modes 0–3 map directly
// onto the classifier aggressiveness.
package webrtc

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/vad"
)

// Engine creates WebRTC classifiers.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns a WebRTC VAD engine.
func New() Engine { return Engine{} }

// NewClassifier allocates a detector for cfg. WebRTC accepts 8, 16, 32 and
// 48 kHz with 10, 20 or 30 ms frames.
func (Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: create: %w", err)
	}
	if !v.ValidRateAndFrameLength(cfg.SampleRate, cfg.FrameSize()) {
		return nil, fmt.Errorf("%w: webrtc cannot handle %d Hz with %d ms frames",
			vad.ErrInvalidConfig, cfg.SampleRate, cfg.FrameDurationMs)
	}
	if err := v.SetMode(cfg.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad: set mode %d: %w", cfg.Aggressiveness, err)
	}
	return &Classifier{vad: v, rate: cfg.SampleRate, frameSize: cfg.FrameSize()}, nil
}

// Classifier wraps one WebRTC detector instance.
type Classifier struct {
	vad       *webrtcvad.VAD
	rate      int
	frameSize int
}

var _ vad.Classifier = (*Classifier)(nil)

// Classify runs the detector over one frame.
func (c *Classifier) Classify(frame []int16) (vad.Verdict, error) {
	if len(frame) != c.frameSize {
		return vad.Verdict{}, fmt.Errorf("%w: got %d, want %d", vad.ErrFrameSize, len(frame), c.frameSize)
	}
	speech, err := c.vad.Process(c.rate, audio.Int16ToPCM(frame))
	if err != nil {
		return vad.Verdict{}, fmt.Errorf("webrtc vad: process: %w", err)
	}
	return vad.Verdict{Speech: speech, Loudness: audio.MeanAbs(frame)}, nil
}

// Close is a no-op; the detector is released by the bindings' finalizer.
func (c *Classifier) Close() error { return nil }
