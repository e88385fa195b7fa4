// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that classifiers are created with the expected Config.
// Use Classifier to script verdicts and inspect the frames that were
// submitted for classification.
//
// Example:
//
//	c := &mock.Classifier{
//	    Decide: func(frame []int16) bool { return frame[0] != 0 },
//	}
//	eng := &mock.Engine{Classifier: c}
package mock

import (
	"slices"
	"sync"

	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Classifier is returned by NewClassifier. If nil, a new default
	// Classifier is returned.
	Classifier vad.Classifier

	// NewClassifierErr, if non-nil, is returned from NewClassifier.
	NewClassifierErr error

	// NewClassifierCalls records every Config passed to NewClassifier.
	NewClassifierCalls []vad.Config
}

// NewClassifier records the call and returns Classifier, NewClassifierErr.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewClassifierCalls = append(e.NewClassifierCalls, cfg)
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.Classifier != nil {
		return e.Classifier, nil
	}
	return &Classifier{}, nil
}

// Classifier is a mock implementation of vad.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Decide returns the speech verdict for a frame. When nil every frame is
	// non-speech.
	Decide func(frame []int16) bool

	// FrameSize, when positive, makes Classify reject frames of any other
	// length with vad.ErrFrameSize.
	FrameSize int

	// Err, if non-nil, is returned by every Classify call.
	Err error

	// Frames records a copy of every frame passed to Classify.
	Frames [][]int16

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Classify records the frame and returns the scripted verdict. Loudness is
// the mean absolute sample value, like the real engines.
func (c *Classifier) Classify(frame []int16) (vad.Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, slices.Clone(frame))
	if c.Err != nil {
		return vad.Verdict{}, c.Err
	}
	if c.FrameSize > 0 && len(frame) != c.FrameSize {
		return vad.Verdict{}, vad.ErrFrameSize
	}
	v := vad.Verdict{Loudness: audio.MeanAbs(frame)}
	if c.Decide != nil {
		v.Speech = c.Decide(frame)
	}
	return v, nil
}

// Close records the call.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCalls++
	return nil
}

// CallCount returns the number of Classify calls.
func (c *Classifier) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

var (
	_ vad.Engine     = (*Engine)(nil)
	_ vad.Classifier = (*Classifier)(nil)
)
