// Package energy provides a VAD engine written in Go with no detector
// bindings. A frame counts as speech when it is loud enough and most of its
// spectral energy falls inside the telephone voice band (300–3400 Hz). Both
// thresholds tighten as the aggressiveness rises, so hum, hiss and quiet rooms
// are rejected more eagerly at higher levels.
package energy

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"

	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/vad"
)

const (
	voiceBandLowHz  = 300.0
	voiceBandHighHz = 3400.0
)

// threshold is the pair of limits applied at one aggressiveness level.
type threshold struct {
	minDBFS      float64
	minBandRatio float64
}

// levels is indexed by aggressiveness.
var levels = [vad.MaxAggressiveness + 1]threshold{
	{minDBFS: -50, minBandRatio: 0.35},
	{minDBFS: -45, minBandRatio: 0.45},
	{minDBFS: -40, minBandRatio: 0.55},
	{minDBFS: -35, minBandRatio: 0.65},
}

// Engine creates spectral-energy classifiers.
type Engine struct{}

var _ vad.Engine = Engine{}

// New returns the engine.
func New() Engine { return Engine{} }

// NewClassifier validates cfg and returns a classifier. Any positive sample
// rate and frame duration are accepted.
func (Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := cfg.FrameSize()
	return &Classifier{
		frameSize: n,
		rate:      float64(cfg.SampleRate),
		limits:    levels[cfg.Aggressiveness],
		hann:      window.Hann(n),
	}, nil
}

// Classifier is stateless apart from its precomputed window, so identical
// frames always get identical verdicts.
type Classifier struct {
	frameSize int
	rate      float64
	limits    threshold
	hann      []float64
}

var _ vad.Classifier = (*Classifier)(nil)

// Classify implements [vad.Classifier].
func (c *Classifier) Classify(frame []int16) (vad.Verdict, error) {
	if len(frame) != c.frameSize {
		return vad.Verdict{}, fmt.Errorf("%w: got %d, want %d", vad.ErrFrameSize, len(frame), c.frameSize)
	}
	v := vad.Verdict{Loudness: audio.MeanAbs(frame)}

	if LevelDBFS(frame) < c.limits.minDBFS {
		return v, nil
	}
	v.Speech = c.bandRatio(frame) >= c.limits.minBandRatio
	return v, nil
}

// Close is a no-op.
func (c *Classifier) Close() error { return nil }

// bandRatio returns the share of spectral power inside the voice band.
func (c *Classifier) bandRatio(frame []int16) float64 {
	x := make([]float64, len(frame))
	for i, s := range frame {
		x[i] = float64(s) * c.hann[i]
	}
	spectrum := fft.FFTReal(x)

	binHz := c.rate / float64(len(x))
	var total, band float64
	for k := 1; k <= len(spectrum)/2; k++ {
		p := math.Pow(cmplx.Abs(spectrum[k]), 2)
		total += p
		if f := float64(k) * binHz; f >= voiceBandLowHz && f <= voiceBandHighHz {
			band += p
		}
	}
	if total == 0 {
		return 0
	}
	return band / total
}

// LevelDBFS returns the RMS level of frame relative to full scale. Digital
// silence returns -Inf.
func LevelDBFS(frame []int16) float64 {
	if len(frame) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms/32768)
}
