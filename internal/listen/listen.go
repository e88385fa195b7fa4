// Package listen implements the utterance assembler: it runs one bounded
// listening window over an [audio.Stream], classifies every frame, and keeps
// the speech frames in arrival order.
//
// A window lasts [Config.Window] of wall-clock time. The deadline is checked
// once per loop iteration before polling, so a frame that was dequeued before
// the check is always processed. Silent frames are dropped and do not end the
// window unless [Config.TrailingSilenceFrames] is set.
package listen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/pkg/audio"
	"github.com/MrWong99/voicebible/pkg/provider/vad"
)

// ErrNoSpeech is returned by [Assembler.Assemble] when a window ended without
// a single speech frame.
var ErrNoSpeech = errors.New("listen: no speech detected")

const (
	// DefaultWindow is the length of one listening window.
	DefaultWindow = 6 * time.Second

	// DefaultPollTimeout bounds each wait for the next frame.
	DefaultPollTimeout = time.Second
)

// Config controls a listening window.
type Config struct {
	// Window is the wall-clock length of one window. Zero means DefaultWindow.
	Window time.Duration

	// PollTimeout is the maximum wait per frame poll. Zero means
	// DefaultPollTimeout.
	PollTimeout time.Duration

	// FrameSize is the exact sample count of a valid frame.
	FrameSize int

	// SampleRate of the frames in Hz. Carried on the resulting Utterance.
	SampleRate int

	// TrailingSilenceFrames ends the window early after this many
	// consecutive silent frames following at least one speech frame.
	// Zero disables the cut-off.
	TrailingSilenceFrames int
}

// ClassifiedFrame is a frame together with its classifier verdict.
type ClassifiedFrame struct {
	audio.Frame
	Speech   bool
	Loudness float64
}

// Utterance holds the speech frames of one window in arrival order.
type Utterance struct {
	Frames     []audio.Frame
	Start      time.Time
	SampleRate int
}

// Samples returns the concatenated samples of all frames.
func (u *Utterance) Samples() []int16 {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	out := make([]int16, 0, n)
	for _, f := range u.Frames {
		out = append(out, f.Samples...)
	}
	return out
}

// Duration returns the accumulated audio duration of the speech frames.
func (u *Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 {
		return 0
	}
	n := 0
	for _, f := range u.Frames {
		n += len(f.Samples)
	}
	return time.Duration(n) * time.Second / time.Duration(u.SampleRate)
}

// Option is a functional option for [New].
type Option func(*Assembler)

// WithClock replaces time.Now. Used by tests to drive the window deadline.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// WithFrameObserver registers fn to receive every classified frame. fn runs
// on the assembling goroutine and must not block.
func WithFrameObserver(fn func(ClassifiedFrame)) Option {
	return func(a *Assembler) { a.observer = fn }
}

// WithMetrics records frame and window metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Assembler) { a.metrics = m }
}

// Assembler runs listening windows. It is not safe for concurrent use; the
// session loop owns exactly one.
type Assembler struct {
	cfg        Config
	classifier vad.Classifier
	now        func() time.Time
	observer   func(ClassifiedFrame)
	metrics    *observe.Metrics
}

// New creates an Assembler that classifies frames with c.
func New(cfg Config, c vad.Classifier, opts ...Option) (*Assembler, error) {
	if c == nil {
		return nil, errors.New("listen: classifier must not be nil")
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("listen: frame size must be positive, got %d", cfg.FrameSize)
	}
	if cfg.TrailingSilenceFrames < 0 {
		return nil, fmt.Errorf("listen: trailing silence frames must not be negative, got %d", cfg.TrailingSilenceFrames)
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	a := &Assembler{
		cfg:        cfg,
		classifier: c,
		now:        time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Config returns the effective configuration after defaults.
func (a *Assembler) Config() Config { return a.cfg }

// windowStats summarises the loudness of one window for the debug log.
type windowStats struct {
	frames  int
	speech  int
	peak    float64
	sum     float64
	dropped int
}

// Assemble runs one listening window over s.
//
// It returns the collected utterance, [ErrNoSpeech] when no frame was speech,
// an error wrapping the stream's [*audio.CaptureError] or
// [audio.ErrStreamClosed] when capture failed, or ctx.Err() when ctx was
// cancelled. The partial utterance is discarded on every error.
func (a *Assembler) Assemble(ctx context.Context, s audio.Stream) (*Utterance, error) {
	start := a.now()
	deadline := start.Add(a.cfg.Window)
	u := &Utterance{Start: start, SampleRate: a.cfg.SampleRate}

	var (
		stats  windowStats
		silent int
	)
	finish := func(outcome string) {
		if a.metrics != nil {
			a.metrics.RecordWindow(ctx, outcome, a.now().Sub(start))
		}
		slog.Debug("listen: window finished",
			"outcome", outcome,
			"frames", stats.frames,
			"speech_frames", stats.speech,
			"dropped", stats.dropped,
			"peak_loudness", stats.peak,
			"mean_loudness", stats.mean(),
		)
	}

	for {
		if err := ctx.Err(); err != nil {
			finish(observe.OutcomeAborted)
			return nil, err
		}
		if !a.now().Before(deadline) {
			break
		}

		f, err := s.Next(ctx, a.cfg.PollTimeout)
		if err != nil {
			if errors.Is(err, audio.ErrPollTimeout) {
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				finish(observe.OutcomeAborted)
				return nil, ctxErr
			}
			finish(observe.OutcomeCaptureError)
			return nil, fmt.Errorf("listen: capture: %w", err)
		}

		if len(f.Samples) != a.cfg.FrameSize {
			stats.dropped++
			a.dropped(ctx, "undersized")
			continue
		}

		v, err := a.classifier.Classify(f.Samples)
		if err != nil {
			slog.Warn("listen: classify failed, dropping frame", "index", f.Index, "err", err)
			stats.dropped++
			a.dropped(ctx, "classify_error")
			continue
		}

		cf := ClassifiedFrame{Frame: f, Speech: v.Speech, Loudness: v.Loudness}
		stats.add(cf)
		if a.metrics != nil {
			a.metrics.RecordFrame(ctx, cf.Speech, cf.Loudness)
		}
		if a.observer != nil {
			a.observer(cf)
		}

		if cf.Speech {
			u.Frames = append(u.Frames, f)
			silent = 0
			continue
		}
		silent++
		if a.cfg.TrailingSilenceFrames > 0 && len(u.Frames) > 0 && silent >= a.cfg.TrailingSilenceFrames {
			break
		}
	}

	if len(u.Frames) == 0 {
		finish(observe.OutcomeNoSpeech)
		return nil, ErrNoSpeech
	}
	finish(observe.OutcomeSpeech)
	return u, nil
}

func (a *Assembler) dropped(ctx context.Context, reason string) {
	if a.metrics != nil {
		a.metrics.RecordFrameDropped(ctx, reason, 1)
	}
}

func (s *windowStats) add(cf ClassifiedFrame) {
	s.frames++
	if cf.Speech {
		s.speech++
	}
	s.sum += cf.Loudness
	s.peak = max(s.peak, cf.Loudness)
}

func (s *windowStats) mean() float64 {
	if s.frames == 0 {
		return 0
	}
	return s.sum / float64(s.frames)
}
