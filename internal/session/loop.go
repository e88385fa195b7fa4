// Package session drives the listening cycle: open a capture stream, assemble
// one window, close the stream, transcribe, dispatch, cool down, repeat.
//
// The [command.State] is created by [Loop.Run], threaded through every cycle
// and returned when the loop stops. Cycles never overlap and every dispatch
// runs on the goroutine that called Run.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/voicebible/internal/command"
	"github.com/MrWong99/voicebible/internal/listen"
	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/pkg/audio"
)

// Status lines written when the loop stops.
const (
	EndedLine       = "session ended gracefully"
	InterruptedLine = "Manual exit. Goodbye!"
)

// Default timing parameters.
const (
	DefaultCooldown          = 500 * time.Millisecond
	DefaultCaptureBackoffMax = 8 * time.Second
)

// Assembler runs one listening window over a stream.
type Assembler interface {
	Assemble(ctx context.Context, s audio.Stream) (*listen.Utterance, error)
}

// Transcriber turns an utterance into normalised command text.
type Transcriber interface {
	Transcribe(ctx context.Context, u *listen.Utterance) (string, error)
}

// Dispatcher interprets command text.
type Dispatcher interface {
	Dispatch(s command.State, text string) (command.State, command.Outcome)
}

// Config configures a [Loop].
type Config struct {
	// Capture is passed to [audio.Source.Open] at the start of every cycle.
	Capture audio.CaptureConfig

	// Cooldown is the pause between cycles. Defaults to 500ms if zero.
	Cooldown time.Duration

	// CaptureBackoffMax caps the cool-down after consecutive capture
	// failures. The cool-down doubles with every failure. Defaults to 8s if
	// zero.
	CaptureBackoffMax time.Duration
}

// Option is a functional option for [New].
type Option func(*Loop)

// WithOutput sets where reply and status lines are written. Defaults to
// os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(l *Loop) { l.out = w }
}

// WithMetrics records dispatched commands on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(l *Loop) { l.metrics = m }
}

// WithSleep replaces the cool-down sleep. fn must return ctx.Err() when ctx
// is done before d elapsed.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

// Loop is the session loop. Run must not be called concurrently; the
// accessor methods are safe to call from other goroutines.
type Loop struct {
	capture    audio.CaptureConfig
	backoffMax time.Duration
	src        audio.Source
	asm        Assembler
	tr         Transcriber
	d          Dispatcher
	out        io.Writer
	metrics    *observe.Metrics
	sleep      func(ctx context.Context, d time.Duration) error

	cooldown        atomic.Int64
	captureFailures atomic.Int64
	running         atomic.Bool
	ended           atomic.Bool
}

// New creates a Loop.
func New(cfg Config, src audio.Source, asm Assembler, tr Transcriber, d Dispatcher, opts ...Option) *Loop {
	backoffMax := cfg.CaptureBackoffMax
	if backoffMax <= 0 {
		backoffMax = DefaultCaptureBackoffMax
	}
	l := &Loop{
		capture:    cfg.Capture,
		backoffMax: backoffMax,
		src:        src,
		asm:        asm,
		tr:         tr,
		d:          d,
		out:        os.Stdout,
		sleep:      sleepCtx,
	}
	l.SetCooldown(cfg.Cooldown)
	for _, o := range opts {
		o(l)
	}
	return l
}

// SetCooldown changes the pause between cycles. Zero or negative restores
// the default. Takes effect from the next cycle.
func (l *Loop) SetCooldown(d time.Duration) {
	if d <= 0 {
		d = DefaultCooldown
	}
	l.cooldown.Store(int64(d))
}

// Cooldown returns the current pause between cycles.
func (l *Loop) Cooldown() time.Duration {
	return time.Duration(l.cooldown.Load())
}

// CaptureFailures returns the number of consecutive cycles that failed with a
// capture error.
func (l *Loop) CaptureFailures() int {
	return int(l.captureFailures.Load())
}

// Running reports whether Run is executing.
func (l *Loop) Running() bool { return l.running.Load() }

// Ended reports whether Run has returned.
func (l *Loop) Ended() bool { return l.ended.Load() }

// Run executes cycles until the session becomes inactive or ctx is done.
//
// On a normal end it writes [EndedLine] and returns the final state and nil.
// When ctx is cancelled the current window is abandoned without
// transcription, [InterruptedLine] is written, and ctx.Err() is returned with
// the last state.
func (l *Loop) Run(ctx context.Context) (command.State, error) {
	l.running.Store(true)
	defer func() {
		l.running.Store(false)
		l.ended.Store(true)
	}()

	state := command.NewState()
	for cycle := 1; state.Active; cycle++ {
		if ctx.Err() != nil {
			return l.interrupted(ctx, state)
		}

		next, captureFailed, err := l.cycle(ctx, state, cycle)
		if err != nil {
			return l.interrupted(ctx, state)
		}
		state = next

		if captureFailed {
			l.captureFailures.Add(1)
		} else {
			l.captureFailures.Store(0)
		}
		if !state.Active {
			break
		}

		if err := l.sleep(ctx, l.nextCooldown()); err != nil {
			return l.interrupted(ctx, state)
		}
	}

	l.println(EndedLine)
	slog.Info("session ended", "mode", state.Mode.String())
	return state, nil
}

// cycle runs one capture/transcribe/dispatch round. captureFailed reports a
// capture error; err is non-nil only when ctx was cancelled.
func (l *Loop) cycle(ctx context.Context, state command.State, n int) (_ command.State, captureFailed bool, _ error) {
	ctx, span := observe.StartSpan(ctx, "session.cycle")
	defer span.End()
	span.SetAttributes(attribute.Int("cycle", n))
	log := observe.Logger(ctx)

	stream, err := l.src.Open(ctx, l.capture)
	if err != nil {
		if ctx.Err() != nil {
			return state, false, ctx.Err()
		}
		log.Warn("session: open capture failed", "err", err, "consecutive_failures", l.CaptureFailures()+1)
		observe.FailSpan(span, err)
		return state, true, nil
	}

	log.Debug("session: listening", "format", l.capture.Format.String())
	utt, err := l.asm.Assemble(ctx, stream)
	if cerr := stream.Close(); cerr != nil {
		log.Warn("session: close capture failed", "err", cerr)
	}
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return state, false, ctx.Err()
	case errors.Is(err, listen.ErrNoSpeech):
		log.Debug("session: no speech detected")
		return state, false, nil
	default:
		log.Warn("session: capture failed, abandoning window", "err", err, "consecutive_failures", l.CaptureFailures()+1)
		observe.FailSpan(span, err)
		return state, true, nil
	}

	text, err := l.tr.Transcribe(ctx, utt)
	if err != nil {
		if ctx.Err() != nil {
			return state, false, ctx.Err()
		}
		log.Error("session: transcription failed, dropping command", "err", err)
		observe.FailSpan(span, err)
		return state, false, nil
	}

	next, out := l.d.Dispatch(state, text)
	if l.metrics != nil {
		l.metrics.RecordCommand(ctx, out.Action.String())
	}
	span.SetAttributes(attribute.String("action", out.Action.String()))
	if out.Reply != "" {
		l.println(out.Reply)
	}
	log.Info("session: command dispatched",
		"text", text,
		"action", out.Action.String(),
		"mode", next.Mode.String(),
		"active", next.Active,
	)
	return next, false, nil
}

// nextCooldown doubles the cool-down for every consecutive capture failure,
// capped at the configured maximum.
func (l *Loop) nextCooldown() time.Duration {
	d := l.Cooldown()
	for range l.CaptureFailures() {
		if d >= l.backoffMax {
			break
		}
		d *= 2
	}
	if l.CaptureFailures() > 0 && d > l.backoffMax {
		d = l.backoffMax
	}
	return d
}

func (l *Loop) interrupted(ctx context.Context, state command.State) (command.State, error) {
	l.println(InterruptedLine)
	slog.Info("session interrupted", "mode", state.Mode.String())
	return state, ctx.Err()
}

func (l *Loop) println(line string) {
	if _, err := fmt.Fprintln(l.out, line); err != nil {
		slog.Warn("session: write output failed", "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
