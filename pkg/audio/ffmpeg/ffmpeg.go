// Package ffmpeg captures microphone audio by running an ffmpeg subprocess
// that writes raw s16le mono PCM to stdout. It needs no audio driver bindings
// and works with whatever capture input ffmpeg supports on the host (pulse,
// alsa, avfoundation, dshow).
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voicebible/pkg/audio"
)

const (
	defaultCommand     = "ffmpeg"
	defaultInputFormat = "pulse"
	defaultInputDevice = "default"

	// startupGrace is how long Open waits for ffmpeg to fail fast (bad
	// device, missing input format) before handing out the stream.
	startupGrace = 250 * time.Millisecond

	// stopGrace is how long Close waits after an interrupt before killing.
	stopGrace = 1200 * time.Millisecond
)

// Option configures a [Source].
type Option func(*Source)

// WithCommand sets the ffmpeg executable. Defaults to "ffmpeg" on PATH.
func WithCommand(cmd string) Option {
	return func(s *Source) { s.command = cmd }
}

// WithInputFormat sets the ffmpeg input format passed to -f (e.g. "pulse",
// "alsa", "avfoundation"). Defaults to "pulse".
func WithInputFormat(format string) Option {
	return func(s *Source) { s.inputFormat = format }
}

// Source opens ffmpeg capture streams.
type Source struct {
	command     string
	inputFormat string
}

var _ audio.Source = (*Source)(nil)

// New returns an ffmpeg [Source].
func New(opts ...Option) *Source {
	s := &Source{command: defaultCommand, inputFormat: defaultInputFormat}
	for _, o := range opts {
		o(s)
	}
	return s
}

// args builds the ffmpeg argument list for cfg.
func (s *Source) args(cfg audio.CaptureConfig) []string {
	device := cfg.Device
	if device == "" {
		device = defaultInputDevice
	}
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.inputFormat,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Open starts ffmpeg and returns a stream fed by its stdout.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	frameSize := cfg.FrameSize()
	if frameSize <= 0 {
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("ffmpeg: invalid format %v", cfg.Format)}
	}

	// stdout is our own pipe rather than cmd.StdoutPipe: Wait closes the
	// latter, which would race the reader and drop the last frames when
	// ffmpeg exits on its own.
	stdout, pw, err := os.Pipe()
	if err != nil {
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("ffmpeg: stdout pipe: %w", err)}
	}
	cmd := exec.Command(s.command, s.args(cfg)...)
	stderr := &syncBuffer{}
	cmd.Stderr = stderr
	cmd.Stdout = pw
	err = cmd.Start()
	_ = pw.Close()
	if err != nil {
		_ = stdout.Close()
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("ffmpeg: start: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		if err == nil {
			err = errors.New("exited")
		}
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("ffmpeg: exited before capture started: %w: %s", err, stderr.trimmed())}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = stdout.Close()
		return nil, ctx.Err()
	case <-time.After(startupGrace):
	}

	st := &captureStream{
		Queue:   audio.NewQueue(frameSize, cfg.QueueSize),
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
		closing: make(chan struct{}),
	}
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		st.pumpAndFinish()
	}()
	slog.Debug("ffmpeg capture started", "input_format", s.inputFormat, "device", cfg.Device, "format", cfg.Format.String())
	return st, nil
}

// Pump reads little-endian 16-bit PCM from r in frames of frameSize samples
// and offers each frame to q. A short final read is offered too, so the
// queue drops it as undersized. It returns nil on a clean EOF.
func Pump(r io.Reader, q *audio.Queue, frameSize int) error {
	buf := make([]byte, frameSize*2)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			q.Offer(audio.PCMToInt16(buf[:n]))
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
}

// captureStream adapts a running ffmpeg process to [audio.Stream].
type captureStream struct {
	*audio.Queue

	stdout  *os.File
	stderr  *syncBuffer
	process *os.Process
	waitErr <-chan error
	closing chan struct{}

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// pumpAndFinish runs [Pump] to EOF and terminates the queue: a stream that
// ends while nobody asked it to is a capture failure, delivered after every
// frame ffmpeg wrote.
func (c *captureStream) pumpAndFinish() {
	err := Pump(c.stdout, c.Queue, c.FrameSize())
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	select {
	case <-c.closing:
		c.Finish()
		return
	default:
	}
	if err == nil {
		err = errors.New("ffmpeg: capture ended unexpectedly")
	}
	if msg := c.stderr.trimmed(); msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}
	c.Fail(&audio.CaptureError{Op: "read", Err: err})
}

// Close interrupts ffmpeg, kills it if it does not exit in time, and waits
// for the reader goroutine.
func (c *captureStream) Close() error {
	c.stopOnce.Do(func() {
		close(c.closing)
		_ = c.process.Signal(os.Interrupt)

		select {
		case err, ok := <-c.waitErr:
			if ok {
				c.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			_ = c.process.Kill()
			if err, ok := <-c.waitErr; ok {
				c.stopErr = normalizeStopErr(err)
			}
		}

		if err := c.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && c.stopErr == nil {
			c.stopErr = err
		}
		c.wg.Wait()
		c.Finish()

		if c.stopErr != nil {
			c.stopErr = fmt.Errorf("ffmpeg: stop: %w: %s", c.stopErr, c.stderr.trimmed())
		}
	})
	return c.stopErr
}

// normalizeStopErr treats a non-zero exit after our interrupt as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer is a mutex-guarded stderr sink; exec writes to it from its own
// goroutine while Open and Close read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) trimmed() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}
