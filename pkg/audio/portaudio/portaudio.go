// Package portaudio captures microphone audio through the PortAudio C
// library. Each [Source.Open] initialises PortAudio, opens a mono 16-bit
// callback stream whose buffer size equals one frame, and feeds an
// [audio.Queue] from the driver callback.
//
// Building this package requires the PortAudio headers and library (cgo).
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voicebible/pkg/audio"
)

// defaultStallTimeout is how long the callback may stay silent before the
// stream is considered dead.
const defaultStallTimeout = 3 * time.Second

// ErrStalled is reported (wrapped in an [audio.CaptureError]) when the
// driver stops invoking the callback.
var ErrStalled = errors.New("portaudio: no audio delivered by driver")

// Option configures a [Source].
type Option func(*Source)

// WithStallTimeout sets how long the driver may go without delivering a
// buffer before the stream fails. Zero disables stall detection.
func WithStallTimeout(d time.Duration) Option {
	return func(s *Source) { s.stallTimeout = d }
}

// Source opens PortAudio capture streams.
type Source struct {
	stallTimeout time.Duration
}

var _ audio.Source = (*Source)(nil)

// New returns a PortAudio [Source].
func New(opts ...Option) *Source {
	s := &Source{stallTimeout: defaultStallTimeout}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open starts capturing from cfg.Device. An empty device selects the default
// input; otherwise the device is matched by index first, then by a
// case-insensitive substring of its name.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Channels > 1 {
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("portaudio: %d channels requested, only mono is supported", cfg.Channels)}
	}
	frameSize := cfg.FrameSize()
	if frameSize <= 0 {
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("portaudio: invalid format %v", cfg.Format)}
	}

	if err := pa.Initialize(); err != nil {
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("portaudio: initialize: %w", err)}
	}

	q := audio.NewQueue(frameSize, cfg.QueueSize)
	callback := func(in []int16) { q.Offer(in) }

	var (
		stream *pa.Stream
		err    error
	)
	if cfg.Device == "" {
		stream, err = pa.OpenDefaultStream(1, 0, float64(cfg.SampleRate), frameSize, callback)
	} else {
		var dev *pa.DeviceInfo
		dev, err = findDevice(cfg.Device)
		if err == nil {
			p := pa.LowLatencyParameters(dev, nil)
			p.Input.Channels = 1
			p.SampleRate = float64(cfg.SampleRate)
			p.FramesPerBuffer = frameSize
			stream, err = pa.OpenStream(p, callback)
		}
	}
	if err != nil {
		_ = pa.Terminate()
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("portaudio: open stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, &audio.CaptureError{Op: "start", Err: fmt.Errorf("portaudio: start stream: %w", err)}
	}

	st := &captureStream{
		Queue:  q,
		stream: stream,
		done:   make(chan struct{}),
	}
	if s.stallTimeout > 0 {
		st.wg.Add(1)
		go st.watchdog(s.stallTimeout)
	}
	slog.Debug("portaudio stream started", "device", cfg.Device, "format", cfg.Format.String())
	return st, nil
}

// findDevice resolves a selector to an input-capable device.
func findDevice(selector string) (*pa.DeviceInfo, error) {
	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	if idx, convErr := strconv.Atoi(selector); convErr == nil {
		for _, d := range devices {
			if d.Index == idx {
				if d.MaxInputChannels < 1 {
					return nil, fmt.Errorf("portaudio: device %d (%s) has no inputs", idx, d.Name)
				}
				return d, nil
			}
		}
		return nil, fmt.Errorf("portaudio: no device with index %d", idx)
	}
	want := strings.ToLower(selector)
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), want) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("portaudio: no input device matching %q", selector)
}

// captureStream adapts a running PortAudio stream to [audio.Stream]. Next is
// served by the embedded queue.
type captureStream struct {
	*audio.Queue

	stream *pa.Stream
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	err    error
}

// watchdog fails the queue when the driver stops delivering buffers.
func (c *captureStream) watchdog(timeout time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	last := c.Stats()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			now := c.Stats()
			if now.Accepted+now.Overflowed+now.Undersized == last.Accepted+last.Overflowed+last.Undersized {
				c.Fail(&audio.CaptureError{Op: "read", Err: ErrStalled})
				return
			}
			last = now
		}
	}
}

// Close stops the stream and releases PortAudio.
func (c *captureStream) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.wg.Wait()
		c.Finish()

		var errs []error
		if err := c.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: stop stream: %w", err))
		}
		if err := c.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: close stream: %w", err))
		}
		if err := pa.Terminate(); err != nil {
			errs = append(errs, fmt.Errorf("portaudio: terminate: %w", err))
		}
		c.err = errors.Join(errs...)
	})
	return c.err
}
