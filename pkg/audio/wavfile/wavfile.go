// Package wavfile replays a WAV recording as if it were a microphone. The
// recording is decoded once, converted to the capture format, and delivered
// frame by frame at real-time pace. Successive streams continue after the
// last frame the previous stream delivered; frames still queued when a
// stream closes are replayed by the next one.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voicebible/pkg/audio"
)

// ErrEndOfRecording is returned by Open once the whole file was replayed and
// looping is disabled.
var ErrEndOfRecording = errors.New("wavfile: end of recording")

// Option configures a [Source].
type Option func(*Source)

// WithSpeed sets the replay speed as a multiple of real time. Zero disables
// pacing: every frame is queued immediately, so the queue must be large enough
// to hold the recording.
func WithSpeed(speed float64) Option {
	return func(s *Source) { s.speed = speed }
}

// WithLoop restarts the recording from the beginning once it is exhausted.
func WithLoop(loop bool) Option {
	return func(s *Source) { s.loop = loop }
}

// Source replays one WAV file from an [afero.Fs].
type Source struct {
	fs    afero.Fs
	path  string
	speed float64
	loop  bool

	mu      sync.Mutex
	samples []int16
	rate    int
	cursor  int
}

var _ audio.Source = (*Source)(nil)

// New returns a replay source for path. When path is empty the capture
// config's Device field is used as the path on first Open.
func New(fs afero.Fs, path string, opts ...Option) *Source {
	s := &Source{fs: fs, path: path, speed: 1}
	for _, o := range opts {
		o(s)
	}
	return s
}

// load decodes the file on first use.
func (s *Source) load(cfg audio.CaptureConfig) error {
	if s.samples != nil && s.rate == cfg.SampleRate {
		return nil
	}
	path := s.path
	if path == "" {
		path = cfg.Device
	}
	if path == "" {
		return errors.New("wavfile: no file configured")
	}
	f, err := s.fs.Open(path)
	if err != nil {
		return fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	samples, rate, err := audio.DecodeWAV(f, cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("wavfile: %q: %w", path, err)
	}
	s.samples = samples
	s.rate = rate
	s.cursor = 0
	return nil
}

// Open starts replaying from the current position.
func (s *Source) Open(ctx context.Context, cfg audio.CaptureConfig) (audio.Stream, error) {
	frameSize := cfg.FrameSize()
	if frameSize <= 0 {
		return nil, &audio.CaptureError{Op: "open", Err: fmt.Errorf("wavfile: invalid format %v", cfg.Format)}
	}

	s.mu.Lock()
	if err := s.load(cfg); err != nil {
		s.mu.Unlock()
		return nil, &audio.CaptureError{Op: "open", Err: err}
	}
	if s.cursor >= len(s.samples) {
		if !s.loop {
			s.mu.Unlock()
			return nil, &audio.CaptureError{Op: "open", Err: ErrEndOfRecording}
		}
		s.cursor = 0
	}
	start, samples := s.cursor, s.samples
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	st := &replayStream{
		Queue:  audio.NewQueue(frameSize, cfg.QueueSize),
		src:    s,
		total:  len(samples),
		cancel: cancel,
	}
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		s.replay(ctx, st, samples, start, frameSize, cfg.FrameDuration())
	}()
	return st, nil
}

// seek moves the replay position. Only delivered frames move it.
func (s *Source) seek(pos int) {
	s.mu.Lock()
	s.cursor = pos
	s.mu.Unlock()
}

// replay pushes frames of samples into st from pos until the recording ends
// or ctx is done.
func (s *Source) replay(ctx context.Context, st *replayStream, samples []int16, pos, frameSize int, frameDur time.Duration) {
	var tick <-chan time.Time
	if s.speed > 0 {
		ticker := time.NewTicker(time.Duration(float64(frameDur) / s.speed))
		defer ticker.Stop()
		tick = ticker.C
	}

	total := len(samples)
	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				st.Finish()
				return
			case <-tick:
			}
		} else if ctx.Err() != nil {
			st.Finish()
			return
		}

		if pos >= total {
			if !s.loop {
				st.exhaust()
				return
			}
			pos = 0
		}
		end := min(pos+frameSize, total)
		st.offer(samples[pos:end], end)
		pos = end
	}
}

// replayStream is the [audio.Stream] handed out by [Source.Open]. It moves
// the source position as frames are delivered, not as they are queued.
type replayStream struct {
	*audio.Queue

	src    *Source
	total  int
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	mu        sync.Mutex
	ends      []int // end offsets of queued frames, oldest first
	exhausted bool
}

// offer queues frame and remembers where it ends in the recording.
func (r *replayStream) offer(frame []int16, end int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Offer(frame) {
		r.ends = append(r.ends, end)
	}
}

// exhaust finishes the stream because the recording has no more samples.
func (r *replayStream) exhaust() {
	r.mu.Lock()
	r.exhausted = true
	r.mu.Unlock()
	r.Finish()
}

// Next delivers the next frame and advances the source past it.
func (r *replayStream) Next(ctx context.Context, timeout time.Duration) (audio.Frame, error) {
	f, err := r.Queue.Next(ctx, timeout)

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case err == nil && len(r.ends) > 0:
		r.src.seek(r.ends[0])
		r.ends = r.ends[1:]
	case errors.Is(err, audio.ErrStreamClosed) && r.exhausted:
		// Everything was delivered; skip a trailing partial frame too.
		r.src.seek(r.total)
	}
	return f, err
}

// Close stops the replay goroutine.
func (r *replayStream) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.Finish()
	})
	return nil
}
