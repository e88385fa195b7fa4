package listen

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voicebible/internal/observe"
	"github.com/MrWong99/voicebible/pkg/audio"
	audiomock "github.com/MrWong99/voicebible/pkg/audio/mock"
	vadmock "github.com/MrWong99/voicebible/pkg/provider/vad/mock"
)

const testFrameSize = 480

// stepClock advances by step on every call, so each deadline check moves the
// window forward by exactly one frame duration.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func newStepClock() *stepClock {
	return &stepClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), step: 30 * time.Millisecond}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

// numberedFrame returns a frame whose samples all carry the value n+1, so the
// frame's origin can be recovered after assembly.
func numberedFrame(n int) []int16 {
	f := make([]int16, testFrameSize)
	for i := range f {
		f[i] = int16(n + 1)
	}
	return f
}

func numberedSteps(count int) []audiomock.Step {
	steps := make([]audiomock.Step, count)
	for i := range steps {
		steps[i] = audiomock.Step{Samples: numberedFrame(i)}
	}
	return steps
}

// speechBetween marks numbered frames lo..hi (inclusive) as speech.
func speechBetween(lo, hi int) func([]int16) bool {
	return func(f []int16) bool {
		n := int(f[0]) - 1
		return n >= lo && n <= hi
	}
}

func newTestAssembler(t *testing.T, cfg Config, c *vadmock.Classifier, opts ...Option) *Assembler {
	t.Helper()
	if cfg.FrameSize == 0 {
		cfg.FrameSize = testFrameSize
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.PollTimeout == 0 {
		cfg.PollTimeout = time.Millisecond
	}
	opts = append([]Option{WithClock(newStepClock().Now)}, opts...)
	a, err := New(cfg, c, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestAssemble_NoSpeech(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{}
	stream := &audiomock.Stream{Steps: numberedSteps(200)}
	a := newTestAssembler(t, Config{Window: 6 * time.Second}, c)

	u, err := a.Assemble(context.Background(), stream)
	if !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if u != nil {
		t.Errorf("utterance = %+v, want nil", u)
	}
	// 6 s at 30 ms per deadline check leaves room for 199 polls.
	if got := c.CallCount(); got != 199 {
		t.Errorf("classified %d frames, want 199", got)
	}
}

func TestAssemble_KeepsOnlySpeechFramesInOrder(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{Decide: speechBetween(10, 40)}
	stream := &audiomock.Stream{Steps: numberedSteps(200)}
	a := newTestAssembler(t, Config{Window: 6 * time.Second}, c)

	u, err := a.Assemble(context.Background(), stream)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(u.Frames) != 31 {
		t.Fatalf("got %d frames, want 31", len(u.Frames))
	}
	for i, f := range u.Frames {
		want := 10 + i
		if f.Index != uint64(want) {
			t.Errorf("frame %d: index = %d, want %d", i, f.Index, want)
		}
		if int(f.Samples[0])-1 != want {
			t.Errorf("frame %d: carries frame %d, want %d", i, f.Samples[0]-1, want)
		}
	}
	if got := u.Duration(); got != 31*30*time.Millisecond {
		t.Errorf("Duration = %v, want %v", got, 31*30*time.Millisecond)
	}
	if got := len(u.Samples()); got != 31*testFrameSize {
		t.Errorf("len(Samples) = %d, want %d", got, 31*testFrameSize)
	}
}

func TestAssemble_DropsUndersizedFramesBeforeClassification(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{Decide: func([]int16) bool { return true }}
	stream := &audiomock.Stream{Steps: []audiomock.Step{
		{Samples: numberedFrame(0)},
		{Samples: make([]int16, 100)},
		{Samples: numberedFrame(2)},
	}}
	a := newTestAssembler(t, Config{Window: 300 * time.Millisecond}, c)

	u, err := a.Assemble(context.Background(), stream)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if got := c.CallCount(); got != 2 {
		t.Errorf("classified %d frames, want 2", got)
	}
	if len(u.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(u.Frames))
	}
}

func TestAssemble_ClassifierErrorDropsFrame(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{Err: errors.New("engine exploded")}
	stream := &audiomock.Stream{Steps: numberedSteps(3)}
	a := newTestAssembler(t, Config{Window: 300 * time.Millisecond}, c)

	if _, err := a.Assemble(context.Background(), stream); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestAssemble_CaptureErrorAbandonsWindow(t *testing.T) {
	t.Parallel()

	c := &vadmock.Classifier{Decide: func([]int16) bool { return true }}
	stream := &audiomock.Stream{Steps: []audiomock.Step{
		{Samples: numberedFrame(0)},
		{Err: &audio.CaptureError{Op: "read", Err: io.ErrUnexpectedEOF}},
		{Samples: numberedFrame(2)},
	}}
	a := newTestAssembler(t, Config{Window: 6 * time.Second}, c)

	u, err := a.Assemble(context.Background(), stream)
	if u != nil {
		t.Errorf("utterance = %+v, want nil", u)
	}
	var capErr *audio.CaptureError
	if !errors.As(err, &capErr) {
		t.Fatalf("err = %v, want *audio.CaptureError", err)
	}
	if errors.Is(err, ErrNoSpeech) {
		t.Error("capture error must not be reported as ErrNoSpeech")
	}
}

func TestAssemble_StreamClosed(t *testing.T) {
	t.Parallel()

	stream := &audiomock.Stream{Steps: []audiomock.Step{{Err: audio.ErrStreamClosed}}}
	a := newTestAssembler(t, Config{}, &vadmock.Classifier{})

	if _, err := a.Assemble(context.Background(), stream); !errors.Is(err, audio.ErrStreamClosed) {
		t.Fatalf("err = %v, want ErrStreamClosed", err)
	}
}

func TestAssemble_ContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := &audiomock.Stream{Steps: numberedSteps(10)}
	a := newTestAssembler(t, Config{}, &vadmock.Classifier{Decide: func([]int16) bool { return true }})

	u, err := a.Assemble(ctx, stream)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if u != nil {
		t.Error("partial utterance must be discarded")
	}
}

func TestAssemble_CancelWhileWaiting(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	// Real clock: the window is long and the stream is idle, so only the
	// cancel can end Assemble.
	a, err := New(Config{FrameSize: testFrameSize, Window: time.Minute, PollTimeout: 20 * time.Millisecond}, &vadmock.Classifier{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := a.Assemble(ctx, &audiomock.Stream{})
		done <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Assemble did not return after cancel")
	}
}

func TestAssemble_TrailingSilence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		k          int
		speech     func([]int16) bool
		wantFrames int
		wantPolls  int
	}{
		{
			name:       "disabled keeps full window",
			k:          0,
			speech:     speechBetween(1, 2),
			wantFrames: 2,
			wantPolls:  9,
		},
		{
			name:       "ends after k silent frames",
			k:          3,
			speech:     speechBetween(1, 2),
			wantFrames: 2,
			wantPolls:  6,
		},
		{
			name:       "leading silence does not end window",
			k:          3,
			speech:     speechBetween(5, 5),
			wantFrames: 1,
			wantPolls:  9,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			stream := &audiomock.Stream{Steps: numberedSteps(9)}
			// 300 ms leaves room for exactly 9 polls.
			a := newTestAssembler(t, Config{Window: 300 * time.Millisecond, TrailingSilenceFrames: tc.k},
				&vadmock.Classifier{Decide: tc.speech})

			u, err := a.Assemble(context.Background(), stream)
			if err != nil {
				t.Fatalf("Assemble: %v", err)
			}
			if len(u.Frames) != tc.wantFrames {
				t.Errorf("frames = %d, want %d", len(u.Frames), tc.wantFrames)
			}
			if stream.NextCalls != tc.wantPolls {
				t.Errorf("polls = %d, want %d", stream.NextCalls, tc.wantPolls)
			}
		})
	}
}

func TestAssemble_FrameObserver(t *testing.T) {
	t.Parallel()

	var seen []ClassifiedFrame
	c := &vadmock.Classifier{Decide: speechBetween(1, 1)}
	stream := &audiomock.Stream{Steps: numberedSteps(3)}
	a := newTestAssembler(t, Config{Window: 120 * time.Millisecond}, c,
		WithFrameObserver(func(cf ClassifiedFrame) { seen = append(seen, cf) }))

	if _, err := a.Assemble(context.Background(), stream); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("observer saw %d frames, want 3", len(seen))
	}
	for i, cf := range seen {
		if cf.Speech != (i == 1) {
			t.Errorf("frame %d: speech = %v", i, cf.Speech)
		}
		if cf.Loudness != float64(i+1) {
			t.Errorf("frame %d: loudness = %v, want %v", i, cf.Loudness, float64(i+1))
		}
	}
}

func TestAssemble_RecordsMetrics(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	stream := &audiomock.Stream{Steps: numberedSteps(3)}
	a := newTestAssembler(t, Config{Window: 120 * time.Millisecond}, &vadmock.Classifier{}, WithMetrics(m))
	if _, err := a.Assemble(context.Background(), stream); !errors.Is(err, ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var found bool
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "voicebible.windows" {
				continue
			}
			sum := met.Data.(metricdata.Sum[int64])
			for _, dp := range sum.DataPoints {
				if v, ok := dp.Attributes.Value("outcome"); ok && v.AsString() == observe.OutcomeNoSpeech {
					found = dp.Value == 1
				}
			}
		}
	}
	if !found {
		t.Error("expected one no_speech window to be recorded")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		nilC bool
	}{
		{name: "nil classifier", cfg: Config{FrameSize: 480}, nilC: true},
		{name: "zero frame size", cfg: Config{}},
		{name: "negative trailing silence", cfg: Config{FrameSize: 480, TrailingSilenceFrames: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var err error
			if tc.nilC {
				_, err = New(tc.cfg, nil)
			} else {
				_, err = New(tc.cfg, &vadmock.Classifier{})
			}
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	a, err := New(Config{FrameSize: 480}, &vadmock.Classifier{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg := a.Config()
	if cfg.Window != DefaultWindow {
		t.Errorf("Window = %v, want %v", cfg.Window, DefaultWindow)
	}
	if cfg.PollTimeout != DefaultPollTimeout {
		t.Errorf("PollTimeout = %v, want %v", cfg.PollTimeout, DefaultPollTimeout)
	}
}

// manualClock only moves when told to.
type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// stallingStream blocks past the window deadline before returning one frame,
// then closes.
type stallingStream struct {
	clock *manualClock
	stall time.Duration
	calls int
}

func (s *stallingStream) Next(context.Context, time.Duration) (audio.Frame, error) {
	s.calls++
	if s.calls > 1 {
		return audio.Frame{}, audio.ErrStreamClosed
	}
	s.clock.advance(s.stall)
	return audio.Frame{Index: 0, Samples: numberedFrame(0)}, nil
}

func (s *stallingStream) Close() error { return nil }

func TestAssemble_FrameDequeuedAfterDeadlineIsKept(t *testing.T) {
	t.Parallel()

	clock := &manualClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	stream := &stallingStream{clock: clock, stall: 10 * time.Second}
	c := &vadmock.Classifier{Decide: func([]int16) bool { return true }}
	a := newTestAssembler(t, Config{Window: time.Second}, c, WithClock(clock.Now))

	u, err := a.Assemble(context.Background(), stream)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if len(u.Frames) != 1 {
		t.Fatalf("got %d frames, want the late frame kept", len(u.Frames))
	}
	if c.CallCount() != 1 {
		t.Errorf("classified %d frames, want 1", c.CallCount())
	}
	if stream.calls != 1 {
		t.Errorf("Next called %d times, want 1 (deadline checked before the next poll)", stream.calls)
	}
}
