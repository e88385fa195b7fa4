package wavfile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/MrWong99/voicebible/pkg/audio"
)

var testFormat = audio.Format{SampleRate: 16000, FrameDurationMs: 30, Channels: 1}

func writeRecording(t *testing.T, fs afero.Fs, path string, samples []int16) {
	t.Helper()
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := audio.WriteWAV(f, samples, testFormat.SampleRate); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
}

func drain(t *testing.T, st audio.Stream) ([]audio.Frame, error) {
	t.Helper()
	var frames []audio.Frame
	for {
		f, err := st.Next(context.Background(), time.Second)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func TestReplay_DeliversFullFramesInOrder(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	samples := make([]int16, 480*3+100)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	writeRecording(t, fs, "/rec.wav", samples)

	src := New(fs, "/rec.wav", WithSpeed(0))
	st, err := src.Open(context.Background(), audio.CaptureConfig{Format: testFormat, QueueSize: 16})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	frames, err := drain(t, st)
	if !errors.Is(err, audio.ErrStreamClosed) {
		t.Fatalf("terminal err = %v, want ErrStreamClosed", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3 (partial tail dropped)", len(frames))
	}
	for i, f := range frames {
		if f.Index != uint64(i) {
			t.Errorf("frame %d Index = %d", i, f.Index)
		}
		if f.Samples[0] != samples[i*480] {
			t.Errorf("frame %d first sample = %d, want %d", i, f.Samples[0], samples[i*480])
		}
	}

	if _, err := src.Open(context.Background(), audio.CaptureConfig{Format: testFormat}); !errors.Is(err, ErrEndOfRecording) {
		t.Errorf("Open after end = %v, want ErrEndOfRecording", err)
	}
}

func TestReplay_DeviceFieldIsPath(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeRecording(t, fs, "/dev.wav", make([]int16, 960))

	src := New(fs, "", WithSpeed(0))
	st, err := src.Open(context.Background(), audio.CaptureConfig{Format: testFormat, Device: "/dev.wav", QueueSize: 4})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	frames, _ := drain(t, st)
	if len(frames) != 2 {
		t.Errorf("got %d frames, want 2", len(frames))
	}
}

func TestOpen_MissingFile(t *testing.T) {
	t.Parallel()

	src := New(afero.NewMemMapFs(), "/missing.wav")
	_, err := src.Open(context.Background(), audio.CaptureConfig{Format: testFormat})
	var ce *audio.CaptureError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *audio.CaptureError", err)
	}
}

func TestClose_StopsPacedReplay(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeRecording(t, fs, "/long.wav", make([]int16, 16000*10))

	src := New(fs, "/long.wav")
	st, err := src.Open(context.Background(), audio.CaptureConfig{Format: testFormat})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.Next(context.Background(), time.Second); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = st.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not stop the replay goroutine")
	}
}

func TestReplay_QueuedFramesSurviveClose(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	samples := make([]int16, 480*6)
	for i := range samples {
		samples[i] = int16(i / 480)
	}
	writeRecording(t, fs, "/rec.wav", samples)

	src := New(fs, "/rec.wav", WithSpeed(0))
	cfg := audio.CaptureConfig{Format: testFormat, QueueSize: 16}

	first, err := src.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for range 2 {
		if _, err := first.Next(context.Background(), time.Second); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	// The rest of the recording may already sit in the queue.
	_ = first.Close()

	second, err := src.Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()
	frames, err := drain(t, second)
	if !errors.Is(err, audio.ErrStreamClosed) {
		t.Fatalf("terminal err = %v, want ErrStreamClosed", err)
	}
	if len(frames) != 4 {
		t.Fatalf("second stream got %d frames, want 4", len(frames))
	}
	for i, f := range frames {
		if want := int16(i + 2); f.Samples[0] != want {
			t.Errorf("frame %d is recording frame %d, want %d", i, f.Samples[0], want)
		}
	}
}
