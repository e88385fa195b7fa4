package webrtc

import (
	"errors"
	"testing"

	"github.com/MrWong99/voicebible/pkg/provider/vad"
)

func TestNewClassifier_RejectsUnsupportedFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  vad.Config
	}{
		{name: "aggressiveness too high", cfg: vad.Config{SampleRate: 16000, FrameDurationMs: 30, Aggressiveness: 4}},
		{name: "odd rate", cfg: vad.Config{SampleRate: 22050, FrameDurationMs: 30, Aggressiveness: 1}},
		{name: "odd frame", cfg: vad.Config{SampleRate: 16000, FrameDurationMs: 25, Aggressiveness: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New().NewClassifier(tt.cfg); !errors.Is(err, vad.ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestClassify_SilenceAndFrameSize(t *testing.T) {
	t.Parallel()

	c, err := New().NewClassifier(vad.Config{SampleRate: 16000, FrameDurationMs: 30, Aggressiveness: 1})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	defer c.Close()

	v, err := c.Classify(make([]int16, 480))
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Speech {
		t.Error("digital silence classified as speech")
	}
	if v.Loudness != 0 {
		t.Errorf("Loudness = %v, want 0", v.Loudness)
	}

	if _, err := c.Classify(make([]int16, 479)); !errors.Is(err, vad.ErrFrameSize) {
		t.Errorf("err = %v, want ErrFrameSize", err)
	}
}
