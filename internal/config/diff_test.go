package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voicebible/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()

	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("got %+v, want log level change to debug", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level change must not require restart, got %v", d.RestartRequired)
	}
	if !d.HotReloadable() {
		t.Error("HotReloadable() = false")
	}
}

func TestDiff_HotFields(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Commands.WakePhrase = "hello bible"
	new.Commands.FuzzyWakeThreshold = 0.85
	new.Listen.Cooldown = time.Second

	d := config.Diff(old, new)
	if !d.PhrasesChanged || d.WakePhrase != "hello bible" || d.ExitPhrase != "stop" {
		t.Errorf("phrases: got %+v", d)
	}
	if !d.FuzzyThresholdChanged || d.NewFuzzyThreshold != 0.85 {
		t.Errorf("fuzzy threshold: got %+v", d)
	}
	if !d.CooldownChanged || d.NewCooldown != time.Second {
		t.Errorf("cooldown: got %+v", d)
	}
	if d.LogLevelChanged {
		t.Error("LogLevelChanged should be false")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("hot fields must not require restart, got %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"listen addr", func(c *config.Config) { c.Server.ListenAddr = ":1" }, "server"},
		{"sample rate", func(c *config.Config) { c.Audio.SampleRate = 8000 }, "audio"},
		{"device", func(c *config.Config) { c.Audio.Device = "2" }, "audio"},
		{"aggressiveness", func(c *config.Config) { c.VAD.Aggressiveness = 3 }, "vad"},
		{"window", func(c *config.Config) { c.Listen.Window = time.Second }, "listen"},
		{"language", func(c *config.Config) { c.Transcription.Language = "fr" }, "transcription"},
		{"stt provider", func(c *config.Config) { c.Providers.STT.Name = "openai" }, "providers"},
		{"provider options", func(c *config.Config) {
			c.Providers.Audio.Options = map[string]any{"speed": 2}
		}, "providers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := config.Default()
			new := config.Default()
			tt.mutate(new)

			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tt.want}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.want)
			}
			if d.HotReloadable() {
				t.Errorf("HotReloadable() = true for %s", tt.name)
			}
		})
	}
}

func TestDiff_CooldownIsNotARestart(t *testing.T) {
	t.Parallel()
	old := config.Default()
	new := config.Default()
	new.Listen.Cooldown = 2 * time.Second
	new.Listen.Window = 3 * time.Second

	d := config.Diff(old, new)
	if !d.CooldownChanged {
		t.Error("CooldownChanged = false")
	}
	if !slices.Equal(d.RestartRequired, []string{"listen"}) {
		t.Errorf("RestartRequired = %v, want [listen] for the window change", d.RestartRequired)
	}
}
