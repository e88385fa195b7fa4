package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"audio": {"portaudio", "ffmpeg", "wav", "mock"},
	"vad":   {"webrtc", "energy"},
	"stt":   {"whisper-native", "whisper", "openai", "deepgram"},
}

var (
	validSampleRates     = []int{8000, 16000, 32000, 48000}
	validFrameDurationMs = []int{10, 20, 30}
)

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. Unknown keys are rejected. An empty document yields [Default].
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := base()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.WatchConfig && cfg.Server.ListenAddr == "" {
		slog.Debug("server.watch_config is set without listen_addr; reloads are only visible in logs")
	}

	// Audio
	a := cfg.Audio
	if !slices.Contains(validSampleRates, a.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %s", a.SampleRate, joinInts(validSampleRates)))
	}
	if !slices.Contains(validFrameDurationMs, a.FrameDurationMs) {
		errs = append(errs, fmt.Errorf("audio.frame_duration_ms %d is invalid; valid values: %s", a.FrameDurationMs, joinInts(validFrameDurationMs)))
	}
	if a.Channels != 1 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; only mono (1) is supported", a.Channels))
	}
	if a.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audio.queue_size %d must not be negative", a.QueueSize))
	}

	// VAD
	if cfg.VAD.Aggressiveness < 0 || cfg.VAD.Aggressiveness > 3 {
		errs = append(errs, fmt.Errorf("vad.aggressiveness %d is out of range [0, 3]", cfg.VAD.Aggressiveness))
	}

	// Listen
	l := cfg.Listen
	if l.Window <= 0 {
		errs = append(errs, fmt.Errorf("listen.window %s must be positive", l.Window))
	}
	if l.PollTimeout <= 0 {
		errs = append(errs, fmt.Errorf("listen.poll_timeout %s must be positive", l.PollTimeout))
	} else if l.Window > 0 && l.PollTimeout > l.Window {
		slog.Warn("listen.poll_timeout exceeds listen.window; windows may overrun",
			"poll_timeout", l.PollTimeout,
			"window", l.Window,
		)
	}
	if l.Cooldown < 0 {
		errs = append(errs, fmt.Errorf("listen.cooldown %s must not be negative", l.Cooldown))
	}
	if l.CaptureBackoffMax < 0 {
		errs = append(errs, fmt.Errorf("listen.capture_backoff_max %s must not be negative", l.CaptureBackoffMax))
	}
	if l.TrailingSilenceFrames < 0 {
		errs = append(errs, fmt.Errorf("listen.trailing_silence_frames %d must not be negative", l.TrailingSilenceFrames))
	}

	// Commands
	c := cfg.Commands
	if strings.TrimSpace(c.WakePhrase) == "" {
		errs = append(errs, errors.New("commands.wake_phrase is required"))
	}
	if strings.TrimSpace(c.ExitPhrase) == "" {
		errs = append(errs, errors.New("commands.exit_phrase is required"))
	}
	if strings.EqualFold(strings.TrimSpace(c.WakePhrase), strings.TrimSpace(c.ExitPhrase)) && c.WakePhrase != "" {
		errs = append(errs, fmt.Errorf("commands.exit_phrase %q must differ from commands.wake_phrase", c.ExitPhrase))
	}
	if c.FuzzyWakeThreshold < 0 || c.FuzzyWakeThreshold > 1 {
		errs = append(errs, fmt.Errorf("commands.fuzzy_wake_threshold %.2f is out of range [0, 1]", c.FuzzyWakeThreshold))
	}

	// Providers
	if cfg.Providers.Audio.Name == "" {
		errs = append(errs, errors.New("providers.audio.name is required"))
	}
	if cfg.Providers.VAD.Name == "" {
		errs = append(errs, errors.New("providers.vad.name is required"))
	}
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt.name is required"))
	}
	validateProviderName("audio", cfg.Providers.Audio.Name)
	validateProviderName("vad", cfg.Providers.VAD.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("stt", fb.Name)
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
