// Package config provides the configuration schema, loader, and provider registry
// for the voicebible command loop.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto a [slog.Level]. Unknown or empty levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultSampleRate      = 16000
	DefaultFrameDurationMs = 30
	DefaultChannels        = 1
	DefaultQueueSize       = 256
	DefaultAggressiveness  = 1
	DefaultWindow          = 6 * time.Second
	DefaultPollTimeout     = time.Second
	DefaultCooldown        = 500 * time.Millisecond
	DefaultBackoffMax      = 8 * time.Second
	DefaultWakePhrase      = "hey bible"
	DefaultExitPhrase      = "stop"
	DefaultLanguage        = "en"
	DefaultAudioProvider   = "portaudio"
	DefaultVADProvider     = "webrtc"
	DefaultSTTProvider     = "whisper-native"
)

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Listen        ListenConfig        `yaml:"listen"`
	Commands      CommandsConfig      `yaml:"commands"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Providers     ProvidersConfig     `yaml:"providers"`
}

// ServerConfig holds logging and the optional diagnostics HTTP server.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the TCP address of the health and /metrics server
	// (e.g., ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// WatchConfig polls the config file and applies hot-reloadable changes.
	WatchConfig bool `yaml:"watch_config"`
}

// AudioConfig describes the capture format.
type AudioConfig struct {
	SampleRate      int    `yaml:"sample_rate"`
	FrameDurationMs int    `yaml:"frame_duration_ms"`
	Channels        int    `yaml:"channels"`
	Device          string `yaml:"device"`
	QueueSize       int    `yaml:"queue_size"`
}

// VADConfig configures the activity classifier.
type VADConfig struct {
	// Aggressiveness is 0 (most permissive) to 3 (most strict).
	Aggressiveness int `yaml:"aggressiveness"`
}

// ListenConfig controls window timing and the loop cool-down.
type ListenConfig struct {
	Window                time.Duration `yaml:"window"`
	PollTimeout           time.Duration `yaml:"poll_timeout"`
	Cooldown              time.Duration `yaml:"cooldown"`
	TrailingSilenceFrames int           `yaml:"trailing_silence_frames"`
	CaptureBackoffMax     time.Duration `yaml:"capture_backoff_max"`
}

// CommandsConfig holds the command vocabulary.
type CommandsConfig struct {
	WakePhrase string `yaml:"wake_phrase"`
	ExitPhrase string `yaml:"exit_phrase"`

	// FuzzyWakeThreshold enables phonetic wake matching when > 0.
	FuzzyWakeThreshold float64 `yaml:"fuzzy_wake_threshold"`
}

// TranscriptionConfig configures the transcription adapter.
type TranscriptionConfig struct {
	// Language is the hint passed to the STT provider.
	Language string `yaml:"language"`

	// DumpDir, when set, receives a WAV file per transcribed utterance.
	DumpDir string `yaml:"dump_dir"`
}

// ProvidersConfig selects the implementation for each pluggable component.
type ProvidersConfig struct {
	Audio ProviderEntry `yaml:"audio"`
	VAD   ProviderEntry `yaml:"vad"`
	STT   ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary STT provider fails.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
}

// ProviderEntry is the common configuration block for any provider.
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "portaudio", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for hosted providers.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a model (a model ID or, for whisper-native, a file path).
	Model string `yaml:"model"`

	// Options holds provider-specific settings.
	Options map[string]any `yaml:"options"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	cfg := base()
	ApplyDefaults(cfg)
	return cfg
}

// base returns the config that YAML is decoded into. Fields whose zero value
// is meaningful (vad.aggressiveness 0) carry their defaults here, so only an
// absent key picks up the default.
func base() *Config {
	return &Config{VAD: VADConfig{Aggressiveness: DefaultAggressiveness}}
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
// TrailingSilenceFrames and FuzzyWakeThreshold default to zero (disabled).
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.FrameDurationMs == 0 {
		a.FrameDurationMs = DefaultFrameDurationMs
	}
	if a.Channels == 0 {
		a.Channels = DefaultChannels
	}
	if a.QueueSize == 0 {
		a.QueueSize = DefaultQueueSize
	}

	l := &cfg.Listen
	if l.Window == 0 {
		l.Window = DefaultWindow
	}
	if l.PollTimeout == 0 {
		l.PollTimeout = DefaultPollTimeout
	}
	if l.Cooldown == 0 {
		l.Cooldown = DefaultCooldown
	}
	if l.CaptureBackoffMax == 0 {
		l.CaptureBackoffMax = DefaultBackoffMax
	}

	c := &cfg.Commands
	if c.WakePhrase == "" {
		c.WakePhrase = DefaultWakePhrase
	}
	if c.ExitPhrase == "" {
		c.ExitPhrase = DefaultExitPhrase
	}

	if cfg.Transcription.Language == "" {
		cfg.Transcription.Language = DefaultLanguage
	}

	p := &cfg.Providers
	if p.Audio.Name == "" {
		p.Audio.Name = DefaultAudioProvider
	}
	if p.VAD.Name == "" {
		p.VAD.Name = DefaultVADProvider
	}
	if p.STT.Name == "" {
		p.STT.Name = DefaultSTTProvider
	}
}

// FrameSize returns the number of samples per frame for the audio config.
func (a AudioConfig) FrameSize() int {
	return a.SampleRate * a.FrameDurationMs / 1000
}
